package farm

import (
	"context"
	"log"
	"time"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/tuning"
)

// Role names the one mission kind a worker can execute.
type Role string

const (
	RoleScanner   Role = "SCANNER"
	RoleSprayer   Role = "SPRAYER"
	RoleHarvester Role = "HARVESTER"
	RoleIrrigator Role = "IRRIGATOR"
)

// WorkerState is the dispatch state machine. Charging is entered from Idle
// only; a worker never starts two missions at once.
type WorkerState string

const (
	StateIdle          WorkerState = "IDLE"
	StateDispatched    WorkerState = "DISPATCHED"
	StateTravelingOut  WorkerState = "TRAVELING_OUT"
	StateExecuting     WorkerState = "EXECUTING"
	StateTravelingBack WorkerState = "TRAVELING_RETURN"
	StateCharging      WorkerState = "CHARGING"
)

// Worker is a mobile unit: it accepts one mission at a time, spends battery
// on each leg (move, act, move), applies the mission effect to the field, and
// reports completion to the planner.
type Worker struct {
	id   string
	role Role

	battery  int
	location string
	state    WorkerState
	carrying string

	costs     tuning.WorkerCosts
	ep        *bus.Endpoint
	tune      tuning.Tuning
	cats      *catalogs.Catalogs
	mobility  Mobility
	predictor *Predictor
	sink      protocol.Sink
	log       *log.Logger
}

func NewWorker(id string, role Role, b *bus.Bus, cats *catalogs.Catalogs,
	tune tuning.Tuning, mobility Mobility, sink protocol.Sink, logger *log.Logger) *Worker {
	w := &Worker{
		id:       id,
		role:     role,
		battery:  100,
		location: BaseName,
		state:    StateIdle,
		costs:    tune.Workers[string(role)],
		ep:       b.Register(id),
		tune:     tune,
		cats:     cats,
		mobility: mobility,
		sink:     sink,
		log:      logger,
	}
	if role == RoleScanner {
		w.predictor = NewPredictor()
	}
	return w
}

func (w *Worker) Name() string { return w.id }
func (w *Worker) Role() Role   { return w.role }

// missionCost is the full battery budget of one mission: out, act, back.
func (w *Worker) missionCost() int {
	return w.costs.Move + w.costs.Act + w.costs.Move
}

func (w *Worker) Run(ctx context.Context) {
	w.broadcast()
	for {
		m, ok := w.ep.Receive()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, m)
	}
}

func (w *Worker) handle(ctx context.Context, m protocol.Message) {
	p, err := protocol.ParsePayload(m.Content)
	if err != nil {
		w.log.Printf("%s: dropping malformed message from %s: %v", w.id, m.Sender, err)
		return
	}

	var verbs []string
	switch w.role {
	case RoleScanner:
		verbs = []string{protocol.VerbScanField, protocol.VerbDiagnoseField}
	case RoleSprayer:
		verbs = []string{protocol.VerbSprayField}
	case RoleHarvester:
		verbs = []string{protocol.VerbHarvestField}
	case RoleIrrigator:
		verbs = []string{protocol.VerbIrrigateField}
	}
	supported := false
	for _, v := range verbs {
		if p.Verb == v {
			supported = true
		}
	}
	if !supported {
		w.log.Printf("%s: dropping unsupported verb %s from %s", w.id, p.Verb, m.Sender)
		return
	}

	if w.state != StateIdle || w.battery < w.tune.LowBattery || w.battery < w.missionCost() {
		w.send(m.Reply(protocol.PerformativeRefuse, protocol.VerbLowBattery))
		w.log.Printf("%s: refused %s (battery=%d%%)", w.id, p.Verb, w.battery)
		w.maybeCharge(ctx)
		return
	}

	fieldID, err := p.Int(0)
	if err != nil {
		w.log.Printf("%s: dropping %s: %v", w.id, p.Verb, err)
		return
	}

	w.setState(StateDispatched)
	w.runMission(ctx, m, p, fieldID)
	w.maybeCharge(ctx)
}

// runMission executes the accepted mission to completion. The dispatcher is
// not blocked: the worker is its own unit of execution and reports back by
// message.
func (w *Worker) runMission(ctx context.Context, m protocol.Message, p protocol.Payload, fieldID int) {
	if p.Verb == protocol.VerbSprayField {
		if chem, err := p.Str(1); err == nil {
			w.carrying = chem
		}
	}

	// Outbound leg.
	w.battery -= w.costs.Move
	w.setState(StateTravelingOut)
	if err := w.mobility.MoveTo(ctx, w.id, FieldLocation(fieldID)); err != nil {
		w.abort(err)
		return
	}
	w.location = FieldLocation(fieldID)

	// On-field action.
	w.battery -= w.costs.Act
	w.setState(StateExecuting)
	report, ok := w.execute(ctx, p, fieldID)
	if !ok {
		return
	}

	// Return leg.
	w.carrying = ""
	w.battery -= w.costs.Move
	w.setState(StateTravelingBack)
	if err := w.mobility.MoveTo(ctx, w.id, BaseName); err != nil {
		w.abort(err)
		return
	}
	w.location = BaseName
	w.setState(StateIdle)

	w.send(protocol.Message{
		Receiver:       m.Sender,
		Performative:   protocol.PerformativeInform,
		Content:        report,
		ConversationID: m.ConversationID,
	})
	w.log.Printf("%s: mission complete (%s), battery=%d%%", w.id, report, w.battery)
}

// execute applies the mission effect and returns the completion report for
// the requester.
func (w *Worker) execute(ctx context.Context, p protocol.Payload, fieldID int) (string, bool) {
	if err := w.dwell(ctx); err != nil {
		w.abort(err)
		return "", false
	}

	field := FieldName(fieldID)
	switch p.Verb {
	case protocol.VerbScanField:
		w.notifyField(field, protocol.VerbScanned)
		return protocol.Join(protocol.VerbScanComplete, protocol.Itoa(fieldID)), true

	case protocol.VerbDiagnoseField:
		actual, _ := p.Str(1)
		moisture, _ := p.Int(2)
		health, _ := p.Int(3)
		diag := w.predictor.Diagnose(moisture, health, actual)
		w.sink.Publish(protocol.NewEvent(protocol.EventAIResult, protocol.AIResult{
			WorkerID:    w.id,
			FieldID:     fieldID,
			Disease:     diag.Disease,
			Confidence:  diag.Confidence,
			Explanation: diag.Explanation,
		}))
		disease := diag.Disease
		if disease == "" {
			disease = protocol.DiseaseNone
		}
		return protocol.Join(protocol.VerbDiagnosisResult,
			protocol.Itoa(fieldID), disease, protocol.Itoa(diag.Confidence)), true

	case protocol.VerbSprayField:
		w.notifyField(field, protocol.VerbTreated)
		return protocol.Join(protocol.VerbSprayComplete, protocol.Itoa(fieldID)), true

	case protocol.VerbHarvestField:
		crop, _ := p.Str(1)
		w.notifyField(field, protocol.VerbHarvested)
		return protocol.Join(protocol.VerbHarvestComplete, protocol.Itoa(fieldID), crop), true

	case protocol.VerbIrrigateField:
		amount, _ := p.Int(1)
		w.notifyField(field, protocol.Join(protocol.VerbWatered, protocol.Itoa(amount)))
		return protocol.Join(protocol.VerbIrrigationComplete, protocol.Itoa(fieldID)), true
	}
	return "", false
}

// maybeCharge runs the recharge cycle when the worker is idle and the battery
// is below the threshold or short of a full mission; either condition makes
// the worker refuse, so it must recharge to become dispatchable again. The
// worker is unavailable until it announces READY.
func (w *Worker) maybeCharge(ctx context.Context) {
	if w.state != StateIdle {
		return
	}
	if w.battery >= w.tune.LowBattery && w.battery >= w.missionCost() {
		return
	}
	w.setState(StateCharging)
	w.log.Printf("%s: low battery (%d%%), charging", w.id, w.battery)
	t := time.NewTimer(w.tune.ChargeTime())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	w.battery = 100
	w.setState(StateIdle)
	w.send(protocol.Message{
		Receiver:     PlannerName,
		Performative: protocol.PerformativeInform,
		Content:      protocol.Join(protocol.VerbReady, string(w.role)),
	})
}

func (w *Worker) dwell(ctx context.Context) error {
	if w.tune.ActTime() <= 0 {
		return nil
	}
	t := time.NewTimer(w.tune.ActTime())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Worker) notifyField(field, content string) {
	w.send(protocol.Message{
		Receiver:     field,
		Performative: protocol.PerformativeInform,
		Content:      content,
	})
}

func (w *Worker) abort(err error) {
	w.log.Printf("%s: mission aborted: %v", w.id, err)
	w.carrying = ""
	w.location = BaseName
	w.setState(StateIdle)
}

func (w *Worker) setState(s WorkerState) {
	w.state = s
	w.broadcast()
}

func (w *Worker) send(m protocol.Message) {
	if err := w.ep.Send(m); err != nil {
		w.log.Printf("%s: %v", w.id, err)
	}
}

func (w *Worker) broadcast() {
	w.sink.Publish(protocol.NewEvent(protocol.EventWorkerUpdate, protocol.WorkerUpdate{
		WorkerID: w.id,
		Role:     string(w.role),
		Battery:  w.battery,
		Location: w.location,
		State:    string(w.state),
		Carrying: w.carrying,
	}))
}
