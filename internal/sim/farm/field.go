package farm

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/tuning"
)

// FieldState is the per-field model. Percentage fields clamp to [0,100];
// growth at 100 freezes decay and disease processing until harvest.
type FieldState struct {
	ID   int
	Crop catalogs.CropDef

	Moisture  int
	Health    int
	ScanLevel int
	Growth    int
	Disease   string // "" when healthy

	scanRequested    bool
	waterRequested   bool
	treatRequested   bool
	harvestRequested bool
}

func NewFieldState(id int, crop catalogs.CropDef) *FieldState {
	return &FieldState{
		ID:        id,
		Crop:      crop,
		Moisture:  80,
		Health:    100,
		ScanLevel: 100,
		Growth:    0,
	}
}

func (s *FieldState) HasDisease() bool        { return s.Disease != "" }
func (s *FieldState) NeedsScan() bool         { return s.ScanLevel < 20 }
func (s *FieldState) NeedsWater() bool        { return s.Moisture < 30 }
func (s *FieldState) NeedsTreatment() bool    { return s.Disease != "" }
func (s *FieldState) IsReadyForHarvest() bool { return s.Growth >= 100 }

// Tick advances one simulation period. Deterministic given the dice; the
// order of operations is fixed for reproducibility.
func (s *FieldState) Tick(diseases *catalogs.DiseaseCatalog, dice Dice, diseaseChance float64) {
	if s.IsReadyForHarvest() {
		// Harvest-pending: hold all decay, growth and disease processing.
		return
	}

	s.Moisture = clampPct(s.Moisture - s.Crop.WaterConsume)
	s.ScanLevel = clampPct(s.ScanLevel - s.Crop.ScanDecay)

	if s.Moisture > 30 && s.Health > 50 {
		s.Growth = clampPct(s.Growth + s.Crop.GrowthSpeed)
	}

	if !s.HasDisease() && len(diseases.IDs) > 0 && dice.Float64() < diseaseChance {
		s.Disease = diseases.IDs[dice.Intn(len(diseases.IDs))]
		// A fresh outbreak may be requested even if an older one was
		// already reported and cleared.
		s.treatRequested = false
	}

	if s.HasDisease() {
		s.Health = clampPct(s.Health - diseases.ByID[s.Disease].DamagePerTick)
	}
}

// PendingRequests evaluates the threshold predicates and returns one payload
// per predicate that is newly true and not yet requested, marking each as
// requested so repeats are suppressed until a completion clears the flag.
func (s *FieldState) PendingRequests() []string {
	var out []string
	if s.NeedsScan() && !s.scanRequested {
		s.scanRequested = true
		out = append(out, protocol.Join(protocol.VerbScan, protocol.Itoa(s.ID)))
	}
	if s.NeedsWater() && !s.waterRequested {
		s.waterRequested = true
		out = append(out, protocol.Join(protocol.VerbWater,
			protocol.Itoa(s.ID), protocol.Itoa(100-s.Moisture)))
	}
	if s.NeedsTreatment() && !s.treatRequested {
		s.treatRequested = true
		out = append(out, protocol.Join(protocol.VerbDiagnose,
			protocol.Itoa(s.ID), s.Disease, protocol.Itoa(s.Moisture), protocol.Itoa(s.Health)))
	}
	if s.IsReadyForHarvest() && !s.harvestRequested {
		s.harvestRequested = true
		out = append(out, protocol.Join(protocol.VerbHarvest, protocol.Itoa(s.ID)))
	}
	return out
}

// Completion events. Each clears the matching request flag; a flag stuck
// without its completion message stays set. See the planner notes on lost
// completions.

func (s *FieldState) ApplyScanned() {
	s.ScanLevel = 100
	s.scanRequested = false
}

func (s *FieldState) ApplyWatered(amount int) {
	if amount > 0 {
		s.Moisture = clampPct(s.Moisture + amount)
	}
	s.waterRequested = false
}

func (s *FieldState) ApplyTreated(healthBonus int) {
	s.Disease = ""
	s.Health = clampPct(s.Health + healthBonus)
	s.treatRequested = false
}

// ApplyHarvested resets growth; the same crop is replanted.
func (s *FieldState) ApplyHarvested() {
	s.Growth = 0
	s.harvestRequested = false
}

func (s *FieldState) update() protocol.FieldUpdate {
	return protocol.FieldUpdate{
		FieldID:   s.ID,
		Crop:      s.Crop.ID,
		Moisture:  s.Moisture,
		Health:    s.Health,
		ScanLevel: s.ScanLevel,
		Growth:    s.Growth,
		Disease:   s.Disease,
	}
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Field is the actor wrapping a FieldState: a ticker drives the simulation,
// the mailbox carries completion messages from workers.
type Field struct {
	state *FieldState

	ep   *bus.Endpoint
	b    *bus.Bus
	tune tuning.Tuning
	cats *catalogs.Catalogs
	dice Dice
	sink protocol.Sink
	log  *log.Logger
}

func NewField(id int, crop catalogs.CropDef, b *bus.Bus, cats *catalogs.Catalogs,
	tune tuning.Tuning, dice Dice, sink protocol.Sink, logger *log.Logger) *Field {
	return &Field{
		state: NewFieldState(id, crop),
		ep:    b.Register(FieldName(id)),
		b:     b,
		tune:  tune,
		cats:  cats,
		dice:  dice,
		sink:  sink,
		log:   logger,
	}
}

func (f *Field) Name() string { return f.ep.Name() }

func (f *Field) Run(ctx context.Context) {
	ticker := time.NewTicker(f.tune.FieldTick())
	defer ticker.Stop()

	msgs := make(chan protocol.Message, 16)
	go func() {
		defer close(msgs)
		for {
			m, ok := f.ep.Receive()
			if !ok {
				return
			}
			msgs <- m
		}
	}()

	f.broadcast()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			f.handle(m)
		case <-ticker.C:
			f.step()
		}
	}
}

func (f *Field) step() {
	f.state.Tick(&f.cats.Diseases, f.dice, f.tune.DiseaseChance)
	for _, content := range f.state.PendingRequests() {
		f.send(protocol.Message{
			Receiver:     PlannerName,
			Performative: protocol.PerformativeRequest,
			Content:      content,
		})
	}
	f.broadcast()
}

func (f *Field) handle(m protocol.Message) {
	p, err := protocol.ParsePayload(m.Content)
	if err != nil {
		f.log.Printf("%s: dropping malformed message from %s: %v", f.Name(), m.Sender, err)
		return
	}
	switch p.Verb {
	case protocol.VerbScanned:
		f.state.ApplyScanned()
	case protocol.VerbWatered:
		amount, err := p.Int(0)
		if err != nil {
			f.log.Printf("%s: dropping %s: %v", f.Name(), p.Verb, err)
			return
		}
		f.state.ApplyWatered(amount)
	case protocol.VerbTreated:
		f.state.ApplyTreated(f.tune.TreatHealthBonus)
	case protocol.VerbHarvested:
		f.state.ApplyHarvested()
	case protocol.VerbGetState:
		b, _ := json.Marshal(f.state.update())
		f.send(m.Reply(protocol.PerformativeInform,
			protocol.Join(protocol.VerbState, string(b))))
	default:
		f.log.Printf("%s: dropping unknown verb %s from %s", f.Name(), p.Verb, m.Sender)
		return
	}
	f.broadcast()
}

func (f *Field) send(m protocol.Message) {
	if err := f.ep.Send(m); err != nil {
		f.log.Printf("%s: %v", f.Name(), err)
	}
}

func (f *Field) broadcast() {
	f.sink.Publish(protocol.NewEvent(protocol.EventFieldUpdate, f.state.update()))
}
