package farm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/tuning"
)

// FieldBelief is the planner's last known view of a field.
type FieldBelief struct {
	Crop        string
	Moisture    int
	Health      int
	Disease     string
	WantHarvest bool
}

// Planner is the BDI coordinator: it revises beliefs from inbound messages,
// deliberates new intentions, and executes at most one intention per
// executor period against the worker pools. Negotiation rounds run detached;
// their results come back through an internal channel so all planner state
// stays confined to the Run goroutine.
type Planner struct {
	ep         *bus.Endpoint
	b          *bus.Bus
	tune       tuning.Tuning
	cats       *catalogs.Catalogs
	ledger     *Ledger
	negotiator *Negotiator
	sink       protocol.Sink
	log        *log.Logger

	beliefs  map[int]*FieldBelief
	queue    *IntentionQueue
	pools    map[Role][]string
	inflight map[string]inflightMission // conversation id -> dispatched work

	rounds chan roundResult
}

type inflightMission struct {
	it     Intention
	worker string
}

type roundResult struct {
	it Intention
	ok bool
}

func NewPlanner(b *bus.Bus, cats *catalogs.Catalogs, tune tuning.Tuning,
	ledger *Ledger, negotiator *Negotiator, sink protocol.Sink, logger *log.Logger) *Planner {
	return &Planner{
		ep:         b.Register(PlannerName),
		b:          b,
		tune:       tune,
		cats:       cats,
		ledger:     ledger,
		negotiator: negotiator,
		sink:       sink,
		log:        logger,
		beliefs:    map[int]*FieldBelief{},
		queue:      NewIntentionQueue(),
		pools:      map[Role][]string{},
		inflight:   map[string]inflightMission{},
		rounds:     make(chan roundResult, 8),
	}
}

// RegisterField seeds the belief store at field-registration time.
func (p *Planner) RegisterField(id int, cropID string) {
	p.beliefs[id] = &FieldBelief{Crop: cropID, Moisture: 80, Health: 100}
}

// RegisterWorker adds a worker to its role's availability pool.
func (p *Planner) RegisterWorker(name string, role Role) {
	p.pools[role] = append(p.pools[role], name)
}

func (p *Planner) Run(ctx context.Context) {
	exec := time.NewTicker(p.tune.ExecutorPeriod())
	defer exec.Stop()
	delib := time.NewTicker(p.tune.DeliberatePeriod())
	defer delib.Stop()
	bcast := time.NewTicker(p.tune.BroadcastPeriod())
	defer bcast.Stop()

	msgs := make(chan protocol.Message, 64)
	go func() {
		defer close(msgs)
		for {
			m, ok := p.ep.Receive()
			if !ok {
				return
			}
			msgs <- m
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			p.handle(m)
		case r := <-p.rounds:
			p.queue.Resolve(r.it)
			if !r.ok {
				p.log.Printf("planner: round for %s ended without a deal", r.it)
			}
		case <-exec.C:
			p.executeNext(ctx)
		case <-delib.C:
			p.deliberate()
		case <-bcast.C:
			p.broadcastBDI()
			p.broadcastInventory()
		}
	}
}

// ---- belief revision ----

func (p *Planner) handle(m protocol.Message) {
	switch m.Performative {
	case protocol.PerformativeRequest:
		p.handleRequest(m)
	case protocol.PerformativeInform:
		p.handleResult(m)
	case protocol.PerformativeRefuse:
		p.handleRefusal(m)
	default:
		p.log.Printf("planner: dropping %s from %s", m.Performative, m.Sender)
	}
}

func (p *Planner) handleRequest(m protocol.Message) {
	pl, err := protocol.ParsePayload(m.Content)
	if err != nil {
		p.log.Printf("planner: dropping malformed request from %s: %v", m.Sender, err)
		return
	}
	switch pl.Verb {
	case protocol.VerbScan:
		fid, err := pl.Int(0)
		if err != nil {
			p.drop(pl, err)
			return
		}
		p.push(Intention{Kind: KindScanField, FieldID: fid})

	case protocol.VerbWater:
		fid, err1 := pl.Int(0)
		amount, err2 := pl.Int(1)
		if err1 != nil || err2 != nil {
			p.drop(pl, fmt.Errorf("bad arguments"))
			return
		}
		p.push(Intention{Kind: KindWaterField, FieldID: fid, Amount: amount})

	case protocol.VerbDiagnose:
		fid, err := pl.Int(0)
		if err != nil {
			p.drop(pl, err)
			return
		}
		disease, _ := pl.Str(1)
		moisture, _ := pl.Int(2)
		health, _ := pl.Int(3)
		bel := p.belief(fid)
		bel.Disease = disease
		bel.Moisture = moisture
		bel.Health = health
		p.push(Intention{Kind: KindScanField, FieldID: fid, Diagnose: true})

	case protocol.VerbHarvest:
		fid, err := pl.Int(0)
		if err != nil {
			p.drop(pl, err)
			return
		}
		p.belief(fid).WantHarvest = true
		if p.ledger.IsFull() {
			p.log.Printf("planner: storage full, deferring harvest of Field-%d", fid)
			return
		}
		p.push(Intention{Kind: KindHarvestField, FieldID: fid})

	default:
		p.log.Printf("planner: dropping unknown request %s from %s", pl.Verb, m.Sender)
	}
}

func (p *Planner) handleResult(m protocol.Message) {
	pl, err := protocol.ParsePayload(m.Content)
	if err != nil {
		p.log.Printf("planner: dropping malformed inform from %s: %v", m.Sender, err)
		return
	}
	switch pl.Verb {
	case protocol.VerbScanComplete, protocol.VerbSprayComplete,
		protocol.VerbHarvestComplete, protocol.VerbIrrigationComplete,
		protocol.VerbDiagnosisResult:
		p.settleMission(m, pl)

	case protocol.VerbDelivered:
		item, _ := pl.Str(0)
		qty, err := pl.Int(1)
		if err != nil {
			p.drop(pl, err)
			return
		}
		if !p.ledger.Add(item, qty) {
			p.log.Printf("planner: delivery of %dx %s rejected (capacity)", qty, item)
			return
		}
		p.log.Printf("planner: received %dx %s", qty, item)
		p.broadcastInventory()

	case protocol.VerbReceived:
		// Buyer pickup confirmation; informational only.

	case protocol.VerbReady:
		role, err := pl.Str(0)
		if err != nil {
			p.drop(pl, err)
			return
		}
		p.returnWorker(Role(role), m.Sender)

	default:
		p.log.Printf("planner: dropping unknown inform %s from %s", pl.Verb, m.Sender)
	}
}

// settleMission clears the pending slot, returns the worker to its pool and
// applies the completion's belief/inventory effects.
func (p *Planner) settleMission(m protocol.Message, pl protocol.Payload) {
	fid, err := pl.Int(0)
	if err != nil {
		p.drop(pl, err)
		return
	}

	if mis, ok := p.inflight[m.ConversationID]; ok {
		delete(p.inflight, m.ConversationID)
		p.queue.Resolve(mis.it)
		p.returnWorker(p.workerRole(pl.Verb), mis.worker)
	} else {
		p.log.Printf("planner: %s for Field-%d without conversation, resolving by verb", pl.Verb, fid)
		p.queue.ResolveKey(p.verbKind(pl.Verb), fid, p.verbTag(pl.Verb))
		p.returnWorker(p.workerRole(pl.Verb), m.Sender)
	}

	switch pl.Verb {
	case protocol.VerbDiagnosisResult:
		disease, _ := pl.Str(1)
		confidence, _ := pl.Int(2)
		p.log.Printf("planner: diagnosis for Field-%d: %s (%d%%)", fid, disease, confidence)
		if disease == protocol.DiseaseNone {
			p.belief(fid).Disease = ""
			return
		}
		p.belief(fid).Disease = disease
		def, ok := p.cats.Diseases.ByID[disease]
		if !ok {
			p.log.Printf("planner: unknown disease %s in diagnosis", disease)
			return
		}
		if p.ledger.Has(def.Cure, 1) {
			p.push(Intention{Kind: KindTreatDisease, FieldID: fid, Disease: disease})
		} else {
			p.log.Printf("planner: need %s for Field-%d, buying", def.Cure, fid)
			p.push(Intention{Kind: KindBuySupply, Item: def.Cure, Qty: 5})
		}

	case protocol.VerbSprayComplete:
		p.belief(fid).Disease = ""

	case protocol.VerbHarvestComplete:
		cropID, _ := pl.Str(1)
		bel := p.belief(fid)
		bel.WantHarvest = false
		crop, ok := p.cats.Crops.ByID[cropID]
		if !ok {
			p.log.Printf("planner: unknown crop %s in harvest completion", cropID)
			return
		}
		if !p.ledger.Add(crop.CropItem, 1) {
			p.log.Printf("planner: harvest of %s lost, storage full", crop.CropItem)
			return
		}
		p.broadcastInventory()
		p.push(Intention{Kind: KindSellCrop, Item: crop.CropItem, Qty: 1})
	}
}

// handleRefusal re-enqueues the refused mission. The worker stays out of the
// pool; it announces READY once it has recharged.
func (p *Planner) handleRefusal(m protocol.Message) {
	mis, ok := p.inflight[m.ConversationID]
	if !ok {
		p.log.Printf("planner: refusal from %s without conversation (%s)", m.Sender, m.Content)
		return
	}
	delete(p.inflight, m.ConversationID)
	p.log.Printf("planner: %s refused %s (%s), re-enqueueing", m.Sender, mis.it, m.Content)
	p.queue.Requeue(mis.it)
}

// ---- deliberation ----

// deliberate raises intentions from standing beliefs: low stock triggers
// purchases, unsold crops trigger auctions, deferred harvests are retried
// once storage frees up. The pending-set suppresses duplicates.
func (p *Planner) deliberate() {
	for _, id := range p.cats.Items.IDs {
		def := p.cats.Items.ByID[id]
		if def.MinStock > 0 && p.ledger.Quantity(id) < def.MinStock {
			p.push(Intention{Kind: KindBuySupply, Item: id, Qty: 5})
		}
		if def.Kind == "CROP" && p.ledger.Quantity(id) >= 1 {
			p.push(Intention{Kind: KindSellCrop, Item: id, Qty: 1})
		}
	}
	if !p.ledger.IsFull() {
		var ids []int
		for fid, bel := range p.beliefs {
			if bel.WantHarvest {
				ids = append(ids, fid)
			}
		}
		sort.Ints(ids)
		for _, fid := range ids {
			p.push(Intention{Kind: KindHarvestField, FieldID: fid})
		}
	}
}

// ---- execution ----

// executeNext pops the most urgent intention and dispatches it. Only one
// intention leaves the queue per period; negotiation rounds run detached and
// report back on the rounds channel.
func (p *Planner) executeNext(ctx context.Context) {
	it, ok := p.queue.Pop()
	if !ok {
		return
	}
	p.log.Printf("planner: executing %s", it)

	switch it.Kind {
	case KindScanField:
		p.dispatchScanner(it)
	case KindWaterField:
		p.dispatchIrrigator(it)
	case KindTreatDisease:
		p.dispatchSprayer(it)
	case KindHarvestField:
		p.dispatchHarvester(it)
	case KindSellCrop:
		go func() {
			ok := p.negotiator.Auction(it.Item, it.Qty)
			select {
			case p.rounds <- roundResult{it: it, ok: ok}:
			case <-ctx.Done():
			}
		}()
	case KindBuySupply:
		go func() {
			ok := p.negotiator.Procure(it.Item, it.Qty)
			select {
			case p.rounds <- roundResult{it: it, ok: ok}:
			case <-ctx.Done():
			}
		}()
	}
}

func (p *Planner) dispatchScanner(it Intention) {
	worker, ok := p.takeWorker(RoleScanner)
	if !ok {
		p.queue.Requeue(it)
		return
	}
	bel := p.belief(it.FieldID)
	content := protocol.Join(protocol.VerbScanField, protocol.Itoa(it.FieldID))
	if it.Diagnose && bel.Disease != "" {
		content = protocol.Join(protocol.VerbDiagnoseField, protocol.Itoa(it.FieldID),
			bel.Disease, protocol.Itoa(bel.Moisture), protocol.Itoa(bel.Health))
	}
	p.dispatch(worker, it, content)
}

func (p *Planner) dispatchIrrigator(it Intention) {
	worker, ok := p.takeWorker(RoleIrrigator)
	if !ok {
		p.queue.Requeue(it)
		return
	}
	units := (it.Amount + p.tune.WaterUnitMoisture - 1) / p.tune.WaterUnitMoisture
	if units < 1 {
		units = 1
	}
	if units > p.tune.MaxWaterUnits {
		units = p.tune.MaxWaterUnits
	}
	if !p.ledger.Remove("WATER", units) {
		p.log.Printf("planner: no water in inventory, ordering more")
		p.returnWorker(RoleIrrigator, worker)
		p.queue.Resolve(it)
		p.push(Intention{Kind: KindBuySupply, Item: "WATER", Qty: 5})
		return
	}
	p.broadcastInventory()
	amount := units * p.tune.WaterUnitMoisture
	p.dispatch(worker, it, protocol.Join(protocol.VerbIrrigateField,
		protocol.Itoa(it.FieldID), protocol.Itoa(amount)))
}

func (p *Planner) dispatchSprayer(it Intention) {
	worker, ok := p.takeWorker(RoleSprayer)
	if !ok {
		p.queue.Requeue(it)
		return
	}
	def, found := p.cats.Diseases.ByID[it.Disease]
	if !found {
		p.log.Printf("planner: dropping treatment for unknown disease %s", it.Disease)
		p.returnWorker(RoleSprayer, worker)
		p.queue.Resolve(it)
		return
	}
	if !p.ledger.Remove(def.Cure, 1) {
		// Dispatch failure converts to a purchase; the field re-requests
		// treatment after the delivery lands.
		p.log.Printf("planner: no %s available, ordering", def.Cure)
		p.returnWorker(RoleSprayer, worker)
		p.queue.Resolve(it)
		p.push(Intention{Kind: KindBuySupply, Item: def.Cure, Qty: 5})
		return
	}
	p.broadcastInventory()
	p.dispatch(worker, it, protocol.Join(protocol.VerbSprayField,
		protocol.Itoa(it.FieldID), def.Cure))
}

func (p *Planner) dispatchHarvester(it Intention) {
	worker, ok := p.takeWorker(RoleHarvester)
	if !ok {
		p.queue.Requeue(it)
		return
	}
	crop := p.belief(it.FieldID).Crop
	p.dispatch(worker, it, protocol.Join(protocol.VerbHarvestField,
		protocol.Itoa(it.FieldID), crop))
}

func (p *Planner) dispatch(worker string, it Intention, content string) {
	conv := uuid.NewString()
	p.inflight[conv] = inflightMission{it: it, worker: worker}
	if err := p.ep.Send(protocol.Message{
		Receiver:       worker,
		Performative:   protocol.PerformativeRequest,
		Content:        content,
		ConversationID: conv,
	}); err != nil {
		p.log.Printf("planner: dispatch to %s: %v", worker, err)
		delete(p.inflight, conv)
		p.queue.Requeue(it)
		return
	}
	p.log.Printf("planner: dispatched %s: %s", worker, content)
}

// ---- worker pools ----

func (p *Planner) takeWorker(role Role) (string, bool) {
	pool := p.pools[role]
	if len(pool) == 0 {
		return "", false
	}
	w := pool[0]
	p.pools[role] = pool[1:]
	return w, true
}

func (p *Planner) returnWorker(role Role, name string) {
	if role == "" || name == "" {
		return
	}
	for _, w := range p.pools[role] {
		if w == name {
			return
		}
	}
	p.pools[role] = append(p.pools[role], name)
}

func (p *Planner) workerRole(completionVerb string) Role {
	switch completionVerb {
	case protocol.VerbScanComplete, protocol.VerbDiagnosisResult:
		return RoleScanner
	case protocol.VerbSprayComplete:
		return RoleSprayer
	case protocol.VerbHarvestComplete:
		return RoleHarvester
	case protocol.VerbIrrigationComplete:
		return RoleIrrigator
	}
	return ""
}

func (p *Planner) verbKind(completionVerb string) IntentionKind {
	switch completionVerb {
	case protocol.VerbSprayComplete:
		return KindTreatDisease
	case protocol.VerbIrrigationComplete:
		return KindWaterField
	case protocol.VerbHarvestComplete:
		return KindHarvestField
	}
	return KindScanField
}

func (p *Planner) verbTag(completionVerb string) string {
	if completionVerb == protocol.VerbDiagnosisResult {
		return "DIAGNOSE"
	}
	return ""
}

// ---- helpers ----

func (p *Planner) belief(fid int) *FieldBelief {
	bel, ok := p.beliefs[fid]
	if !ok {
		crop := ""
		if len(p.cats.Crops.IDs) > 0 {
			crop = p.cats.Crops.IDs[0]
		}
		bel = &FieldBelief{Crop: crop, Moisture: 50, Health: 50}
		p.beliefs[fid] = bel
	}
	return bel
}

func (p *Planner) push(it Intention) {
	if p.queue.Push(it) {
		p.log.Printf("planner: added intention %s", it)
	}
}

func (p *Planner) drop(pl protocol.Payload, err error) {
	p.log.Printf("planner: dropping %s: %v", pl.Verb, err)
}

// ---- broadcasts ----

func (p *Planner) broadcastBDI() {
	_, balance := p.ledger.Snapshot()
	beliefs := []string{
		fmt.Sprintf("Fields: %d", len(p.beliefs)),
		fmt.Sprintf("Budget: $%s", protocol.FormatPrice(balance)),
		fmt.Sprintf("Scanners available: %d", len(p.pools[RoleScanner])),
		fmt.Sprintf("Sprayers available: %d", len(p.pools[RoleSprayer])),
		fmt.Sprintf("Harvesters available: %d", len(p.pools[RoleHarvester])),
		fmt.Sprintf("Irrigators available: %d", len(p.pools[RoleIrrigator])),
	}
	desires := []string{
		"Keep all fields healthy",
		"Maximize profit",
		"Avoid resource starvation",
	}
	var intentions []string
	for _, it := range p.queue.Peek(p.tune.IntentionDisplayMax) {
		intentions = append(intentions, it.String())
	}
	p.sink.Publish(protocol.NewEvent(protocol.EventBDIUpdate, protocol.BDIUpdate{
		Beliefs:    beliefs,
		Desires:    desires,
		Intentions: intentions,
	}))
}

func (p *Planner) broadcastInventory() {
	items, balance := p.ledger.Snapshot()
	total := 0
	for _, v := range items {
		total += v
	}
	p.sink.Publish(protocol.NewEvent(protocol.EventInventoryUpdate, protocol.InventoryUpdate{
		Items:   items,
		Balance: balance,
		Total:   total,
		Cap:     p.ledger.Capacity(),
	}))
}
