package farm

import (
	"context"
	"testing"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
)

type plannerFixture struct {
	b      *bus.Bus
	ledger *Ledger
	p      *Planner
}

func newPlannerFixture(t *testing.T, cats *catalogs.Catalogs) *plannerFixture {
	t.Helper()
	b := bus.New(testLogger())
	t.Cleanup(b.Close)
	ledger := NewLedger(100, 1000)
	reg := NewRegistry()
	n := NewNegotiator(b, reg, ledger, testTune(), protocol.NopSink{}, testLogger())
	p := NewPlanner(b, cats, testTune(), ledger, n, protocol.NopSink{}, testLogger())
	return &plannerFixture{b: b, ledger: ledger, p: p}
}

func fieldRequest(fid int, content string) protocol.Message {
	return protocol.Message{
		Sender:       FieldName(fid),
		Receiver:     PlannerName,
		Performative: protocol.PerformativeRequest,
		Content:      content,
	}
}

func TestPlannerTurnsRequestsIntoIntentions(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	f.p.RegisterField(2, "CORN")
	f.p.RegisterField(3, "CORN")

	f.p.handle(fieldRequest(1, "SCAN:1"))
	f.p.handle(fieldRequest(2, "WATER:2:55"))
	f.p.handle(fieldRequest(3, "DIAGNOSE:3:APHIDS:42:77"))
	f.p.handle(fieldRequest(1, "HARVEST:1"))

	if f.p.queue.Len() != 4 {
		t.Fatalf("queue len = %d", f.p.queue.Len())
	}

	// Watering outranks scanning outranks harvesting.
	it, _ := f.p.queue.Pop()
	if it.Kind != KindWaterField || it.FieldID != 2 || it.Amount != 55 {
		t.Fatalf("first = %+v", it)
	}
	it, _ = f.p.queue.Pop()
	if it.Kind != KindScanField || it.FieldID != 1 || it.Diagnose {
		t.Fatalf("second = %+v", it)
	}
	it, _ = f.p.queue.Pop()
	if it.Kind != KindScanField || it.FieldID != 3 || !it.Diagnose {
		t.Fatalf("third = %+v", it)
	}
	if bel := f.p.belief(3); bel.Disease != "APHIDS" || bel.Moisture != 42 || bel.Health != 77 {
		t.Fatalf("belief = %+v", bel)
	}
	it, _ = f.p.queue.Pop()
	if it.Kind != KindHarvestField || it.FieldID != 1 {
		t.Fatalf("fourth = %+v", it)
	}
}

func TestPlannerDropsMalformedRequests(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.handle(fieldRequest(1, "WATER:abc"))
	f.p.handle(fieldRequest(1, "FROBNICATE:1"))
	f.p.handle(protocol.Message{Sender: "x", Performative: "QUERY_REF", Content: "SCAN:1"})
	if f.p.queue.Len() != 0 {
		t.Fatalf("queue len = %d", f.p.queue.Len())
	}
}

func TestPlannerDefersHarvestWhenStorageFull(t *testing.T) {
	cats := &catalogs.Catalogs{
		Crops:    catalogs.CropCatalog{ByID: map[string]catalogs.CropDef{"CORN": testCrop()}, IDs: []string{"CORN"}},
		Diseases: *testDiseases(),
	}
	f := newPlannerFixture(t, cats)
	f.p.RegisterField(1, "CORN")
	f.ledger.Add("CORN", 100) // storage at capacity

	f.p.handle(fieldRequest(1, "HARVEST:1"))
	if f.p.queue.Len() != 0 {
		t.Fatal("harvest enqueued despite full storage")
	}
	if !f.p.belief(1).WantHarvest {
		t.Fatal("deferred harvest not remembered")
	}

	// Space frees up; the next planning pass raises the intention.
	f.ledger.Remove("CORN", 50)
	f.p.deliberate()
	it, ok := f.p.queue.Pop()
	if !ok || it.Kind != KindHarvestField || it.FieldID != 1 {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}
}

func TestPlannerDeliberatesLowStockPurchases(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	// WATER has min_stock 5 and we hold none.
	f.p.deliberate()

	it, ok := f.p.queue.Pop()
	if !ok || it.Kind != KindBuySupply || it.Item != "WATER" {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}
	// Repeated passes do not stack duplicates.
	f.p.deliberate()
	if f.p.queue.Len() != 0 {
		t.Fatalf("queue len = %d", f.p.queue.Len())
	}
}

func TestPlannerDeliberatesCropSales(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.ledger.Add("WATER", 20)
	f.ledger.Add("CORN", 2)
	f.p.deliberate()

	var kinds []IntentionKind
	for {
		it, ok := f.p.queue.Pop()
		if !ok {
			break
		}
		kinds = append(kinds, it.Kind)
	}
	if len(kinds) != 1 || kinds[0] != KindSellCrop {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestPlannerWaterDispatchWithoutStockBuysInstead(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	f.b.Register("Irrigator-1")
	f.p.RegisterWorker("Irrigator-1", RoleIrrigator)

	water := Intention{Kind: KindWaterField, FieldID: 1, Amount: 55}
	f.p.queue.Push(water)
	f.p.executeNext(context.Background())

	if f.p.queue.IsPending(water) {
		t.Fatal("water slot not released")
	}
	it, ok := f.p.queue.Pop()
	if !ok || it.Kind != KindBuySupply || it.Item != "WATER" {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}
	if len(f.p.pools[RoleIrrigator]) != 1 {
		t.Fatal("worker not returned to pool")
	}
}

func TestPlannerWaterDispatchConvertsUnits(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	wep := f.b.Register("Irrigator-1")
	f.p.RegisterWorker("Irrigator-1", RoleIrrigator)
	f.ledger.Add("WATER", 20)

	// 55 moisture shortfall = ceil(55/30) = 2 units = 60 moisture delivered.
	f.p.queue.Push(Intention{Kind: KindWaterField, FieldID: 1, Amount: 55})
	f.p.executeNext(context.Background())

	m, ok := wep.Receive()
	if !ok || m.Content != "IRRIGATE_FIELD:1:60" {
		t.Fatalf("dispatch = %+v ok=%v", m, ok)
	}
	if f.ledger.Quantity("WATER") != 18 {
		t.Fatalf("water stock = %d", f.ledger.Quantity("WATER"))
	}

	// A huge shortfall is capped at max units.
	f.p.RegisterField(2, "CORN")
	f.p.queue.Push(Intention{Kind: KindWaterField, FieldID: 2, Amount: 300})
	f.p.returnWorker(RoleIrrigator, "Irrigator-1")
	f.p.executeNext(context.Background())
	m, _ = wep.Receive()
	if m.Content != "IRRIGATE_FIELD:2:90" {
		t.Fatalf("capped dispatch = %q", m.Content)
	}
}

func TestPlannerRequeuesOnRefusal(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	wep := f.b.Register("Drone-1")
	f.p.RegisterWorker("Drone-1", RoleScanner)

	f.p.queue.Push(Intention{Kind: KindScanField, FieldID: 1})
	f.p.executeNext(context.Background())

	m, ok := wep.Receive()
	if !ok || m.Content != "SCAN_FIELD:1" {
		t.Fatalf("dispatch = %+v ok=%v", m, ok)
	}

	f.p.handle(protocol.Message{
		Sender:         "Drone-1",
		Performative:   protocol.PerformativeRefuse,
		Content:        protocol.VerbLowBattery,
		ConversationID: m.ConversationID,
	})

	// Back in the queue; the worker stays out until it reports READY.
	if f.p.queue.Len() != 1 {
		t.Fatalf("queue len = %d", f.p.queue.Len())
	}
	if len(f.p.pools[RoleScanner]) != 0 {
		t.Fatal("refusing worker returned to pool")
	}

	f.p.handle(protocol.Message{
		Sender:       "Drone-1",
		Performative: protocol.PerformativeInform,
		Content:      "READY:SCANNER",
	})
	if len(f.p.pools[RoleScanner]) != 1 {
		t.Fatal("worker not restored after READY")
	}
}

func TestPlannerRequeuesWhenNoWorkerFree(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")

	it := Intention{Kind: KindScanField, FieldID: 1}
	f.p.queue.Push(it)
	f.p.executeNext(context.Background())

	if f.p.queue.Len() != 1 {
		t.Fatal("intention lost without a free worker")
	}
	if !f.p.queue.IsPending(it) {
		t.Fatal("pending slot released on requeue")
	}
}

func TestPlannerSettlesCompletions(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	wep := f.b.Register("Drone-1")
	f.p.RegisterWorker("Drone-1", RoleScanner)

	f.p.queue.Push(Intention{Kind: KindScanField, FieldID: 1})
	f.p.executeNext(context.Background())
	m, _ := wep.Receive()

	f.p.handle(protocol.Message{
		Sender:         "Drone-1",
		Performative:   protocol.PerformativeInform,
		Content:        "SCAN_COMPLETE:1",
		ConversationID: m.ConversationID,
	})

	if len(f.p.pools[RoleScanner]) != 1 {
		t.Fatal("worker not returned after completion")
	}
	if !f.p.queue.Push(Intention{Kind: KindScanField, FieldID: 1}) {
		t.Fatal("pending slot not released after completion")
	}
}

func TestPlannerDiagnosisSchedulesTreatmentOrPurchase(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	f.ledger.Add("PESTICIDE_A", 1)

	f.p.handle(protocol.Message{
		Sender:       "Drone-1",
		Performative: protocol.PerformativeInform,
		Content:      "DIAGNOSIS_RESULT:1:APHIDS:85",
	})
	it, ok := f.p.queue.Pop()
	if !ok || it.Kind != KindTreatDisease || it.Disease != "APHIDS" {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}

	// Without the cure in stock, the diagnosis turns into a purchase.
	f.ledger.Remove("PESTICIDE_A", 1)
	f.p.handle(protocol.Message{
		Sender:       "Drone-1",
		Performative: protocol.PerformativeInform,
		Content:      "DIAGNOSIS_RESULT:1:APHIDS:85",
	})
	it, ok = f.p.queue.Pop()
	if !ok || it.Kind != KindBuySupply || it.Item != "PESTICIDE_A" {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}
}

func TestPlannerHarvestCompletionStoresCropAndSells(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.RegisterField(1, "CORN")
	f.p.belief(1).WantHarvest = true

	f.p.handle(protocol.Message{
		Sender:       "Harvester-1",
		Performative: protocol.PerformativeInform,
		Content:      "HARVEST_COMPLETE:1:CORN",
	})

	if f.ledger.Quantity("CORN") != 1 {
		t.Fatalf("crop stock = %d", f.ledger.Quantity("CORN"))
	}
	if f.p.belief(1).WantHarvest {
		t.Fatal("harvest want not cleared")
	}
	it, ok := f.p.queue.Pop()
	if !ok || it.Kind != KindSellCrop || it.Item != "CORN" || it.Qty != 1 {
		t.Fatalf("intention = %+v ok=%v", it, ok)
	}
}

func TestPlannerDeliveryLandsInLedger(t *testing.T) {
	f := newPlannerFixture(t, testCats())
	f.p.handle(protocol.Message{
		Sender:       "Supplier-1",
		Performative: protocol.PerformativeInform,
		Content:      "DELIVERED:WATER:5",
	})
	if f.ledger.Quantity("WATER") != 5 {
		t.Fatalf("water stock = %d", f.ledger.Quantity("WATER"))
	}
}
