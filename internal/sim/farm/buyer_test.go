package farm

import (
	"testing"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
)

func TestBuyerBidsOnCrops(t *testing.T) {
	b := bus.New(testLogger())
	defer b.Close()
	round := b.Register("FarmManager#round-1")

	buyer := NewBuyer("Client-1", 600, b, NewRegistry(), testCats(),
		fixedDice{f: 0.5}, protocol.NopSink{}, testLogger())

	buyer.handle(cfp(round.Name(), "BUY:CORN:1"))

	m, ok := round.Receive()
	if !ok || m.Performative != protocol.PerformativePropose {
		t.Fatalf("reply = %+v ok=%v", m, ok)
	}
	// base 50 * qty 1 * demand factor 1.2
	if m.Content != "BID:CORN:1:60.00" {
		t.Fatalf("bid = %q", m.Content)
	}
}

func TestBuyerBidCappedByBudget(t *testing.T) {
	b := bus.New(testLogger())
	defer b.Close()
	round := b.Register("FarmManager#round-1")

	buyer := NewBuyer("Client-1", 60, b, NewRegistry(), testCats(),
		fixedDice{f: 0.5}, protocol.NopSink{}, testLogger())

	buyer.handle(cfp(round.Name(), "BUY:CORN:1"))

	m, _ := round.Receive()
	// Raw bid 60 exceeds 80% of the 60 budget.
	if m.Content != "BID:CORN:1:48.00" {
		t.Fatalf("bid = %q", m.Content)
	}
}

func TestBuyerRefusesWhenBroke(t *testing.T) {
	b := bus.New(testLogger())
	defer b.Close()
	round := b.Register("FarmManager#round-1")

	buyer := NewBuyer("Client-1", 40, b, NewRegistry(), testCats(),
		fixedDice{f: 0.5}, protocol.NopSink{}, testLogger())

	buyer.handle(cfp(round.Name(), "BUY:CORN:1"))
	m, ok := round.Receive()
	if !ok || m.Performative != protocol.PerformativeRefuse ||
		m.Content != protocol.VerbInsufficientBudget {
		t.Fatalf("reply = %+v ok=%v", m, ok)
	}
}

func TestBuyerRefusesUnknownItem(t *testing.T) {
	b := bus.New(testLogger())
	defer b.Close()
	round := b.Register("FarmManager#round-1")

	buyer := NewBuyer("Client-1", 600, b, NewRegistry(), testCats(),
		fixedDice{f: 0.5}, protocol.NopSink{}, testLogger())

	buyer.handle(cfp(round.Name(), "BUY:DIAMONDS:1"))
	m, ok := round.Receive()
	if !ok || m.Content != protocol.VerbNotSupported {
		t.Fatalf("reply = %+v ok=%v", m, ok)
	}
}

func TestBuyerSettlementDebitsBudget(t *testing.T) {
	b := bus.New(testLogger())
	defer b.Close()
	planner := b.Register(PlannerName)

	buyer := NewBuyer("Client-1", 600, b, NewRegistry(), testCats(),
		fixedDice{f: 0.5}, protocol.NopSink{}, testLogger())

	buyer.handle(protocol.Message{
		Sender:       PlannerName,
		Performative: protocol.PerformativeAccept,
		Content:      "ACCEPT:CORN:1:55.00",
	})

	if buyer.budget != 545 {
		t.Fatalf("budget = %v", buyer.budget)
	}
	m, ok := planner.Receive()
	if !ok || m.Content != "RECEIVED:CORN:1" {
		t.Fatalf("confirmation = %+v ok=%v", m, ok)
	}
}
