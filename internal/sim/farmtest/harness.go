package farmtest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/catalogs"
	"ecofarm.ai/internal/sim/farm"
	"ecofarm.ai/internal/sim/tuning"
)

// Harness drives a live farm through its exported surface only: it assembles
// a Farm with a recording sink, runs it in the background and lets scenario
// tests wait on broadcast events and ledger state. It intentionally avoids
// touching actor internals so tests can live outside the farm package.
type Harness struct {
	T      *testing.T
	Farm   *farm.Farm
	Rec    *Recorder
	cursor int
}

func NewHarness(t *testing.T, layout farm.Layout, cats *catalogs.Catalogs,
	tune tuning.Tuning, seed int64) *Harness {
	t.Helper()

	rec := &Recorder{}
	logger := log.New(io.Discard, "", 0)
	f, err := farm.New(layout, cats, tune, seed, rec, logger)
	if err != nil {
		t.Fatalf("farm.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &Harness{T: t, Farm: f, Rec: rec}
}

// WaitField blocks until a FIELD_UPDATE matching pred is broadcast. Each wait
// consumes the event stream up to its match, so consecutive waits observe
// strictly later events.
func (h *Harness) WaitField(timeout time.Duration, pred func(protocol.FieldUpdate) bool) protocol.FieldUpdate {
	h.T.Helper()
	var out protocol.FieldUpdate
	h.wait(timeout, protocol.EventFieldUpdate, func(payload json.RawMessage) bool {
		var u protocol.FieldUpdate
		if json.Unmarshal(payload, &u) != nil {
			return false
		}
		if !pred(u) {
			return false
		}
		out = u
		return true
	})
	return out
}

// WaitMarket blocks until a MARKET_EVENT matching pred is broadcast.
func (h *Harness) WaitMarket(timeout time.Duration, pred func(protocol.MarketEvent) bool) protocol.MarketEvent {
	h.T.Helper()
	var out protocol.MarketEvent
	h.wait(timeout, protocol.EventMarketEvent, func(payload json.RawMessage) bool {
		var m protocol.MarketEvent
		if json.Unmarshal(payload, &m) != nil {
			return false
		}
		if !pred(m) {
			return false
		}
		out = m
		return true
	})
	return out
}

// WaitWorker blocks until a WORKER_UPDATE matching pred is broadcast.
func (h *Harness) WaitWorker(timeout time.Duration, pred func(protocol.WorkerUpdate) bool) protocol.WorkerUpdate {
	h.T.Helper()
	var out protocol.WorkerUpdate
	h.wait(timeout, protocol.EventWorkerUpdate, func(payload json.RawMessage) bool {
		var w protocol.WorkerUpdate
		if json.Unmarshal(payload, &w) != nil {
			return false
		}
		if !pred(w) {
			return false
		}
		out = w
		return true
	})
	return out
}

// WaitUntil polls cond until it holds or the timeout expires. Used for state
// that is not event-driven, like ledger contents.
func (h *Harness) WaitUntil(timeout time.Duration, cond func() bool) {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			h.T.Fatalf("condition not reached within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *Harness) wait(timeout time.Duration, typ string, match func(json.RawMessage) bool) {
	h.T.Helper()
	deadline := time.Now().Add(timeout)
	for {
		evs := h.Rec.from(h.cursor)
		for i, ev := range evs {
			if ev.Type == typ && match(ev.Payload) {
				h.cursor += i + 1
				return
			}
		}
		h.cursor += len(evs)
		if time.Now().After(deadline) {
			h.T.Fatalf("no %s matching the predicate within %v", typ, timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Recorder is a Sink that keeps every published event for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *Recorder) Publish(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) from(i int) []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.events) {
		return nil
	}
	out := make([]protocol.Event, len(r.events)-i)
	copy(out, r.events[i:])
	return out
}

// fastTune compresses every period so a full coordination cycle fits in a few
// hundred milliseconds of wall time.
func fastTune() tuning.Tuning {
	t := tuning.Defaults()
	t.FieldTickMs = 20
	t.ExecutorPeriodMs = 10
	t.DeliberatePeriodMs = 25
	t.BroadcastPeriodMs = 40
	t.CFPDeadlineMs = 60
	t.TravelMs = 1
	t.ActMs = 1
	t.ChargeMs = 1
	t.DiseaseChance = 0
	return t
}

// demoCats is a one-crop vocabulary for scenario tests. Growth and decay
// coefficients are set per scenario.
func demoCats(crop catalogs.CropDef) *catalogs.Catalogs {
	return &catalogs.Catalogs{
		Crops: catalogs.CropCatalog{
			ByID: map[string]catalogs.CropDef{crop.ID: crop},
			IDs:  []string{crop.ID},
		},
		Diseases: catalogs.DiseaseCatalog{
			ByID: map[string]catalogs.DiseaseDef{
				"APHIDS": {ID: "APHIDS", Cure: "PESTICIDE_A", DamagePerTick: 1},
			},
			IDs: []string{"APHIDS"},
		},
		Items: catalogs.ItemCatalog{
			ByID: map[string]catalogs.ItemDef{
				"WATER":       {ID: "WATER", Kind: "RESOURCE", BasePrice: 2, MinStock: 5},
				"PESTICIDE_A": {ID: "PESTICIDE_A", Kind: "CHEMICAL", BasePrice: 15},
				"CORN":        {ID: "CORN", Kind: "CROP", BasePrice: 50},
			},
			IDs: []string{"CORN", "PESTICIDE_A", "WATER"},
		},
	}
}
