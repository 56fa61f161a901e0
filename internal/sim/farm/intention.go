package farm

import (
	"container/heap"
	"fmt"
)

// IntentionKind orders intentions by urgency: lower value wins.
type IntentionKind int

const (
	KindTreatDisease IntentionKind = iota
	KindWaterField
	KindScanField
	KindHarvestField
	KindSellCrop
	KindBuySupply
)

func (k IntentionKind) String() string {
	switch k {
	case KindTreatDisease:
		return "TREAT_DISEASE"
	case KindWaterField:
		return "WATER_FIELD"
	case KindScanField:
		return "SCAN_FIELD"
	case KindHarvestField:
		return "HARVEST_FIELD"
	case KindSellCrop:
		return "SELL_CROPS"
	case KindBuySupply:
		return "BUY_SUPPLIES"
	}
	return "UNKNOWN"
}

// Intention is a pending unit of work awaiting a capable worker or a
// negotiation round.
type Intention struct {
	Kind    IntentionKind
	FieldID int // 0 when the intention has no target field

	Disease  string // TREAT_DISEASE
	Item     string // BUY_SUPPLIES / SELL_CROPS item id
	Qty      int    // BUY_SUPPLIES / SELL_CROPS
	Amount   int    // WATER_FIELD moisture shortfall
	Diagnose bool   // SCAN_FIELD flavored as a diagnosis pass

	seq uint64
}

func (it Intention) String() string {
	if it.FieldID > 0 {
		return fmt.Sprintf("%s: Field-%d", it.Kind, it.FieldID)
	}
	return fmt.Sprintf("%s: %s", it.Kind, it.Item)
}

// pendingKey de-duplicates in-flight intentions. Field work is keyed by
// (kind, field); trade intentions carry the item instead, and diagnosis scans
// are tracked apart from plain scans as in the original request flags.
type pendingKey struct {
	kind    IntentionKind
	fieldID int
	tag     string
}

func (it Intention) pendingKey() pendingKey {
	k := pendingKey{kind: it.Kind, fieldID: it.FieldID}
	switch it.Kind {
	case KindBuySupply, KindSellCrop:
		k.tag = it.Item
	case KindScanField:
		if it.Diagnose {
			k.tag = "DIAGNOSE"
		}
	}
	return k
}

// IntentionQueue is a stable priority queue: kind priority first, arrival
// order breaking ties. A pending-set guarantees at most one outstanding
// intention per key.
type IntentionQueue struct {
	h       intentionHeap
	pending map[pendingKey]struct{}
	nextSeq uint64
}

func NewIntentionQueue() *IntentionQueue {
	return &IntentionQueue{pending: map[pendingKey]struct{}{}}
}

// Push enqueues the intention unless an equivalent one is already pending.
// Reports whether the intention was accepted.
func (q *IntentionQueue) Push(it Intention) bool {
	key := it.pendingKey()
	if _, dup := q.pending[key]; dup {
		return false
	}
	q.pending[key] = struct{}{}
	q.nextSeq++
	it.seq = q.nextSeq
	heap.Push(&q.h, it)
	return true
}

// Requeue re-enqueues an intention whose dispatch failed. The pending slot is
// still held, so it bypasses the duplicate check but keeps its urgency; a
// fresh sequence number sends it behind same-priority peers.
func (q *IntentionQueue) Requeue(it Intention) {
	q.nextSeq++
	it.seq = q.nextSeq
	heap.Push(&q.h, it)
}

// Pop removes the most urgent intention. The pending slot stays occupied
// until Resolve (or Requeue keeps it); callers release it when the work
// completes or is abandoned.
func (q *IntentionQueue) Pop() (Intention, bool) {
	if q.h.Len() == 0 {
		return Intention{}, false
	}
	return heap.Pop(&q.h).(Intention), true
}

// Resolve releases the pending slot for the intention's key.
func (q *IntentionQueue) Resolve(it Intention) {
	delete(q.pending, it.pendingKey())
}

// ResolveKey releases a pending slot located by kind/field/tag.
func (q *IntentionQueue) ResolveKey(kind IntentionKind, fieldID int, tag string) {
	delete(q.pending, pendingKey{kind: kind, fieldID: fieldID, tag: tag})
}

// IsPending reports whether an intention with the same key is in flight.
func (q *IntentionQueue) IsPending(it Intention) bool {
	_, ok := q.pending[it.pendingKey()]
	return ok
}

func (q *IntentionQueue) Len() int { return q.h.Len() }

// Peek lists up to n queued intentions in priority order without removing
// them. Used by the BDI broadcast.
func (q *IntentionQueue) Peek(n int) []Intention {
	tmp := make(intentionHeap, len(q.h))
	copy(tmp, q.h)
	var out []Intention
	for len(out) < n && tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(Intention))
	}
	return out
}

type intentionHeap []Intention

func (h intentionHeap) Len() int { return len(h) }

func (h intentionHeap) Less(i, j int) bool {
	if h[i].Kind != h[j].Kind {
		return h[i].Kind < h[j].Kind
	}
	return h[i].seq < h[j].seq
}

func (h intentionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *intentionHeap) Push(x any) { *h = append(*h, x.(Intention)) }

func (h *intentionHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
