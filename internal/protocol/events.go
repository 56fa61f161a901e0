package protocol

import "encoding/json"

// Broadcast event types. Events flow one way: simulation -> sinks (websocket
// clients, the JSONL log, the sqlite index). Sinks never talk back.
const (
	EventFieldUpdate     = "FIELD_UPDATE"
	EventBDIUpdate       = "BDI_UPDATE"
	EventInventoryUpdate = "INVENTORY_UPDATE"
	EventMarketEvent     = "MARKET_EVENT"
	EventWorkerUpdate    = "WORKER_UPDATE"
	EventAIResult        = "AI_RESULT"
)

// Event is the envelope written to every sink.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals v into an event payload. Marshal errors cannot happen for
// the fixed payload structs below, so they are swallowed into an empty body.
func NewEvent(typ string, v any) Event {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("{}")
	}
	return Event{Type: typ, Payload: b}
}

type FieldUpdate struct {
	FieldID   int    `json:"field_id"`
	Crop      string `json:"crop"`
	Moisture  int    `json:"moisture"`
	Health    int    `json:"health"`
	ScanLevel int    `json:"scan_level"`
	Growth    int    `json:"growth"`
	Disease   string `json:"disease,omitempty"`
}

type BDIUpdate struct {
	Beliefs    []string `json:"beliefs"`
	Desires    []string `json:"desires"`
	Intentions []string `json:"intentions"`
}

type InventoryUpdate struct {
	Items   map[string]int `json:"items"`
	Balance float64        `json:"balance"`
	Total   int            `json:"total"`
	Cap     int            `json:"capacity"`
}

type MarketEvent struct {
	Kind     string  `json:"kind"` // CFP | PROPOSE | BID | SALE | PURCHASE | AUCTION_COMPLETE | NO_DEAL
	Party    string  `json:"party,omitempty"`
	Item     string  `json:"item"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
	HighBid  float64 `json:"high_bid,omitempty"`
	Payment  float64 `json:"payment,omitempty"`
}

type WorkerUpdate struct {
	WorkerID string `json:"worker_id"`
	Role     string `json:"role"`
	Battery  int    `json:"battery"`
	Location string `json:"location"`
	State    string `json:"state"`
	Carrying string `json:"carrying,omitempty"`
}

type AIResult struct {
	WorkerID    string `json:"worker_id"`
	FieldID     int    `json:"field_id"`
	Disease     string `json:"disease,omitempty"`
	Confidence  int    `json:"confidence"`
	Explanation string `json:"explanation"`
}

// Sink consumes broadcast events. Implementations must not block the
// simulation; slow consumers drop or buffer internally.
type Sink interface {
	Publish(ev Event)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// NopSink discards events. Used by tests and components constructed without
// an attached frontend.
type NopSink struct{}

func (NopSink) Publish(Event) {}
