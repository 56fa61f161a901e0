// Package bus is the in-process message transport between farm components.
// Each component owns a named endpoint with a FIFO mailbox; delivery order is
// preserved per endpoint pair, and receivers can wait for the next matching
// message with an optional deadline. This is the seam where a networked
// router would plug in.
package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"ecofarm.ai/internal/protocol"
)

type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	log       *log.Logger
}

func New(logger *log.Logger) *Bus {
	return &Bus{
		endpoints: map[string]*Endpoint{},
		log:       logger,
	}
}

// Register creates a mailbox for name. Registering an existing name replaces
// the old endpoint (the old one is closed).
func (b *Bus) Register(name string) *Endpoint {
	e := &Endpoint{
		name: name,
		bus:  b,
		wake: make(chan struct{}, 1),
	}
	b.mu.Lock()
	if old, ok := b.endpoints[name]; ok {
		old.close()
	}
	b.endpoints[name] = e
	b.mu.Unlock()
	return e
}

// Unregister tears down the endpoint; pending receivers unblock.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	e, ok := b.endpoints[name]
	if ok {
		delete(b.endpoints, name)
	}
	b.mu.Unlock()
	if ok {
		e.close()
	}
}

// Send routes the message to its receiver's mailbox. Unknown receivers are an
// error; callers log and drop per the failure taxonomy.
func (b *Bus) Send(msg protocol.Message) error {
	b.mu.RLock()
	e, ok := b.endpoints[msg.Receiver]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bus: no endpoint %q", msg.Receiver)
	}
	e.deliver(msg)
	return nil
}

// Close tears down every endpoint.
func (b *Bus) Close() {
	b.mu.Lock()
	eps := b.endpoints
	b.endpoints = map[string]*Endpoint{}
	b.mu.Unlock()
	for _, e := range eps {
		e.close()
	}
}

// Endpoint is a named FIFO mailbox.
type Endpoint struct {
	name string
	bus  *Bus

	mu     sync.Mutex
	queue  []protocol.Message
	closed bool
	wake   chan struct{}
}

func (e *Endpoint) Name() string { return e.name }

// Send sends from this endpoint, stamping Sender if the caller left it blank.
func (e *Endpoint) Send(msg protocol.Message) error {
	if msg.Sender == "" {
		msg.Sender = e.name
	}
	return e.bus.Send(msg)
}

func (e *Endpoint) deliver(msg protocol.Message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, msg)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Match selects messages from the mailbox. Non-matching messages stay queued
// in arrival order.
type Match func(protocol.Message) bool

func MatchPerformative(p string) Match {
	return func(m protocol.Message) bool { return m.Performative == p }
}

func MatchConversation(id string) Match {
	return func(m protocol.Message) bool { return m.ConversationID == id }
}

// Receive blocks for the next message. ok is false once the endpoint closes.
func (e *Endpoint) Receive() (protocol.Message, bool) {
	return e.ReceiveMatch(nil, 0)
}

// ReceiveMatch returns the oldest queued message accepted by match, waiting
// up to timeout for one to arrive. timeout <= 0 blocks until the endpoint
// closes. ok is false on timeout or close.
func (e *Endpoint) ReceiveMatch(match Match, timeout time.Duration) (protocol.Message, bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		e.mu.Lock()
		for i, m := range e.queue {
			if match == nil || match(m) {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				e.mu.Unlock()
				return m, true
			}
		}
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return protocol.Message{}, false
		}
		select {
		case <-e.wake:
		case <-deadline:
			return protocol.Message{}, false
		}
	}
}

// Drain returns every queued message without waiting. Used by tests.
func (e *Endpoint) Drain() []protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}
