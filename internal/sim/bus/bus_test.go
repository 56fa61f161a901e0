package bus

import (
	"log"
	"os"
	"testing"
	"time"

	"ecofarm.ai/internal/protocol"
)

func newTestBus() *Bus {
	return New(log.New(os.Stdout, "[bus-test] ", 0))
}

func TestSendReceiveFIFO(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	a := b.Register("a")
	c := b.Register("c")

	for i := 0; i < 3; i++ {
		if err := a.Send(protocol.Message{Receiver: "c", Content: protocol.Join("SCAN", protocol.Itoa(i))}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		m, ok := c.Receive()
		if !ok {
			t.Fatal("endpoint closed early")
		}
		want := protocol.Join("SCAN", protocol.Itoa(i))
		if m.Content != want {
			t.Fatalf("got %q, want %q", m.Content, want)
		}
		if m.Sender != "a" {
			t.Fatalf("sender = %q", m.Sender)
		}
	}
}

func TestSendUnknownReceiver(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	a := b.Register("a")
	if err := a.Send(protocol.Message{Receiver: "nobody", Content: "SCAN:1"}); err == nil {
		t.Fatal("expected error for unknown receiver")
	}
}

func TestReceiveMatch_LeavesOthersQueued(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	a := b.Register("a")
	c := b.Register("c")

	_ = a.Send(protocol.Message{Receiver: "c", Performative: protocol.PerformativeInform, Content: "READY:SCANNER"})
	_ = a.Send(protocol.Message{Receiver: "c", Performative: protocol.PerformativePropose, Content: "PROPOSE:WATER:5:10.00", ConversationID: "r1"})

	m, ok := c.ReceiveMatch(MatchConversation("r1"), time.Second)
	if !ok {
		t.Fatal("match timed out")
	}
	if m.Performative != protocol.PerformativePropose {
		t.Fatalf("performative = %q", m.Performative)
	}

	// The earlier non-matching message is still there.
	m, ok = c.Receive()
	if !ok || m.Content != "READY:SCANNER" {
		t.Fatalf("queued message lost: %+v ok=%v", m, ok)
	}
}

func TestReceiveMatch_Timeout(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	c := b.Register("c")
	start := time.Now()
	_, ok := c.ReceiveMatch(MatchPerformative(protocol.PerformativePropose), 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before deadline")
	}
}

func TestUnregisterDropsLateDeliveries(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	a := b.Register("a")
	c := b.Register("round")

	b.Unregister("round")
	if _, ok := c.Receive(); ok {
		t.Fatal("receive on closed endpoint should fail")
	}
	if err := a.Send(protocol.Message{Receiver: "round", Content: "PROPOSE:WATER:5:1.00"}); err == nil {
		t.Fatal("expected error sending to unregistered endpoint")
	}
}

func TestRegisterReplacesEndpoint(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	old := b.Register("c")
	fresh := b.Register("c")
	a := b.Register("a")

	if _, ok := old.Receive(); ok {
		t.Fatal("old endpoint should be closed")
	}
	if err := a.Send(protocol.Message{Receiver: "c", Content: "SCAN:1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if m, ok := fresh.Receive(); !ok || m.Content != "SCAN:1" {
		t.Fatalf("fresh endpoint did not receive: %+v ok=%v", m, ok)
	}
}

func TestCloseUnblocksReceivers(t *testing.T) {
	b := newTestBus()
	c := b.Register("c")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := c.Receive(); ok {
			t.Error("receive should fail after close")
		}
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver did not unblock")
	}
}
