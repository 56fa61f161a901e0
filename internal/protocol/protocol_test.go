package protocol

import "testing"

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload("WATER:2:55")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Verb != "WATER" {
		t.Fatalf("verb = %q", p.Verb)
	}
	fid, err := p.Int(0)
	if err != nil || fid != 2 {
		t.Fatalf("arg 0 = %d, %v", fid, err)
	}
	amount, err := p.Int(1)
	if err != nil || amount != 55 {
		t.Fatalf("arg 1 = %d, %v", amount, err)
	}
}

func TestParsePayload_VerbOnly(t *testing.T) {
	p, err := ParsePayload("GET_STATE")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Verb != "GET_STATE" || len(p.Args) != 0 {
		t.Fatalf("got %+v", p)
	}
}

func TestParsePayload_Empty(t *testing.T) {
	if _, err := ParsePayload(""); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestPayload_MissingAndBadArgs(t *testing.T) {
	p, _ := ParsePayload("SCAN:1")
	if _, err := p.Int(5); err == nil {
		t.Fatal("expected error for missing argument")
	}
	p, _ = ParsePayload("WATER:abc")
	if _, err := p.Int(0); err == nil {
		t.Fatal("expected error for non-numeric argument")
	}
	p, _ = ParsePayload("PROPOSE:WATER:5:x")
	if _, err := p.Price(2); err == nil {
		t.Fatal("expected error for bad price")
	}
}

func TestJoinRoundTrip(t *testing.T) {
	content := Join(VerbDiagnose, "3", "APHIDS", "42", "77")
	if content != "DIAGNOSE:3:APHIDS:42:77" {
		t.Fatalf("join = %q", content)
	}
	p, err := ParsePayload(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d, _ := p.Str(1); d != "APHIDS" {
		t.Fatalf("disease = %q", d)
	}
}

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		25:     "25.00",
		19.999: "20.00",
		0:      "0.00",
		123.45: "123.45",
	}
	for in, want := range cases {
		if got := FormatPrice(in); got != want {
			t.Errorf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestReply(t *testing.T) {
	m := Message{
		Sender:         "Supplier-1",
		Receiver:       "FarmManager#abc",
		Performative:   PerformativePropose,
		Content:        "PROPOSE:WATER:5:10.00",
		ConversationID: "abc",
	}
	r := m.Reply(PerformativeReject, VerbReject)
	if r.Receiver != "Supplier-1" {
		t.Fatalf("receiver = %q", r.Receiver)
	}
	if r.ConversationID != "abc" {
		t.Fatalf("conversation = %q", r.ConversationID)
	}

	m.ReplyTo = "FarmManager#round2"
	r = m.Reply(PerformativeReject, VerbReject)
	if r.Receiver != "FarmManager#round2" {
		t.Fatalf("reply-to receiver = %q", r.Receiver)
	}
}
