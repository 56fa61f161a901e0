package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const Version = "1.0"

// Performatives. A subset of FIPA-ACL, enough for request/inform traffic and
// contract-net rounds.
const (
	PerformativeRequest = "REQUEST"
	PerformativeInform  = "INFORM"
	PerformativeCFP     = "CFP"
	PerformativePropose = "PROPOSE"
	PerformativeRefuse  = "REFUSE"
	PerformativeAccept  = "ACCEPT_PROPOSAL"
	PerformativeReject  = "REJECT_PROPOSAL"
)

// Message is the envelope carried by the bus. The payload is an opaque
// colon-delimited string; see the Verb* constants and the codec below.
type Message struct {
	Sender         string
	Receiver       string
	Performative   string
	Content        string
	ReplyTo        string // endpoint replies should target; defaults to Sender
	ConversationID string // correlates contract-net rounds
}

// Reply builds a response addressed back to the sender (or its ReplyTo
// endpoint), preserving the conversation id.
func (m Message) Reply(performative, content string) Message {
	to := m.ReplyTo
	if to == "" {
		to = m.Sender
	}
	return Message{
		Receiver:       to,
		Performative:   performative,
		Content:        content,
		ConversationID: m.ConversationID,
	}
}

// Wire verbs. These strings are bit-exact: any paired component (field,
// worker, supplier, buyer) matches on them.
const (
	// field -> planner
	VerbScan     = "SCAN"
	VerbWater    = "WATER"
	VerbDiagnose = "DIAGNOSE"
	VerbHarvest  = "HARVEST"

	// planner -> worker
	VerbScanField     = "SCAN_FIELD"
	VerbDiagnoseField = "DIAGNOSE_FIELD"
	VerbSprayField    = "SPRAY_FIELD"
	VerbHarvestField  = "HARVEST_FIELD"
	VerbIrrigateField = "IRRIGATE_FIELD"

	// worker -> field
	VerbScanned   = "SCANNED"
	VerbWatered   = "WATERED"
	VerbTreated   = "TREATED"
	VerbHarvested = "HARVESTED"

	// worker -> planner
	VerbScanComplete       = "SCAN_COMPLETE"
	VerbDiagnosisResult    = "DIAGNOSIS_RESULT"
	VerbSprayComplete      = "SPRAY_COMPLETE"
	VerbHarvestComplete    = "HARVEST_COMPLETE"
	VerbIrrigationComplete = "IRRIGATION_COMPLETE"
	VerbReady              = "READY"

	// negotiation
	VerbSupply    = "SUPPLY"
	VerbBuy       = "BUY"
	VerbPropose   = "PROPOSE"
	VerbBid       = "BID"
	VerbAccept    = "ACCEPT"
	VerbReject    = "REJECT"
	VerbDelivered = "DELIVERED"
	VerbReceived  = "RECEIVED"

	// refusals
	VerbLowBattery         = "LOW_BATTERY"
	VerbInsufficientBudget = "INSUFFICIENT_BUDGET"
	VerbNotSupported       = "NOT_SUPPORTED"

	// state query
	VerbGetState = "GET_STATE"
	VerbState    = "STATE"

	// DIAGNOSIS_RESULT disease slot when the field is healthy
	DiseaseNone = "NONE"
)

// Payload is a decoded colon-delimited message body.
type Payload struct {
	Verb string
	Args []string
}

// ParsePayload splits "VERB:a:b:c" into its verb and arguments. An empty
// content string is malformed.
func ParsePayload(content string) (Payload, error) {
	if content == "" {
		return Payload{}, fmt.Errorf("empty payload")
	}
	parts := strings.Split(content, ":")
	return Payload{Verb: parts[0], Args: parts[1:]}, nil
}

// Int returns argument i as an int.
func (p Payload) Int(i int) (int, error) {
	if i >= len(p.Args) {
		return 0, fmt.Errorf("%s: missing argument %d", p.Verb, i)
	}
	n, err := strconv.Atoi(p.Args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %w", p.Verb, i, err)
	}
	return n, nil
}

// Price returns argument i as a currency amount.
func (p Payload) Price(i int) (float64, error) {
	if i >= len(p.Args) {
		return 0, fmt.Errorf("%s: missing argument %d", p.Verb, i)
	}
	v, err := strconv.ParseFloat(p.Args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %w", p.Verb, i, err)
	}
	return v, nil
}

// Str returns argument i, or an error if absent.
func (p Payload) Str(i int) (string, error) {
	if i >= len(p.Args) {
		return "", fmt.Errorf("%s: missing argument %d", p.Verb, i)
	}
	return p.Args[i], nil
}

// FormatPrice renders a currency amount with two decimal places, the wire
// format for every price field.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Join assembles a colon-delimited payload.
func Join(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + ":" + strings.Join(args, ":")
}

func Itoa(n int) string { return strconv.Itoa(n) }
