package farm

import (
	"context"
	"log"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
)

// Buyer is an auction responder bidding on harvested crops. Each buyer has a
// private budget; winning an auction debits it by the settled payment, so a
// buyer can price itself out of later rounds.
type Buyer struct {
	id     string
	budget float64

	ep   *bus.Endpoint
	cats *catalogs.Catalogs
	dice Dice
	sink protocol.Sink
	log  *log.Logger
}

func NewBuyer(id string, budget float64, b *bus.Bus, registry *Registry,
	cats *catalogs.Catalogs, dice Dice, sink protocol.Sink, logger *log.Logger) *Buyer {
	buyer := &Buyer{
		id:     id,
		budget: budget,
		ep:     b.Register(id),
		cats:   cats,
		dice:   dice,
		sink:   sink,
		log:    logger,
	}
	registry.Register(ServiceBuyer, id)
	return buyer
}

func (b *Buyer) Name() string { return b.id }

func (b *Buyer) Run(ctx context.Context) {
	for {
		m, ok := b.ep.Receive()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		b.handle(m)
	}
}

func (b *Buyer) handle(m protocol.Message) {
	p, err := protocol.ParsePayload(m.Content)
	if err != nil {
		b.log.Printf("%s: dropping malformed message from %s: %v", b.id, m.Sender, err)
		return
	}

	switch m.Performative {
	case protocol.PerformativeCFP:
		b.bid(m, p)
	case protocol.PerformativeAccept:
		b.settle(p)
	case protocol.PerformativeReject:
		// Outbid; budget untouched.
	default:
		b.log.Printf("%s: dropping %s from %s", b.id, m.Performative, m.Sender)
	}
}

// bid values the lot off the catalog base price with a private demand factor,
// capped at 80% of remaining budget. A near-empty purse refuses outright.
func (b *Buyer) bid(m protocol.Message, p protocol.Payload) {
	if p.Verb != protocol.VerbBuy {
		b.log.Printf("%s: dropping CFP verb %s", b.id, p.Verb)
		return
	}
	item, err1 := p.Str(0)
	qty, err2 := p.Int(1)
	if err1 != nil || err2 != nil || qty <= 0 {
		b.log.Printf("%s: dropping malformed BUY call", b.id)
		return
	}
	if b.budget < 50 {
		b.send(m.Reply(protocol.PerformativeRefuse, protocol.VerbInsufficientBudget))
		return
	}
	def, ok := b.cats.Items.ByID[item]
	if !ok {
		b.send(m.Reply(protocol.PerformativeRefuse, protocol.VerbNotSupported))
		return
	}

	demand := 0.9 + b.dice.Float64()*0.6
	bid := def.BasePrice * float64(qty) * demand
	if limit := b.budget * 0.8; bid > limit {
		bid = limit
	}
	b.send(m.Reply(protocol.PerformativePropose, protocol.Join(
		protocol.VerbBid, item, protocol.Itoa(qty), protocol.FormatPrice(bid))))
	b.log.Printf("%s: bid %s for %dx %s", b.id, protocol.FormatPrice(bid), qty, item)
	b.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind: "BID", Party: b.id, Item: item, Quantity: qty, Price: bid,
	}))
}

// settle pays the second-price settlement carried in the acceptance and
// confirms pickup to the planner.
func (b *Buyer) settle(p protocol.Payload) {
	item, err1 := p.Str(0)
	qty, err2 := p.Int(1)
	payment, err3 := p.Price(2)
	if err1 != nil || err2 != nil || err3 != nil {
		b.log.Printf("%s: dropping malformed acceptance", b.id)
		return
	}
	b.budget -= payment
	b.send(protocol.Message{
		Receiver:     PlannerName,
		Performative: protocol.PerformativeInform,
		Content:      protocol.Join(protocol.VerbReceived, item, protocol.Itoa(qty)),
	})
	b.log.Printf("%s: bought %dx %s for %s (budget left %s)",
		b.id, qty, item, protocol.FormatPrice(payment), protocol.FormatPrice(b.budget))
}

func (b *Buyer) send(m protocol.Message) {
	if err := b.ep.Send(m); err != nil {
		b.log.Printf("%s: %v", b.id, err)
	}
}
