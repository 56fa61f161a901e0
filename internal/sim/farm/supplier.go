package farm

import (
	"context"
	"log"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/catalogs"
)

// Supplier is a contract-net responder selling farm inputs. Each supplier
// carries a set of item specializations; a call for an item outside the set
// is refused with NOT_SUPPORTED so the round can settle among the rest.
type Supplier struct {
	id    string
	goods map[string]struct{}

	ep   *bus.Endpoint
	cats *catalogs.Catalogs
	dice Dice
	sink protocol.Sink
	log  *log.Logger
}

func NewSupplier(id string, goods []string, b *bus.Bus, registry *Registry,
	cats *catalogs.Catalogs, dice Dice, sink protocol.Sink, logger *log.Logger) *Supplier {
	s := &Supplier{
		id:    id,
		goods: map[string]struct{}{},
		ep:    b.Register(id),
		cats:  cats,
		dice:  dice,
		sink:  sink,
		log:   logger,
	}
	for _, g := range goods {
		s.goods[g] = struct{}{}
	}
	registry.Register(ServiceSupplier, id)
	return s
}

func (s *Supplier) Name() string { return s.id }

func (s *Supplier) Run(ctx context.Context) {
	for {
		m, ok := s.ep.Receive()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.handle(m)
	}
}

func (s *Supplier) handle(m protocol.Message) {
	p, err := protocol.ParsePayload(m.Content)
	if err != nil {
		s.log.Printf("%s: dropping malformed message from %s: %v", s.id, m.Sender, err)
		return
	}

	switch m.Performative {
	case protocol.PerformativeCFP:
		s.quote(m, p)
	case protocol.PerformativeAccept:
		s.deliver(p)
	case protocol.PerformativeReject:
		// Lost the round; nothing to unwind.
	default:
		s.log.Printf("%s: dropping %s from %s", s.id, m.Performative, m.Sender)
	}
}

// quote answers SUPPLY calls with a priced proposal. The quote is the catalog
// base price per unit with a +/-20% market wobble.
func (s *Supplier) quote(m protocol.Message, p protocol.Payload) {
	if p.Verb != protocol.VerbSupply {
		s.log.Printf("%s: dropping CFP verb %s", s.id, p.Verb)
		return
	}
	item, err1 := p.Str(0)
	qty, err2 := p.Int(1)
	if err1 != nil || err2 != nil || qty <= 0 {
		s.log.Printf("%s: dropping malformed SUPPLY call", s.id)
		return
	}
	if _, ok := s.goods[item]; !ok {
		s.send(m.Reply(protocol.PerformativeRefuse, protocol.VerbNotSupported))
		return
	}
	def, ok := s.cats.Items.ByID[item]
	if !ok {
		s.send(m.Reply(protocol.PerformativeRefuse, protocol.VerbNotSupported))
		return
	}

	factor := 0.8 + s.dice.Float64()*0.4
	price := def.BasePrice * float64(qty) * factor
	s.send(m.Reply(protocol.PerformativePropose, protocol.Join(
		protocol.VerbPropose, item, protocol.Itoa(qty), protocol.FormatPrice(price))))
	s.log.Printf("%s: quoted %dx %s at %s", s.id, qty, item, protocol.FormatPrice(price))
	s.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind: "PROPOSE", Party: s.id, Item: item, Quantity: qty, Price: price,
	}))
}

// deliver ships the accepted order. Delivery is an INFORM to the planner's
// main endpoint, not the round endpoint, which is gone by now.
func (s *Supplier) deliver(p protocol.Payload) {
	item, err1 := p.Str(0)
	qty, err2 := p.Int(1)
	if err1 != nil || err2 != nil {
		s.log.Printf("%s: dropping malformed acceptance", s.id)
		return
	}
	s.send(protocol.Message{
		Receiver:     PlannerName,
		Performative: protocol.PerformativeInform,
		Content:      protocol.Join(protocol.VerbDelivered, item, protocol.Itoa(qty)),
	})
	s.log.Printf("%s: delivered %dx %s", s.id, qty, item)
}

func (s *Supplier) send(m protocol.Message) {
	if err := s.ep.Send(m); err != nil {
		s.log.Printf("%s: %v", s.id, err)
	}
}
