package farm

import (
	"log"
	"time"

	"github.com/google/uuid"

	"ecofarm.ai/internal/protocol"
	"ecofarm.ai/internal/sim/bus"
	"ecofarm.ai/internal/sim/tuning"
)

// Negotiator runs contract-net rounds on behalf of the planner. Each round
// gets its own reply endpoint, so only the round's goroutine blocks while
// proposals are collected; replies arriving after the deadline land on an
// unregistered endpoint and are dropped.
type Negotiator struct {
	b        *bus.Bus
	registry *Registry
	ledger   *Ledger
	tune     tuning.Tuning
	sink     protocol.Sink
	log      *log.Logger
}

func NewNegotiator(b *bus.Bus, registry *Registry, ledger *Ledger,
	tune tuning.Tuning, sink protocol.Sink, logger *log.Logger) *Negotiator {
	return &Negotiator{
		b:        b,
		registry: registry,
		ledger:   ledger,
		tune:     tune,
		sink:     sink,
		log:      logger,
	}
}

type proposal struct {
	bidder string
	price  float64
	msg    protocol.Message
}

// collect gathers PROPOSE replies for the round until the deadline elapses.
func (n *Negotiator) collect(ep *bus.Endpoint, conv string) []proposal {
	var out []proposal
	deadline := time.Now().Add(n.tune.CFPDeadline())
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return out
		}
		m, ok := ep.ReceiveMatch(func(m protocol.Message) bool {
			return m.ConversationID == conv && m.Performative == protocol.PerformativePropose
		}, remain)
		if !ok {
			return out
		}
		p, err := protocol.ParsePayload(m.Content)
		if err != nil {
			n.log.Printf("negotiator: dropping malformed proposal from %s: %v", m.Sender, err)
			continue
		}
		price, err := p.Price(2)
		if err != nil || price < 0 {
			n.log.Printf("negotiator: dropping proposal from %s: bad price", m.Sender)
			continue
		}
		out = append(out, proposal{bidder: m.Sender, price: price, msg: m})
	}
}

func (n *Negotiator) broadcastCFP(ep *bus.Endpoint, receivers []string, conv, content string) {
	for _, r := range receivers {
		if err := ep.Send(protocol.Message{
			Sender:         PlannerName,
			Receiver:       r,
			Performative:   protocol.PerformativeCFP,
			Content:        content,
			ReplyTo:        ep.Name(),
			ConversationID: conv,
		}); err != nil {
			n.log.Printf("negotiator: cfp to %s: %v", r, err)
		}
	}
}

// Procure runs a purchase round: broadcast SUPPLY to all suppliers, pick the
// lowest-priced proposal the balance can cover, accept it and reject the
// rest. Returns false when the round ends with no purchase; the caller
// leaves the originating intention unresolved.
func (n *Negotiator) Procure(item string, qty int) bool {
	suppliers := n.registry.Lookup(ServiceSupplier)
	if len(suppliers) == 0 {
		n.log.Printf("negotiator: no suppliers registered for %s", item)
		return false
	}

	conv := uuid.NewString()
	ep := n.b.Register(PlannerName + "#" + conv)
	defer n.b.Unregister(ep.Name())

	n.broadcastCFP(ep, suppliers, conv, protocol.Join(protocol.VerbSupply, item, protocol.Itoa(qty)))
	n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind: "CFP", Party: PlannerName, Item: item, Quantity: qty,
	}))

	proposals := n.collect(ep, conv)
	if len(proposals) == 0 {
		n.log.Printf("negotiator: no proposals for %s", item)
		n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
			Kind: "NO_DEAL", Item: item, Quantity: qty,
		}))
		return false
	}

	// Lowest price wins; a proposal above the available balance is never
	// selected. First arrival wins exact ties.
	winner := -1
	balance := n.ledger.Balance()
	for i, p := range proposals {
		if p.price > balance {
			continue
		}
		if winner == -1 || p.price < proposals[winner].price {
			winner = i
		}
	}

	for i, p := range proposals {
		if i == winner {
			continue
		}
		n.reply(p.msg, protocol.PerformativeReject, protocol.VerbReject)
	}
	if winner == -1 {
		n.log.Printf("negotiator: no affordable proposal for %s (balance %s)",
			item, protocol.FormatPrice(balance))
		return false
	}

	won := proposals[winner]
	if !n.ledger.Spend(won.price) {
		// Balance moved underneath the round; treat as no deal.
		n.reply(won.msg, protocol.PerformativeReject, protocol.VerbReject)
		return false
	}
	n.reply(won.msg, protocol.PerformativeAccept, protocol.Join(
		protocol.VerbAccept, item, protocol.Itoa(qty), protocol.FormatPrice(won.price)))
	n.log.Printf("negotiator: accepted %s from %s at %s",
		item, won.bidder, protocol.FormatPrice(won.price))
	n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind: "SALE", Party: won.bidder, Item: item, Quantity: qty, Price: won.price,
	}))
	return true
}

// Auction runs a sale round for a harvested crop: broadcast BUY to all
// registered buyers, track the top two bids as they arrive, and settle at
// the second price (the winner's own bid when it stands alone). Ties go to
// the earlier bid. Returns false when nothing sold.
func (n *Negotiator) Auction(item string, qty int) bool {
	buyers := n.registry.Lookup(ServiceBuyer)
	if len(buyers) == 0 {
		n.log.Printf("negotiator: no buyers registered for %s", item)
		return false
	}

	conv := uuid.NewString()
	ep := n.b.Register(PlannerName + "#" + conv)
	defer n.b.Unregister(ep.Name())

	n.broadcastCFP(ep, buyers, conv, protocol.Join(protocol.VerbBuy, item, protocol.Itoa(qty)))
	n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind: "CFP", Party: PlannerName, Item: item, Quantity: qty,
	}))

	bids := n.collect(ep, conv)
	if len(bids) == 0 {
		n.log.Printf("negotiator: no bids for %s", item)
		n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
			Kind: "NO_DEAL", Item: item, Quantity: qty,
		}))
		return false
	}

	high, second := runningTopTwo(bids)
	payment := bids[high].price
	if len(bids) > 1 {
		payment = second
	}

	won := bids[high]
	if !n.ledger.Remove(item, qty) {
		// Stock vanished between enqueue and settlement; call off the round.
		for _, b := range bids {
			n.reply(b.msg, protocol.PerformativeReject, protocol.VerbReject)
		}
		n.log.Printf("negotiator: %s no longer in stock, auction cancelled", item)
		return false
	}
	n.ledger.Credit(payment)

	for i, b := range bids {
		if i == high {
			continue
		}
		n.reply(b.msg, protocol.PerformativeReject, protocol.VerbReject)
	}
	n.reply(won.msg, protocol.PerformativeAccept, protocol.Join(
		protocol.VerbAccept, item, protocol.Itoa(qty), protocol.FormatPrice(payment)))
	n.log.Printf("negotiator: sold %s to %s for %s (second-price)",
		item, won.bidder, protocol.FormatPrice(payment))
	n.sink.Publish(protocol.NewEvent(protocol.EventMarketEvent, protocol.MarketEvent{
		Kind:     "AUCTION_COMPLETE",
		Party:    won.bidder,
		Item:     item,
		Quantity: qty,
		HighBid:  bids[high].price,
		Payment:  payment,
	}))
	return true
}

// runningTopTwo finds the winning bid index and the second-highest bid value
// with a two-variable running max: a strictly greater bid displaces the
// leader (so the first of equal top bids wins), and the displaced leader
// becomes the runner-up. Equal top bids therefore still produce a
// second-highest equal to the winner's price.
func runningTopTwo(bids []proposal) (winnerIdx int, second float64) {
	winnerIdx = -1
	highest := -1.0
	second = -1.0
	for i, b := range bids {
		if b.price > highest {
			second = highest
			highest = b.price
			winnerIdx = i
		} else if b.price > second {
			second = b.price
		}
	}
	return winnerIdx, second
}

func (n *Negotiator) reply(to protocol.Message, performative, content string) {
	r := to.Reply(performative, content)
	r.Receiver = to.Sender
	r.Sender = PlannerName
	if err := n.b.Send(r); err != nil {
		n.log.Printf("negotiator: %v", err)
	}
}
