// Event bus: in-process publish/subscribe for observers that are not
// agents (gateway, CSV sink, renderer). Emission is synchronous on the
// tick thread; handlers must not block and must not send messages.
package kernel

import (
	"log/slog"

	"marketsim/pkg/types"
)

// EventType tags the bus event variants.
type EventType uint8

const (
	EventTrade EventType = iota
	EventOrderLog
	EventOrderRejected
	EventMarketData
	EventOracleTick
)

func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "TRADE"
	case EventOrderLog:
		return "ORDER_LOG"
	case EventOrderRejected:
		return "ORDER_REJECTED"
	case EventMarketData:
		return "MARKET_DATA"
	case EventOracleTick:
		return "ORACLE_TICK"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON serializes EventType as its string tag.
func (t EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// OrderLog records a mutating message at send time, before any latency.
type OrderLog struct {
	At   int64         `json:"at"`
	From types.AgentID `json:"from"`
	Kind types.MsgType `json:"kind"`
	Body any           `json:"body,omitempty"`
}

// Reject records a rejection the exchange sent back to an agent.
type Reject struct {
	At      int64         `json:"at"`
	Agent   types.AgentID `json:"agent"`
	Reason  string        `json:"reason"`
	RefType types.MsgType `json:"refType"`
}

// OracleTick carries an opaque external fundamental-value signal.
type OracleTick struct {
	Ts          int64              `json:"ts"`
	Symbol      string             `json:"symbol"`
	Fundamental int64              `json:"fundamental"`
	Fields      map[string]float64 `json:"fields,omitempty"`
}

// Event is the tagged union carried on the bus. Exactly one payload
// pointer is set, matching Type.
type Event struct {
	Type       EventType         `json:"type"`
	At         int64             `json:"at"`
	Trade      *types.Trade      `json:"trade,omitempty"`
	OrderLog   *OrderLog         `json:"order_log,omitempty"`
	Reject     *Reject           `json:"reject,omitempty"`
	MarketData *types.L2Snapshot `json:"market_data,omitempty"`
	Oracle     *OracleTick       `json:"oracle,omitempty"`
}

// Handler receives bus events synchronously. Handlers isolate their own
// failures: a panic is recovered and logged, never propagated into the
// tick loop.
type Handler func(Event)

// Subscription identifies a registered handler for removal.
type Subscription int

// Bus is the kernel's publish/subscribe layer. It is driven entirely
// from the tick thread; On/Off before Start or inside Sync are safe.
type Bus struct {
	next     Subscription
	handlers map[EventType]map[Subscription]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus. The kernel makes its own; standalone
// buses are mainly useful for wiring observers in tests.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[Subscription]Handler),
		logger:   logger.With("component", "bus"),
	}
}

// On registers a handler for one event type and returns its
// subscription token.
func (b *Bus) On(t EventType, h Handler) Subscription {
	b.next++
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[Subscription]Handler)
	}
	b.handlers[t][b.next] = h
	return b.next
}

// Off removes a previously registered handler.
func (b *Bus) Off(t EventType, sub Subscription) {
	delete(b.handlers[t], sub)
}

// Emit delivers the event to every handler of its type, in subscription
// order.
func (b *Bus) Emit(ev Event) {
	hs := b.handlers[ev.Type]
	if len(hs) == 0 {
		return
	}
	subs := make([]Subscription, 0, len(hs))
	for s := range hs {
		subs = append(subs, s)
	}
	// Map iteration order is random; deliver in subscription order so
	// handler side effects are reproducible across runs.
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j] < subs[j-1]; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
	for _, s := range subs {
		b.dispatch(hs[s], ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "event", ev.Type.String(), "panic", r)
		}
	}()
	h(ev)
}
