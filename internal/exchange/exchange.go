// Package exchange implements the exchange agent: the only participant
// allowed to mutate the order book.
//
// It validates inbound order messages, drives the matching engine, and
// produces the response protocol: ACCEPTED/EXECUTED/CANCELLED/REJECTED
// point-to-point messages, one TRADE bus event per match, and a
// MARKET_DATA broadcast to every other agent after each mutation.
package exchange

import (
	"log/slog"

	"marketsim/internal/book"
	"marketsim/internal/kernel"
	"marketsim/internal/latency"
	"marketsim/pkg/types"
)

// Config holds the exchange options.
type Config struct {
	// Symbol is the single instrument this exchange trades.
	Symbol string
	// Depth is how many aggregated levels each MARKET_DATA snapshot
	// carries.
	Depth int
	// PipelineDelayMs is an extra outbound delay on every response and
	// broadcast, modelling the exchange's internal publish pipeline.
	PipelineDelayMs int64
}

// DefaultConfig returns the stock exchange options: depth 10, no
// pipeline delay.
func DefaultConfig(symbol string) Config {
	return Config{Symbol: symbol, Depth: 10}
}

// Exchange owns the book and answers order flow.
type Exchange struct {
	kernel.BaseAgent

	cfg    Config
	book   *book.Book
	logger *slog.Logger
}

// New creates an exchange agent for one symbol.
func New(cfg Config, logger *slog.Logger) *Exchange {
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	return &Exchange{
		cfg:    cfg,
		book:   book.New(cfg.Symbol),
		logger: logger.With("component", "exchange", "symbol", cfg.Symbol),
	}
}

// Attach registers with the kernel, advertises the exchange identity,
// and publishes the read-only book surface.
func (e *Exchange) Attach(k *kernel.Kernel, id types.AgentID) {
	e.BaseAgent.Attach(k, id)
	k.SetExchange(id)
	k.RegisterBook(e.cfg.Symbol, e.book)
}

// Receive dispatches one inbound message.
func (e *Exchange) Receive(t int64, msg *types.Message) {
	switch msg.Type {
	case types.MsgLimitOrder:
		e.handleLimit(t, msg)
	case types.MsgMarketOrder:
		e.handleMarket(t, msg)
	case types.MsgCancelOrder:
		e.handleCancel(t, msg)
	case types.MsgModifyOrder:
		e.handleModify(t, msg)
	case types.MsgQuerySpread:
		e.handleQuerySpread(msg)
	case types.MsgQueryLast:
		e.handleQueryLast(msg)
	default:
		e.logger.Warn("unexpected message", "type", msg.Type.String(), "from", int(msg.From))
	}
}

func (e *Exchange) handleLimit(t int64, msg *types.Message) {
	o, ok := msg.Body.(types.Order)
	if !ok {
		if p, isPtr := msg.Body.(*types.Order); isPtr {
			o, ok = *p, true
		}
	}
	if !ok {
		e.reject(msg.From, "Malformed limit order", types.MsgLimitOrder, msg.Body)
		return
	}

	switch {
	case o.Symbol != e.cfg.Symbol:
		e.reject(msg.From, "Unknown symbol", types.MsgLimitOrder, o)
		return
	case !o.Side.Valid():
		e.reject(msg.From, "Invalid side", types.MsgLimitOrder, o)
		return
	case o.Price <= 0:
		e.reject(msg.From, "Price must be positive", types.MsgLimitOrder, o)
		return
	case o.Qty <= 0:
		e.reject(msg.From, "Quantity must be positive", types.MsgLimitOrder, o)
		return
	}

	resident := o
	resident.Agent = msg.From
	resident.Ts = t
	execs, err := e.book.PlaceLimit(&resident)
	if err != nil {
		e.reject(msg.From, "Duplicate order id", types.MsgLimitOrder, o)
		return
	}

	e.send(msg.From, types.MsgOrderAccepted, types.AcceptedBody{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Price:   o.Price,
		Qty:     o.Qty,
	})
	e.settle(t, execs)
	e.publish()
}

func (e *Exchange) handleMarket(t int64, msg *types.Message) {
	body, ok := msg.Body.(types.MarketOrderBody)
	if !ok {
		e.reject(msg.From, "Malformed market order", types.MsgMarketOrder, msg.Body)
		return
	}
	if !body.Side.Valid() {
		e.reject(msg.From, "Invalid side", types.MsgMarketOrder, body)
		return
	}
	if body.Qty <= 0 {
		e.reject(msg.From, "Quantity must be positive", types.MsgMarketOrder, body)
		return
	}

	res := e.book.PlaceMarket(msg.From, "", body.Side, body.Qty, t)
	if res.Filled == 0 {
		e.reject(msg.From, "No liquidity", types.MsgMarketOrder, body)
		return
	}

	e.settle(t, res.Executions)
	e.publish()
}

func (e *Exchange) handleCancel(t int64, msg *types.Message) {
	body, ok := msg.Body.(types.CancelBody)
	if !ok || body.ID == "" {
		e.reject(msg.From, "Missing order id", types.MsgCancelOrder, msg.Body)
		return
	}

	former, found := e.book.Cancel(body.ID)
	if !found {
		e.reject(msg.From, "Unknown order id", types.MsgCancelOrder, body)
		return
	}

	e.send(msg.From, types.MsgOrderCancelled, types.CancelledBody{
		OrderID: former.ID,
		Side:    former.Side,
		Price:   former.Price,
		Qty:     former.Qty,
	})
	e.publish()
}

func (e *Exchange) handleModify(t int64, msg *types.Message) {
	body, ok := msg.Body.(types.ModifyBody)
	if !ok || body.ID == "" {
		e.reject(msg.From, "Missing order id", types.MsgModifyOrder, msg.Body)
		return
	}
	if body.Price != nil && *body.Price <= 0 {
		e.reject(msg.From, "Price must be positive", types.MsgModifyOrder, body)
		return
	}
	if body.Qty != nil && *body.Qty < 0 {
		e.reject(msg.From, "Quantity must be nonnegative", types.MsgModifyOrder, body)
		return
	}

	mutated, execs, err := e.book.Modify(body.ID, body.Price, body.Qty, t)
	if err != nil {
		e.reject(msg.From, "Unknown order id", types.MsgModifyOrder, body)
		return
	}

	e.send(msg.From, types.MsgOrderAccepted, types.AcceptedBody{
		OrderID:  mutated.ID,
		Symbol:   mutated.Symbol,
		Side:     mutated.Side,
		Price:    mutated.Price,
		Qty:      mutated.Qty,
		Replaced: true,
	})
	e.settle(t, execs)
	e.publish()
}

func (e *Exchange) handleQuerySpread(msg *types.Message) {
	depth := e.cfg.Depth
	if body, ok := msg.Body.(types.QuerySpreadBody); ok && body.Depth > 0 {
		depth = body.Depth
	}
	e.send(msg.From, types.MsgQuerySpread, e.book.Snapshot(depth))
}

func (e *Exchange) handleQueryLast(msg *types.Message) {
	e.send(msg.From, types.MsgQueryLast, types.LastBody{
		Symbol: e.cfg.Symbol,
		Last:   e.book.Last(),
	})
}

// settle reports one match to both parties and prints the trade on the
// bus. The taker hears first; the TRADE event lands strictly between
// the two EXECUTED sends.
func (e *Exchange) settle(t int64, execs []types.Execution) {
	for _, x := range execs {
		e.send(x.Taker, types.MsgOrderExecuted, types.ExecutedBody{
			Symbol:  e.cfg.Symbol,
			Price:   x.Price,
			Qty:     x.Qty,
			Role:    types.Taker,
			Side:    x.MakerSide.Opposite(),
			OrderID: x.TakerOrderID,
		})

		e.Kernel.Bus().Emit(kernel.Event{
			Type: kernel.EventTrade,
			At:   t,
			Trade: &types.Trade{
				Ts:        t,
				Symbol:    e.cfg.Symbol,
				Price:     x.Price,
				Qty:       x.Qty,
				Maker:     x.Maker,
				Taker:     x.Taker,
				MakerSide: x.MakerSide,
			},
		})

		e.send(x.Maker, types.MsgOrderExecuted, types.ExecutedBody{
			Symbol:  e.cfg.Symbol,
			Price:   x.Price,
			Qty:     x.Qty,
			Role:    types.Maker,
			Side:    x.MakerSide,
			OrderID: x.MakerOrderID,
		})
	}
}

// publish broadcasts a fresh depth-N snapshot to every other agent and
// mirrors it on the bus for non-agent observers.
func (e *Exchange) publish() {
	snap := e.book.Snapshot(e.cfg.Depth)
	e.Kernel.Broadcast(e.ID, types.MsgMarketData, snap, e.pipelineNs())
	e.Kernel.Bus().Emit(kernel.Event{
		Type:       kernel.EventMarketData,
		At:         e.Kernel.NowNs(),
		MarketData: &snap,
	})
}

func (e *Exchange) reject(to types.AgentID, reason string, refType types.MsgType, ref any) {
	e.send(to, types.MsgOrderRejected, types.RejectedBody{
		Reason:  reason,
		RefType: refType,
		Ref:     ref,
	})
	e.Kernel.Bus().Emit(kernel.Event{
		Type: kernel.EventOrderRejected,
		At:   e.Kernel.NowNs(),
		Reject: &kernel.Reject{
			At:      e.Kernel.NowNs(),
			Agent:   to,
			Reason:  reason,
			RefType: refType,
		},
	})
	e.logger.Debug("rejected", "agent", int(to), "reason", reason, "ref", refType.String())
}

func (e *Exchange) send(to types.AgentID, mt types.MsgType, body any) {
	e.Kernel.Send(e.ID, to, mt, body, e.pipelineNs())
}

func (e *Exchange) pipelineNs() int64 {
	return latency.MsToNs(e.cfg.PipelineDelayMs)
}
