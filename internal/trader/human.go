// Package trader implements the human-trader agent: the order-entry
// bridge between external surfaces (the HTTP/WS gateway, a terminal)
// and the kernel.
//
// The gateway never touches the kernel queue directly; it calls the
// methods here, each of which marshals itself onto the tick thread via
// kernel.Sync and translates into plain kernel sends. Fills flow back
// through Receive and settle against a cash/position ledger kept in
// shopspring decimals.
package trader

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketsim/internal/kernel"
	"marketsim/pkg/types"
)

// Balances is the ledger snapshot exposed to external callers.
// Cash is in dollars; Position is signed shares; Realized accumulates
// round-trip PnL against average cost.
type Balances struct {
	Cash     decimal.Decimal `json:"cash"`
	Position int64           `json:"position"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
	Realized decimal.Decimal `json:"realized"`
}

// OrderStatus is the last known state of an order placed through this
// agent.
type OrderStatus struct {
	OrderID string     `json:"order_id"`
	State   string     `json:"state"` // SENT, ACCEPTED, CANCELLED, REJECTED, FILLED
	Side    types.Side `json:"side"`
	Price   int64      `json:"price"`
	Qty     int64      `json:"qty"`
	Reason  string     `json:"reason,omitempty"`
}

// Human is the order-entry agent. All state mutation happens on the
// tick thread; external readers go through kernel.Sync.
type Human struct {
	kernel.BaseAgent

	symbol   string
	cash     decimal.Decimal
	position int64
	avgCost  decimal.Decimal
	realized decimal.Decimal

	// statuses tracks orders placed through this agent, keyed by id.
	statuses map[string]*OrderStatus

	logger *slog.Logger
}

// New creates a human trader with the given starting cash (dollars).
func New(symbol string, cash decimal.Decimal, logger *slog.Logger) *Human {
	return &Human{
		symbol:   symbol,
		cash:     cash,
		statuses: make(map[string]*OrderStatus),
		logger:   logger.With("component", "human-trader"),
	}
}

// cents converts an integer-cent price to a decimal dollar amount.
func cents(price int64) decimal.Decimal {
	return decimal.New(price, -2)
}

// PlaceLimit submits a limit order and returns its generated id.
// Call from the gateway via kernel.Sync.
func (h *Human) PlaceLimit(side types.Side, price, qty int64) string {
	id := uuid.NewString()
	h.statuses[id] = &OrderStatus{OrderID: id, State: "SENT", Side: side, Price: price, Qty: qty}
	h.Kernel.Send(h.ID, h.Kernel.ExchangeID(), types.MsgLimitOrder, types.Order{
		ID:     id,
		Agent:  h.ID,
		Symbol: h.symbol,
		Side:   side,
		Price:  price,
		Qty:    qty,
	}, 0)
	return id
}

// PlaceMarket submits a market order.
func (h *Human) PlaceMarket(side types.Side, qty int64) {
	h.Kernel.Send(h.ID, h.Kernel.ExchangeID(), types.MsgMarketOrder, types.MarketOrderBody{
		Side: side,
		Qty:  qty,
	}, 0)
}

// Cancel requests removal of a resident order.
func (h *Human) Cancel(orderID string) {
	h.Kernel.Send(h.ID, h.Kernel.ExchangeID(), types.MsgCancelOrder, types.CancelBody{ID: orderID}, 0)
}

// Modify patches a resident order's price and/or quantity.
func (h *Human) Modify(orderID string, price, qty *int64) {
	h.Kernel.Send(h.ID, h.Kernel.ExchangeID(), types.MsgModifyOrder, types.ModifyBody{
		ID:    orderID,
		Price: price,
		Qty:   qty,
	}, 0)
}

// OpenOrders returns this agent's resident orders from the book's
// read-only surface.
func (h *Human) OpenOrders() []types.Order {
	reader := h.Kernel.Book(h.symbol)
	if reader == nil {
		return nil
	}
	return reader.OpenOrders(h.ID)
}

// GetBalances returns a copy of the ledger.
func (h *Human) GetBalances() Balances {
	return Balances{
		Cash:     h.cash,
		Position: h.position,
		AvgCost:  h.avgCost,
		Realized: h.realized,
	}
}

// Status returns the last known state of an order, if tracked.
func (h *Human) Status(orderID string) (OrderStatus, bool) {
	st, ok := h.statuses[orderID]
	if !ok {
		return OrderStatus{}, false
	}
	return *st, true
}

// Receive settles fills and tracks acknowledgements.
func (h *Human) Receive(t int64, msg *types.Message) {
	switch msg.Type {
	case types.MsgOrderExecuted:
		body, ok := msg.Body.(types.ExecutedBody)
		if !ok {
			return
		}
		h.applyFill(body)
		if st, tracked := h.statuses[body.OrderID]; tracked {
			st.Qty -= body.Qty
			if st.Qty <= 0 {
				st.State = "FILLED"
			}
		}
	case types.MsgOrderAccepted:
		if body, ok := msg.Body.(types.AcceptedBody); ok {
			if st, tracked := h.statuses[body.OrderID]; tracked {
				st.State = "ACCEPTED"
				st.Price = body.Price
				st.Qty = body.Qty
			}
		}
	case types.MsgOrderCancelled:
		if body, ok := msg.Body.(types.CancelledBody); ok {
			if st, tracked := h.statuses[body.OrderID]; tracked {
				st.State = "CANCELLED"
			}
		}
	case types.MsgOrderRejected:
		body, ok := msg.Body.(types.RejectedBody)
		if !ok {
			return
		}
		if ref, isOrder := body.Ref.(types.Order); isOrder {
			if st, tracked := h.statuses[ref.ID]; tracked {
				st.State = "REJECTED"
				st.Reason = body.Reason
			}
		}
		h.logger.Warn("order rejected", "reason", body.Reason, "ref", body.RefType.String())
	case types.MsgMarketData:
		// Quote updates are read on demand via the book surface.
	}
}

// applyFill moves cash and position for one execution. Fills that grow
// the position blend into the average cost; fills that shrink it
// realize PnL against the average.
func (h *Human) applyFill(x types.ExecutedBody) {
	price := cents(x.Price)
	notional := price.Mul(decimal.NewFromInt(x.Qty))

	signed := x.Qty
	if x.Side == types.Sell {
		signed = -x.Qty
		h.cash = h.cash.Add(notional)
	} else {
		h.cash = h.cash.Sub(notional)
	}

	oldPos := h.position
	newPos := oldPos + signed

	switch {
	case oldPos == 0 || (oldPos > 0) == (signed > 0):
		// Opening or growing: blend average cost.
		total := h.avgCost.Mul(decimal.NewFromInt(abs(oldPos))).Add(price.Mul(decimal.NewFromInt(x.Qty)))
		h.avgCost = total.Div(decimal.NewFromInt(abs(newPos)))
	case abs(signed) <= abs(oldPos):
		// Shrinking: realize against average cost.
		closed := decimal.NewFromInt(abs(signed))
		pnl := price.Sub(h.avgCost).Mul(closed)
		if oldPos < 0 {
			pnl = pnl.Neg()
		}
		h.realized = h.realized.Add(pnl)
	default:
		// Flipping through zero: realize the closed leg, restart the
		// average at the fill price for the remainder.
		closed := decimal.NewFromInt(abs(oldPos))
		pnl := price.Sub(h.avgCost).Mul(closed)
		if oldPos < 0 {
			pnl = pnl.Neg()
		}
		h.realized = h.realized.Add(pnl)
		h.avgCost = price
	}

	h.position = newPos
	if h.position == 0 {
		h.avgCost = decimal.Zero
	}

	h.logger.Info("fill",
		"side", x.Side.String(),
		"price", x.Price,
		"qty", x.Qty,
		"role", x.Role.String(),
		"position", h.position,
	)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
