// Package types defines the wire-level vocabulary of the simulator:
// agent ids, message categories and bodies, orders, executions, trades,
// and L2 snapshots. All prices are fixed-point integer cents and all
// timestamps are virtual nanoseconds.
package types

import (
	"fmt"
	"strings"
)

// AgentID identifies a participant attached to the kernel.
// ID 0 is reserved for out-of-band senders (wake-up events).
type AgentID int

// SystemID is the reserved sender id for kernel-originated messages.
const SystemID AgentID = 0

// Side is the order side. The numeric values make Opposite a negation.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Valid reports whether the side is one of Buy or Sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	return -s
}

// MarshalJSON serializes Side as "BUY" or "SELL".
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts "BUY"/"SELL" or the numeric encoding.
func (s *Side) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "BUY", "1":
		*s = Buy
	case "SELL", "-1":
		*s = Sell
	default:
		return fmt.Errorf("unknown side: %s", data)
	}
	return nil
}

// MsgType enumerates the message categories routed by the kernel.
type MsgType uint8

const (
	// Agent → exchange.
	MsgLimitOrder MsgType = iota
	MsgMarketOrder
	MsgCancelOrder
	MsgModifyOrder
	MsgQuerySpread
	MsgQueryLast

	// Exchange → agent.
	MsgOrderAccepted
	MsgOrderExecuted
	MsgOrderCancelled
	MsgOrderRejected
	MsgMarketData

	// Kernel-internal.
	MsgWakeup
)

func (t MsgType) String() string {
	switch t {
	case MsgLimitOrder:
		return "LIMIT_ORDER"
	case MsgMarketOrder:
		return "MARKET_ORDER"
	case MsgCancelOrder:
		return "CANCEL_ORDER"
	case MsgModifyOrder:
		return "MODIFY_ORDER"
	case MsgQuerySpread:
		return "QUERY_SPREAD"
	case MsgQueryLast:
		return "QUERY_LAST"
	case MsgOrderAccepted:
		return "ORDER_ACCEPTED"
	case MsgOrderExecuted:
		return "ORDER_EXECUTED"
	case MsgOrderCancelled:
		return "ORDER_CANCELLED"
	case MsgOrderRejected:
		return "ORDER_REJECTED"
	case MsgMarketData:
		return "MARKET_DATA"
	case MsgWakeup:
		return "WAKEUP"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON serializes MsgType as its string tag.
func (t MsgType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Mutating reports whether the message category mutates the order book.
// The kernel emits an order-log bus event at send time for these.
func (t MsgType) Mutating() bool {
	switch t {
	case MsgLimitOrder, MsgMarketOrder, MsgCancelOrder, MsgModifyOrder:
		return true
	}
	return false
}

// Message is the unit routed by the kernel. At is the virtual delivery
// time in nanoseconds and is immutable once the message is enqueued.
type Message struct {
	From AgentID `json:"from"`
	To   AgentID `json:"to"`
	Type MsgType `json:"type"`
	Body any     `json:"body,omitempty"`
	At   int64   `json:"at"`
}

// Order is a limit order, both as the LIMIT_ORDER body and as the
// resident form inside the book. Ts is the price-time priority stamp:
// assigned on insertion, reset only when the price is modified.
type Order struct {
	ID     string  `json:"id"`
	Agent  AgentID `json:"agent"`
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Price  int64   `json:"price"`
	Qty    int64   `json:"qty"`
	Ts     int64   `json:"ts"`
}

// Execution is one maker/taker match produced by the book.
type Execution struct {
	Price        int64   `json:"price"`
	Qty          int64   `json:"qty"`
	Maker        AgentID `json:"maker"`
	Taker        AgentID `json:"taker"`
	MakerOrderID string  `json:"maker_order_id"`
	TakerOrderID string  `json:"taker_order_id"`
	MakerSide    Side    `json:"maker_side"`
}

// Trade is the bus-level record of a match. Exactly one Trade is
// emitted per execution.
type Trade struct {
	Ts        int64   `json:"ts"`
	Symbol    string  `json:"symbol"`
	Price     int64   `json:"price"`
	Qty       int64   `json:"qty"`
	Maker     AgentID `json:"maker"`
	Taker     AgentID `json:"taker"`
	MakerSide Side    `json:"maker_side"`
}

// Level is one aggregated L2 price level.
type Level struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// L2Snapshot is a depth-truncated aggregated view of the book.
// Last is nil until the first trade prints.
type L2Snapshot struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
	Last   *int64  `json:"last"`
}

// Role distinguishes the aggressor from the resting counterparty in an
// ORDER_EXECUTED message.
type Role uint8

const (
	Maker Role = iota
	Taker
)

func (r Role) String() string {
	if r == Taker {
		return "TAKER"
	}
	return "MAKER"
}

// MarshalJSON serializes Role as "MAKER" or "TAKER".
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// MarketOrderBody is the MARKET_ORDER payload.
type MarketOrderBody struct {
	Side Side  `json:"side"`
	Qty  int64 `json:"qty"`
}

// CancelBody is the CANCEL_ORDER payload.
type CancelBody struct {
	ID string `json:"id"`
}

// ModifyBody is the MODIFY_ORDER payload. Nil fields are left unchanged.
type ModifyBody struct {
	ID    string `json:"id"`
	Price *int64 `json:"price,omitempty"`
	Qty   *int64 `json:"qty,omitempty"`
}

// AcceptedBody is the ORDER_ACCEPTED payload. Replaced is set when the
// acceptance acknowledges a modify rather than a fresh placement.
type AcceptedBody struct {
	OrderID  string `json:"orderId"`
	Symbol   string `json:"symbol,omitempty"`
	Side     Side   `json:"side,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Qty      int64  `json:"qty,omitempty"`
	Replaced bool   `json:"replaced,omitempty"`
}

// ExecutedBody is the ORDER_EXECUTED payload. Side is the side from the
// recipient's own viewpoint: the side of the order they placed.
type ExecutedBody struct {
	Symbol  string `json:"symbol"`
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
	Role    Role   `json:"role"`
	Side    Side   `json:"sideForRecipient"`
	OrderID string `json:"orderId,omitempty"`
}

// CancelledBody is the ORDER_CANCELLED payload carrying the former
// resident state of the removed order.
type CancelledBody struct {
	OrderID string `json:"orderId"`
	Side    Side   `json:"side"`
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
}

// RejectedBody is the ORDER_REJECTED payload. Ref echoes the offending
// request body.
type RejectedBody struct {
	Reason  string  `json:"reason"`
	RefType MsgType `json:"refType"`
	Ref     any     `json:"ref,omitempty"`
}

// QuerySpreadBody requests an L2 snapshot at the given depth.
type QuerySpreadBody struct {
	Depth int `json:"depth"`
}

// LastBody is the QUERY_LAST reply.
type LastBody struct {
	Symbol string `json:"symbol"`
	Last   *int64 `json:"last"`
}
