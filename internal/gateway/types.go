package gateway

import (
	"fmt"

	"marketsim/pkg/types"
)

// Config holds the gateway options.
type Config struct {
	// Port the HTTP server listens on.
	Port int
	// AllowedOrigins restricts WebSocket upgrades. Empty means
	// same-host only; "*" allows everything.
	AllowedOrigins []string
}

// PlaceOrderRequest is the POST /api/orders body.
type PlaceOrderRequest struct {
	Type  string     `json:"type"` // "limit" or "market"
	Side  types.Side `json:"side"`
	Price int64      `json:"price,omitempty"` // integer cents, limit only
	Qty   int64      `json:"qty"`
}

// Validate checks the request before it reaches the trader.
func (r PlaceOrderRequest) Validate() error {
	switch r.Type {
	case "limit":
		if r.Price <= 0 {
			return fmt.Errorf("price must be positive")
		}
	case "market":
		if r.Price != 0 {
			return fmt.Errorf("market orders carry no price")
		}
	default:
		return fmt.Errorf("type must be limit or market")
	}
	if !r.Side.Valid() {
		return fmt.Errorf("side must be BUY or SELL")
	}
	if r.Qty <= 0 {
		return fmt.Errorf("qty must be positive")
	}
	return nil
}

// ModifyOrderRequest is the PATCH /api/orders/{id} body. Omitted fields
// are left unchanged.
type ModifyOrderRequest struct {
	Price *int64 `json:"price,omitempty"`
	Qty   *int64 `json:"qty,omitempty"`
}

// PlaceOrderResponse acknowledges submission. Status reflects the local
// tracking state; the exchange's own verdict arrives on the stream.
type PlaceOrderResponse struct {
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status"`
}

// LastResponse is the GET /api/last reply.
type LastResponse struct {
	Symbol string `json:"symbol"`
	Last   *int64 `json:"last"`
}

// StreamEvent is the envelope pushed to WebSocket clients.
type StreamEvent struct {
	Type string `json:"type"` // trade, order_log, reject, market_data, oracle
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}
