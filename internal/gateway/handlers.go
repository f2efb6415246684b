package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"marketsim/internal/kernel"
	"marketsim/internal/trader"
	"marketsim/pkg/types"
)

// Handlers serves the REST surface. Every touch of simulation state
// goes through kernel.Sync so it is serialized with the tick loop.
type Handlers struct {
	kernel   *kernel.Kernel
	human    *trader.Human
	symbol   string
	depth    int
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers wires the REST surface to one kernel and one trader.
func NewHandlers(k *kernel.Kernel, human *trader.Human, symbol string, depth int, allowed []string, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		kernel: k,
		human:  human,
		symbol: symbol,
		depth:  depth,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowed),
		},
		logger: logger.With("component", "gateway-handlers"),
	}
}

// originChecker builds the upgrade policy: empty list falls back to the
// library's same-host check, "*" allows everything, otherwise exact
// match against the Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// HandleHealth reports liveness and the virtual clock.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var now int64
	h.kernel.Sync(func() { now = h.kernel.NowNs() })
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "now_ns": now})
}

// HandleBook returns the aggregated L2 snapshot.
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	reader := h.kernel.Book(h.symbol)
	if reader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no book registered")
		return
	}
	var snap types.L2Snapshot
	h.kernel.Sync(func() { snap = reader.Snapshot(h.depth) })
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleLast returns the last trade price, null before the first print.
func (h *Handlers) HandleLast(w http.ResponseWriter, r *http.Request) {
	reader := h.kernel.Book(h.symbol)
	if reader == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no book registered")
		return
	}
	var last *int64
	h.kernel.Sync(func() { last = reader.Last() })
	h.writeJSON(w, http.StatusOK, LastResponse{Symbol: h.symbol, Last: last})
}

// HandleOpenOrders lists the trader's resident orders.
func (h *Handlers) HandleOpenOrders(w http.ResponseWriter, r *http.Request) {
	var open []types.Order
	h.kernel.Sync(func() { open = h.human.OpenOrders() })
	if open == nil {
		open = []types.Order{}
	}
	h.writeJSON(w, http.StatusOK, open)
}

// HandleBalances returns the trader's ledger.
func (h *Handlers) HandleBalances(w http.ResponseWriter, r *http.Request) {
	var bal trader.Balances
	h.kernel.Sync(func() { bal = h.human.GetBalances() })
	h.writeJSON(w, http.StatusOK, bal)
}

// HandlePlaceOrder submits a limit or market order. The response only
// acknowledges submission; acceptance arrives asynchronously.
func (h *Handlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var id string
	h.kernel.Sync(func() {
		switch req.Type {
		case "limit":
			id = h.human.PlaceLimit(req.Side, req.Price, req.Qty)
		case "market":
			h.human.PlaceMarket(req.Side, req.Qty)
		}
	})

	h.logger.Info("order submitted", "type", req.Type, "side", req.Side.String(), "qty", req.Qty, "id", id)
	h.writeJSON(w, http.StatusAccepted, PlaceOrderResponse{OrderID: id, Status: "submitted"})
}

// HandleCancelOrder requests cancellation of one resident order.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	h.kernel.Sync(func() { h.human.Cancel(id) })
	h.writeJSON(w, http.StatusAccepted, PlaceOrderResponse{OrderID: id, Status: "cancel_submitted"})
}

// HandleModifyOrder patches a resident order's price and/or quantity.
func (h *Handlers) HandleModifyOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	var req ModifyOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Price == nil && req.Qty == nil {
		h.writeError(w, http.StatusBadRequest, "nothing to modify")
		return
	}
	h.kernel.Sync(func() { h.human.Modify(id, req.Price, req.Qty) })
	h.writeJSON(w, http.StatusAccepted, PlaceOrderResponse{OrderID: id, Status: "modify_submitted"})
}

// HandleStream upgrades to WebSocket and joins the event feed. The
// client gets an initial book snapshot before live events.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h.hub, conn)
	if c == nil {
		return
	}

	if reader := h.kernel.Book(h.symbol); reader != nil {
		var snap types.L2Snapshot
		var now int64
		h.kernel.Sync(func() {
			snap = reader.Snapshot(h.depth)
			now = h.kernel.NowNs()
		})
		data, err := json.Marshal(StreamEvent{Type: "market_data", At: now, Data: snap})
		if err != nil {
			h.logger.Error("marshal initial snapshot", "error", err)
			return
		}
		select {
		case c.send <- data:
		default:
		}
	}
}
