package trader

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"marketsim/internal/exchange"
	"marketsim/internal/kernel"
	"marketsim/pkg/types"
)

const sym = "ACME"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counterparty rests orders for the human to trade against.
type counterparty struct {
	kernel.BaseAgent
}

func (c *counterparty) quote(id string, side types.Side, price, qty int64) {
	c.Kernel.Send(c.ID, c.Kernel.ExchangeID(), types.MsgLimitOrder, types.Order{
		ID: id, Symbol: sym, Side: side, Price: price, Qty: qty,
	}, 0)
}

func setup(t *testing.T) (*kernel.Kernel, *Human, *counterparty) {
	t.Helper()
	k := kernel.New(kernel.Config{TickMs: 200}, testLogger())
	h := New(sym, decimal.NewFromInt(10_000), testLogger())
	cp := &counterparty{}
	k.Register(h)
	k.Register(cp)
	k.Register(exchange.New(exchange.DefaultConfig(sym), testLogger()))
	k.SetClock(0)
	return k, h, cp
}

// TestPlaceLimitTracksStatus: acceptance flips the tracked state.
func TestPlaceLimitTracksStatus(t *testing.T) {
	t.Parallel()
	k, h, _ := setup(t)

	var id string
	k.Sync(func() {
		id = h.PlaceLimit(types.Buy, 9900, 10)
	})
	if id == "" {
		t.Fatal("no order id returned")
	}
	st, ok := h.Status(id)
	if !ok || st.State != "SENT" {
		t.Fatalf("status before delivery = %+v", st)
	}

	k.RunTicks(1)
	st, _ = h.Status(id)
	if st.State != "ACCEPTED" {
		t.Errorf("state = %q, want ACCEPTED", st.State)
	}

	open := h.OpenOrders()
	if len(open) != 1 || open[0].ID != id {
		t.Errorf("open orders = %+v", open)
	}
}

// TestBuyFillMovesCashAndPosition: a filled buy debits cash at the
// trade price and raises the position.
func TestBuyFillMovesCashAndPosition(t *testing.T) {
	t.Parallel()
	k, h, cp := setup(t)

	k.Sync(func() { cp.quote("a1", types.Sell, 10000, 5) }) // $100.00
	k.RunTicks(1)

	k.Sync(func() { h.PlaceMarket(types.Buy, 3) })
	k.RunTicks(1)

	bal := h.GetBalances()
	if bal.Position != 3 {
		t.Errorf("position = %d, want 3", bal.Position)
	}
	wantCash := decimal.NewFromInt(10_000).Sub(decimal.NewFromInt(300)) // 3 × $100
	if !bal.Cash.Equal(wantCash) {
		t.Errorf("cash = %s, want %s", bal.Cash, wantCash)
	}
	if !bal.AvgCost.Equal(decimal.NewFromInt(100)) {
		t.Errorf("avg cost = %s, want 100", bal.AvgCost)
	}
}

// TestRoundTripRealizesPnL: buy low, sell high, pocket the difference.
func TestRoundTripRealizesPnL(t *testing.T) {
	t.Parallel()
	k, h, cp := setup(t)

	k.Sync(func() { cp.quote("a1", types.Sell, 10000, 5) })
	k.RunTicks(1)
	k.Sync(func() { h.PlaceMarket(types.Buy, 5) })
	k.RunTicks(1)

	k.Sync(func() { cp.quote("b1", types.Buy, 10200, 5) }) // $102.00 bid
	k.RunTicks(1)
	k.Sync(func() { h.PlaceMarket(types.Sell, 5) })
	k.RunTicks(1)

	bal := h.GetBalances()
	if bal.Position != 0 {
		t.Fatalf("position = %d, want flat", bal.Position)
	}
	want := decimal.NewFromInt(10) // 5 × $2
	if !bal.Realized.Equal(want) {
		t.Errorf("realized = %s, want %s", bal.Realized, want)
	}
	if !bal.AvgCost.IsZero() {
		t.Errorf("avg cost should reset when flat, got %s", bal.AvgCost)
	}
}

// TestCancelFlow: cancellation is acknowledged and clears the book.
func TestCancelFlow(t *testing.T) {
	t.Parallel()
	k, h, _ := setup(t)

	var id string
	k.Sync(func() { id = h.PlaceLimit(types.Buy, 9900, 10) })
	k.RunTicks(1)

	k.Sync(func() { h.Cancel(id) })
	k.RunTicks(1)

	st, _ := h.Status(id)
	if st.State != "CANCELLED" {
		t.Errorf("state = %q, want CANCELLED", st.State)
	}
	if open := h.OpenOrders(); len(open) != 0 {
		t.Errorf("open orders = %+v, want none", open)
	}
}

// TestRejectionRecorded: an invalid order lands in REJECTED with the
// exchange's reason.
func TestRejectionRecorded(t *testing.T) {
	t.Parallel()
	k, h, _ := setup(t)

	var id string
	k.Sync(func() { id = h.PlaceLimit(types.Buy, -1, 10) })
	k.RunTicks(1)

	st, _ := h.Status(id)
	if st.State != "REJECTED" || st.Reason != "Price must be positive" {
		t.Errorf("status = %+v", st)
	}
}
