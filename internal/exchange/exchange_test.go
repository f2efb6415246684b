package exchange

import (
	"io"
	"log/slog"
	"testing"

	"marketsim/internal/kernel"
	"marketsim/pkg/types"
)

const sym = "ACME"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trader records everything the exchange sends it.
type trader struct {
	kernel.BaseAgent
	inbox []*types.Message
}

func (tr *trader) Receive(t int64, msg *types.Message) {
	tr.inbox = append(tr.inbox, msg)
}

func (tr *trader) byType(mt types.MsgType) []*types.Message {
	var out []*types.Message
	for _, m := range tr.inbox {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

// harness: kernel with zero latency, one exchange, two traders.
type harness struct {
	k  *kernel.Kernel
	ex *Exchange
	t1 *trader
	t2 *trader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	k := kernel.New(kernel.Config{TickMs: 200}, testLogger())
	h := &harness{k: k, ex: New(DefaultConfig(sym), testLogger()), t1: &trader{}, t2: &trader{}}
	k.Register(h.t1)
	k.Register(h.t2)
	k.Register(h.ex)
	k.SetClock(0)
	return h
}

func (h *harness) limit(from *trader, id string, side types.Side, price, qty int64) {
	h.k.Send(from.ID, h.ex.ID, types.MsgLimitOrder, types.Order{
		ID: id, Symbol: sym, Side: side, Price: price, Qty: qty,
	}, 0)
	h.k.RunTicks(1)
}

// TestLimitAcceptedAndRests: a valid limit order is acknowledged and
// the snapshot broadcast reflects it.
func TestLimitAcceptedAndRests(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "b1", types.Buy, 9900, 10)

	accs := h.t1.byType(types.MsgOrderAccepted)
	if len(accs) != 1 {
		t.Fatalf("want 1 ACCEPTED, got %d", len(accs))
	}
	body := accs[0].Body.(types.AcceptedBody)
	if body.OrderID != "b1" || body.Replaced {
		t.Errorf("accepted = %+v", body)
	}

	// Both traders got market data; the sender too.
	if len(h.t1.byType(types.MsgMarketData)) != 1 || len(h.t2.byType(types.MsgMarketData)) != 1 {
		t.Error("market data should reach every non-exchange agent")
	}
	md := h.t2.byType(types.MsgMarketData)[0].Body.(types.L2Snapshot)
	if len(md.Bids) != 1 || md.Bids[0].Price != 9900 || md.Bids[0].Qty != 10 {
		t.Errorf("snapshot bids = %+v", md.Bids)
	}
}

// TestMatchProducesOneTradeAndTwoExecutions: every match yields exactly
// one TRADE bus event, one EXECUTED to the maker, one to the taker,
// with per-recipient sides and roles.
func TestMatchProducesOneTradeAndTwoExecutions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var trades []types.Trade
	h.k.Bus().On(kernel.EventTrade, func(ev kernel.Event) {
		trades = append(trades, *ev.Trade)
	})

	h.limit(h.t1, "a1", types.Sell, 10100, 5)
	h.limit(h.t2, "b1", types.Buy, 10200, 3)

	if len(trades) != 1 {
		t.Fatalf("want 1 TRADE event, got %d", len(trades))
	}
	if trades[0].Price != 10100 || trades[0].Qty != 3 || trades[0].Maker != h.t1.ID || trades[0].Taker != h.t2.ID {
		t.Errorf("trade = %+v", trades[0])
	}

	makerEx := h.t1.byType(types.MsgOrderExecuted)
	takerEx := h.t2.byType(types.MsgOrderExecuted)
	if len(makerEx) != 1 || len(takerEx) != 1 {
		t.Fatalf("executions: maker=%d taker=%d, want 1 each", len(makerEx), len(takerEx))
	}

	mb := makerEx[0].Body.(types.ExecutedBody)
	if mb.Role != types.Maker || mb.Side != types.Sell || mb.Price != 10100 || mb.OrderID != "a1" {
		t.Errorf("maker executed = %+v", mb)
	}
	tb := takerEx[0].Body.(types.ExecutedBody)
	if tb.Role != types.Taker || tb.Side != types.Buy || tb.Price != 10100 || tb.OrderID != "b1" {
		t.Errorf("taker executed = %+v", tb)
	}
}

// TestValidationRejects covers the reject table for limit orders.
func TestValidationRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		order  types.Order
		reason string
	}{
		{"wrong symbol", types.Order{ID: "x", Symbol: "OTHER", Side: types.Buy, Price: 100, Qty: 1}, "Unknown symbol"},
		{"bad side", types.Order{ID: "x", Symbol: sym, Side: 0, Price: 100, Qty: 1}, "Invalid side"},
		{"zero price", types.Order{ID: "x", Symbol: sym, Side: types.Buy, Price: 0, Qty: 1}, "Price must be positive"},
		{"negative qty", types.Order{ID: "x", Symbol: sym, Side: types.Buy, Price: 100, Qty: -1}, "Quantity must be positive"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			var rejects []kernel.Reject
			h.k.Bus().On(kernel.EventOrderRejected, func(ev kernel.Event) {
				rejects = append(rejects, *ev.Reject)
			})

			h.k.Send(h.t1.ID, h.ex.ID, types.MsgLimitOrder, tt.order, 0)
			h.k.RunTicks(1)

			msgs := h.t1.byType(types.MsgOrderRejected)
			if len(msgs) != 1 {
				t.Fatalf("want 1 REJECTED, got %d", len(msgs))
			}
			body := msgs[0].Body.(types.RejectedBody)
			if body.Reason != tt.reason || body.RefType != types.MsgLimitOrder {
				t.Errorf("reject = %+v, want reason %q", body, tt.reason)
			}
			if len(rejects) != 1 || rejects[0].Reason != tt.reason {
				t.Errorf("bus rejects = %+v", rejects)
			}
			if n := len(h.t1.byType(types.MsgMarketData)); n != 0 {
				t.Errorf("no market data should follow a rejection, got %d", n)
			}
		})
	}
}

// TestMarketOrderNoLiquidity: an empty opposite side rejects with the
// canonical reason.
func TestMarketOrderNoLiquidity(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.k.Send(h.t1.ID, h.ex.ID, types.MsgMarketOrder, types.MarketOrderBody{Side: types.Buy, Qty: 5}, 0)
	h.k.RunTicks(1)

	msgs := h.t1.byType(types.MsgOrderRejected)
	if len(msgs) != 1 {
		t.Fatalf("want 1 REJECTED, got %d", len(msgs))
	}
	if body := msgs[0].Body.(types.RejectedBody); body.Reason != "No liquidity" {
		t.Errorf("reason = %q", body.Reason)
	}
}

// TestMarketOrderSweep fills across levels and reports per-recipient
// executions.
func TestMarketOrderSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "a1", types.Sell, 100, 2)
	h.limit(h.t1, "a2", types.Sell, 101, 3)

	h.k.Send(h.t2.ID, h.ex.ID, types.MsgMarketOrder, types.MarketOrderBody{Side: types.Buy, Qty: 4}, 0)
	h.k.RunTicks(1)

	takerEx := h.t2.byType(types.MsgOrderExecuted)
	if len(takerEx) != 2 {
		t.Fatalf("want 2 taker EXECUTED, got %d", len(takerEx))
	}
	first := takerEx[0].Body.(types.ExecutedBody)
	second := takerEx[1].Body.(types.ExecutedBody)
	if first.Price != 100 || first.Qty != 2 || second.Price != 101 || second.Qty != 2 {
		t.Errorf("sweep executions = %+v, %+v", first, second)
	}
}

// TestCancelRoundTrip: cancel returns the former resident state, and a
// second cancel of the same id rejects.
func TestCancelRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "b1", types.Buy, 9900, 10)

	h.k.Send(h.t1.ID, h.ex.ID, types.MsgCancelOrder, types.CancelBody{ID: "b1"}, 0)
	h.k.RunTicks(1)

	cns := h.t1.byType(types.MsgOrderCancelled)
	if len(cns) != 1 {
		t.Fatalf("want 1 CANCELLED, got %d", len(cns))
	}
	body := cns[0].Body.(types.CancelledBody)
	if body.OrderID != "b1" || body.Side != types.Buy || body.Price != 9900 || body.Qty != 10 {
		t.Errorf("cancelled = %+v", body)
	}

	h.k.Send(h.t1.ID, h.ex.ID, types.MsgCancelOrder, types.CancelBody{ID: "b1"}, 0)
	h.k.RunTicks(1)

	rejects := h.t1.byType(types.MsgOrderRejected)
	if len(rejects) != 1 {
		t.Fatalf("second cancel should reject, got %d rejects", len(rejects))
	}
	if body := rejects[0].Body.(types.RejectedBody); body.Reason != "Unknown order id" {
		t.Errorf("reason = %q", body.Reason)
	}
}

// TestModifyReplacedAck: a modify acks with replaced=true and the
// patched fields.
func TestModifyReplacedAck(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "b1", types.Buy, 9900, 10)

	newQty := int64(4)
	h.k.Send(h.t1.ID, h.ex.ID, types.MsgModifyOrder, types.ModifyBody{ID: "b1", Qty: &newQty}, 0)
	h.k.RunTicks(1)

	accs := h.t1.byType(types.MsgOrderAccepted)
	if len(accs) != 2 {
		t.Fatalf("want place ack + modify ack, got %d", len(accs))
	}
	mod := accs[1].Body.(types.AcceptedBody)
	if !mod.Replaced || mod.Qty != 4 || mod.Price != 9900 {
		t.Errorf("modify ack = %+v", mod)
	}
}

// TestModifyValidation rejects bad patches and unknown ids.
func TestModifyValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "b1", types.Buy, 9900, 10)

	badPrice := int64(-5)
	h.k.Send(h.t1.ID, h.ex.ID, types.MsgModifyOrder, types.ModifyBody{ID: "b1", Price: &badPrice}, 0)
	h.k.RunTicks(1)

	h.k.Send(h.t1.ID, h.ex.ID, types.MsgModifyOrder, types.ModifyBody{ID: "ghost"}, 0)
	h.k.RunTicks(1)

	rejects := h.t1.byType(types.MsgOrderRejected)
	if len(rejects) != 2 {
		t.Fatalf("want 2 rejects, got %d", len(rejects))
	}
	if r := rejects[0].Body.(types.RejectedBody); r.Reason != "Price must be positive" {
		t.Errorf("first reject = %+v", r)
	}
	if r := rejects[1].Body.(types.RejectedBody); r.Reason != "Unknown order id" {
		t.Errorf("second reject = %+v", r)
	}
}

// TestQuerySpreadAndLast replies point-to-point without market data.
func TestQuerySpreadAndLast(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.limit(h.t1, "b1", types.Buy, 9900, 10)
	h.limit(h.t1, "a1", types.Sell, 10100, 5)
	h.limit(h.t2, "b2", types.Buy, 10200, 1) // trades at 10100

	h.k.Send(h.t2.ID, h.ex.ID, types.MsgQuerySpread, types.QuerySpreadBody{Depth: 1}, 0)
	h.k.Send(h.t2.ID, h.ex.ID, types.MsgQueryLast, nil, 0)
	h.k.RunTicks(1)

	spreads := h.t2.byType(types.MsgQuerySpread)
	if len(spreads) != 1 {
		t.Fatalf("want 1 spread reply, got %d", len(spreads))
	}
	snap := spreads[0].Body.(types.L2Snapshot)
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 9900 {
		t.Errorf("spread bids = %+v", snap.Bids)
	}

	lasts := h.t2.byType(types.MsgQueryLast)
	if len(lasts) != 1 {
		t.Fatalf("want 1 last reply, got %d", len(lasts))
	}
	if body := lasts[0].Body.(types.LastBody); body.Last == nil || *body.Last != 10100 {
		t.Errorf("last = %+v", body)
	}
}

// TestDeterministicReplay: two identical runs produce identical trade
// tapes.
func TestDeterministicReplay(t *testing.T) {
	t.Parallel()

	run := func() []types.Trade {
		h := newHarness(t)
		var trades []types.Trade
		h.k.Bus().On(kernel.EventTrade, func(ev kernel.Event) {
			trades = append(trades, *ev.Trade)
		})
		h.limit(h.t1, "a1", types.Sell, 100, 5)
		h.limit(h.t1, "a2", types.Sell, 101, 5)
		h.limit(h.t2, "b1", types.Buy, 101, 7)
		h.k.Send(h.t2.ID, h.ex.ID, types.MsgMarketOrder, types.MarketOrderBody{Side: types.Buy, Qty: 2}, 0)
		h.k.RunTicks(2)
		return trades
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("trade counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("trade %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
