// Package book implements the single-symbol limit order book with
// price-time priority matching.
//
// Each side is a B-tree of price levels; every level holds its resting
// orders in FIFO order. An id index gives O(log n) cancel and modify.
// The book validates nothing — the exchange rejects bad orders before
// they get here. The only fatal condition is a crossed book after a
// match completes, which indicates a broken invariant and panics.
package book

import (
	"fmt"

	"github.com/google/btree"

	"marketsim/pkg/types"
)

const btreeDegree = 32

// priceLevel holds all resting orders at one price, in arrival order.
// It doubles as the btree item; levels sort ascending by price on both
// sides and the bid side iterates in descending order.
type priceLevel struct {
	price  int64
	orders []*types.Order
}

// Less implements btree.Item: ascending by price.
func (l *priceLevel) Less(than btree.Item) bool {
	return l.price < than.(*priceLevel).price
}

func (l *priceLevel) totalQty() int64 {
	var total int64
	for _, o := range l.orders {
		total += o.Qty
	}
	return total
}

type bookSide struct {
	tree *btree.BTree
	side types.Side
}

func newBookSide(side types.Side) *bookSide {
	return &bookSide{tree: btree.New(btreeDegree), side: side}
}

// bestLevel returns the level at the top of this side: the highest
// price for bids, the lowest for asks. Nil when the side is empty.
func (s *bookSide) bestLevel() *priceLevel {
	var best *priceLevel
	take := func(it btree.Item) bool {
		best = it.(*priceLevel)
		return false
	}
	if s.side == types.Buy {
		s.tree.Descend(take)
	} else {
		s.tree.Ascend(take)
	}
	return best
}

// bestOrder returns the order with top price-time priority on this side.
func (s *bookSide) bestOrder() *types.Order {
	level := s.bestLevel()
	if level == nil {
		return nil
	}
	return level.orders[0]
}

// add appends an order to its price level, creating the level if needed.
func (s *bookSide) add(o *types.Order) {
	probe := &priceLevel{price: o.Price}
	if it := s.tree.Get(probe); it != nil {
		level := it.(*priceLevel)
		level.orders = append(level.orders, o)
		return
	}
	probe.orders = []*types.Order{o}
	s.tree.ReplaceOrInsert(probe)
}

// remove deletes an order from its price level, dropping the level when
// it empties.
func (s *bookSide) remove(o *types.Order) {
	it := s.tree.Get(&priceLevel{price: o.Price})
	if it == nil {
		return
	}
	level := it.(*priceLevel)
	for i, resident := range level.orders {
		if resident.ID == o.ID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		s.tree.Delete(level)
	}
}

// popBest removes the front order of the best level, used after a full
// fill at the top of the book.
func (s *bookSide) popBest() {
	level := s.bestLevel()
	if level == nil {
		return
	}
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		s.tree.Delete(level)
	}
}

// levels walks the side in priority order, calling fn per level until
// it returns false.
func (s *bookSide) levels(fn func(*priceLevel) bool) {
	walk := func(it btree.Item) bool { return fn(it.(*priceLevel)) }
	if s.side == types.Buy {
		s.tree.Descend(walk)
	} else {
		s.tree.Ascend(walk)
	}
}

// MarketResult is the outcome of a market-order sweep.
type MarketResult struct {
	Filled     int64
	Executions []types.Execution
}

// Book is the canonical matching engine for one symbol.
// Not safe for concurrent use; all mutation happens on the tick thread
// through the exchange agent.
type Book struct {
	symbol string
	bids   *bookSide
	asks   *bookSide
	index  map[string]*types.Order
	last   *int64
}

// New creates an empty book for the symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newBookSide(types.Buy),
		asks:   newBookSide(types.Sell),
		index:  make(map[string]*types.Order),
	}
}

// Symbol returns the instrument this book trades.
func (b *Book) Symbol() string {
	return b.symbol
}

// Last returns the last trade price, or nil before the first print.
func (b *Book) Last() *int64 {
	if b.last == nil {
		return nil
	}
	v := *b.last
	return &v
}

func (b *Book) side(s types.Side) *bookSide {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// PlaceLimit inserts the order on its side and matches greedily while
// the book is crossed. Returns the executions generated. The book takes
// ownership of the order; callers must not mutate it afterwards.
func (b *Book) PlaceLimit(o *types.Order) ([]types.Execution, error) {
	if _, exists := b.index[o.ID]; exists {
		return nil, fmt.Errorf("duplicate order id %q", o.ID)
	}
	b.index[o.ID] = o
	b.side(o.Side).add(o)
	execs := b.match()
	b.assertUncrossed()
	return execs, nil
}

// match repeatedly fills the two top-of-book orders while they cross.
// The trade prints at the timestamp-earlier order's price; that order
// is the maker, the later one the taker.
func (b *Book) match() []types.Execution {
	var execs []types.Execution
	for {
		bestBid := b.bids.bestOrder()
		bestAsk := b.asks.bestOrder()
		if bestBid == nil || bestAsk == nil || bestBid.Price < bestAsk.Price {
			return execs
		}

		maker, taker := bestBid, bestAsk
		if bestAsk.Ts < bestBid.Ts {
			maker, taker = bestAsk, bestBid
		}

		qty := min(bestBid.Qty, bestAsk.Qty)
		price := maker.Price
		bestBid.Qty -= qty
		bestAsk.Qty -= qty
		b.setLast(price)

		execs = append(execs, types.Execution{
			Price:        price,
			Qty:          qty,
			Maker:        maker.Agent,
			Taker:        taker.Agent,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			MakerSide:    maker.Side,
		})

		if bestBid.Qty == 0 {
			b.bids.popBest()
			delete(b.index, bestBid.ID)
		}
		if bestAsk.Qty == 0 {
			b.asks.popBest()
			delete(b.index, bestAsk.ID)
		}
	}
}

// PlaceMarket sweeps the opposite side at its best prices until qty is
// exhausted or the side empties. The taker never rests.
func (b *Book) PlaceMarket(agent types.AgentID, takerID string, side types.Side, qty int64, ts int64) MarketResult {
	res := MarketResult{}
	opposite := b.side(side.Opposite())

	remaining := qty
	for remaining > 0 {
		resting := opposite.bestOrder()
		if resting == nil {
			break
		}

		fill := min(remaining, resting.Qty)
		remaining -= fill
		resting.Qty -= fill
		b.setLast(resting.Price)

		res.Executions = append(res.Executions, types.Execution{
			Price:        resting.Price,
			Qty:          fill,
			Maker:        resting.Agent,
			Taker:        agent,
			MakerOrderID: resting.ID,
			TakerOrderID: takerID,
			MakerSide:    resting.Side,
		})

		if resting.Qty == 0 {
			opposite.popBest()
			delete(b.index, resting.ID)
		}
	}

	res.Filled = qty - remaining
	return res
}

// Cancel removes a resident order, returning its former state.
// ok is false when the id is unknown or already gone.
func (b *Book) Cancel(orderID string) (former types.Order, ok bool) {
	o, exists := b.index[orderID]
	if !exists {
		return types.Order{}, false
	}
	b.side(o.Side).remove(o)
	delete(b.index, orderID)
	return *o, true
}

// Modify mutates a resident order in place. A qty of 0 removes it
// (cancel-equivalent). A price change re-queues the order with its
// priority timestamp reset to nowTs and may trigger matching; an equal
// price leaves the timestamp untouched. Returns a copy of the mutated
// order and any executions the re-queue produced.
func (b *Book) Modify(orderID string, price, qty *int64, nowTs int64) (types.Order, []types.Execution, error) {
	o, exists := b.index[orderID]
	if !exists {
		return types.Order{}, nil, fmt.Errorf("unknown order id %q", orderID)
	}

	if qty != nil && *qty == 0 {
		former, _ := b.Cancel(orderID)
		former.Qty = 0
		return former, nil, nil
	}
	if qty != nil {
		o.Qty = *qty
	}

	var execs []types.Execution
	if price != nil && *price != o.Price {
		side := b.side(o.Side)
		side.remove(o)
		o.Price = *price
		o.Ts = nowTs
		side.add(o)
		execs = b.match()
		b.assertUncrossed()
	}

	// The order may have been fully consumed by the re-match.
	if resident, still := b.index[orderID]; still {
		return *resident, execs, nil
	}
	filled := *o
	filled.Qty = 0
	return filled, execs, nil
}

// Snapshot aggregates resting quantity by price to the requested depth
// per side. depth <= 0 returns every level.
func (b *Book) Snapshot(depth int) types.L2Snapshot {
	snap := types.L2Snapshot{
		Symbol: b.symbol,
		Bids:   collectLevels(b.bids, depth),
		Asks:   collectLevels(b.asks, depth),
		Last:   b.Last(),
	}
	return snap
}

func collectLevels(s *bookSide, depth int) []types.Level {
	out := []types.Level{}
	s.levels(func(l *priceLevel) bool {
		out = append(out, types.Level{Price: l.price, Qty: l.totalQty()})
		return depth <= 0 || len(out) < depth
	})
	return out
}

// OpenOrders returns copies of all resident orders, in price-time
// priority per side (bids first). agent == SystemID means no filter.
func (b *Book) OpenOrders(agent types.AgentID) []types.Order {
	out := []types.Order{}
	collect := func(l *priceLevel) bool {
		for _, o := range l.orders {
			if agent == types.SystemID || o.Agent == agent {
				out = append(out, *o)
			}
		}
		return true
	}
	b.bids.levels(collect)
	b.asks.levels(collect)
	return out
}

func (b *Book) setLast(price int64) {
	v := price
	b.last = &v
}

// assertUncrossed halts the run on a crossed book after matching; this
// can only happen if the matching loop itself is broken.
func (b *Book) assertUncrossed() {
	bid := b.bids.bestOrder()
	ask := b.asks.bestOrder()
	if bid != nil && ask != nil && bid.Price >= ask.Price {
		panic(fmt.Sprintf("book %s crossed after match: bid %d >= ask %d", b.symbol, bid.Price, ask.Price))
	}
}
