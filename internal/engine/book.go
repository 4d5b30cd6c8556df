package engine

import (
	"github.com/google/btree"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// OrderBookEntry represents a single order resting on the book. The order is
// held by value so a cloned book never shares mutable state with the original.
type OrderBookEntry struct {
	PriceTicks int64
	OrderID    uint64
	Order      domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	PriceTicks int64
	TotalLots  int64
	OrderCount int
}

// bidLess defines ordering for the bid side: price descending, then order id
// ascending. Order ids increase with arrival, so Min() returns the best bid
// and, within a level, the oldest order.
func bidLess(a, b OrderBookEntry) bool {
	if a.PriceTicks != b.PriceTicks {
		return a.PriceTicks > b.PriceTicks
	}
	return a.OrderID < b.OrderID
}

// askLess defines ordering for the ask side: price ascending, then order id
// ascending. Min() returns the best ask.
func askLess(a, b OrderBookEntry) bool {
	if a.PriceTicks != b.PriceTicks {
		return a.PriceTicks < b.PriceTicks
	}
	return a.OrderID < b.OrderID
}

type indexEntry struct {
	orderID    uint64
	side       domain.Side
	priceTicks int64
}

func indexLess(a, b indexEntry) bool {
	return a.orderID < b.orderID
}

// OrderBook maintains the bid and ask sides of one market using B-trees with
// a secondary index for O(log n) lookup by order ID. It is not safe for
// concurrent use; the Matcher owning it serializes access.
type OrderBook struct {
	market string
	bids   *btree.BTreeG[OrderBookEntry]
	asks   *btree.BTreeG[OrderBookEntry]
	index  *btree.BTreeG[indexEntry]
}

const btreeDegree = 32

// NewOrderBook creates an empty order book for the given market.
func NewOrderBook(market string) *OrderBook {
	return &OrderBook{
		market: market,
		bids:   btree.NewG[OrderBookEntry](btreeDegree, bidLess),
		asks:   btree.NewG[OrderBookEntry](btreeDegree, askLess),
		index:  btree.NewG[indexEntry](btreeDegree, indexLess),
	}
}

// Market returns the market id of the book.
func (ob *OrderBook) Market() string {
	return ob.market
}

// Clone returns a copy-on-write snapshot of the book in O(1).
func (ob *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		market: ob.market,
		bids:   ob.bids.Clone(),
		asks:   ob.asks.Clone(),
		index:  ob.index.Clone(),
	}
}

// restore makes the book identical to a snapshot taken with Clone.
func (ob *OrderBook) restore(snapshot *OrderBook) {
	ob.bids = snapshot.bids
	ob.asks = snapshot.asks
	ob.index = snapshot.index
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[OrderBookEntry] {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert rests an order on its side of the book.
func (ob *OrderBook) Insert(order domain.Order) {
	entry := OrderBookEntry{PriceTicks: order.PriceTicks, OrderID: order.ID, Order: order}
	ob.side(order.Side).ReplaceOrInsert(entry)
	ob.index.ReplaceOrInsert(indexEntry{orderID: order.ID, side: order.Side, priceTicks: order.PriceTicks})
}

// Update replaces a resting order in place, keeping its queue position.
func (ob *OrderBook) Update(order domain.Order) {
	ob.side(order.Side).ReplaceOrInsert(OrderBookEntry{PriceTicks: order.PriceTicks, OrderID: order.ID, Order: order})
}

// Get returns a resting order by id.
func (ob *OrderBook) Get(orderID uint64) (domain.Order, bool) {
	idx, ok := ob.index.Get(indexEntry{orderID: orderID})
	if !ok {
		return domain.Order{}, false
	}
	entry, ok := ob.side(idx.side).Get(OrderBookEntry{PriceTicks: idx.priceTicks, OrderID: orderID})
	return entry.Order, ok
}

// Remove deletes an order from the book by order ID using the secondary
// index and returns what was removed.
func (ob *OrderBook) Remove(orderID uint64) (domain.Order, bool) {
	idx, ok := ob.index.Delete(indexEntry{orderID: orderID})
	if !ok {
		return domain.Order{}, false
	}
	entry, ok := ob.side(idx.side).Delete(OrderBookEntry{PriceTicks: idx.priceTicks, OrderID: orderID})
	return entry.Order, ok
}

// BestBid returns the highest-priority bid (highest price, earliest arrival).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest arrival).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// Best returns the head of the given side.
func (ob *OrderBook) Best(s domain.Side) (OrderBookEntry, bool) {
	return ob.side(s).Min()
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].PriceTicks == entry.PriceTicks {
			levels[len(levels)-1].TotalLots += entry.Order.RemainingLots
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			PriceTicks: entry.PriceTicks,
			TotalLots:  entry.Order.RemainingLots,
			OrderCount: 1,
		})
		return true
	})
	return levels
}

// WalkAsks iterates asks in priority order. The callback returns true to
// continue, false to stop.
func (ob *OrderBook) WalkAsks(fn func(OrderBookEntry) bool) {
	ob.asks.Ascend(fn)
}

// WalkBids iterates bids in priority order.
func (ob *OrderBook) WalkBids(fn func(OrderBookEntry) bool) {
	ob.bids.Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}
