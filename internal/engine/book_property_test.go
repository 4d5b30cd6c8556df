package engine

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Feature: hybrid-exchange, Property: order book sorting invariant
//
// For any sequence of inserts and removals, bids walk in price-descending and
// asks in price-ascending order, and within a price level orders walk in
// arrival order.

func TestProperty_BookSortingInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook("TEST")
		n := rapid.IntRange(1, 60).Draw(t, "numOrders")
		var live []uint64

		for i := 1; i <= n; i++ {
			if len(live) > 0 && rapid.IntRange(0, 4).Draw(t, "removeRoll") == 0 {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "removeIdx")
				if _, ok := book.Remove(live[idx]); !ok {
					t.Fatalf("Remove(%d) did not find a live order", live[idx])
				}
				live = append(live[:idx], live[idx+1:]...)
			}
			side := rapid.SampledFrom([]domain.Side{domain.SideBuy, domain.SideSell}).Draw(t, "side")
			price := rapid.Int64Range(1, 20).Draw(t, "price") * 10
			book.Insert(makeOrder(uint64(i), side, price, 1))
			live = append(live, uint64(i))
		}

		check := func(name string, walk func(func(OrderBookEntry) bool), priceOK func(prev, cur int64) bool) {
			var prev *OrderBookEntry
			walk(func(e OrderBookEntry) bool {
				if prev != nil {
					if !priceOK(prev.PriceTicks, e.PriceTicks) {
						t.Fatalf("%s: price %d after %d", name, e.PriceTicks, prev.PriceTicks)
					}
					if prev.PriceTicks == e.PriceTicks && e.OrderID < prev.OrderID {
						t.Fatalf("%s: order %d after %d at price %d", name, e.OrderID, prev.OrderID, e.PriceTicks)
					}
				}
				cp := e
				prev = &cp
				return true
			})
		}
		check("bids", book.WalkBids, func(prev, cur int64) bool { return cur <= prev })
		check("asks", book.WalkAsks, func(prev, cur int64) bool { return cur >= prev })

		if book.BidCount()+book.AskCount() != len(live) {
			t.Fatalf("book holds %d orders, want %d", book.BidCount()+book.AskCount(), len(live))
		}
		for _, id := range live {
			if _, ok := book.Get(id); !ok {
				t.Fatalf("live order %d missing from index", id)
			}
		}
	})
}
