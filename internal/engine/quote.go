package engine

import "github.com/efreitasn/hybridexchange/internal/domain"

// Level is the best price on one side of the consolidated market.
type Level struct {
	PriceTicks int64
	Lots       int64
	FromVault  bool
}

// Consolidated is the external best bid and best ask. A nil side has no
// liquidity.
type Consolidated struct {
	Bid *Level
	Ask *Level
}

// BestBidAsk merges the book's best levels with the vault quotes. On equal
// prices the book level is reported, matching execution priority. It reads
// the live state and is never cached.
func (m *Matcher) BestBidAsk() Consolidated {
	return Consolidated{
		Bid: m.bestLevel(domain.SideBuy),
		Ask: m.bestLevel(domain.SideSell),
	}
}

// bestLevel returns the better of the book and the vault on side s.
func (m *Matcher) bestLevel(s domain.Side) *Level {
	var book *Level
	var levels []PriceLevel
	if s == domain.SideBuy {
		levels = m.book.TopBids(1)
	} else {
		levels = m.book.TopAsks(1)
	}
	if len(levels) == 1 {
		book = &Level{PriceTicks: levels[0].PriceTicks, Lots: levels[0].TotalLots}
	}

	vq, ok := m.vault.Quote(s)
	if !ok {
		return book
	}
	vault := &Level{PriceTicks: vq.PriceTicks, Lots: vq.Lots, FromVault: true}
	if book == nil || better(s, vault.PriceTicks, book.PriceTicks) {
		return vault
	}
	return book
}

// better reports whether price a is strictly better than b for a resting
// order on side s.
func better(s domain.Side, a, b int64) bool {
	if s == domain.SideBuy {
		return a > b
	}
	return a < b
}

// crosses reports whether a taker on side s with limit price limit can trade
// against a resting price. A zero limit accepts any price.
func crosses(s domain.Side, limit, resting int64) bool {
	if limit == 0 {
		return true
	}
	if s == domain.SideBuy {
		return limit >= resting
	}
	return limit <= resting
}
