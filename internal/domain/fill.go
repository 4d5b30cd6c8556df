package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VaultAccount is the maker name reported for fills against the vault.
const VaultAccount = "vault"

// Fill is a single execution between a taker and a maker. For vault fills
// Maker is VaultAccount and MakerOrderID is zero.
type Fill struct {
	FillID       string
	MarketID     string
	TakerOrderID uint64
	MakerOrderID uint64
	Taker        string
	Maker        string
	TakerSide    Side
	PriceTicks   int64
	SizeLots     int64
	BaseAmount   decimal.Decimal
	QuoteAmount  decimal.Decimal
	TakerFee     decimal.Decimal // in the asset the taker receives
	MakerFee     decimal.Decimal // in the asset the maker receives
	ExecutedAt   time.Time
}

// FromVault reports whether the maker side of the fill was the vault.
func (f *Fill) FromVault() bool {
	return f.Maker == VaultAccount && f.MakerOrderID == 0
}

// AveragePrice computes the size-weighted average tick price of fills
// using integer arithmetic. Returns (0, false) when fills is empty.
func AveragePrice(fills []*Fill) (int64, bool) {
	var total, lots int64
	for _, f := range fills {
		total += f.PriceTicks * f.SizeLots
		lots += f.SizeLots
	}
	if lots == 0 {
		return 0, false
	}
	return total / lots, true
}
