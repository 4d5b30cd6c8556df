package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VaultCurve selects how the vault re-derives its quotes from reserves.
type VaultCurve string

const (
	// CurveMidpoint quotes a constant spread around quoteReserve/baseReserve.
	CurveMidpoint VaultCurve = "midpoint"
	// CurveConstantProduct quotes each step at the x·y=k marginal price after
	// the step, plus the spread.
	CurveConstantProduct VaultCurve = "constant_product"
)

const bpsDenominator = 10_000

// MarketConfig is the immutable configuration of one market. It is fixed at
// deployment and never mutated by the engine.
type MarketConfig struct {
	ID            string
	BaseAsset     string
	QuoteAsset    string
	BaseDecimals  int32
	QuoteDecimals int32
	// SizePrecision is the number of lots per whole base unit.
	SizePrecision int64
	// PricePrecision is the number of ticks per whole quote unit of price.
	PricePrecision int64
	TickSize       int64
	MinSize        int64
	MaxSize        int64
	TakerFeeBps    int64
	MakerFeeBps    int64
	VaultSpreadBps int64
	// VaultDepthBps is the share of the base reserve the vault offers per
	// quote step before re-deriving its price.
	VaultDepthBps int64
	VaultCurve    VaultCurve
	FeeCollector  string
}

// Validate checks internal consistency of the configuration.
func (c MarketConfig) Validate() error {
	switch {
	case c.ID == "":
		return &ValidationError{Message: "market id is required"}
	case c.BaseAsset == "" || c.QuoteAsset == "":
		return &ValidationError{Message: "base_asset and quote_asset are required"}
	case c.BaseAsset == c.QuoteAsset:
		return &ValidationError{Message: "base_asset and quote_asset must differ"}
	case c.BaseDecimals < 0 || c.BaseDecimals > 36 || c.QuoteDecimals < 0 || c.QuoteDecimals > 36:
		return &ValidationError{Message: "asset decimals must be between 0 and 36"}
	case c.SizePrecision <= 0 || c.PricePrecision <= 0:
		return &ValidationError{Message: "size_precision and price_precision must be positive"}
	case c.TickSize <= 0:
		return &ValidationError{Message: "tick_size must be positive"}
	case c.MinSize <= 0 || c.MaxSize < c.MinSize:
		return &ValidationError{Message: "min_size must be positive and max_size >= min_size"}
	case c.TakerFeeBps < 0 || c.TakerFeeBps >= bpsDenominator || c.MakerFeeBps < 0 || c.MakerFeeBps >= bpsDenominator:
		return &ValidationError{Message: "fee bps must be in [0, 10000)"}
	case c.VaultSpreadBps <= 0 || c.VaultSpreadBps >= bpsDenominator:
		return &ValidationError{Message: "vault_spread_bps must be in (0, 10000)"}
	case c.VaultDepthBps <= 0 || c.VaultDepthBps > bpsDenominator/2:
		return &ValidationError{Message: "vault_depth_bps must be in (0, 5000]"}
	case c.VaultCurve != CurveMidpoint && c.VaultCurve != CurveConstantProduct:
		return &ValidationError{Message: fmt.Sprintf("unknown vault_curve %q", c.VaultCurve)}
	case c.FeeCollector == "":
		return &ValidationError{Message: "fee_collector is required"}
	}

	priceExp, ok := pow10Exp(c.PricePrecision)
	if !ok || priceExp > 18 {
		return &ValidationError{Message: "price_precision must be a power of ten up to 1e18"}
	}
	sizeExp, ok := pow10Exp(c.SizePrecision)
	if !ok {
		return &ValidationError{Message: "size_precision must be a power of ten"}
	}
	// One lot must be a whole number of base atoms so base legs are exact.
	if sizeExp > c.BaseDecimals {
		return &ValidationError{Message: "size_precision must not exceed 10^base_decimals"}
	}
	return nil
}

// EscrowAccount is the ledger account holding funds of resting orders.
func (c MarketConfig) EscrowAccount() string {
	return "book:" + c.ID
}

// ShareAsset is the ledger asset minted to vault liquidity providers.
func (c MarketConfig) ShareAsset() string {
	return c.ID + "-LP"
}

// FeeOf returns floor(amount × bps / 10000).
func FeeOf(amount decimal.Decimal, bps int64) decimal.Decimal {
	if bps == 0 || amount.IsZero() {
		return decimal.Zero
	}
	q, _ := amount.Mul(decimal.NewFromInt(bps)).QuoRem(decimal.NewFromInt(bpsDenominator), 0)
	return q
}
