package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// Codec converts between the book's integer representation (price ticks,
// size lots) and real values or token atoms for one market. All conversions
// are exact; anything that would need rounding is either rejected or
// explicitly floored.
type Codec struct {
	priceExp      int32 // log10(PricePrecision)
	sizeExp       int32 // log10(SizePrecision)
	tickSize      int64
	baseDecimals  int32
	quoteDecimals int32
}

// NewCodec builds the codec for a validated market configuration.
func NewCodec(cfg MarketConfig) Codec {
	priceExp, _ := pow10Exp(cfg.PricePrecision)
	sizeExp, _ := pow10Exp(cfg.SizePrecision)
	return Codec{
		priceExp:      priceExp,
		sizeExp:       sizeExp,
		tickSize:      cfg.TickSize,
		baseDecimals:  cfg.BaseDecimals,
		quoteDecimals: cfg.QuoteDecimals,
	}
}

// TickSize returns the configured tick size in ticks.
func (c Codec) TickSize() int64 {
	return c.tickSize
}

// ToTicks converts a real price into ticks. Prices finer than one tick of
// precision, or not a multiple of the tick size, fail with ErrTickAlignment.
func (c Codec) ToTicks(price decimal.Decimal) (int64, error) {
	scaled := price.Shift(c.priceExp)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: price %s has more than %d decimals", ErrTickAlignment, price, c.priceExp)
	}
	if scaled.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: price %s out of range", ErrInvalidPrice, price)
	}
	ticks := scaled.IntPart()
	if ticks%c.tickSize != 0 {
		return 0, fmt.Errorf("%w: price %s is not a multiple of tick size %d", ErrTickAlignment, price, c.tickSize)
	}
	return ticks, nil
}

// FromTicks converts ticks back into a real price.
func (c Codec) FromTicks(ticks int64) decimal.Decimal {
	return decimal.New(ticks, -c.priceExp)
}

// ToLots converts a real base size into lots. Sizes finer than one lot fail
// with ErrTickAlignment.
func (c Codec) ToLots(size decimal.Decimal) (int64, error) {
	scaled := size.Shift(c.sizeExp)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: size %s has more than %d decimals", ErrTickAlignment, size, c.sizeExp)
	}
	if scaled.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("%w: size %s out of range", ErrSize, size)
	}
	return scaled.IntPart(), nil
}

// FromLots converts lots back into a real base size.
func (c Codec) FromLots(lots int64) decimal.Decimal {
	return decimal.New(lots, -c.sizeExp)
}

// BaseAtoms returns the base token atoms of a lot count. Exact because one
// lot is a whole number of atoms.
func (c Codec) BaseAtoms(lots int64) decimal.Decimal {
	return decimal.New(lots, c.baseDecimals-c.sizeExp)
}

// QuoteAtoms returns floor(lots × price) in quote token atoms.
func (c Codec) QuoteAtoms(lots, ticks int64) decimal.Decimal {
	return decimal.NewFromInt(lots).
		Mul(decimal.NewFromInt(ticks)).
		Shift(c.quoteDecimals - c.sizeExp - c.priceExp).
		Floor()
}

// LotsForQuote returns the largest lot count whose QuoteAtoms at ticks does
// not exceed quoteAtoms.
func (c Codec) LotsForQuote(quoteAtoms decimal.Decimal, ticks int64) int64 {
	if ticks <= 0 || quoteAtoms.Sign() <= 0 {
		return 0
	}
	q, _ := quoteAtoms.Shift(c.sizeExp+c.priceExp-c.quoteDecimals).QuoRem(decimal.NewFromInt(ticks), 0)
	return capInt64(q)
}

// LotsForBase returns the largest lot count whose BaseAtoms does not exceed
// baseAtoms.
func (c Codec) LotsForBase(baseAtoms decimal.Decimal) int64 {
	if baseAtoms.Sign() <= 0 {
		return 0
	}
	return capInt64(baseAtoms.Shift(c.sizeExp - c.baseDecimals).Floor())
}

// RatioTicks expresses quote/base (both in atoms) as a tick price multiplied
// by num/den, rounded down or up to a whole tick.
func (c Codec) RatioTicks(base, quote decimal.Decimal, num, den int64, roundUp bool) int64 {
	if base.Sign() <= 0 || den <= 0 {
		return 0
	}
	n := quote.Shift(c.baseDecimals - c.quoteDecimals + c.priceExp).Mul(decimal.NewFromInt(num))
	d := base.Mul(decimal.NewFromInt(den))
	return capInt64(DivRound(n, d, roundUp))
}

// AlignTicks rounds ticks to a multiple of the tick size.
func (c Codec) AlignTicks(ticks int64, up bool) int64 {
	rem := ticks % c.tickSize
	if rem == 0 {
		return ticks
	}
	if up {
		return ticks - rem + c.tickSize
	}
	return ticks - rem
}

// DivRound divides two non-negative decimals to an integer, rounding down or
// up. QuoRem keeps the quotient exact where Div would round to 16 digits.
func DivRound(n, d decimal.Decimal, up bool) decimal.Decimal {
	q, r := n.QuoRem(d, 0)
	if up && !r.IsZero() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}

func capInt64(d decimal.Decimal) int64 {
	if d.GreaterThan(maxInt64) {
		return math.MaxInt64
	}
	return d.IntPart()
}

// pow10Exp returns e such that v == 10^e.
func pow10Exp(v int64) (int32, bool) {
	if v <= 0 {
		return 0, false
	}
	var e int32
	for v%10 == 0 {
		v /= 10
		e++
	}
	return e, v == 1
}
