package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// VaultState is the lifecycle state of a vault pool.
type VaultState string

const (
	VaultUninitialized VaultState = "uninitialized"
	VaultActive        VaultState = "active"
)

// vaultTransitions lists the allowed state changes. A vault leaves
// uninitialized only through its first deposit and returns to it only when
// the last share is withdrawn.
var vaultTransitions = map[VaultState]VaultState{
	VaultUninitialized: VaultActive,
	VaultActive:        VaultUninitialized,
}

const (
	bps = 10_000
	// Quotes beyond this are treated as unavailable so tick arithmetic
	// never overflows.
	maxQuoteTicks = math.MaxInt64 / 4
)

// Pool is the mutable state of a vault. It is a plain value so a unit of
// work can snapshot and restore it by assignment.
type Pool struct {
	State        VaultState
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	TotalShares  decimal.Decimal
}

// VaultQuote is one synthetic resting order: the price of the next step and
// how many lots it offers at that price.
type VaultQuote struct {
	PriceTicks int64
	Lots       int64
}

// Vault is the pooled liquidity provider of one market. Its reserves are
// held in the ledger under Account() and mirrored in Pool for quoting.
type Vault struct {
	cfg     domain.MarketConfig
	codec   domain.Codec
	account string
	pool    Pool
}

func newVault(cfg domain.MarketConfig, account string) *Vault {
	return &Vault{
		cfg:     cfg,
		codec:   domain.NewCodec(cfg),
		account: account,
		pool:    Pool{State: VaultUninitialized},
	}
}

// Account is the ledger account holding the vault reserves.
func (v *Vault) Account() string {
	return v.account
}

// Pool returns a copy of the pool state.
func (v *Vault) Pool() Pool {
	return v.pool
}

// Initialized reports whether the vault has liquidity and quotes.
func (v *Vault) Initialized() bool {
	return v.pool.State == VaultActive
}

// MidTicks returns quoteReserve/baseReserve as a tick price rounded down.
func (v *Vault) MidTicks() (int64, bool) {
	if !v.Initialized() {
		return 0, false
	}
	mid := v.codec.RatioTicks(v.pool.BaseReserve, v.pool.QuoteReserve, 1, 1, false)
	return mid, mid > 0
}

func (v *Vault) transition(to VaultState) error {
	if vaultTransitions[v.pool.State] != to {
		return fmt.Errorf("vault cannot move from %s to %s", v.pool.State, to)
	}
	v.pool.State = to
	return nil
}

// stepLots is the size the vault offers per quote: VaultDepthBps of the base
// reserve, rounded down to whole lots.
func (v *Vault) stepLots() int64 {
	depth, _ := v.pool.BaseReserve.Mul(decimal.NewFromInt(v.cfg.VaultDepthBps)).QuoRem(decimal.NewFromInt(bps), 0)
	return v.codec.LotsForBase(depth)
}

// Quote returns the vault's current synthetic order on the given side: an
// ask when side is SideSell, a bid when side is SideBuy. The ask is rounded
// up and the bid down to the tick grid, so the vault never quotes inside its
// spread.
func (v *Vault) Quote(side domain.Side) (VaultQuote, bool) {
	if !v.Initialized() {
		return VaultQuote{}, false
	}
	lots := v.stepLots()
	if lots <= 0 {
		return VaultQuote{}, false
	}
	b, q := v.pool.BaseReserve, v.pool.QuoteReserve
	step := v.codec.BaseAtoms(lots)
	spread := v.cfg.VaultSpreadBps

	if side == domain.SideSell {
		base, quote := b, q
		if v.cfg.VaultCurve == domain.CurveConstantProduct {
			// Marginal price after the step: q·b / (b−Δb)².
			after := b.Sub(step)
			base, quote = after.Mul(after), q.Mul(b)
		}
		ticks := v.codec.RatioTicks(base, quote, bps+spread, bps, true)
		if ticks <= 0 || ticks > maxQuoteTicks {
			return VaultQuote{}, false
		}
		return VaultQuote{PriceTicks: v.codec.AlignTicks(ticks, true), Lots: lots}, true
	}

	base, quote := b, q
	if v.cfg.VaultCurve == domain.CurveConstantProduct {
		// Marginal price after the step: q·b / (b+Δb)².
		after := b.Add(step)
		base, quote = after.Mul(after), q.Mul(b)
	}
	ticks := v.codec.AlignTicks(v.codec.RatioTicks(base, quote, bps-spread, bps, false), false)
	if ticks <= 0 || ticks > maxQuoteTicks {
		return VaultQuote{}, false
	}
	// The vault can only pay for what its quote reserve covers.
	lots = min(lots, v.codec.LotsForQuote(q, ticks))
	if lots <= 0 {
		return VaultQuote{}, false
	}
	return VaultQuote{PriceTicks: ticks, Lots: lots}, true
}

// initialize is the guarded uninitialized → active transition. The deposited
// ratio fixes the price; shares equal the deposit's value in quote atoms at
// that price, which is twice the quote amount.
func (v *Vault) initialize(base, quote decimal.Decimal) (decimal.Decimal, error) {
	if v.pool.State != VaultUninitialized {
		return decimal.Zero, fmt.Errorf("vault already %s", v.pool.State)
	}
	if v.codec.RatioTicks(base, quote, 1, 1, false) <= 0 {
		return decimal.Zero, fmt.Errorf("%w: deposit ratio prices the base below one tick", domain.ErrInvalidAmount)
	}
	if err := v.transition(VaultActive); err != nil {
		return decimal.Zero, err
	}
	shares := quote.Add(quote)
	v.pool.BaseReserve = base
	v.pool.QuoteReserve = quote
	v.pool.TotalShares = shares
	return shares, nil
}

// addLiquidity mints shares for a deposit into an active pool at the current
// ratio. Only the amounts matching that ratio are taken.
func (v *Vault) addLiquidity(base, quote decimal.Decimal) (shares, baseUsed, quoteUsed decimal.Decimal, err error) {
	p := v.pool
	byBase, _ := base.Mul(p.TotalShares).QuoRem(p.BaseReserve, 0)
	byQuote, _ := quote.Mul(p.TotalShares).QuoRem(p.QuoteReserve, 0)
	shares = decimal.Min(byBase, byQuote)
	if shares.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: deposit too small to mint a share", domain.ErrInvalidAmount)
	}
	baseUsed = domain.DivRound(shares.Mul(p.BaseReserve), p.TotalShares, true)
	quoteUsed = domain.DivRound(shares.Mul(p.QuoteReserve), p.TotalShares, true)

	v.pool.BaseReserve = p.BaseReserve.Add(baseUsed)
	v.pool.QuoteReserve = p.QuoteReserve.Add(quoteUsed)
	v.pool.TotalShares = p.TotalShares.Add(shares)
	return shares, baseUsed, quoteUsed, nil
}

// removeLiquidity burns shares for their pro-rata reserves, rounded down.
// Burning the last share drains the pool and resets it to uninitialized.
func (v *Vault) removeLiquidity(shares decimal.Decimal) (baseOut, quoteOut decimal.Decimal, err error) {
	p := v.pool
	if shares.GreaterThan(p.TotalShares) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s shares exceed supply %s", domain.ErrInsufficientBalance, shares, p.TotalShares)
	}
	if shares.Equal(p.TotalShares) {
		baseOut, quoteOut = p.BaseReserve, p.QuoteReserve
		if err := v.transition(VaultUninitialized); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		v.pool = Pool{State: VaultUninitialized}
		return baseOut, quoteOut, nil
	}
	baseOut, _ = shares.Mul(p.BaseReserve).QuoRem(p.TotalShares, 0)
	quoteOut, _ = shares.Mul(p.QuoteReserve).QuoRem(p.TotalShares, 0)

	v.pool.BaseReserve = p.BaseReserve.Sub(baseOut)
	v.pool.QuoteReserve = p.QuoteReserve.Sub(quoteOut)
	v.pool.TotalShares = p.TotalShares.Sub(shares)
	return baseOut, quoteOut, nil
}

// applyFill moves the reserves for a fill where the vault was on side
// vaultSide: selling base for quote on SideSell, buying base on SideBuy.
func (v *Vault) applyFill(vaultSide domain.Side, base, quote decimal.Decimal) {
	if vaultSide == domain.SideSell {
		v.pool.BaseReserve = v.pool.BaseReserve.Sub(base)
		v.pool.QuoteReserve = v.pool.QuoteReserve.Add(quote)
		return
	}
	v.pool.BaseReserve = v.pool.BaseReserve.Add(base)
	v.pool.QuoteReserve = v.pool.QuoteReserve.Sub(quote)
}
