package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Feature: hybrid-exchange, Property: settlement invariants
//
// For any sequence of limit orders, market orders, cancels and vault
// deposits and withdrawals:
//   - the consolidated market is never crossed,
//   - ledger totals of base and quote never change,
//   - the vault's ledger account always equals its pool reserves,
//   - outstanding shares always equal the pool's share supply,
//   - the book escrow always equals the escrow of the resting orders,
//   - a rejected operation leaves no trace.

var traders = []string{"a", "b", "c", "lp"}

func TestProperty_SettlementInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := testConfig()
		cfg.VaultCurve = rapid.SampledFrom([]domain.VaultCurve{domain.CurveMidpoint, domain.CurveConstantProduct}).Draw(t, "curve")
		e := newTestEnv(t, cfg)
		for _, who := range traders {
			e.fund(t, who, "ETH", tokens(1000))
			e.fund(t, who, "USDC", tokens(20000))
		}
		baseTotal := e.store.Total("ETH")
		quoteTotal := e.store.Total("USDC")

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := e.dump(traders...)
			who := rapid.SampledFrom(traders).Draw(t, "who")

			var err error
			switch rapid.IntRange(0, 6).Draw(t, "op") {
			case 0, 1:
				side := rapid.SampledFrom([]domain.Side{domain.SideBuy, domain.SideSell}).Draw(t, "side")
				price := rapid.Int64Range(900, 1100).Draw(t, "price") * 10
				size := rapid.Int64Range(1, 50).Draw(t, "size") * lotsPerUnit / 10
				postOnly := rapid.Bool().Draw(t, "postOnly")
				_, err = e.m.PlaceLimit(who, side, price, size, postOnly)
			case 2:
				spend := decimal.NewFromInt(rapid.Int64Range(1, 500).Draw(t, "spend")).Shift(17)
				_, err = e.m.MarketBuy(who, spend, decimal.Zero)
			case 3:
				size := rapid.Int64Range(1, 50).Draw(t, "size") * lotsPerUnit / 10
				_, err = e.m.MarketSell(who, size, decimal.Zero)
			case 4:
				var entries []OrderBookEntry
				collect := func(entry OrderBookEntry) bool {
					entries = append(entries, entry)
					return true
				}
				e.m.book.WalkBids(collect)
				e.m.book.WalkAsks(collect)
				if len(entries) == 0 {
					continue
				}
				o := rapid.SampledFrom(entries).Draw(t, "cancel").Order
				_, err = e.m.CancelOrder(o.Owner, o.ID)
				if err != nil {
					t.Fatalf("cancel of live order %d failed: %v", o.ID, err)
				}
			case 5:
				base := decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, "base")).Shift(18)
				quote := decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, "quote")).Shift(19)
				_, err = e.m.DepositVault(who, base, quote)
			case 6:
				held := e.balance(who, cfg.ShareAsset())
				if held.IsZero() {
					continue
				}
				pct := rapid.Int64Range(1, 100).Draw(t, "pct")
				shares := held.Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Floor()
				if shares.IsZero() {
					continue
				}
				_, err = e.m.WithdrawVault(who, shares)
			}

			if err != nil {
				if after := e.dump(traders...); after != before {
					t.Fatalf("step %d failed with %v but changed state:\nbefore:\n%s\nafter:\n%s", i, err, before, after)
				}
			}
			checkInvariants(t, e, baseTotal, quoteTotal)
		}
	})
}

func checkInvariants(t *rapid.T, e *testEnv, baseTotal, quoteTotal decimal.Decimal) {
	q := e.m.BestBidAsk()
	if q.Bid != nil && q.Ask != nil && q.Bid.PriceTicks >= q.Ask.PriceTicks {
		t.Fatalf("market crossed: bid %+v ask %+v", *q.Bid, *q.Ask)
	}

	if got := e.store.Total("ETH"); !got.Equal(baseTotal) {
		t.Fatalf("ETH total = %s, want %s", got, baseTotal)
	}
	if got := e.store.Total("USDC"); !got.Equal(quoteTotal) {
		t.Fatalf("USDC total = %s, want %s", got, quoteTotal)
	}

	pool := e.m.vault.Pool()
	va := e.m.vault.Account()
	if got := e.balance(va, "ETH"); !got.Equal(pool.BaseReserve) {
		t.Fatalf("vault ETH = %s, pool base reserve = %s", got, pool.BaseReserve)
	}
	if got := e.balance(va, "USDC"); !got.Equal(pool.QuoteReserve) {
		t.Fatalf("vault USDC = %s, pool quote reserve = %s", got, pool.QuoteReserve)
	}
	if got := e.store.Total(e.cfg.ShareAsset()); !got.Equal(pool.TotalShares) {
		t.Fatalf("shares outstanding = %s, pool supply = %s", got, pool.TotalShares)
	}

	escrowBase, escrowQuote := decimal.Zero, decimal.Zero
	sum := func(entry OrderBookEntry) bool {
		if entry.Order.Side == domain.SideBuy {
			escrowQuote = escrowQuote.Add(entry.Order.Escrow)
		} else {
			escrowBase = escrowBase.Add(entry.Order.Escrow)
		}
		return true
	}
	e.m.book.WalkBids(sum)
	e.m.book.WalkAsks(sum)
	acct := e.cfg.EscrowAccount()
	if got := e.balance(acct, "ETH"); !got.Equal(escrowBase) {
		t.Fatalf("escrow ETH = %s, resting asks hold %s", got, escrowBase)
	}
	if got := e.balance(acct, "USDC"); !got.Equal(escrowQuote) {
		t.Fatalf("escrow USDC = %s, resting bids hold %s", got, escrowQuote)
	}
}
