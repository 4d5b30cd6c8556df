package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/ledger"
)

// tokens returns n whole tokens in atoms at 18 decimals.
func tokens(n int64) decimal.Decimal {
	return decimal.New(n, 18)
}

// lotsPerUnit is the size precision of testConfig.
const lotsPerUnit = 10_000_000_000

func testConfig() domain.MarketConfig {
	return domain.MarketConfig{
		ID:             "ETH-USDC",
		BaseAsset:      "ETH",
		QuoteAsset:     "USDC",
		BaseDecimals:   18,
		QuoteDecimals:  18,
		SizePrecision:  lotsPerUnit,
		PricePrecision: 10_000,
		TickSize:       10,
		MinSize:        1,
		MaxSize:        10_000_000_000_000_000,
		TakerFeeBps:    30,
		MakerFeeBps:    10,
		VaultSpreadBps: 50,
		VaultDepthBps:  25,
		VaultCurve:     domain.CurveMidpoint,
		FeeCollector:   "fees",
	}
}

// tb is the part of testing.TB that *rapid.T also provides.
type tb interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

type testEnv struct {
	m       *Matcher
	store   *ledger.Store
	wallets *ledger.Wallets
	cfg     domain.MarketConfig
}

func newTestEnv(t tb, cfg domain.MarketConfig) *testEnv {
	t.Helper()
	assets := domain.NewAssetRegistry()
	wallets := ledger.NewWallets()
	st := ledger.NewStore(assets, wallets)
	m, err := NewRegistry(st, assets).DeployMarket(cfg)
	if err != nil {
		t.Fatalf("DeployMarket: %v", err)
	}
	return &testEnv{m: m, store: st, wallets: wallets, cfg: cfg}
}

// fund mints tokens to account's wallet and deposits them into the ledger.
func (e *testEnv) fund(t tb, account, asset string, amount decimal.Decimal) {
	t.Helper()
	if err := e.wallets.Mint(account, asset, amount); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := e.store.Deposit(account, asset, amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func (e *testEnv) balance(account, asset string) decimal.Decimal {
	return e.store.BalanceOf(account, asset)
}

// dump renders the book, the pool, the id counter and the balances of
// accounts into a string, so two states can be compared exactly.
func (e *testEnv) dump(accounts ...string) string {
	var b strings.Builder
	write := func(entry OrderBookEntry) bool {
		o := entry.Order
		fmt.Fprintf(&b, "%s %d %d %d/%d %s %s\n", o.Side, o.ID, o.PriceTicks, o.RemainingLots, o.SizeLots, o.Status, o.Escrow)
		return true
	}
	e.m.book.WalkBids(write)
	e.m.book.WalkAsks(write)
	p := e.m.vault.Pool()
	fmt.Fprintf(&b, "pool %s %s %s %s\n", p.State, p.BaseReserve, p.QuoteReserve, p.TotalShares)
	fmt.Fprintf(&b, "next %d\n", e.m.nextID)

	all := append([]string{e.cfg.FeeCollector, e.cfg.EscrowAccount(), e.m.vault.Account()}, accounts...)
	sort.Strings(all)
	for _, acct := range all {
		for _, asset := range []string{e.cfg.BaseAsset, e.cfg.QuoteAsset, e.cfg.ShareAsset()} {
			fmt.Fprintf(&b, "%s %s %s\n", acct, asset, e.balance(acct, asset))
		}
	}
	return b.String()
}

// assertDecimal fails the test when got != want.
func assertDecimal(t tb, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}
