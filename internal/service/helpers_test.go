package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/audit"
	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/engine"
	"github.com/efreitasn/hybridexchange/internal/ledger"
	"github.com/efreitasn/hybridexchange/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tokens returns n whole tokens in atoms at 18 decimals.
func tokens(n int64) decimal.Decimal {
	return decimal.New(n, 18)
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testMarket() domain.MarketConfig {
	return domain.MarketConfig{
		ID:             "ETH-USDC",
		BaseAsset:      "ETH",
		QuoteAsset:     "USDC",
		BaseDecimals:   18,
		QuoteDecimals:  18,
		SizePrecision:  10_000_000_000,
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

type testEnv struct {
	assets   *domain.AssetRegistry
	wallets  *ledger.Wallets
	ledger   *ledger.Store
	registry *engine.Registry
	sink     *audit.MemorySink
	orders   *store.OrderStore
	fills    *store.FillStore
	accounts *AccountService
	markets  *MarketService
	webhooks *WebhookService
}

func newTestEnv(t *testing.T, relayers map[string][]Operation) *testEnv {
	t.Helper()
	return newTestEnvWithTransfers(t, relayers, nil)
}

// newTestEnvWithTransfers lets a test put a transferer between the ledger
// and the wallets. A nil wrap uses the wallets directly.
func newTestEnvWithTransfers(t *testing.T, relayers map[string][]Operation, wrap func(*ledger.Wallets) ledger.TokenTransferer) *testEnv {
	t.Helper()
	assets := domain.NewAssetRegistry()
	wallets := ledger.NewWallets()
	var transfers ledger.TokenTransferer = wallets
	if wrap != nil {
		transfers = wrap(wallets)
	}
	l := ledger.NewStore(assets, transfers)
	registry := engine.NewRegistry(l, assets)
	if _, err := registry.DeployMarket(testMarket()); err != nil {
		t.Fatalf("DeployMarket: %v", err)
	}
	sink := audit.NewMemorySink()
	orders, fills := store.NewOrderStore(), store.NewFillStore()
	auth := NewAuthorizer(relayers)
	logger := discardLogger()
	webhooks := NewWebhookService(store.NewWebhookStore(), time.Second, logger)
	return &testEnv{
		assets:   assets,
		wallets:  wallets,
		ledger:   l,
		registry: registry,
		sink:     sink,
		orders:   orders,
		fills:    fills,
		accounts: NewAccountService(l, wallets, assets, auth, sink, webhooks, logger),
		markets:  NewMarketService(registry, l, orders, fills, auth, sink, webhooks, logger),
		webhooks: webhooks,
	}
}

// mint gives account wallet tokens without touching the ledger.
func (e *testEnv) mint(t *testing.T, account, asset string, amount decimal.Decimal) {
	t.Helper()
	if err := e.wallets.Mint(account, asset, amount); err != nil {
		t.Fatalf("Mint: %v", err)
	}
}

// fund mints wallet tokens and deposits them into the ledger.
func (e *testEnv) fund(t *testing.T, account, asset string, amount decimal.Decimal) {
	t.Helper()
	e.mint(t, account, asset, amount)
	if _, err := e.accounts.Deposit(TransferRequest{AccountID: account, Asset: asset, Amount: amount}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func assertDecimal(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}
