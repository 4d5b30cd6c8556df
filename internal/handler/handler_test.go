package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/audit"
	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/engine"
	"github.com/efreitasn/hybridexchange/internal/ledger"
	"github.com/efreitasn/hybridexchange/internal/service"
	"github.com/efreitasn/hybridexchange/internal/store"
)

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router  http.Handler
	wallets *ledger.Wallets
	ledger  *ledger.Store
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

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assets := domain.NewAssetRegistry()
	wallets := ledger.NewWallets()
	l := ledger.NewStore(assets, wallets)
	registry := engine.NewRegistry(l, assets)
	if _, err := registry.DeployMarket(testMarket()); err != nil {
		t.Fatalf("DeployMarket: %v", err)
	}
	sink := audit.NewMemorySink()
	auth := service.NewAuthorizer(map[string][]service.Operation{
		"relay": {service.OpPlaceOrder},
	})

	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), 5*time.Second, logger)
	accountSvc := service.NewAccountService(l, wallets, assets, auth, sink, webhookSvc, logger)
	marketSvc := service.NewMarketService(registry, l, store.NewOrderStore(), store.NewFillStore(), auth, sink, webhookSvc, logger)

	return &testEnv{
		router:  NewRouter(accountSvc, marketSvc, webhookSvc, logger),
		wallets: wallets,
		ledger:  l,
	}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

// tokens returns n whole tokens in atoms at 18 decimals.
func tokens(n int64) decimal.Decimal {
	return decimal.New(n, 18)
}

// fund mints wallet tokens and deposits them through the API.
func (env *testEnv) fund(t *testing.T, account, asset string, amount decimal.Decimal) {
	t.Helper()
	if err := env.wallets.Mint(account, asset, amount); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rr := env.doJSON(t, "POST", "/accounts/"+account+"/deposits", map[string]any{
		"asset":  asset,
		"amount": amount.String(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("deposit %s %s: expected 201, got %d: %s", account, asset, rr.Code, rr.Body.String())
	}
}

// placeLimit submits a limit order via the API and returns the response.
func (env *testEnv) placeLimit(t *testing.T, owner, side, price, size string) map[string]any {
	t.Helper()
	rr := env.doJSON(t, "POST", "/markets/ETH-USDC/orders", map[string]any{
		"type":  "limit",
		"owner": owner,
		"side":  side,
		"price": price,
		"size":  size,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("place limit order: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	return resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error
}

// --- Healthz ---

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

// --- Markets ---

func TestMarket_List(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/markets", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp marketListResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(resp.Markets))
	}
	m := resp.Markets[0]
	if m.MarketID != "ETH-USDC" || m.TickSize != "0.001" || m.ShareAsset != "ETH-USDC-LP" {
		t.Errorf("market = %+v", m)
	}
	if m.VaultAddress != engine.VaultAddress(testMarket()) {
		t.Errorf("vault address = %s", m.VaultAddress)
	}
}

func TestMarket_UnknownMarket(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/markets/BTC-USDC/book", "/markets/BTC-USDC/quote", "/markets/BTC-USDC/vault", "/markets/BTC-USDC/fills"} {
		rr := env.doJSON(t, "GET", path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

// --- Accounts ---

func TestAccount_DepositAndBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "USDC", tokens(1000))

	rr := env.doJSON(t, "GET", "/accounts/alice/balance", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp balanceResponse
	decodeJSON(t, rr, &resp)
	if resp.Ledger["USDC"] != tokens(1000).String() {
		t.Errorf("ledger USDC = %q", resp.Ledger["USDC"])
	}
	if _, ok := resp.Wallet["USDC"]; ok {
		t.Errorf("wallet should be empty, got %v", resp.Wallet)
	}
}

func TestAccount_Deposit_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"zero amount", map[string]any{"asset": "USDC", "amount": "0"}, http.StatusBadRequest, "validation_error"},
		{"missing asset", map[string]any{"amount": "1"}, http.StatusBadRequest, "validation_error"},
		{"unknown asset", map[string]any{"asset": "DOGE", "amount": "1"}, http.StatusBadRequest, "unknown_asset"},
		{"empty wallet", map[string]any{"asset": "USDC", "amount": "1"}, http.StatusConflict, "insufficient_balance"},
		{"unknown field", map[string]any{"asset": "USDC", "amount": "1", "memo": "x"}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doJSON(t, "POST", "/accounts/alice/deposits", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.code {
				t.Errorf("error = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestAccount_Withdraw_RelayerNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(1))

	body, _ := json.Marshal(map[string]any{"asset": "ETH", "amount": tokens(1).String()})
	req := httptest.NewRequest("POST", "/accounts/alice/withdrawals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(relayerHeader, "relay")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "relayer_not_allowed" {
		t.Errorf("error = %q, want relayer_not_allowed", code)
	}
}

func TestAccount_BatchWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(1))
	env.fund(t, "alice", "USDC", tokens(5))

	rr := env.doJSON(t, "POST", "/accounts/alice/withdrawals/batch", map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp batchWithdrawResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Transfers) != 2 {
		t.Fatalf("got %d transfers, want 2", len(resp.Transfers))
	}
	for _, tr := range resp.Transfers {
		if tr.Direction != "out" || tr.Reason != "batch_withdraw" {
			t.Errorf("transfer = %+v", tr)
		}
	}
	if !env.wallets.BalanceOf("alice", "USDC").Equal(tokens(5)) {
		t.Errorf("wallet USDC = %s", env.wallets.BalanceOf("alice", "USDC"))
	}

	rr = env.doJSON(t, "POST", "/accounts/alice/withdrawals/batch", map[string]any{})
	decodeJSON(t, rr, &resp)
	if len(resp.Transfers) != 0 {
		t.Errorf("second batch moved %d transfers, want 0", len(resp.Transfers))
	}
}

// --- Orders ---

func TestOrder_PlaceLimit_Rests(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(2))

	resp := env.placeLimit(t, "alice", "sell", "2000", "1.5")
	if resp["status"] != "open" {
		t.Errorf("status = %v, want open", resp["status"])
	}
	if resp["price"] != "2000" || resp["size"] != "1.5" || resp["remaining_size"] != "1.5" {
		t.Errorf("order = %v", resp)
	}
	if resp["escrow"] != decimal.New(15, 17).String() {
		t.Errorf("escrow = %v", resp["escrow"])
	}
	if resp["average_price"] != nil {
		t.Errorf("average_price = %v, want null", resp["average_price"])
	}
}

func TestOrder_LimitCrossesAndMarketOrder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(2))
	env.fund(t, "bob", "USDC", tokens(10_000))

	env.placeLimit(t, "alice", "sell", "2000", "1")
	env.placeLimit(t, "alice", "sell", "2010", "1")

	rr := env.doJSON(t, "POST", "/markets/ETH-USDC/orders", map[string]any{
		"type":         "market",
		"owner":        "bob",
		"side":         "buy",
		"quote_amount": tokens(3005).String(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "filled" {
		t.Errorf("status = %v, want filled", resp["status"])
	}
	if resp["price"] != nil {
		t.Errorf("market order price = %v, want null", resp["price"])
	}
	if resp["size"] != "1.5" {
		t.Errorf("size = %v, want 1.5", resp["size"])
	}
	fills := resp["fills"].([]any)
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	first := fills[0].(map[string]any)
	if first["price"] != "2000" || first["maker"] != "alice" || first["from_vault"] != false {
		t.Errorf("first fill = %v", first)
	}
	// 1.5 ETH less the 30 bps taker fee.
	if resp["base_out"] != decimal.New(14955, 14).String() {
		t.Errorf("base_out = %v", resp["base_out"])
	}

	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/fills?limit=10", nil)
	var tape fillListResponse
	decodeJSON(t, rr, &tape)
	if len(tape.Fills) != 2 {
		t.Errorf("fill tape has %d fills, want 2", len(tape.Fills))
	}
}

func TestOrder_Place_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "bob", "USDC", tokens(100))

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown market", "/markets/BTC-USDC/orders", map[string]any{"type": "limit", "owner": "bob", "side": "buy", "price": "1", "size": "1"}, http.StatusNotFound, "market_not_found"},
		{"off tick grid", "/markets/ETH-USDC/orders", map[string]any{"type": "limit", "owner": "bob", "side": "buy", "price": "2000.0005", "size": "1"}, http.StatusBadRequest, "tick_alignment"},
		{"insufficient balance", "/markets/ETH-USDC/orders", map[string]any{"type": "limit", "owner": "bob", "side": "buy", "price": "2000", "size": "1"}, http.StatusConflict, "insufficient_balance"},
		{"missing price", "/markets/ETH-USDC/orders", map[string]any{"type": "limit", "owner": "bob", "side": "buy", "size": "1"}, http.StatusBadRequest, "validation_error"},
		{"no liquidity", "/markets/ETH-USDC/orders", map[string]any{"type": "market", "owner": "bob", "side": "buy", "quote_amount": "1000"}, http.StatusConflict, "no_liquidity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doJSON(t, "POST", tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.code {
				t.Errorf("error = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestOrder_GetAndCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(2))
	placed := env.placeLimit(t, "alice", "sell", "2000", "1")
	id := placed["order_id"].(string)

	rr := env.doJSON(t, "GET", "/markets/ETH-USDC/orders/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	rr = env.doJSON(t, "DELETE", "/markets/ETH-USDC/orders/"+id+"?owner=bob", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cancel by another owner: expected 403, got %d", rr.Code)
	}

	rr = env.doJSON(t, "DELETE", "/markets/ETH-USDC/orders/"+id+"?owner=alice&use_margin=false", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	if resp["status"] != "cancelled" || resp["refunded"] != tokens(1).String() {
		t.Errorf("cancel response = %v", resp)
	}
	if !env.wallets.BalanceOf("alice", "ETH").Equal(tokens(1)) {
		t.Errorf("refund was not pushed to the wallet: %s", env.wallets.BalanceOf("alice", "ETH"))
	}

	rr = env.doJSON(t, "DELETE", "/markets/ETH-USDC/orders/"+id+"?owner=alice", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", rr.Code)
	}

	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/orders/abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rr.Code)
	}
	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/orders/999", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rr.Code)
	}
}

func TestOrder_ListByAccount(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(5))
	for _, price := range []string{"2000", "2010", "2020"} {
		env.placeLimit(t, "alice", "sell", price, "1")
	}

	rr := env.doJSON(t, "GET", "/accounts/alice/orders?page=1&limit=2&status=open", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp orderListResponse
	decodeJSON(t, rr, &resp)
	if resp.Total != 3 || len(resp.Orders) != 2 {
		t.Fatalf("total %d with %d orders on the page", resp.Total, len(resp.Orders))
	}
	if *resp.Orders[0].Price != "2020" {
		t.Errorf("first order price = %s, want newest first", *resp.Orders[0].Price)
	}

	rr = env.doJSON(t, "GET", "/accounts/alice/orders?limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rr.Code)
	}
}

func TestOrder_RelayedPlacement(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(1))

	body, _ := json.Marshal(map[string]any{"type": "limit", "owner": "alice", "side": "sell", "price": "2000", "size": "1"})
	req := httptest.NewRequest("POST", "/markets/ETH-USDC/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(relayerHeader, "relay")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

// --- Book and quote ---

func TestBook_AndQuote(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(2))
	env.fund(t, "bob", "USDC", tokens(5000))
	env.placeLimit(t, "alice", "sell", "2010", "1")
	env.placeLimit(t, "bob", "buy", "1990", "1")

	rr := env.doJSON(t, "GET", "/markets/ETH-USDC/book?depth=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var book bookResponse
	decodeJSON(t, rr, &book)
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("got %d bids and %d asks", len(book.Bids), len(book.Asks))
	}
	if book.Spread == nil || *book.Spread != "20" {
		t.Errorf("spread = %v, want 20", book.Spread)
	}

	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/book?depth=0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("depth 0: expected 400, got %d", rr.Code)
	}

	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/quote", nil)
	var q quoteResponse
	decodeJSON(t, rr, &q)
	if q.Bid == nil || q.Bid.Price != "1990" || q.Bid.FromVault {
		t.Errorf("bid = %+v", q.Bid)
	}
	if q.Ask == nil || q.Ask.Price != "2010" {
		t.Errorf("ask = %+v", q.Ask)
	}
}

// --- Vault ---

func TestVault_DepositGetWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "lp", "ETH", tokens(100))
	env.fund(t, "lp", "USDC", tokens(200_000))

	rr := env.doJSON(t, "GET", "/markets/ETH-USDC/vault", nil)
	var v vaultResponse
	decodeJSON(t, rr, &v)
	if v.State != "uninitialized" || v.Mid != nil || v.Ask != nil {
		t.Errorf("fresh vault = %+v", v)
	}

	rr = env.doJSON(t, "POST", "/markets/ETH-USDC/vault/deposits", map[string]any{
		"owner": "lp",
		"base":  tokens(100).String(),
		"quote": tokens(200_000).String(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var dep liquidityResponse
	decodeJSON(t, rr, &dep)
	if dep.Shares != tokens(400_000).String() || dep.State != "active" {
		t.Errorf("deposit = %+v", dep)
	}

	rr = env.doJSON(t, "GET", "/markets/ETH-USDC/vault", nil)
	decodeJSON(t, rr, &v)
	if v.Mid == nil || *v.Mid != "2000" {
		t.Errorf("mid = %v, want 2000", v.Mid)
	}
	if v.Ask == nil || v.Ask.Price != "2010" || !v.Ask.FromVault {
		t.Errorf("ask = %+v", v.Ask)
	}

	rr = env.doJSON(t, "POST", "/markets/ETH-USDC/vault/withdrawals", map[string]any{
		"owner":      "lp",
		"shares":     tokens(400_000).String(),
		"use_margin": false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var wd liquidityResponse
	decodeJSON(t, rr, &wd)
	if wd.State != "uninitialized" || wd.Base != tokens(100).String() {
		t.Errorf("withdraw = %+v", wd)
	}
	if !env.wallets.BalanceOf("lp", "USDC").Equal(tokens(200_000)) {
		t.Errorf("wallet USDC = %s", env.wallets.BalanceOf("lp", "USDC"))
	}
}

func TestVault_Withdraw_Uninitialized(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "POST", "/markets/ETH-USDC/vault/withdrawals", map[string]any{
		"owner":  "lp",
		"shares": "1",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "vault_not_initialized" {
		t.Errorf("error = %q, want vault_not_initialized", code)
	}
}

// --- Webhooks ---

func TestWebhook_UpsertListDelete(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doJSON(t, "POST", "/webhooks", map[string]any{
		"account_id": "alice",
		"url":        "https://example.com/hooks",
		"events":     []string{"fill.executed", "transfer.executed"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created webhookListResponse
	decodeJSON(t, rr, &created)
	if len(created.Webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(created.Webhooks))
	}

	rr = env.doJSON(t, "POST", "/webhooks", map[string]any{
		"account_id": "alice",
		"url":        "https://example.com/hooks",
		"events":     []string{"fill.executed"},
	})
	if rr.Code != http.StatusOK {
		t.Errorf("re-register: expected 200, got %d", rr.Code)
	}

	rr = env.doJSON(t, "GET", "/webhooks?account_id=alice", nil)
	var list webhookListResponse
	decodeJSON(t, rr, &list)
	if len(list.Webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(list.Webhooks))
	}

	id := list.Webhooks[0].WebhookID
	rr = env.doJSON(t, "DELETE", "/webhooks/"+id, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("delete without account: expected 400, got %d", rr.Code)
	}
	var errResp errorResponse
	decodeJSON(t, rr, &errResp)
	if errResp.Error != "validation_error" {
		t.Errorf("delete without account: error = %q, want validation_error", errResp.Error)
	}
	rr = env.doJSON(t, "DELETE", "/webhooks/"+id+"?account_id=a+b", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("delete with malformed account: expected 400, got %d", rr.Code)
	}
	rr = env.doJSON(t, "DELETE", "/webhooks/"+id+"?account_id=bob", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("delete by another account: expected 404, got %d", rr.Code)
	}
	rr = env.doJSON(t, "DELETE", "/webhooks/"+id+"?account_id=alice", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}

	rr = env.doJSON(t, "GET", "/webhooks", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("list without account: expected 400, got %d", rr.Code)
	}
}

// --- Content type ---

func TestContentType_MissingOnPost(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/markets/ETH-USDC/orders", "", `{"type":"limit"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestContentType_WrongOnPost(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/accounts/alice/deposits", "text/plain", `{"asset":"USDC"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_request" {
		t.Errorf("error = %q, want invalid_request", code)
	}
}

func TestResponseFormat_TimestampRFC3339(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", "ETH", tokens(1))
	resp := env.placeLimit(t, "alice", "sell", "2000", "1")
	if _, err := time.Parse(time.RFC3339, resp["created_at"].(string)); err != nil {
		t.Errorf("created_at %v is not RFC 3339: %v", resp["created_at"], err)
	}
}
