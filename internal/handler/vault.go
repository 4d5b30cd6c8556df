package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/engine"
	"github.com/efreitasn/hybridexchange/internal/service"
)

// VaultHandler handles HTTP requests for vault endpoints.
type VaultHandler struct {
	marketSvc *service.MarketService
}

// NewVaultHandler creates a new VaultHandler.
func NewVaultHandler(marketSvc *service.MarketService) *VaultHandler {
	return &VaultHandler{marketSvc: marketSvc}
}

// vaultDepositRequest is the JSON body for POST .../vault/deposits. Amounts
// are atoms.
type vaultDepositRequest struct {
	Owner     string          `json:"owner"`
	Base      decimal.Decimal `json:"base"`
	Quote     decimal.Decimal `json:"quote"`
	UseMargin *bool           `json:"use_margin"`
}

// vaultWithdrawRequest is the JSON body for POST .../vault/withdrawals.
type vaultWithdrawRequest struct {
	Owner     string          `json:"owner"`
	Shares    decimal.Decimal `json:"shares"`
	UseMargin *bool           `json:"use_margin"`
}

// liquidityResponse reports a vault deposit or withdrawal.
type liquidityResponse struct {
	MarketID     string `json:"market_id"`
	Owner        string `json:"owner"`
	Shares       string `json:"shares"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	State        string `json:"state"`
	BaseReserve  string `json:"base_reserve"`
	QuoteReserve string `json:"quote_reserve"`
	TotalShares  string `json:"total_shares"`
	WalletError  string `json:"wallet_error,omitempty"`
}

// vaultResponse is the JSON response for GET /markets/{market_id}/vault.
type vaultResponse struct {
	MarketID     string              `json:"market_id"`
	Address      string              `json:"address"`
	Account      string              `json:"account"`
	State        string              `json:"state"`
	BaseReserve  string              `json:"base_reserve"`
	QuoteReserve string              `json:"quote_reserve"`
	TotalShares  string              `json:"total_shares"`
	Mid          *string             `json:"mid"`
	Bid          *quoteLevelResponse `json:"bid"`
	Ask          *quoteLevelResponse `json:"ask"`
}

// Get handles GET /markets/{market_id}/vault.
func (h *VaultHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.marketSvc.Vault(chi.URLParam(r, "market_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := vaultResponse{
		MarketID:     v.MarketID,
		Address:      v.Address,
		Account:      v.Account,
		State:        string(v.State),
		BaseReserve:  v.BaseReserve.String(),
		QuoteReserve: v.QuoteReserve.String(),
		TotalShares:  v.TotalShares.String(),
		Bid:          buildQuoteLevel(v.Bid),
		Ask:          buildQuoteLevel(v.Ask),
	}
	if v.Mid != nil {
		s := v.Mid.String()
		resp.Mid = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Deposit handles POST /markets/{market_id}/vault/deposits.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req vaultDepositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	marketID := chi.URLParam(r, "market_id")

	change, err := h.marketSvc.DepositVault(service.VaultDepositRequest{
		MarketID:   marketID,
		Caller:     r.Header.Get(relayerHeader),
		Owner:      req.Owner,
		Base:       req.Base,
		Quote:      req.Quote,
		FromWallet: !useMargin(req.UseMargin),
	})
	walletErr, ok := settlementError(change != nil, err)
	if !ok {
		mapError(w, err)
		return
	}

	resp := buildLiquidityResponse(marketID, req.Owner, change)
	resp.WalletError = walletErr
	WriteJSON(w, http.StatusCreated, resp)
}

// Withdraw handles POST /markets/{market_id}/vault/withdrawals.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req vaultWithdrawRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	marketID := chi.URLParam(r, "market_id")

	change, err := h.marketSvc.WithdrawVault(service.VaultWithdrawRequest{
		MarketID:   marketID,
		Caller:     r.Header.Get(relayerHeader),
		Owner:      req.Owner,
		Shares:     req.Shares,
		FromWallet: !useMargin(req.UseMargin),
	})
	walletErr, ok := settlementError(change != nil, err)
	if !ok {
		mapError(w, err)
		return
	}

	resp := buildLiquidityResponse(marketID, req.Owner, change)
	resp.WalletError = walletErr
	WriteJSON(w, http.StatusOK, resp)
}

func buildLiquidityResponse(marketID, owner string, c *engine.LiquidityChange) liquidityResponse {
	return liquidityResponse{
		MarketID:     marketID,
		Owner:        owner,
		Shares:       c.Shares.String(),
		Base:         c.Base.String(),
		Quote:        c.Quote.String(),
		State:        string(c.Pool.State),
		BaseReserve:  c.Pool.BaseReserve.String(),
		QuoteReserve: c.Pool.QuoteReserve.String(),
		TotalShares:  c.Pool.TotalShares.String(),
	}
}
