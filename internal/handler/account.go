package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	marketSvc  *service.MarketService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, marketSvc *service.MarketService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc, marketSvc: marketSvc}
}

// transferRequest is the JSON body for deposits and withdrawals. amount is
// in atoms.
type transferRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// batchWithdrawRequest is the JSON body for POST .../withdrawals/batch. An
// empty list withdraws every wallet token.
type batchWithdrawRequest struct {
	Assets []string `json:"assets"`
}

// transferResponse reports one ledger transfer.
type transferResponse struct {
	AccountID string `json:"account_id"`
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

type batchWithdrawResponse struct {
	AccountID string             `json:"account_id"`
	Transfers []transferResponse `json:"transfers"`
}

// balanceResponse is the JSON response for GET /accounts/{account_id}/balance.
type balanceResponse struct {
	AccountID string            `json:"account_id"`
	Ledger    map[string]string `json:"ledger"`
	Wallet    map[string]string `json:"wallet"`
	UpdatedAt string            `json:"updated_at"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int             `json:"total"`
}

// Deposit handles POST /accounts/{account_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	leg, err := h.accountSvc.Deposit(service.TransferRequest{
		Caller:    r.Header.Get(relayerHeader),
		AccountID: chi.URLParam(r, "account_id"),
		Asset:     req.Asset,
		Amount:    req.Amount,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildTransferResponse(leg))
}

// Withdraw handles POST /accounts/{account_id}/withdrawals.
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	leg, err := h.accountSvc.Withdraw(service.TransferRequest{
		Caller:    r.Header.Get(relayerHeader),
		AccountID: chi.URLParam(r, "account_id"),
		Asset:     req.Asset,
		Amount:    req.Amount,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildTransferResponse(leg))
}

// BatchWithdraw handles POST /accounts/{account_id}/withdrawals/batch.
func (h *AccountHandler) BatchWithdraw(w http.ResponseWriter, r *http.Request) {
	var req batchWithdrawRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	accountID := chi.URLParam(r, "account_id")

	legs, err := h.accountSvc.BatchWithdraw(r.Header.Get(relayerHeader), accountID, req.Assets)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := batchWithdrawResponse{AccountID: accountID, Transfers: make([]transferResponse, len(legs))}
	for i, leg := range legs {
		resp.Transfers[i] = buildTransferResponse(leg)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET /accounts/{account_id}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.accountSvc.GetBalance(chi.URLParam(r, "account_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, balanceResponse{
		AccountID: bal.AccountID,
		Ledger:    decimalMap(bal.Ledger),
		Wallet:    decimalMap(bal.Wallet),
		UpdatedAt: bal.UpdatedAt.UTC().Format(timeFormat),
	})
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		mapError(w, err)
		return
	}
	q := r.URL.Query()

	orders, total, err := h.marketSvc.ListOrders(chi.URLParam(r, "account_id"), q.Get("market_id"), q.Get("status"), page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := orderListResponse{Orders: make([]orderResponse, len(orders)), Page: page, Limit: limit, Total: total}
	for i, o := range orders {
		codec, _ := h.marketSvc.Codec(o.MarketID)
		resp.Orders[i] = buildOrderResponse(codec, o, nil)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func buildTransferResponse(leg domain.Leg) transferResponse {
	direction := "in"
	if leg.Kind == domain.LegDebit {
		direction = "out"
	}
	return transferResponse{
		AccountID: leg.Account,
		Asset:     leg.Asset,
		Direction: direction,
		Amount:    leg.Amount.String(),
		Reason:    string(leg.Reason),
	}
}

func decimalMap(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
