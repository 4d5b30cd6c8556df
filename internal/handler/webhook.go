package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/service"
)

// WebhookHandler serves the subscription endpoints through which an account
// asks to be told about its fill.executed, order.cancelled and
// transfer.executed events. Each account holds at most one URL per event.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// subscribeRequest is the body of POST /webhooks. Listing an event the
// account already subscribes to moves that subscription to url.
type subscribeRequest struct {
	AccountID string   `json:"account_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
}

type subscriptionResponse struct {
	WebhookID string `json:"webhook_id"`
	AccountID string `json:"account_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// webhookListResponse wraps the subscriptions a request touched or listed.
type webhookListResponse struct {
	Webhooks []subscriptionResponse `json:"webhooks"`
}

// Upsert handles POST /webhooks. It answers 201 when at least one event got
// a new subscription and 200 when every event was already subscribed.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	subs, created, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		AccountID: req.AccountID,
		URL:       req.URL,
		Events:    req.Events,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, webhookListResponse{Webhooks: subscriptions(subs)})
}

// List handles GET /webhooks?account_id=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	subs, err := h.webhookSvc.List(account)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, webhookListResponse{Webhooks: subscriptions(subs)})
}

// Delete handles DELETE /webhooks/{webhook_id}?account_id=. A subscription
// owned by another account is reported as not found.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	if err := h.webhookSvc.Delete(account, chi.URLParam(r, "webhook_id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// accountParam reads the required account_id query parameter, writing a
// validation error when it is missing.
func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := r.URL.Query().Get("account_id")
	if account == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id query parameter is required")
		return "", false
	}
	return account, true
}

func subscriptions(webhooks []domain.Webhook) []subscriptionResponse {
	out := make([]subscriptionResponse, len(webhooks))
	for i, wh := range webhooks {
		out[i] = subscriptionResponse{
			WebhookID: wh.WebhookID,
			AccountID: wh.AccountID,
			Event:     wh.Event,
			URL:       wh.URL,
			CreatedAt: wh.CreatedAt.UTC().Format(timeFormat),
			UpdatedAt: wh.UpdatedAt.UTC().Format(timeFormat),
		}
	}
	return out
}
