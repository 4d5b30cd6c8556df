package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/store"
)

// Webhook event types.
const (
	EventFillExecuted     = "fill.executed"
	EventOrderCancelled   = "order.cancelled"
	EventTransferExecuted = "transfer.executed"
)

var validWebhookEvents = map[string]bool{
	EventFillExecuted:     true,
	EventOrderCancelled:   true,
	EventTransferExecuted: true,
}

var accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook subscriptions and fire-and-forget event
// delivery.
type WebhookService struct {
	store    *store.WebhookStore
	client   *http.Client
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(webhookStore *store.WebhookStore, timeout time.Duration, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		store:  webhookStore,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates one subscription per
// event. It returns the resulting webhooks and whether any was new.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]domain.Webhook, bool, error) {
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, false, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}
	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: fill.executed, order.cancelled, transfer.executed",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]domain.Webhook, 0, len(events))
	for _, event := range events {
		w, created := s.store.Upsert(domain.Webhook{
			WebhookID: uuid.NewString(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List returns an account's subscriptions.
func (s *WebhookService) List(accountID string) ([]domain.Webhook, error) {
	if !accountIDRegex.MatchString(accountID) {
		return nil, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return s.store.ListByAccount(accountID), nil
}

// Delete removes one of the account's subscriptions. A webhook owned by
// another account fails with domain.ErrWebhookNotFound.
func (s *WebhookService) Delete(accountID, webhookID string) error {
	if !accountIDRegex.MatchString(accountID) {
		return &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return s.store.Delete(accountID, webhookID)
}

// Wait blocks until every delivery started so far has finished.
func (s *WebhookService) Wait() {
	s.inflight.Wait()
}

type eventPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type fillExecutedData struct {
	FillID     string `json:"fill_id"`
	MarketID   string `json:"market_id"`
	AccountID  string `json:"account_id"`
	OrderID    string `json:"order_id,omitempty"`
	Role       string `json:"role"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Fee        string `json:"fee"`
	FromVault  bool   `json:"from_vault"`
	ExecutedAt string `json:"executed_at"`
}

type orderCancelledData struct {
	MarketID      string `json:"market_id"`
	AccountID     string `json:"account_id"`
	OrderID       string `json:"order_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FilledSize    string `json:"filled_size"`
	CancelledSize string `json:"cancelled_size"`
	Refunded      string `json:"refunded"`
}

type transferExecutedData struct {
	AccountID string `json:"account_id"`
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	Ref       string `json:"ref,omitempty"`
}

// DispatchFillExecuted notifies both sides of a fill. The vault has no
// subscriptions and is skipped.
func (s *WebhookService) DispatchFillExecuted(codec domain.Codec, f *domain.Fill) {
	makerSide := f.TakerSide.Opposite()
	s.dispatch(f.Taker, EventFillExecuted, f.ExecutedAt, fillExecutedData{
		FillID:     f.FillID,
		MarketID:   f.MarketID,
		AccountID:  f.Taker,
		OrderID:    strconv.FormatUint(f.TakerOrderID, 10),
		Role:       "taker",
		Side:       string(f.TakerSide),
		Price:      codec.FromTicks(f.PriceTicks).String(),
		Size:       codec.FromLots(f.SizeLots).String(),
		Fee:        f.TakerFee.String(),
		FromVault:  f.FromVault(),
		ExecutedAt: f.ExecutedAt.UTC().Format(time.RFC3339),
	})
	if f.FromVault() {
		return
	}
	s.dispatch(f.Maker, EventFillExecuted, f.ExecutedAt, fillExecutedData{
		FillID:     f.FillID,
		MarketID:   f.MarketID,
		AccountID:  f.Maker,
		OrderID:    strconv.FormatUint(f.MakerOrderID, 10),
		Role:       "maker",
		Side:       string(makerSide),
		Price:      codec.FromTicks(f.PriceTicks).String(),
		Size:       codec.FromLots(f.SizeLots).String(),
		Fee:        f.MakerFee.String(),
		ExecutedAt: f.ExecutedAt.UTC().Format(time.RFC3339),
	})
}

// DispatchOrderCancelled notifies the owner of a cancelled order. refunded
// is the escrow returned to the owner's ledger balance.
func (s *WebhookService) DispatchOrderCancelled(codec domain.Codec, o domain.Order, refunded string) {
	s.dispatch(o.Owner, EventOrderCancelled, time.Now(), orderCancelledData{
		MarketID:      o.MarketID,
		AccountID:     o.Owner,
		OrderID:       strconv.FormatUint(o.ID, 10),
		Side:          string(o.Side),
		Price:         codec.FromTicks(o.PriceTicks).String(),
		Size:          codec.FromLots(o.SizeLots).String(),
		FilledSize:    codec.FromLots(o.FilledLots).String(),
		CancelledSize: codec.FromLots(o.RemainingLots).String(),
		Refunded:      refunded,
	})
}

// DispatchTransfer notifies an account of a deposit or withdrawal.
func (s *WebhookService) DispatchTransfer(leg domain.Leg) {
	direction := "in"
	if leg.Kind == domain.LegDebit {
		direction = "out"
	}
	s.dispatch(leg.Account, EventTransferExecuted, time.Now(), transferExecutedData{
		AccountID: leg.Account,
		Asset:     leg.Asset,
		Direction: direction,
		Amount:    leg.Amount.String(),
		Reason:    string(leg.Reason),
		Ref:       leg.Ref,
	})
}

func (s *WebhookService) dispatch(accountID, event string, at time.Time, data any) {
	wh, ok := s.store.Lookup(accountID, event)
	if !ok {
		return
	}
	payload := eventPayload{
		Event:     event,
		Timestamp: at.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      data,
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(wh, payload)
	}()
}

// deliver POSTs the payload once. Failures are logged and dropped.
func (s *WebhookService) deliver(wh domain.Webhook, payload eventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", payload.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("event", payload.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
}
