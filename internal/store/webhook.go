package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// subscriptionKey is the natural key of a webhook: one URL per account and
// event.
type subscriptionKey struct {
	account string
	event   string
}

// WebhookStore is a thread-safe in-memory store of webhook subscriptions,
// indexed by webhook id and by (account, event). It hands out copies, so
// callers never share a record with the store.
type WebhookStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.Webhook
	byPair map[subscriptionKey]string // (account, event) → webhook id
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		byID:   make(map[string]domain.Webhook),
		byPair: make(map[subscriptionKey]string),
	}
}

// Upsert stores w unless the account already subscribes to the event, in
// which case the existing subscription keeps its id and takes w's URL. It
// returns the stored subscription and whether it was newly created.
func (s *WebhookStore) Upsert(w domain.Webhook) (domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := subscriptionKey{account: w.AccountID, event: w.Event}
	if id, ok := s.byPair[k]; ok {
		existing := s.byID[id]
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
			s.byID[id] = existing
		}
		return existing, false
	}
	s.byID[w.WebhookID] = w
	s.byPair[k] = w.WebhookID
	return w, true
}

// Get returns a webhook by id, or domain.ErrWebhookNotFound.
func (s *WebhookStore) Get(id string) (domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byID[id]
	if !ok {
		return domain.Webhook{}, domain.ErrWebhookNotFound
	}
	return w, nil
}

// ListByAccount returns an account's subscriptions ordered by event.
func (s *WebhookStore) ListByAccount(accountID string) []domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Webhook, 0)
	for k, id := range s.byPair {
		if k.account == accountID {
			result = append(result, s.byID[id])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Lookup returns the subscription of an account to an event, if any.
func (s *WebhookStore) Lookup(accountID, event string) (domain.Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[subscriptionKey{account: accountID, event: event}]
	if !ok {
		return domain.Webhook{}, false
	}
	return s.byID[id], true
}

// Delete removes a webhook owned by accountID. It returns
// domain.ErrWebhookNotFound when the id is unknown or belongs to another
// account.
func (s *WebhookStore) Delete(accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok || w.AccountID != accountID {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, id)
	delete(s.byPair, subscriptionKey{account: w.AccountID, event: w.Event})
	return nil
}
