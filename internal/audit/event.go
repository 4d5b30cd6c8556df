package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Event is the audit record of one committed ledger leg.
type Event struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	MarketID   string          `json:"market_id,omitempty"`
	Kind       domain.LegKind  `json:"kind"`
	Account    string          `json:"account"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     domain.Reason   `json:"reason"`
	Ref        string          `json:"ref,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// FromLegs builds one event per leg. marketID is empty for account-level
// transfers such as deposits and withdrawals.
func FromLegs(marketID string, legs []domain.Leg, at time.Time) []Event {
	events := make([]Event, len(legs))
	for i, l := range legs {
		events[i] = Event{
			ID:         uuid.NewString(),
			MarketID:   marketID,
			Kind:       l.Kind,
			Account:    l.Account,
			Asset:      l.Asset,
			Amount:     l.Amount,
			Reason:     l.Reason,
			Ref:        l.Ref,
			RecordedAt: at.UTC(),
		}
	}
	return events
}

// Sink records audit events after the ledger change they describe has
// been committed.
type Sink interface {
	Record(events ...Event) error
}

// MemorySink keeps events in memory. It is used in tests and when the
// server runs without a data directory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends events, numbering them in arrival order.
func (s *MemorySink) Record(events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		s.events = append(s.events, e)
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
