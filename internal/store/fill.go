package store

import (
	"sync"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// FillStore is a thread-safe append-only tape of fills per market, in
// execution order.
type FillStore struct {
	mu    sync.RWMutex
	fills map[string][]*domain.Fill // market id → fills (chronological)
}

// NewFillStore creates an empty FillStore.
func NewFillStore() *FillStore {
	return &FillStore{
		fills: make(map[string][]*domain.Fill),
	}
}

// Append adds fills to the end of the market's tape.
func (s *FillStore) Append(marketID string, fills ...*domain.Fill) {
	if len(fills) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills[marketID] = append(s.fills[marketID], fills...)
}

// Recent returns the last limit fills of a market, oldest first. A limit
// of zero or less returns the whole tape.
func (s *FillStore) Recent(marketID string, limit int) []*domain.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tape := s.fills[marketID]
	if limit > 0 && len(tape) > limit {
		tape = tape[len(tape)-limit:]
	}
	result := make([]*domain.Fill, len(tape))
	copy(result, tape)
	return result
}

// ByOrder returns the fills in which an order took part as taker or maker.
func (s *FillStore) ByOrder(marketID string, orderID uint64) []*domain.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Fill, 0)
	for _, f := range s.fills[marketID] {
		if f.TakerOrderID == orderID || f.MakerOrderID == orderID {
			result = append(result, f)
		}
	}
	return result
}
