package store

import (
	"sync"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// orderKey identifies an order; ids are only unique within a market.
type orderKey struct {
	market string
	id     uint64
}

// OrderStore is a thread-safe in-memory history of orders, with a primary
// index by (market, order id) and a secondary index by owner. It keeps
// filled and cancelled orders, which the book drops.
type OrderStore struct {
	mu          sync.RWMutex
	orders      map[orderKey]domain.Order
	ownerOrders map[string][]orderKey // owner → keys (append-only, chronological)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:      make(map[orderKey]domain.Order),
		ownerOrders: make(map[string][]orderKey),
	}
}

// Save records the latest state of an order. The first save of an order
// also appends it to its owner's index.
func (s *OrderStore) Save(orders ...domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range orders {
		k := orderKey{market: o.MarketID, id: o.ID}
		if _, ok := s.orders[k]; !ok {
			s.ownerOrders[o.Owner] = append(s.ownerOrders[o.Owner], k)
		}
		s.orders[k] = o
	}
}

// Get retrieves an order. It returns domain.ErrOrderNotFound if the order
// does not exist.
func (s *OrderStore) Get(marketID string, id uint64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderKey{market: marketID, id: id}]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListByOwner returns an owner's orders newest first. An empty marketID
// matches every market and a nil status every status. Pagination is
// 1-based. It returns the requested page and the total number of matches.
func (s *OrderStore) ListByOwner(owner, marketID string, status *domain.OrderStatus, page, limit int) ([]domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.ownerOrders[owner]
	filtered := make([]domain.Order, 0)
	for i := len(keys) - 1; i >= 0; i-- {
		o := s.orders[keys[i]]
		if marketID != "" && o.MarketID != marketID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)
	start := (page - 1) * limit
	if start >= total {
		return []domain.Order{}, total
	}
	end := min(start+limit, total)
	return filtered[start:end], total
}
