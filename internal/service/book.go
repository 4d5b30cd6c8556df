package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/engine"
)

// MarketInfo describes a deployed market.
type MarketInfo struct {
	Config       domain.MarketConfig
	VaultAddress string
	VaultAccount string
	ShareAsset   string
}

// BookLevel is an aggregated price level in real units.
type BookLevel struct {
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderCount int
}

// BookSnapshot is the resting order book of a market, best levels first.
type BookSnapshot struct {
	MarketID   string
	Bids       []BookLevel
	Asks       []BookLevel
	Spread     *decimal.Decimal
	SnapshotAt time.Time
}

// QuoteLevel is the best price on one side of the consolidated market.
type QuoteLevel struct {
	Price     decimal.Decimal
	Size      decimal.Decimal
	FromVault bool
}

// QuoteResponse is the consolidated best bid and ask of book and vault.
type QuoteResponse struct {
	MarketID string
	Bid      *QuoteLevel
	Ask      *QuoteLevel
	QuotedAt time.Time
}

// VaultResponse is the state of a market's vault.
type VaultResponse struct {
	MarketID     string
	Address      string
	Account      string
	State        engine.VaultState
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	TotalShares  decimal.Decimal
	Mid          *decimal.Decimal
	Bid          *QuoteLevel
	Ask          *QuoteLevel
}

// Markets returns every deployed market ordered by id.
func (s *MarketService) Markets() []MarketInfo {
	matchers := s.registry.List()
	out := make([]MarketInfo, 0, len(matchers))
	for _, m := range matchers {
		cfg := m.Config()
		out = append(out, MarketInfo{
			Config:       cfg,
			VaultAddress: engine.VaultAddress(cfg),
			VaultAccount: m.Vault().Account(),
			ShareAsset:   cfg.ShareAsset(),
		})
	}
	return out
}

// Book returns the top depth price levels on each side of the book.
func (s *MarketService) Book(marketID string, depth int) (*BookSnapshot, error) {
	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{Message: "depth must be between 1 and 50"}
	}
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	lock := s.lockFor(marketID)
	lock.RLock()
	defer lock.RUnlock()

	codec := m.Codec()
	bids := toBookLevels(codec, m.Book().TopBids(depth))
	asks := toBookLevels(codec, m.Book().TopAsks(depth))

	var spread *decimal.Decimal
	if len(bids) > 0 && len(asks) > 0 {
		d := asks[0].Price.Sub(bids[0].Price)
		spread = &d
	}
	return &BookSnapshot{
		MarketID:   marketID,
		Bids:       bids,
		Asks:       asks,
		Spread:     spread,
		SnapshotAt: time.Now(),
	}, nil
}

// Quote returns the consolidated best bid and ask. It is computed from the
// live state on every call.
func (s *MarketService) Quote(marketID string) (*QuoteResponse, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	lock := s.lockFor(marketID)
	lock.RLock()
	defer lock.RUnlock()

	q := m.BestBidAsk()
	codec := m.Codec()
	return &QuoteResponse{
		MarketID: marketID,
		Bid:      toQuoteLevel(codec, q.Bid),
		Ask:      toQuoteLevel(codec, q.Ask),
		QuotedAt: time.Now(),
	}, nil
}

// Vault returns the reserves, share supply and quotes of a market's vault.
func (s *MarketService) Vault(marketID string) (*VaultResponse, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	lock := s.lockFor(marketID)
	lock.RLock()
	defer lock.RUnlock()

	v, codec := m.Vault(), m.Codec()
	pool := v.Pool()
	resp := &VaultResponse{
		MarketID:     marketID,
		Address:      engine.VaultAddress(m.Config()),
		Account:      v.Account(),
		State:        pool.State,
		BaseReserve:  pool.BaseReserve,
		QuoteReserve: pool.QuoteReserve,
		TotalShares:  pool.TotalShares,
	}
	if mid, ok := v.MidTicks(); ok {
		p := codec.FromTicks(mid)
		resp.Mid = &p
	}
	if bid, ok := v.Quote(domain.SideBuy); ok {
		resp.Bid = &QuoteLevel{Price: codec.FromTicks(bid.PriceTicks), Size: codec.FromLots(bid.Lots), FromVault: true}
	}
	if ask, ok := v.Quote(domain.SideSell); ok {
		resp.Ask = &QuoteLevel{Price: codec.FromTicks(ask.PriceTicks), Size: codec.FromLots(ask.Lots), FromVault: true}
	}
	return resp, nil
}

// GetOrder returns an order and the fills it took part in.
func (s *MarketService) GetOrder(marketID string, orderID uint64) (domain.Order, []*domain.Fill, error) {
	if _, err := s.registry.Get(marketID); err != nil {
		return domain.Order{}, nil, err
	}
	o, err := s.orders.Get(marketID, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return o, s.fills.ByOrder(marketID, orderID), nil
}

// ListOrders returns a page of an owner's orders, newest first, and the
// total count. marketID and status are optional filters.
func (s *MarketService) ListOrders(owner, marketID, status string, page, limit int) ([]domain.Order, int, error) {
	if !accountIDRegex.MatchString(owner) {
		return nil, 0, &domain.ValidationError{Message: "owner must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be at least 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	var st *domain.OrderStatus
	if status != "" {
		v := domain.OrderStatus(status)
		if !ValidOrderStatuses[v] {
			return nil, 0, &domain.ValidationError{
				Message: "status must be one of: open, partially_filled, filled, cancelled",
			}
		}
		st = &v
	}
	if marketID != "" {
		if _, err := s.registry.Get(marketID); err != nil {
			return nil, 0, err
		}
	}
	orders, total := s.orders.ListByOwner(owner, marketID, st, page, limit)
	return orders, total, nil
}

// Fills returns up to limit of a market's most recent fills, oldest first.
func (s *MarketService) Fills(marketID string, limit int) ([]*domain.Fill, error) {
	if limit < 1 || limit > 500 {
		return nil, &domain.ValidationError{Message: "limit must be between 1 and 500"}
	}
	if _, err := s.registry.Get(marketID); err != nil {
		return nil, err
	}
	return s.fills.Recent(marketID, limit), nil
}

func toBookLevels(codec domain.Codec, levels []engine.PriceLevel) []BookLevel {
	out := make([]BookLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, BookLevel{
			Price:      codec.FromTicks(l.PriceTicks),
			Size:       codec.FromLots(l.TotalLots),
			OrderCount: l.OrderCount,
		})
	}
	return out
}

func toQuoteLevel(codec domain.Codec, l *engine.Level) *QuoteLevel {
	if l == nil {
		return nil
	}
	return &QuoteLevel{
		Price:     codec.FromTicks(l.PriceTicks),
		Size:      codec.FromLots(l.Lots),
		FromVault: l.FromVault,
	}
}

// Codec returns the price and size codec of a market.
func (s *MarketService) Codec(marketID string) (domain.Codec, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return domain.Codec{}, err
	}
	return m.Codec(), nil
}
