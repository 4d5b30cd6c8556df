package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// vaultNamespace scopes the deterministic vault addresses.
var vaultNamespace = uuid.MustParse("6f1c3a52-8d0e-4f7b-9a41-2b5e7c9d0e13")

// VaultAddress derives the address of a market's vault from its
// configuration, so it is known before the market is deployed.
func VaultAddress(cfg domain.MarketConfig) string {
	key := fmt.Sprintf("%s|%s|%s|%d|%d|%d", cfg.ID, cfg.BaseAsset, cfg.QuoteAsset, cfg.SizePrecision, cfg.PricePrecision, cfg.TickSize)
	return uuid.NewSHA1(vaultNamespace, []byte(key)).String()
}

// Registry is a thread-safe map of market id → Matcher. It is the factory
// that deploys markets against a shared ledger.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Matcher
	ledger  Ledger
	assets  *domain.AssetRegistry
}

// NewRegistry creates an empty Registry settling against l. Deployed markets
// register their assets in assets.
func NewRegistry(l Ledger, assets *domain.AssetRegistry) *Registry {
	return &Registry{
		markets: make(map[string]*Matcher),
		ledger:  l,
		assets:  assets,
	}
}

// DeployMarket validates cfg and creates its order book and vault.
func (r *Registry) DeployMarket(cfg domain.MarketConfig) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketAlreadyExists, cfg.ID)
	}
	m := NewMatcher(cfg, r.ledger)
	r.markets[cfg.ID] = m
	r.assets.Register(cfg.BaseAsset, cfg.QuoteAsset)
	r.assets.RegisterLedgerOnly(cfg.ShareAsset())
	return m, nil
}

// Get returns the matcher of a market.
func (r *Registry) Get(id string) (*Matcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketNotFound, id)
	}
	return m, nil
}

// List returns every deployed market ordered by id.
func (r *Registry) List() []*Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Matcher, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.ID < out[j].cfg.ID })
	return out
}
