package domain

import (
	"sort"
	"sync"
)

// AssetRegistry tracks the assets the ledger accepts. Assets are registered
// when a market that trades them is deployed. Wallet tokens can move in and
// out of the ledger; ledger-only assets such as vault shares cannot.
type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]bool // asset → wallet token
}

// NewAssetRegistry creates an empty AssetRegistry.
func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{
		assets: make(map[string]bool),
	}
}

// Register adds assets to the registry. Safe for concurrent use.
func (r *AssetRegistry) Register(assets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range assets {
		r.assets[a] = true
	}
}

// RegisterLedgerOnly adds assets that exist only as ledger balances.
func (r *AssetRegistry) RegisterLedgerOnly(assets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range assets {
		if _, ok := r.assets[a]; !ok {
			r.assets[a] = false
		}
	}
}

// Exists returns true if the asset has been registered. Safe for concurrent use.
func (r *AssetRegistry) Exists(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[asset]
	return ok
}

// Transferable reports whether the asset is a wallet token.
func (r *AssetRegistry) Transferable(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assets[asset]
}

// List returns every registered asset in lexical order.
func (r *AssetRegistry) List() []string {
	return r.list(false)
}

// Tokens returns the registered wallet tokens in lexical order.
func (r *AssetRegistry) Tokens() []string {
	return r.list(true)
}

func (r *AssetRegistry) list(tokensOnly bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.assets))
	for a, token := range r.assets {
		if token || !tokensOnly {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
