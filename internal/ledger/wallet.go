package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Wallets holds token balances outside the exchange. Deposits pull from here
// and withdrawals push back. Tokens are minted only by Mint, so the sum of
// wallet and ledger balances of an asset is constant after genesis.
type Wallets struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // owner → asset → amount
	custody  map[string]decimal.Decimal            // asset → amount held by the exchange
}

// NewWallets creates an empty wallet set.
func NewWallets() *Wallets {
	return &Wallets{
		balances: make(map[string]map[string]decimal.Decimal),
		custody:  make(map[string]decimal.Decimal),
	}
}

// Mint credits a wallet with freshly issued tokens.
func (w *Wallets) Mint(owner, asset string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: mint amount must be positive", domain.ErrInvalidAmount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.add(owner, asset, amount)
	return nil
}

// BalanceOf returns the wallet balance of owner in asset.
func (w *Wallets) BalanceOf(owner, asset string) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[owner][asset]
}

// Custody returns how much of an asset the exchange holds.
func (w *Wallets) Custody(asset string) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.custody[asset]
}

// TransferIn moves tokens from a wallet into exchange custody.
func (w *Wallets) TransferIn(from, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := w.balances[from][asset]
	if cur.LessThan(amount) {
		return fmt.Errorf("wallet %s has %s %s, needs %s: %w", from, cur, asset, amount, domain.ErrInsufficientBalance)
	}
	w.balances[from][asset] = cur.Sub(amount)
	w.custody[asset] = w.custody[asset].Add(amount)
	return nil
}

// TransferOut moves tokens from exchange custody to a wallet.
func (w *Wallets) TransferOut(to, asset string, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	held := w.custody[asset]
	if held.LessThan(amount) {
		return fmt.Errorf("custody has %s %s, needs %s: %w", held, asset, amount, domain.ErrInsufficientBalance)
	}
	w.custody[asset] = held.Sub(amount)
	w.add(to, asset, amount)
	return nil
}

func (w *Wallets) add(owner, asset string, amount decimal.Decimal) {
	assets := w.balances[owner]
	if assets == nil {
		assets = make(map[string]decimal.Decimal)
		w.balances[owner] = assets
	}
	assets[asset] = assets[asset].Add(amount)
}
