// Package ledger is the custodial balance ledger the exchange settles
// against, plus the external wallets deposits come from and withdrawals go
// to.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// TokenTransferer moves tokens between external wallets and custody.
type TokenTransferer interface {
	TransferIn(from, asset string, amount decimal.Decimal) error
	TransferOut(to, asset string, amount decimal.Decimal) error
}

// Store is a thread-safe in-memory balance ledger keyed by account and asset.
// Balances never go negative: a debit larger than the balance fails with
// domain.ErrInsufficientBalance.
type Store struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // account → asset → amount
	assets   *domain.AssetRegistry
	tokens   TokenTransferer
}

// NewStore creates an empty ledger accepting the registered assets.
func NewStore(assets *domain.AssetRegistry, tokens TokenTransferer) *Store {
	return &Store{
		balances: make(map[string]map[string]decimal.Decimal),
		assets:   assets,
		tokens:   tokens,
	}
}

// BalanceOf returns the balance of an account in an asset (zero if none).
func (s *Store) BalanceOf(account, asset string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balanceLocked(account, asset)
}

// Balances returns a copy of every non-zero balance of an account.
func (s *Store) Balances(account string) map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.balances[account]))
	for asset, amount := range s.balances[account] {
		if !amount.IsZero() {
			out[asset] = amount
		}
	}
	return out
}

// Total returns the sum of every account's balance in an asset.
func (s *Store) Total(asset string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, assets := range s.balances {
		total = total.Add(assets[asset])
	}
	return total
}

// Credit adds amount to a balance.
func (s *Store) Credit(account, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLeg(asset, amount); err != nil {
		return err
	}
	s.credit(account, asset, amount)
	return nil
}

// Debit subtracts amount from a balance, failing if it would go negative.
func (s *Store) Debit(account, asset string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLeg(asset, amount); err != nil {
		return err
	}
	return s.debit(account, asset, amount)
}

// Apply performs a sequence of legs as one batch. Every leg is validated in
// order against the running balances first; if any would fail nothing is
// applied.
func (s *Store) Apply(legs []domain.Leg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[balanceKey]decimal.Decimal)
	for i, leg := range legs {
		if err := s.checkLeg(leg.Asset, leg.Amount); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		key := balanceKey{leg.Account, leg.Asset}
		cur, ok := pending[key]
		if !ok {
			cur = s.balanceLocked(leg.Account, leg.Asset)
		}
		next := cur.Add(leg.Signed())
		if next.IsNegative() {
			return fmt.Errorf("leg %d (%s %s %s): %w", i, leg.Account, leg.Asset, leg.Reason, domain.ErrInsufficientBalance)
		}
		pending[key] = next
	}

	for _, leg := range legs {
		if leg.Kind == domain.LegDebit {
			// Validated above.
			_ = s.debit(leg.Account, leg.Asset, leg.Amount)
		} else {
			s.credit(leg.Account, leg.Asset, leg.Amount)
		}
	}
	return nil
}

// Deposit pulls amount from the account's external wallet into the ledger.
func (s *Store) Deposit(account, asset string, amount decimal.Decimal) (domain.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransfer(asset, amount); err != nil {
		return domain.Leg{}, err
	}
	if err := s.tokens.TransferIn(account, asset, amount); err != nil {
		return domain.Leg{}, fmt.Errorf("transfer in: %w", err)
	}
	s.credit(account, asset, amount)
	return domain.Leg{Kind: domain.LegCredit, Account: account, Asset: asset, Amount: amount, Reason: domain.ReasonDeposit}, nil
}

// Withdraw moves amount from the ledger to the account's external wallet.
func (s *Store) Withdraw(account, asset string, amount decimal.Decimal) (domain.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransfer(asset, amount); err != nil {
		return domain.Leg{}, err
	}
	if err := s.debit(account, asset, amount); err != nil {
		return domain.Leg{}, err
	}
	if err := s.tokens.TransferOut(account, asset, amount); err != nil {
		s.credit(account, asset, amount)
		return domain.Leg{}, fmt.Errorf("transfer out: %w", err)
	}
	return domain.Leg{Kind: domain.LegDebit, Account: account, Asset: asset, Amount: amount, Reason: domain.ReasonWithdraw}, nil
}

// Amount is a quantity of one asset in atoms.
type Amount struct {
	Asset  string
	Amount decimal.Decimal
}

// WithdrawBatch moves several amounts from the ledger to the account's
// external wallet. Either every transfer happens or none does.
func (s *Store) WithdrawBatch(account string, amounts []Amount) ([]domain.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := make(map[string]decimal.Decimal, len(amounts))
	for _, a := range amounts {
		if err := s.checkTransfer(a.Asset, a.Amount); err != nil {
			return nil, err
		}
		need[a.Asset] = need[a.Asset].Add(a.Amount)
	}
	for asset, amount := range need {
		if bal := s.balanceLocked(account, asset); bal.LessThan(amount) {
			return nil, fmt.Errorf("%s has %s %s, needs %s: %w", account, bal, asset, amount, domain.ErrInsufficientBalance)
		}
	}

	legs := make([]domain.Leg, 0, len(amounts))
	for _, a := range amounts {
		if err := s.tokens.TransferOut(account, a.Asset, a.Amount); err != nil {
			s.undoTransfersOut(account, legs)
			return nil, fmt.Errorf("transfer out %s: %w", a.Asset, err)
		}
		_ = s.debit(account, a.Asset, a.Amount)
		legs = append(legs, domain.Leg{
			Kind:    domain.LegDebit,
			Account: account,
			Asset:   a.Asset,
			Amount:  a.Amount,
			Reason:  domain.ReasonWithdraw,
		})
	}
	return legs, nil
}

// BatchWithdrawAll transfers the full balance of each listed asset to the
// account's external wallet and zeroes it. Assets with a zero balance are
// skipped, so a repeated call returns no legs. Either every transfer happens
// or none does.
func (s *Store) BatchWithdrawAll(account string, assets []string) ([]domain.Leg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unique := make([]string, 0, len(assets))
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if !s.assets.Transferable(a) {
			return nil, fmt.Errorf("%w: %s is not a wallet token", domain.ErrUnknownAsset, a)
		}
		if !seen[a] {
			seen[a] = true
			unique = append(unique, a)
		}
	}
	sort.Strings(unique)

	legs := make([]domain.Leg, 0, len(unique))
	for _, asset := range unique {
		amount := s.balanceLocked(account, asset)
		if amount.Sign() <= 0 {
			continue
		}
		if err := s.tokens.TransferOut(account, asset, amount); err != nil {
			s.undoTransfersOut(account, legs)
			return nil, fmt.Errorf("transfer out %s: %w", asset, err)
		}
		_ = s.debit(account, asset, amount)
		legs = append(legs, domain.Leg{
			Kind:    domain.LegDebit,
			Account: account,
			Asset:   asset,
			Amount:  amount,
			Reason:  domain.ReasonBatchWithdraw,
		})
	}
	return legs, nil
}

func (s *Store) undoTransfersOut(account string, legs []domain.Leg) {
	for _, leg := range legs {
		// Pulling back what was just pushed out cannot exceed the wallet.
		_ = s.tokens.TransferIn(account, leg.Asset, leg.Amount)
		s.credit(account, leg.Asset, leg.Amount)
	}
}

func (s *Store) checkLeg(asset string, amount decimal.Decimal) error {
	if !s.assets.Exists(asset) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAsset, asset)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	return nil
}

func (s *Store) checkTransfer(asset string, amount decimal.Decimal) error {
	if err := s.checkLeg(asset, amount); err != nil {
		return err
	}
	if !s.assets.Transferable(asset) {
		return fmt.Errorf("%w: %s exists only in the ledger", domain.ErrUnknownAsset, asset)
	}
	if amount.Sign() == 0 || !amount.IsInteger() {
		return fmt.Errorf("%w: transfers must be a positive whole number of atoms", domain.ErrInvalidAmount)
	}
	return nil
}

func (s *Store) balanceLocked(account, asset string) decimal.Decimal {
	return s.balances[account][asset]
}

func (s *Store) credit(account, asset string, amount decimal.Decimal) {
	assets := s.balances[account]
	if assets == nil {
		assets = make(map[string]decimal.Decimal)
		s.balances[account] = assets
	}
	assets[asset] = assets[asset].Add(amount)
}

func (s *Store) debit(account, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	cur := s.balanceLocked(account, asset)
	if cur.LessThan(amount) {
		return fmt.Errorf("%s has %s %s, needs %s: %w", account, cur, asset, amount, domain.ErrInsufficientBalance)
	}
	s.balances[account][asset] = cur.Sub(amount)
	return nil
}

type balanceKey struct {
	account string
	asset   string
}
