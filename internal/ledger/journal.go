package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Reader reads committed balances.
type Reader interface {
	BalanceOf(account, asset string) decimal.Decimal
}

// Hook is called after every credit staged in a Journal, the way a token
// notifies its recipient. A non-nil error aborts the unit the journal belongs
// to.
type Hook func(leg domain.Leg) error

// Journal stages legs on top of a Reader without touching it. Debits are
// checked against the overlaid balance, so a unit of work fails as soon as it
// would overdraw an account. Committing is Store.Apply(j.Legs()).
type Journal struct {
	base  Reader
	delta map[balanceKey]decimal.Decimal
	legs  []domain.Leg
	hook  Hook
}

// NewJournal creates an empty journal. hook may be nil.
func NewJournal(base Reader, hook Hook) *Journal {
	return &Journal{
		base:  base,
		delta: make(map[balanceKey]decimal.Decimal),
		hook:  hook,
	}
}

// BalanceOf returns the committed balance plus every staged leg.
func (j *Journal) BalanceOf(account, asset string) decimal.Decimal {
	return j.base.BalanceOf(account, asset).Add(j.delta[balanceKey{account, asset}])
}

// Credit stages a credit. Zero amounts are ignored.
func (j *Journal) Credit(account, asset string, amount decimal.Decimal, reason domain.Reason, ref string) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	leg := domain.Leg{Kind: domain.LegCredit, Account: account, Asset: asset, Amount: amount, Reason: reason, Ref: ref}
	j.stage(leg)
	if j.hook != nil {
		if err := j.hook(leg); err != nil {
			return err
		}
	}
	return nil
}

// Debit stages a debit, failing if the overlaid balance is too small.
func (j *Journal) Debit(account, asset string, amount decimal.Decimal, reason domain.Reason, ref string) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	if cur := j.BalanceOf(account, asset); cur.LessThan(amount) {
		return fmt.Errorf("%s has %s %s, needs %s: %w", account, cur, asset, amount, domain.ErrInsufficientBalance)
	}
	j.stage(domain.Leg{Kind: domain.LegDebit, Account: account, Asset: asset, Amount: amount, Reason: reason, Ref: ref})
	return nil
}

// Transfer stages a debit from one account and a credit to another.
func (j *Journal) Transfer(from, to, asset string, amount decimal.Decimal, reason domain.Reason, ref string) error {
	if err := j.Debit(from, asset, amount, reason, ref); err != nil {
		return err
	}
	return j.Credit(to, asset, amount, reason, ref)
}

// Legs returns the staged legs in the order they were made.
func (j *Journal) Legs() []domain.Leg {
	return j.legs
}

func (j *Journal) stage(leg domain.Leg) {
	key := balanceKey{leg.Account, leg.Asset}
	j.delta[key] = j.delta[key].Add(leg.Signed())
	j.legs = append(j.legs, leg)
}
