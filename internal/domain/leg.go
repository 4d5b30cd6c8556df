package domain

import "github.com/shopspring/decimal"

// LegKind is the direction of a single ledger movement.
type LegKind string

const (
	LegCredit LegKind = "credit"
	LegDebit  LegKind = "debit"
)

// Reason tags why a ledger leg happened. Auditors group transfers by it.
type Reason string

const (
	ReasonDeposit       Reason = "deposit"
	ReasonWithdraw      Reason = "withdraw"
	ReasonBatchWithdraw Reason = "batch_withdraw"
	ReasonSettlement    Reason = "settlement"
	ReasonFee           Reason = "fee"
	ReasonEscrow        Reason = "escrow"
	ReasonRefund        Reason = "refund"
	ReasonVaultDeposit  Reason = "vault_deposit"
	ReasonVaultWithdraw Reason = "vault_withdraw"
	ReasonShareMint     Reason = "share_mint"
	ReasonShareBurn     Reason = "share_burn"
)

// Leg is one credit or debit against a ledger balance.
type Leg struct {
	Kind    LegKind
	Account string
	Asset   string
	Amount  decimal.Decimal
	Reason  Reason
	Ref     string // order id, fill id or batch id
}

// Signed returns the amount with its direction applied.
func (l Leg) Signed() decimal.Decimal {
	if l.Kind == LegDebit {
		return l.Amount.Neg()
	}
	return l.Amount
}
