package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/audit"
	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/ledger"
)

// TransferRequest moves one asset between an account's wallet and its
// ledger balance. Caller is the relayer acting for AccountID, if any.
type TransferRequest struct {
	Caller    string
	AccountID string
	Asset     string
	Amount    decimal.Decimal
}

// BalanceResponse is an account's view of its funds: what the ledger holds
// for it and what is still in its external wallet.
type BalanceResponse struct {
	AccountID string
	Ledger    map[string]decimal.Decimal
	Wallet    map[string]decimal.Decimal
	UpdatedAt time.Time
}

// AccountService handles deposits, withdrawals and balance queries.
type AccountService struct {
	ledger   *ledger.Store
	wallets  *ledger.Wallets
	assets   *domain.AssetRegistry
	auth     *Authorizer
	sink     audit.Sink
	webhooks *WebhookService
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService. webhooks may be nil.
func NewAccountService(
	l *ledger.Store,
	wallets *ledger.Wallets,
	assets *domain.AssetRegistry,
	auth *Authorizer,
	sink audit.Sink,
	webhooks *WebhookService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		ledger:   l,
		wallets:  wallets,
		assets:   assets,
		auth:     auth,
		sink:     sink,
		webhooks: webhooks,
		logger:   logger,
	}
}

// Deposit pulls tokens from the account's wallet into the ledger.
func (s *AccountService) Deposit(req TransferRequest) (domain.Leg, error) {
	if err := validateTransfer(req); err != nil {
		return domain.Leg{}, err
	}
	leg, err := s.ledger.Deposit(req.AccountID, req.Asset, req.Amount)
	if err != nil {
		return domain.Leg{}, err
	}
	s.committed([]domain.Leg{leg})
	return leg, nil
}

// Withdraw pushes tokens from the ledger back to the account's wallet.
func (s *AccountService) Withdraw(req TransferRequest) (domain.Leg, error) {
	if err := validateTransfer(req); err != nil {
		return domain.Leg{}, err
	}
	if err := s.auth.Authorize(req.Caller, req.AccountID, OpWithdraw); err != nil {
		return domain.Leg{}, err
	}
	leg, err := s.ledger.Withdraw(req.AccountID, req.Asset, req.Amount)
	if err != nil {
		return domain.Leg{}, err
	}
	s.committed([]domain.Leg{leg})
	return leg, nil
}

// BatchWithdraw withdraws the whole ledger balance of each asset. No assets
// means every wallet token. Every transfer gets its own audit event, the
// same as a single withdrawal. Repeating the call withdraws nothing.
func (s *AccountService) BatchWithdraw(caller, accountID string, assets []string) ([]domain.Leg, error) {
	if !accountIDRegex.MatchString(accountID) {
		return nil, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if err := s.auth.Authorize(caller, accountID, OpWithdraw); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		assets = s.assets.Tokens()
	}
	legs, err := s.ledger.BatchWithdrawAll(accountID, assets)
	if err != nil {
		return nil, err
	}
	s.committed(legs)
	return legs, nil
}

// GetBalance returns the ledger and wallet balances of every registered
// asset the account holds.
func (s *AccountService) GetBalance(accountID string) (*BalanceResponse, error) {
	if !accountIDRegex.MatchString(accountID) {
		return nil, &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	wallet := make(map[string]decimal.Decimal)
	for _, asset := range s.assets.List() {
		if bal := s.wallets.BalanceOf(accountID, asset); !bal.IsZero() {
			wallet[asset] = bal
		}
	}
	return &BalanceResponse{
		AccountID: accountID,
		Ledger:    s.ledger.Balances(accountID),
		Wallet:    wallet,
		UpdatedAt: time.Now(),
	}, nil
}

// committed records audit events and notifies the accounts involved.
func (s *AccountService) committed(legs []domain.Leg) {
	if len(legs) == 0 {
		return
	}
	if err := s.sink.Record(audit.FromLegs("", legs, time.Now())...); err != nil {
		s.logger.Error("audit record failed", slog.Int("legs", len(legs)), slog.String("error", err.Error()))
	}
	for _, leg := range legs {
		s.logger.Info("transfer executed",
			slog.String("account", leg.Account),
			slog.String("asset", leg.Asset),
			slog.String("amount", leg.Amount.String()),
			slog.String("reason", string(leg.Reason)),
		)
		if s.webhooks != nil {
			s.webhooks.DispatchTransfer(leg)
		}
	}
}

func validateTransfer(req TransferRequest) error {
	if !accountIDRegex.MatchString(req.AccountID) {
		return &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.Asset == "" {
		return &domain.ValidationError{Message: "asset is required"}
	}
	if req.Amount.Sign() <= 0 || !req.Amount.IsInteger() {
		return &domain.ValidationError{Message: fmt.Sprintf("amount must be a positive whole number of atoms, got %s", req.Amount)}
	}
	return nil
}
