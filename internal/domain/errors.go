package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrTickAlignment         = errors.New("tick_alignment")
	ErrSize                  = errors.New("size_out_of_range")
	ErrInsufficientBalance   = errors.New("insufficient_balance")
	ErrSlippage              = errors.New("slippage_exceeded")
	ErrCrossedInitialization = errors.New("crossed_initialization")
	ErrCrossedMarket         = errors.New("crossed_market")
	ErrReentrancy            = errors.New("reentrancy")
	ErrNoLiquidity           = errors.New("no_liquidity")
	ErrPostOnlyWouldCross    = errors.New("post_only_would_cross")
	ErrOrderNotFound         = errors.New("order_not_found")
	ErrOrderNotCancellable   = errors.New("order_not_cancellable")
	ErrNotOrderOwner         = errors.New("not_order_owner")
	ErrInvalidPrice          = errors.New("invalid_price")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrMarketNotFound        = errors.New("market_not_found")
	ErrMarketAlreadyExists   = errors.New("market_already_exists")
	ErrUnknownAsset          = errors.New("unknown_asset")
	ErrVaultNotInitialized   = errors.New("vault_not_initialized")
	ErrRelayerNotAllowed     = errors.New("relayer_not_allowed")
	ErrWebhookNotFound       = errors.New("webhook_not_found")
	// ErrWalletSettlement means funds could not move between the ledger and
	// an external wallet around an operation; they stay in the ledger.
	ErrWalletSettlement = errors.New("wallet_settlement_failed")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
