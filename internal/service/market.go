package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/audit"
	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/engine"
	"github.com/efreitasn/hybridexchange/internal/ledger"
	"github.com/efreitasn/hybridexchange/internal/store"
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
}

// PlaceOrderRequest represents the input for order placement. Price and
// Size are real values converted to ticks and lots by the market codec;
// QuoteAmount and MinOut are token atoms.
type PlaceOrderRequest struct {
	MarketID    string
	Caller      string
	Owner       string
	Type        domain.OrderType
	Side        domain.Side
	Price       *decimal.Decimal // limit orders only
	Size        *decimal.Decimal // limit orders and market sells
	QuoteAmount *decimal.Decimal // market buys only
	MinOut      decimal.Decimal  // market orders: least received net of fees
	PostOnly    bool
	// FromWallet pulls the order's input from the owner's wallet before
	// matching and pushes what it produced back afterwards, instead of
	// trading against the ledger balance.
	FromWallet bool
}

// CancelOrderRequest represents the input for order cancellation.
type CancelOrderRequest struct {
	MarketID   string
	Caller     string
	Owner      string
	OrderID    uint64
	FromWallet bool
}

// VaultDepositRequest adds liquidity; amounts are atoms.
type VaultDepositRequest struct {
	MarketID   string
	Caller     string
	Owner      string
	Base       decimal.Decimal
	Quote      decimal.Decimal
	FromWallet bool
}

// VaultWithdrawRequest burns shares for reserves.
type VaultWithdrawRequest struct {
	MarketID   string
	Caller     string
	Owner      string
	Shares     decimal.Decimal
	FromWallet bool
}

// OrderResult is the outcome of a placement or cancellation.
type OrderResult struct {
	Order    domain.Order
	Fills    []*domain.Fill
	BaseOut  decimal.Decimal
	QuoteOut decimal.Decimal
	Refunded decimal.Decimal
}

// MarketService runs orders and vault operations against the deployed
// markets. Each market has its own lock, so every engine call is a single
// writer and reads see a committed state.
type MarketService struct {
	registry *engine.Registry
	ledger   *ledger.Store
	orders   *store.OrderStore
	fills    *store.FillStore
	auth     *Authorizer
	sink     audit.Sink
	webhooks *WebhookService
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewMarketService creates a new MarketService. webhooks may be nil.
func NewMarketService(
	registry *engine.Registry,
	l *ledger.Store,
	orders *store.OrderStore,
	fills *store.FillStore,
	auth *Authorizer,
	sink audit.Sink,
	webhooks *WebhookService,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		registry: registry,
		ledger:   l,
		orders:   orders,
		fills:    fills,
		auth:     auth,
		sink:     sink,
		webhooks: webhooks,
		logger:   logger,
		locks:    make(map[string]*sync.RWMutex),
	}
}

func (s *MarketService) lockFor(marketID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[marketID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[marketID] = l
	}
	return l
}

// PlaceOrder validates the request, runs it through the market's matcher
// and records the resulting orders, fills and audit events.
//
// With FromWallet, a failure to push the outputs back happens after the
// order committed: the result is returned together with an error wrapping
// domain.ErrWalletSettlement, and the outputs stay in the ledger.
func (s *MarketService) PlaceOrder(req PlaceOrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	if err := s.auth.Authorize(req.Caller, req.Owner, OpPlaceOrder); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	cfg, codec := m.Config(), m.Codec()

	var priceTicks, sizeLots int64
	if req.Type == domain.OrderTypeLimit {
		if priceTicks, err = codec.ToTicks(*req.Price); err != nil {
			return nil, err
		}
	}
	if req.Size != nil {
		if sizeLots, err = codec.ToLots(*req.Size); err != nil {
			return nil, err
		}
	}

	lock := s.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	var pulled []domain.Leg
	if req.FromWallet {
		asset, amount := orderInput(cfg, codec, req, priceTicks, sizeLots)
		leg, err := s.ledger.Deposit(req.Owner, asset, amount)
		if err != nil {
			return nil, fmt.Errorf("pull order input: %w", err)
		}
		pulled = append(pulled, leg)
	}

	var exec *engine.Execution
	switch {
	case req.Type == domain.OrderTypeLimit:
		exec, err = m.PlaceLimit(req.Owner, req.Side, priceTicks, sizeLots, req.PostOnly)
	case req.Side == domain.SideBuy:
		exec, err = m.MarketBuy(req.Owner, *req.QuoteAmount, req.MinOut)
	default:
		exec, err = m.MarketSell(req.Owner, sizeLots, req.MinOut)
	}
	if err != nil {
		if cerr := s.compensate(pulled); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	legs := append(pulled, exec.Legs...)
	var pushErr error
	if req.FromWallet {
		var pushed []domain.Leg
		pushed, pushErr = s.pushOrderOutputs(cfg, exec, pulled[0].Amount)
		legs = append(legs, pushed...)
	}

	s.orders.Save(append([]domain.Order{exec.Order}, exec.Makers...)...)
	s.fills.Append(cfg.ID, exec.Fills...)
	s.audit(cfg.ID, legs)
	if s.webhooks != nil {
		for _, f := range exec.Fills {
			s.webhooks.DispatchFillExecuted(codec, f)
		}
	}
	s.logger.Info("order placed",
		slog.String("market", cfg.ID),
		slog.Uint64("order_id", exec.Order.ID),
		slog.String("owner", req.Owner),
		slog.String("type", string(req.Type)),
		slog.String("side", string(req.Side)),
		slog.String("status", string(exec.Order.Status)),
		slog.Int("fills", len(exec.Fills)),
	)

	return &OrderResult{
		Order:    exec.Order,
		Fills:    exec.Fills,
		BaseOut:  exec.BaseOut,
		QuoteOut: exec.QuoteOut,
		Refunded: decimal.Zero,
	}, pushErr
}

// CancelOrder cancels a resting order and refunds its escrow. Orders that
// already left the book fail with ErrOrderNotCancellable. A refund that
// cannot reach the wallet is reported like in PlaceOrder.
func (s *MarketService) CancelOrder(req CancelOrderRequest) (*OrderResult, error) {
	if err := s.auth.Authorize(req.Caller, req.Owner, OpCancelOrder); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	cfg := m.Config()

	lock := s.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	if o, err := s.orders.Get(cfg.ID, req.OrderID); err == nil && !o.Resting() {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrOrderNotCancellable, o.ID, o.Status)
	}
	exec, err := m.CancelOrder(req.Owner, req.OrderID)
	if err != nil {
		return nil, err
	}

	refunded := decimal.Zero
	var refundAsset string
	for _, leg := range exec.Legs {
		if leg.Kind == domain.LegCredit && leg.Account == req.Owner && leg.Reason == domain.ReasonRefund {
			refunded = refunded.Add(leg.Amount)
			refundAsset = leg.Asset
		}
	}
	legs := exec.Legs
	var pushErr error
	if req.FromWallet {
		var pushed []domain.Leg
		pushed, pushErr = s.push(req.Owner, ledger.Amount{Asset: refundAsset, Amount: refunded})
		legs = append(legs, pushed...)
	}

	s.orders.Save(exec.Order)
	s.audit(cfg.ID, legs)
	if s.webhooks != nil {
		s.webhooks.DispatchOrderCancelled(m.Codec(), exec.Order, refunded.String())
	}
	s.logger.Info("order cancelled",
		slog.String("market", cfg.ID),
		slog.Uint64("order_id", exec.Order.ID),
		slog.String("owner", req.Owner),
		slog.String("refunded", refunded.String()),
	)
	return &OrderResult{Order: exec.Order, BaseOut: decimal.Zero, QuoteOut: decimal.Zero, Refunded: refunded}, pushErr
}

// DepositVault adds liquidity to a market's vault. With FromWallet, the
// pulls are undone if the deposit fails, and a failure to return the unused
// part comes back with the committed change.
func (s *MarketService) DepositVault(req VaultDepositRequest) (*engine.LiquidityChange, error) {
	if !accountIDRegex.MatchString(req.Owner) {
		return nil, &domain.ValidationError{Message: "owner must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if err := s.auth.Authorize(req.Caller, req.Owner, OpVaultDeposit); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	cfg := m.Config()

	lock := s.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	var pulled []domain.Leg
	if req.FromWallet {
		for _, in := range []struct {
			asset  string
			amount decimal.Decimal
		}{{cfg.BaseAsset, req.Base}, {cfg.QuoteAsset, req.Quote}} {
			leg, err := s.ledger.Deposit(req.Owner, in.asset, in.amount)
			if err != nil {
				err = fmt.Errorf("pull vault deposit: %w", err)
				if cerr := s.compensate(pulled); cerr != nil {
					return nil, errors.Join(err, cerr)
				}
				return nil, err
			}
			pulled = append(pulled, leg)
		}
	}

	change, err := m.DepositVault(req.Owner, req.Base, req.Quote)
	if err != nil {
		if cerr := s.compensate(pulled); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}
	legs := append(pulled, change.Legs...)
	var pushErr error
	if req.FromWallet {
		// Only the amounts matching the pool ratio were taken.
		var pushed []domain.Leg
		pushed, pushErr = s.push(req.Owner,
			ledger.Amount{Asset: cfg.BaseAsset, Amount: req.Base.Sub(change.Base)},
			ledger.Amount{Asset: cfg.QuoteAsset, Amount: req.Quote.Sub(change.Quote)},
		)
		legs = append(legs, pushed...)
	}

	s.audit(cfg.ID, legs)
	s.logger.Info("vault deposit",
		slog.String("market", cfg.ID),
		slog.String("owner", req.Owner),
		slog.String("shares", change.Shares.String()),
		slog.String("state", string(change.Pool.State)),
	)
	return change, pushErr
}

// WithdrawVault burns shares for a pro-rata part of the reserves.
func (s *MarketService) WithdrawVault(req VaultWithdrawRequest) (*engine.LiquidityChange, error) {
	if !accountIDRegex.MatchString(req.Owner) {
		return nil, &domain.ValidationError{Message: "owner must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if err := s.auth.Authorize(req.Caller, req.Owner, OpVaultWithdraw); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	cfg := m.Config()

	lock := s.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	change, err := m.WithdrawVault(req.Owner, req.Shares)
	if err != nil {
		return nil, err
	}
	legs := change.Legs
	var pushErr error
	if req.FromWallet {
		var pushed []domain.Leg
		pushed, pushErr = s.push(req.Owner,
			ledger.Amount{Asset: cfg.BaseAsset, Amount: change.Base},
			ledger.Amount{Asset: cfg.QuoteAsset, Amount: change.Quote},
		)
		legs = append(legs, pushed...)
	}

	s.audit(cfg.ID, legs)
	s.logger.Info("vault withdraw",
		slog.String("market", cfg.ID),
		slog.String("owner", req.Owner),
		slog.String("shares", change.Shares.String()),
		slog.String("state", string(change.Pool.State)),
	)
	return change, pushErr
}

// pushOrderOutputs returns to the owner's wallet what an order produced and
// whatever of the pulled input it neither spent nor left in escrow.
func (s *MarketService) pushOrderOutputs(cfg domain.MarketConfig, exec *engine.Execution, pulled decimal.Decimal) ([]domain.Leg, error) {
	o := exec.Order
	spent := decimal.Zero
	for _, f := range exec.Fills {
		if o.Side == domain.SideBuy {
			spent = spent.Add(f.QuoteAmount)
		} else {
			spent = spent.Add(f.BaseAmount)
		}
	}
	leftover := pulled.Sub(spent).Sub(o.Escrow)

	if o.Side == domain.SideBuy {
		return s.push(o.Owner,
			ledger.Amount{Asset: cfg.BaseAsset, Amount: exec.BaseOut},
			ledger.Amount{Asset: cfg.QuoteAsset, Amount: leftover},
		)
	}
	return s.push(o.Owner,
		ledger.Amount{Asset: cfg.QuoteAsset, Amount: exec.QuoteOut},
		ledger.Amount{Asset: cfg.BaseAsset, Amount: leftover},
	)
}

// push withdraws the positive amounts to the owner's wallet in one batch.
// The engine call it follows has already committed, so on failure nothing
// is moved and the funds stay in the ledger.
func (s *MarketService) push(owner string, amounts ...ledger.Amount) ([]domain.Leg, error) {
	batch := make([]ledger.Amount, 0, len(amounts))
	for _, a := range amounts {
		if a.Amount.IsPositive() {
			batch = append(batch, a)
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}
	legs, err := s.ledger.WithdrawBatch(owner, batch)
	if err != nil {
		s.logger.Error("push to wallet failed",
			slog.String("owner", owner),
			slog.Int("amounts", len(batch)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: push to %s: %v", domain.ErrWalletSettlement, owner, err)
	}
	return legs, nil
}

// compensate returns wallet pulls for an operation that failed.
func (s *MarketService) compensate(pulled []domain.Leg) error {
	if len(pulled) == 0 {
		return nil
	}
	amounts := make([]ledger.Amount, len(pulled))
	for i, leg := range pulled {
		amounts[i] = ledger.Amount{Asset: leg.Asset, Amount: leg.Amount}
	}
	owner := pulled[0].Account
	if _, err := s.ledger.WithdrawBatch(owner, amounts); err != nil {
		s.logger.Error("compensating withdraw failed",
			slog.String("owner", owner),
			slog.Int("amounts", len(amounts)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: return pulled funds to %s: %v", domain.ErrWalletSettlement, owner, err)
	}
	return nil
}

func (s *MarketService) audit(marketID string, legs []domain.Leg) {
	if len(legs) == 0 {
		return
	}
	if err := s.sink.Record(audit.FromLegs(marketID, legs, time.Now())...); err != nil {
		s.logger.Error("audit record failed",
			slog.String("market", marketID),
			slog.Int("legs", len(legs)),
			slog.String("error", err.Error()),
		)
	}
}

// orderInput is what an order consumes at most: quote at the limit price
// for bids, the size in base for asks, the budget for market buys.
func orderInput(cfg domain.MarketConfig, codec domain.Codec, req PlaceOrderRequest, priceTicks, sizeLots int64) (string, decimal.Decimal) {
	switch {
	case req.Type == domain.OrderTypeMarket && req.Side == domain.SideBuy:
		return cfg.QuoteAsset, *req.QuoteAmount
	case req.Side == domain.SideBuy:
		return cfg.QuoteAsset, codec.QuoteAtoms(sizeLots, priceTicks)
	default:
		return cfg.BaseAsset, codec.BaseAtoms(sizeLots)
	}
}

func validateOrder(req PlaceOrderRequest) error {
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: limit, market", req.Type),
		}
	}
	if !accountIDRegex.MatchString(req.Owner) {
		return &domain.ValidationError{Message: "owner must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if req.MinOut.IsNegative() {
		return &domain.ValidationError{Message: "min_out must not be negative"}
	}

	if req.Type == domain.OrderTypeLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return &domain.ValidationError{Message: "price is required for limit orders and must be greater than 0"}
		}
		if req.Size == nil || !req.Size.IsPositive() {
			return &domain.ValidationError{Message: "size is required for limit orders and must be greater than 0"}
		}
		if req.QuoteAmount != nil {
			return &domain.ValidationError{Message: "limit orders must not include quote_amount"}
		}
		return nil
	}

	if req.Price != nil {
		return &domain.ValidationError{Message: "market orders must not include price"}
	}
	if req.PostOnly {
		return &domain.ValidationError{Message: "market orders cannot be post-only"}
	}
	if req.Side == domain.SideBuy {
		if req.QuoteAmount == nil || !req.QuoteAmount.IsPositive() {
			return &domain.ValidationError{Message: "quote_amount is required for market buys and must be greater than 0"}
		}
		if req.Size != nil {
			return &domain.ValidationError{Message: "market buys are sized by quote_amount, not size"}
		}
		return nil
	}
	if req.Size == nil || !req.Size.IsPositive() {
		return &domain.ValidationError{Message: "size is required for market sells and must be greater than 0"}
	}
	if req.QuoteAmount != nil {
		return &domain.ValidationError{Message: "market sells must not include quote_amount"}
	}
	return nil
}
