package engine

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/ledger"
)

// Ledger is the balance store a Matcher settles against.
type Ledger interface {
	ledger.Reader
	Apply(legs []domain.Leg) error
}

// Execution is the committed result of one order operation.
type Execution struct {
	// Order is the taker order after matching, or the cancelled order.
	Order  domain.Order
	Fills  []*domain.Fill
	Makers []domain.Order // resting orders touched, in their final state
	Legs   []domain.Leg
	// BaseOut and QuoteOut are what the taker received net of fees.
	BaseOut  decimal.Decimal
	QuoteOut decimal.Decimal
}

// LiquidityChange is the committed result of a vault deposit or withdrawal.
type LiquidityChange struct {
	Shares decimal.Decimal
	Base   decimal.Decimal
	Quote  decimal.Decimal
	Pool   Pool
	Legs   []domain.Leg
}

// Matcher is the matching engine of one market: the order book, the vault
// and the settlement of both against the ledger. Every exported mutating
// method is one atomic unit. Matcher is not safe for concurrent use; callers
// serialize units and reads.
type Matcher struct {
	cfg    domain.MarketConfig
	codec  domain.Codec
	ledger Ledger
	book   *OrderBook
	vault  *Vault
	nextID uint64
	hook   ledger.Hook

	matching guard
	reserves guard
}

// NewMatcher creates the engine of one market. cfg must be valid.
func NewMatcher(cfg domain.MarketConfig, l Ledger) *Matcher {
	return &Matcher{
		cfg:      cfg,
		codec:    domain.NewCodec(cfg),
		ledger:   l,
		book:     NewOrderBook(cfg.ID),
		vault:    newVault(cfg, "vault:"+VaultAddress(cfg)),
		matching: guard{name: "matching"},
		reserves: guard{name: "reserves"},
	}
}

// Config returns the immutable market configuration.
func (m *Matcher) Config() domain.MarketConfig { return m.cfg }

// Codec returns the price/size codec of the market.
func (m *Matcher) Codec() domain.Codec { return m.codec }

// Book returns the order book handle.
func (m *Matcher) Book() *OrderBook { return m.book }

// Vault returns the vault handle.
func (m *Matcher) Vault() *Vault { return m.vault }

// SetCreditHook installs a callback run on every credit the engine stages,
// before the unit commits. An error from the hook fails the unit.
func (m *Matcher) SetCreditHook(h ledger.Hook) {
	m.hook = h
}

// taker is the incoming side of a matching pass.
type taker struct {
	order *domain.Order
	limit int64 // 0 for market orders
	// Market buys spend a quote budget instead of a lot count.
	byQuote bool
	budget  decimal.Decimal

	baseOut  decimal.Decimal
	quoteOut decimal.Decimal
}

func (t *taker) fill(lots int64) {
	if t.byQuote {
		t.order.SizeLots += lots
		t.order.FilledLots += lots
		t.order.Status = domain.OrderStatusFilled
		return
	}
	t.order.ApplyFill(lots)
}

// AddBuyOrder places a limit bid. See PlaceLimit.
func (m *Matcher) AddBuyOrder(owner string, priceTicks, sizeLots int64, postOnly bool) (*Execution, error) {
	return m.PlaceLimit(owner, domain.SideBuy, priceTicks, sizeLots, postOnly)
}

// AddSellOrder places a limit ask. See PlaceLimit.
func (m *Matcher) AddSellOrder(owner string, priceTicks, sizeLots int64, postOnly bool) (*Execution, error) {
	return m.PlaceLimit(owner, domain.SideSell, priceTicks, sizeLots, postOnly)
}

// PlaceLimit matches a limit order against the book and the vault while it
// crosses, then rests the remainder at its price with its funds moved to the
// book escrow. A post-only order that would cross fails instead.
func (m *Matcher) PlaceLimit(owner string, side domain.Side, priceTicks, sizeLots int64, postOnly bool) (*Execution, error) {
	if err := m.validateLimit(priceTicks, sizeLots); err != nil {
		return nil, err
	}

	var exec *Execution
	u, err := m.atomically(&m.matching, &m.reserves, func(u *unit) error {
		if postOnly {
			if best := m.bestLevel(side.Opposite()); best != nil && crosses(side, priceTicks, best.PriceTicks) {
				return fmt.Errorf("%w: best opposite price %d", domain.ErrPostOnlyWouldCross, best.PriceTicks)
			}
		}

		order := m.newOrder(u, owner, domain.OrderTypeLimit, side, priceTicks, sizeLots)
		order.PostOnly = postOnly
		t := &taker{order: &order, limit: priceTicks}
		if err := m.match(u, t); err != nil {
			return err
		}

		if order.RemainingLots > 0 {
			asset, amount := m.escrowFor(side, priceTicks, order.RemainingLots)
			ref := orderRef(order.ID)
			if err := u.journal.Transfer(owner, m.cfg.EscrowAccount(), asset, amount, domain.ReasonEscrow, ref); err != nil {
				return err
			}
			order.Escrow = amount
			m.book.Insert(order)
		}
		exec = m.execution(u, order, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	exec.Legs = u.journal.Legs()
	return exec, nil
}

// MarketBuy spends up to quoteToSpend quote atoms on the best asks of the
// book and the vault, buying at most MaxSize lots; the rest of the budget is
// not spent. It fails with ErrSize if fewer than MinSize lots fill and with
// ErrSlippage if the base received net of fees is below minBaseOut.
func (m *Matcher) MarketBuy(owner string, quoteToSpend, minBaseOut decimal.Decimal) (*Execution, error) {
	if quoteToSpend.Sign() <= 0 || !quoteToSpend.IsInteger() {
		return nil, fmt.Errorf("%w: quote amount must be a positive whole number of atoms", domain.ErrInvalidAmount)
	}

	var exec *Execution
	u, err := m.atomically(&m.matching, &m.reserves, func(u *unit) error {
		if m.bestLevel(domain.SideSell) == nil {
			return domain.ErrNoLiquidity
		}
		if bal := u.journal.BalanceOf(owner, m.cfg.QuoteAsset); bal.LessThan(quoteToSpend) {
			return fmt.Errorf("%s has %s %s, needs %s: %w", owner, bal, m.cfg.QuoteAsset, quoteToSpend, domain.ErrInsufficientBalance)
		}

		order := m.newOrder(u, owner, domain.OrderTypeMarket, domain.SideBuy, 0, 0)
		t := &taker{order: &order, byQuote: true, budget: quoteToSpend}
		if err := m.match(u, t); err != nil {
			return err
		}
		if order.FilledLots < m.cfg.MinSize {
			return fmt.Errorf("%w: %s %s buys %d lots, minimum %d", domain.ErrSize, quoteToSpend, m.cfg.QuoteAsset, order.FilledLots, m.cfg.MinSize)
		}
		if t.baseOut.LessThan(minBaseOut) {
			return fmt.Errorf("%w: received %s %s, minimum %s", domain.ErrSlippage, t.baseOut, m.cfg.BaseAsset, minBaseOut)
		}
		exec = m.execution(u, order, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	exec.Legs = u.journal.Legs()
	return exec, nil
}

// MarketSell sells sizeLots into the best bids of the book and the vault.
// Any unfilled remainder is discarded. It fails with ErrSlippage if the quote
// received net of fees is below minQuoteOut.
func (m *Matcher) MarketSell(owner string, sizeLots int64, minQuoteOut decimal.Decimal) (*Execution, error) {
	if sizeLots < m.cfg.MinSize || sizeLots > m.cfg.MaxSize {
		return nil, fmt.Errorf("%w: %d lots outside [%d, %d]", domain.ErrSize, sizeLots, m.cfg.MinSize, m.cfg.MaxSize)
	}

	var exec *Execution
	u, err := m.atomically(&m.matching, &m.reserves, func(u *unit) error {
		if m.bestLevel(domain.SideBuy) == nil {
			return domain.ErrNoLiquidity
		}
		need := m.codec.BaseAtoms(sizeLots)
		if bal := u.journal.BalanceOf(owner, m.cfg.BaseAsset); bal.LessThan(need) {
			return fmt.Errorf("%s has %s %s, needs %s: %w", owner, bal, m.cfg.BaseAsset, need, domain.ErrInsufficientBalance)
		}

		order := m.newOrder(u, owner, domain.OrderTypeMarket, domain.SideSell, 0, sizeLots)
		t := &taker{order: &order}
		if err := m.match(u, t); err != nil {
			return err
		}
		if order.RemainingLots > 0 {
			order.Status = domain.OrderStatusCancelled
		}
		if t.quoteOut.LessThan(minQuoteOut) {
			return fmt.Errorf("%w: received %s %s, minimum %s", domain.ErrSlippage, t.quoteOut, m.cfg.QuoteAsset, minQuoteOut)
		}
		exec = m.execution(u, order, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	exec.Legs = u.journal.Legs()
	return exec, nil
}

// CancelOrder removes a resting order and refunds what is left of its escrow.
func (m *Matcher) CancelOrder(owner string, orderID uint64) (*Execution, error) {
	var exec *Execution
	u, err := m.atomically(&m.matching, &m.reserves, func(u *unit) error {
		order, ok := m.book.Get(orderID)
		if !ok {
			return domain.ErrOrderNotFound
		}
		if order.Owner != owner {
			return domain.ErrNotOrderOwner
		}
		m.book.Remove(orderID)

		asset, _ := m.escrowFor(order.Side, order.PriceTicks, 0)
		if err := u.journal.Transfer(m.cfg.EscrowAccount(), owner, asset, order.Escrow, domain.ReasonRefund, orderRef(order.ID)); err != nil {
			return err
		}
		order.Escrow = decimal.Zero
		order.Status = domain.OrderStatusCancelled
		exec = &Execution{Order: order, BaseOut: decimal.Zero, QuoteOut: decimal.Zero}
		return nil
	})
	if err != nil {
		return nil, err
	}
	exec.Legs = u.journal.Legs()
	return exec, nil
}

// DepositVault adds liquidity to the vault and mints shares to owner. The
// first deposit sets the vault price from the deposited ratio and fails with
// ErrCrossedInitialization if the resulting quotes would cross the resting
// book. Later deposits take only the amounts matching the current ratio.
func (m *Matcher) DepositVault(owner string, base, quote decimal.Decimal) (*LiquidityChange, error) {
	if !positiveAtoms(base) || !positiveAtoms(quote) {
		return nil, fmt.Errorf("%w: vault deposits need positive whole numbers of atoms of both assets", domain.ErrInvalidAmount)
	}

	var change *LiquidityChange
	u, err := m.atomically(&m.reserves, &m.matching, func(u *unit) error {
		var shares, baseUsed, quoteUsed decimal.Decimal
		if !m.vault.Initialized() {
			var err error
			if shares, err = m.vault.initialize(base, quote); err != nil {
				return err
			}
			if err := m.checkInitialization(); err != nil {
				return err
			}
			baseUsed, quoteUsed = base, quote
		} else {
			var err error
			if shares, baseUsed, quoteUsed, err = m.vault.addLiquidity(base, quote); err != nil {
				return err
			}
		}

		ref := uuid.NewString()
		va := m.vault.account
		if err := u.journal.Transfer(owner, va, m.cfg.BaseAsset, baseUsed, domain.ReasonVaultDeposit, ref); err != nil {
			return err
		}
		if err := u.journal.Transfer(owner, va, m.cfg.QuoteAsset, quoteUsed, domain.ReasonVaultDeposit, ref); err != nil {
			return err
		}
		if err := u.journal.Credit(owner, m.cfg.ShareAsset(), shares, domain.ReasonShareMint, ref); err != nil {
			return err
		}
		change = &LiquidityChange{Shares: shares, Base: baseUsed, Quote: quoteUsed, Pool: m.vault.pool}
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Legs = u.journal.Legs()
	return change, nil
}

// WithdrawVault burns owner's shares for their pro-rata reserves. The
// remaining quotes are re-derived and must not cross the book.
func (m *Matcher) WithdrawVault(owner string, shares decimal.Decimal) (*LiquidityChange, error) {
	if !positiveAtoms(shares) {
		return nil, fmt.Errorf("%w: shares must be a positive whole number", domain.ErrInvalidAmount)
	}

	var change *LiquidityChange
	u, err := m.atomically(&m.reserves, &m.matching, func(u *unit) error {
		if !m.vault.Initialized() {
			return domain.ErrVaultNotInitialized
		}
		ref := uuid.NewString()
		if err := u.journal.Debit(owner, m.cfg.ShareAsset(), shares, domain.ReasonShareBurn, ref); err != nil {
			return err
		}
		baseOut, quoteOut, err := m.vault.removeLiquidity(shares)
		if err != nil {
			return err
		}
		va := m.vault.account
		if err := u.journal.Transfer(va, owner, m.cfg.BaseAsset, baseOut, domain.ReasonVaultWithdraw, ref); err != nil {
			return err
		}
		if err := u.journal.Transfer(va, owner, m.cfg.QuoteAsset, quoteOut, domain.ReasonVaultWithdraw, ref); err != nil {
			return err
		}
		change = &LiquidityChange{Shares: shares, Base: baseOut, Quote: quoteOut, Pool: m.vault.pool}
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Legs = u.journal.Legs()
	return change, nil
}

// match runs the matching loop for t. Each step takes the better of the
// book's best opposite order and the vault's quote, the book winning ties,
// and stops when the taker is exhausted, nothing crosses its limit, or no
// liquidity is left.
func (m *Matcher) match(u *unit, t *taker) error {
	makerSide := t.order.Side.Opposite()
	for t.byQuote || t.order.RemainingLots > 0 {
		entry, bookOK := m.book.Best(makerSide)
		vq, vaultOK := m.vault.Quote(makerSide)
		useVault := vaultOK && (!bookOK || better(makerSide, vq.PriceTicks, entry.PriceTicks))

		var price, available int64
		switch {
		case useVault:
			price, available = vq.PriceTicks, vq.Lots
		case bookOK:
			price, available = entry.PriceTicks, entry.Order.RemainingLots
		default:
			return nil
		}
		if !crosses(t.order.Side, t.limit, price) {
			return nil
		}

		lots := available
		if t.byQuote {
			// A budget larger than MaxSize buys stops at the cap.
			lots = min(lots, m.codec.LotsForQuote(t.budget, price), m.cfg.MaxSize-t.order.FilledLots)
		} else {
			lots = min(lots, t.order.RemainingLots)
		}
		// A step that costs no quote atoms after rounding cannot settle.
		if lots <= 0 || m.codec.QuoteAtoms(lots, price).IsZero() {
			return nil
		}

		var err error
		if useVault {
			err = m.fillVault(u, t, price, lots)
		} else {
			err = m.fillBook(u, t, entry.Order, lots)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fillBook executes lots between the taker and a resting order at the
// resting price. The maker side is paid out of the book escrow.
func (m *Matcher) fillBook(u *unit, t *taker, maker domain.Order, lots int64) error {
	price := maker.PriceTicks
	base := m.codec.BaseAtoms(lots)
	quote := m.codec.QuoteAtoms(lots, price)
	fill := m.newFill(u, t, price, lots, base, quote)
	fill.Maker = maker.Owner
	fill.MakerOrderID = maker.ID
	escrow := m.cfg.EscrowAccount()

	var err error
	if t.order.Side == domain.SideBuy {
		fill.TakerFee = domain.FeeOf(base, m.cfg.TakerFeeBps)
		fill.MakerFee = domain.FeeOf(quote, m.cfg.MakerFeeBps)
		if err = m.pay(u, t.order.Owner, maker.Owner, m.cfg.QuoteAsset, quote, fill.MakerFee, fill.FillID); err == nil {
			err = m.pay(u, escrow, t.order.Owner, m.cfg.BaseAsset, base, fill.TakerFee, fill.FillID)
		}
		maker.Escrow = maker.Escrow.Sub(base)
		t.baseOut = t.baseOut.Add(base.Sub(fill.TakerFee))
		t.budget = t.budget.Sub(quote)
	} else {
		fill.TakerFee = domain.FeeOf(quote, m.cfg.TakerFeeBps)
		fill.MakerFee = domain.FeeOf(base, m.cfg.MakerFeeBps)
		if err = m.pay(u, t.order.Owner, maker.Owner, m.cfg.BaseAsset, base, fill.MakerFee, fill.FillID); err == nil {
			err = m.pay(u, escrow, t.order.Owner, m.cfg.QuoteAsset, quote, fill.TakerFee, fill.FillID)
		}
		maker.Escrow = maker.Escrow.Sub(quote)
		t.quoteOut = t.quoteOut.Add(quote.Sub(fill.TakerFee))
	}
	if err != nil {
		return err
	}

	maker.ApplyFill(lots)
	if maker.RemainingLots == 0 {
		// Rounding leaves dust in escrow for bids; hand it back.
		asset, _ := m.escrowFor(maker.Side, maker.PriceTicks, 0)
		if err := u.journal.Transfer(escrow, maker.Owner, asset, maker.Escrow, domain.ReasonRefund, orderRef(maker.ID)); err != nil {
			return err
		}
		maker.Escrow = decimal.Zero
		m.book.Remove(maker.ID)
	} else {
		m.book.Update(maker)
	}
	u.recordMaker(maker)
	t.fill(lots)
	u.fills = append(u.fills, fill)
	return nil
}

// fillVault executes lots between the taker and the vault at the vault's
// quote and moves the reserves, so the next quote walks with the depth taken.
func (m *Matcher) fillVault(u *unit, t *taker, price, lots int64) error {
	base := m.codec.BaseAtoms(lots)
	quote := m.codec.QuoteAtoms(lots, price)
	fill := m.newFill(u, t, price, lots, base, quote)
	fill.Maker = domain.VaultAccount
	fill.MakerFee = decimal.Zero
	va := m.vault.account

	if t.order.Side == domain.SideBuy {
		fill.TakerFee = domain.FeeOf(base, m.cfg.TakerFeeBps)
		if err := m.pay(u, t.order.Owner, va, m.cfg.QuoteAsset, quote, decimal.Zero, fill.FillID); err != nil {
			return err
		}
		if err := m.pay(u, va, t.order.Owner, m.cfg.BaseAsset, base, fill.TakerFee, fill.FillID); err != nil {
			return err
		}
		m.vault.applyFill(domain.SideSell, base, quote)
		t.baseOut = t.baseOut.Add(base.Sub(fill.TakerFee))
		t.budget = t.budget.Sub(quote)
	} else {
		fill.TakerFee = domain.FeeOf(quote, m.cfg.TakerFeeBps)
		if err := m.pay(u, t.order.Owner, va, m.cfg.BaseAsset, base, decimal.Zero, fill.FillID); err != nil {
			return err
		}
		if err := m.pay(u, va, t.order.Owner, m.cfg.QuoteAsset, quote, fill.TakerFee, fill.FillID); err != nil {
			return err
		}
		m.vault.applyFill(domain.SideBuy, base, quote)
		t.quoteOut = t.quoteOut.Add(quote.Sub(fill.TakerFee))
	}
	t.fill(lots)
	u.fills = append(u.fills, fill)
	return nil
}

// pay moves amount of asset from one account to another, routing fee of it
// to the fee collector instead of the recipient.
func (m *Matcher) pay(u *unit, from, to, asset string, amount, fee decimal.Decimal, ref string) error {
	if err := u.journal.Debit(from, asset, amount, domain.ReasonSettlement, ref); err != nil {
		return err
	}
	if err := u.journal.Credit(to, asset, amount.Sub(fee), domain.ReasonSettlement, ref); err != nil {
		return err
	}
	return u.journal.Credit(m.cfg.FeeCollector, asset, fee, domain.ReasonFee, ref)
}

// checkInitialization rejects a first deposit whose quotes would cross the
// resting book.
func (m *Matcher) checkInitialization() error {
	if ask, ok := m.vault.Quote(domain.SideSell); ok {
		if bid, ok := m.book.BestBid(); ok && ask.PriceTicks <= bid.PriceTicks {
			return fmt.Errorf("%w: vault ask %d <= book bid %d", domain.ErrCrossedInitialization, ask.PriceTicks, bid.PriceTicks)
		}
	}
	if bid, ok := m.vault.Quote(domain.SideBuy); ok {
		if ask, ok := m.book.BestAsk(); ok && bid.PriceTicks >= ask.PriceTicks {
			return fmt.Errorf("%w: vault bid %d >= book ask %d", domain.ErrCrossedInitialization, bid.PriceTicks, ask.PriceTicks)
		}
	}
	return nil
}

func (m *Matcher) validateLimit(priceTicks, sizeLots int64) error {
	if priceTicks <= 0 {
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidPrice)
	}
	if priceTicks%m.cfg.TickSize != 0 {
		return fmt.Errorf("%w: %d is not a multiple of tick size %d", domain.ErrTickAlignment, priceTicks, m.cfg.TickSize)
	}
	if sizeLots < m.cfg.MinSize || sizeLots > m.cfg.MaxSize {
		return fmt.Errorf("%w: %d lots outside [%d, %d]", domain.ErrSize, sizeLots, m.cfg.MinSize, m.cfg.MaxSize)
	}
	return nil
}

// escrowFor returns the asset and amount a resting order of lots holds:
// quote at its price for bids, base for asks.
func (m *Matcher) escrowFor(side domain.Side, priceTicks, lots int64) (string, decimal.Decimal) {
	if side == domain.SideBuy {
		return m.cfg.QuoteAsset, m.codec.QuoteAtoms(lots, priceTicks)
	}
	return m.cfg.BaseAsset, m.codec.BaseAtoms(lots)
}

func (m *Matcher) newOrder(u *unit, owner string, typ domain.OrderType, side domain.Side, priceTicks, sizeLots int64) domain.Order {
	m.nextID++
	return domain.Order{
		ID:            m.nextID,
		MarketID:      m.cfg.ID,
		Type:          typ,
		Owner:         owner,
		Side:          side,
		PriceTicks:    priceTicks,
		SizeLots:      sizeLots,
		RemainingLots: sizeLots,
		Status:        domain.OrderStatusOpen,
		Escrow:        decimal.Zero,
		CreatedAt:     u.now,
	}
}

func (m *Matcher) newFill(u *unit, t *taker, price, lots int64, base, quote decimal.Decimal) *domain.Fill {
	return &domain.Fill{
		FillID:       uuid.NewString(),
		MarketID:     m.cfg.ID,
		TakerOrderID: t.order.ID,
		Taker:        t.order.Owner,
		TakerSide:    t.order.Side,
		PriceTicks:   price,
		SizeLots:     lots,
		BaseAmount:   base,
		QuoteAmount:  quote,
		ExecutedAt:   u.now,
	}
}

func (m *Matcher) execution(u *unit, order domain.Order, t *taker) *Execution {
	return &Execution{
		Order:    order,
		Fills:    u.fills,
		Makers:   u.makers,
		BaseOut:  t.baseOut,
		QuoteOut: t.quoteOut,
	}
}

func orderRef(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func positiveAtoms(d decimal.Decimal) bool {
	return d.Sign() > 0 && d.IsInteger()
}
