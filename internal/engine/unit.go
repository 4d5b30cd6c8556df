package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/ledger"
)

// guard is a reentrancy lock for one critical section.
type guard struct {
	name string
	held atomic.Bool
}

func (g *guard) enter() error {
	if !g.held.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s already in progress", domain.ErrReentrancy, g.name)
	}
	return nil
}

func (g *guard) exit() {
	g.held.Store(false)
}

// unit is one atomic call into the engine. It carries the snapshot needed to
// undo every mutation and the journal of ledger legs committed at the end.
type unit struct {
	journal *ledger.Journal
	now     time.Time

	book   *OrderBook
	pool   Pool
	nextID uint64

	fills  []*domain.Fill
	makers []domain.Order
}

// recordMaker keeps the latest state of a resting order touched by the unit.
func (u *unit) recordMaker(o domain.Order) {
	for i := range u.makers {
		if u.makers[i].ID == o.ID {
			u.makers[i] = o
			return
		}
	}
	u.makers = append(u.makers, o)
}

// atomically runs fn as one unit holding both critical sections, first then
// second. On success the staged legs are applied to the ledger as one batch;
// on any failure the book, the pool and the id counter are restored and
// nothing reaches the ledger.
func (m *Matcher) atomically(first, second *guard, fn func(u *unit) error) (*unit, error) {
	if err := first.enter(); err != nil {
		return nil, err
	}
	defer first.exit()
	if err := second.enter(); err != nil {
		return nil, err
	}
	defer second.exit()

	u := &unit{
		journal: ledger.NewJournal(m.ledger, m.hook),
		now:     time.Now(),
		book:    m.book.Clone(),
		pool:    m.vault.pool,
		nextID:  m.nextID,
	}

	err := fn(u)
	if err == nil {
		err = m.checkNotCrossed()
	}
	if err == nil {
		err = m.ledger.Apply(u.journal.Legs())
	}
	if err != nil {
		m.book.restore(u.book)
		m.vault.pool = u.pool
		m.nextID = u.nextID
		return nil, err
	}
	return u, nil
}

// checkNotCrossed fails if the consolidated best bid is not strictly below
// the consolidated best ask.
func (m *Matcher) checkNotCrossed() error {
	q := m.BestBidAsk()
	if q.Bid != nil && q.Ask != nil && q.Bid.PriceTicks >= q.Ask.PriceTicks {
		return fmt.Errorf("%w: bid %d (vault=%v) >= ask %d (vault=%v)",
			domain.ErrCrossedMarket, q.Bid.PriceTicks, q.Bid.FromVault, q.Ask.PriceTicks, q.Ask.FromVault)
	}
	return nil
}
