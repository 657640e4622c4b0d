package matching

import (
	"sync"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/orderbook"
)

// Market is the mutable market snapshot: four price-ordered books
// (bid/ask per outcome), participant balances, a cumulative sequence
// counter and last trade prices. The engine itself holds no state.
// Channel sessions are each single-writer, but several channels may
// trade the same market, so callers take the market mutex around
// engine operations.
type Market struct {
	sync.Mutex

	ID        string
	bids      map[domain.Outcome]*orderbook.Book
	asks      map[domain.Outcome]*orderbook.Book
	Balances  map[string]*domain.Balance // participant address -> balance
	Sequence  uint64
	LastPrice map[domain.Outcome]int64
}

// NewMarket creates an empty binary-outcome market.
func NewMarket(id string) *Market {
	m := &Market{
		ID:        id,
		bids:      make(map[domain.Outcome]*orderbook.Book),
		asks:      make(map[domain.Outcome]*orderbook.Book),
		Balances:  make(map[string]*domain.Balance),
		LastPrice: make(map[domain.Outcome]int64),
	}
	for _, o := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		m.bids[o] = orderbook.NewBook(domain.SideBuy)
		m.asks[o] = orderbook.NewBook(domain.SideSell)
	}
	return m
}

// Register creates or replaces a participant's balance record.
func (m *Market) Register(participant string, cash int64, shares map[domain.Outcome]int64) {
	m.Balances[participant] = domain.NewBalance(cash, shares)
}

// BalanceOf returns a copy of a participant's balance, or nil when the
// participant is unknown.
func (m *Market) BalanceOf(participant string) *domain.Balance {
	b, ok := m.Balances[participant]
	if !ok {
		return nil
	}
	return b.Clone()
}

// book returns the resting side for (outcome, side).
func (m *Market) book(outcome domain.Outcome, side domain.Side) *orderbook.Book {
	if side == domain.SideBuy {
		return m.bids[outcome]
	}
	return m.asks[outcome]
}

// opposite returns the side an incoming order matches against.
func opposite(side domain.Side) domain.Side {
	if side == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}
