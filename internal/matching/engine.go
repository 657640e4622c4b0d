// Package matching implements the deterministic price-time-priority
// matching engine. Match is a pure state transition over an explicit
// market snapshot: concurrency safety is entirely a property of how
// the caller sequences snapshot updates per channel.
package matching

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
)

// PlaceRequest is an order submission after signature checks.
type PlaceRequest struct {
	Participant string
	Outcome     domain.Outcome
	Side        domain.Side
	Kind        domain.OrderKind
	Price       int64 // cents; ignored for market orders
	Quantity    int64
	Nonce       uint64
	ExpiresAt   int64
}

// Engine matches incoming orders against a market snapshot. It holds
// no state of its own.
type Engine struct{}

// NewEngine creates a matching engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Match validates the request against the snapshot, matches it against
// the opposite side, and rests any limit remainder. It rejects before
// any mutation; balances mutate only as a side effect of fills.
func (e *Engine) Match(m *Market, req PlaceRequest) (*domain.Order, []*domain.Fill, error) {
	if err := e.validate(m, req); err != nil {
		return nil, nil, err
	}

	order := e.buildOrder(m, req)
	fills := e.matchLoop(m, order)

	// Post-loop: rest a limit remainder; a market remainder never
	// rests and is dropped.
	switch {
	case order.Remaining == 0:
		order.Status = domain.OrderStatusFilled
	case order.Kind == domain.OrderKindLimit:
		if len(fills) > 0 {
			order.Status = domain.OrderStatusPartial
		} else {
			order.Status = domain.OrderStatusOpen
		}
		m.book(order.Outcome, order.Side).Add(order)
	case len(fills) > 0:
		order.Status = domain.OrderStatusPartial
	default:
		order.Status = domain.OrderStatusCancelled
	}

	m.Sequence++
	return order, fills, nil
}

// validate rejects a bad request before any mutation.
func (e *Engine) validate(m *Market, req PlaceRequest) error {
	bal, ok := m.Balances[req.Participant]
	if !ok {
		return domain.ErrUnknownParticipant
	}
	if req.Outcome != domain.OutcomeYes && req.Outcome != domain.OutcomeNo {
		return errors.Wrapf(domain.ErrValidation, "unknown outcome %q", req.Outcome)
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return errors.Wrapf(domain.ErrValidation, "unknown side %q", req.Side)
	}
	if req.Quantity <= 0 {
		return errors.Wrapf(domain.ErrValidation, "quantity must be positive, got %d", req.Quantity)
	}
	if req.Kind == domain.OrderKindLimit {
		if req.Price < domain.MinLimitPrice || req.Price > domain.MaxLimitPrice {
			return errors.Wrapf(domain.ErrValidation,
				"limit price must be strictly between %d and %d, got %d",
				domain.PriceFloor, domain.PriceCeiling, req.Price)
		}
	}

	if req.Side == domain.SideBuy {
		// Worst-case price for market buys is a full share.
		perShare := req.Price
		if req.Kind == domain.OrderKindMarket {
			perShare = domain.PriceCeiling
		}
		// The cost multiplication must not wrap: a quantity that
		// overflows it exceeds any representable balance.
		if req.Quantity > math.MaxInt64/perShare {
			return errors.Wrapf(domain.ErrInsufficientBalance,
				"cost of %d shares at %d per share exceeds any balance", req.Quantity, perShare)
		}
		if cost := perShare * req.Quantity; bal.Cash < cost {
			return errors.Wrapf(domain.ErrInsufficientBalance,
				"need %d cash, have %d", cost, bal.Cash)
		}
	} else {
		if bal.Shares[req.Outcome] < req.Quantity {
			return errors.Wrapf(domain.ErrInsufficientBalance,
				"need %d %s shares, have %d", req.Quantity, req.Outcome, bal.Shares[req.Outcome])
		}
	}
	return nil
}

// buildOrder constructs the taker order. Market orders become limit
// orders at the extreme valid price so they cross everything
// available, but they are never rested.
func (e *Engine) buildOrder(m *Market, req PlaceRequest) *domain.Order {
	price := req.Price
	if req.Kind == domain.OrderKindMarket {
		if req.Side == domain.SideBuy {
			price = domain.MaxLimitPrice
		} else {
			price = domain.MinLimitPrice
		}
	}
	return &domain.Order{
		ID:        signature.OrderID(req.Participant, m.ID, req.Nonce, req.ExpiresAt),
		Owner:     req.Participant,
		MarketID:  m.ID,
		Outcome:   req.Outcome,
		Side:      req.Side,
		Kind:      req.Kind,
		Price:     price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		Status:    domain.OrderStatusOpen,
		Nonce:     req.Nonce,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now(),
	}
}

// matchLoop consumes the best opposing orders while the taker has
// remaining quantity and the best price is acceptable. Fills always
// execute at the maker's price.
func (e *Engine) matchLoop(m *Market, taker *domain.Order) []*domain.Fill {
	opp := m.book(taker.Outcome, opposite(taker.Side))
	var fills []*domain.Fill

	for taker.Remaining > 0 && opp.HasOrders() {
		bestPrice, _ := opp.BestPrice()
		if taker.Side == domain.SideBuy && taker.Price < bestPrice {
			break
		}
		if taker.Side == domain.SideSell && taker.Price > bestPrice {
			break
		}

		maker := opp.Peek()
		qty := min64(taker.Remaining, maker.Remaining)
		price := maker.Price
		cost := price * qty

		var buyer, seller string
		if taker.Side == domain.SideBuy {
			buyer, seller = taker.Owner, maker.Owner
		} else {
			buyer, seller = maker.Owner, taker.Owner
		}
		buyerBal := m.Balances[buyer]
		sellerBal := m.Balances[seller]

		// Balances are debited at fill time, not reserved at
		// placement, so a maker may no longer be funded. Such a maker
		// is removed from the book and matching continues.
		if !makerFunded(taker.Side, taker.Outcome, buyerBal, sellerBal, qty, cost) {
			opp.Remove(maker.ID)
			maker.Status = domain.OrderStatusCancelled
			continue
		}

		buyerBal.Cash -= cost
		buyerBal.Shares[taker.Outcome] += qty
		sellerBal.Cash += cost
		sellerBal.Shares[taker.Outcome] -= qty

		taker.Remaining -= qty
		opp.Fill(maker, qty)

		fills = append(fills, &domain.Fill{
			ID:           uuid.New().String(),
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			MarketID:     m.ID,
			Outcome:      taker.Outcome,
			Price:        price,
			Quantity:     qty,
			Timestamp:    time.Now(),
		})
		m.LastPrice[taker.Outcome] = price
		m.Sequence++
	}
	return fills
}

// makerFunded checks, before mutation, that the maker side of the fill
// cannot drive a balance negative. The taker side was validated for
// its full quantity at its worst price on entry.
func makerFunded(takerSide domain.Side, outcome domain.Outcome, buyerBal, sellerBal *domain.Balance, qty, cost int64) bool {
	if takerSide == domain.SideBuy {
		// Maker is the seller.
		return sellerBal.Shares[outcome] >= qty
	}
	// Maker is the buyer.
	return buyerBal.Cash >= cost
}

// Cancel removes the matching resting order across all sides if the
// owner matches. Not finding the order is a no-op, never an error, so
// cancellation stays idempotent.
func (e *Engine) Cancel(m *Market, orderID, owner string) *domain.Order {
	for _, outcome := range []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo} {
		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			book := m.book(outcome, side)
			order, ok := book.Get(orderID)
			if !ok || order.Owner != owner {
				continue
			}
			book.Remove(orderID)
			order.Status = domain.OrderStatusCancelled
			m.Sequence++
			return order
		}
	}
	return nil
}

// Summary returns the aggregated L2 projection of one outcome's book.
func (e *Engine) Summary(m *Market, outcome domain.Outcome, depth int) *domain.BookSummary {
	bids := m.book(outcome, domain.SideBuy)
	asks := m.book(outcome, domain.SideSell)

	s := &domain.BookSummary{
		MarketID: m.ID,
		Outcome:  outcome,
		Bids:     bids.Levels(depth),
		Asks:     asks.Levels(depth),
	}
	if best, ok := bids.BestPrice(); ok {
		s.BestBid = &best
	}
	if best, ok := asks.BestPrice(); ok {
		s.BestAsk = &best
	}
	if s.BestBid != nil && s.BestAsk != nil {
		spread := *s.BestAsk - *s.BestBid
		mid := float64(*s.BestAsk+*s.BestBid) / 2
		s.Spread = &spread
		s.MidPrice = &mid
	}
	return s
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
