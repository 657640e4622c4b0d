package matching

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

const (
	alice = "0xaaaa000000000000000000000000000000000001"
	bob   = "0xbbbb000000000000000000000000000000000002"
	carol = "0xcccc000000000000000000000000000000000003"
)

var nonceSeq uint64

func testMarket() *Market {
	m := NewMarket("rain-tomorrow")
	m.Register(alice, 100_000, map[domain.Outcome]int64{domain.OutcomeYes: 1_000, domain.OutcomeNo: 1_000})
	m.Register(bob, 100_000, map[domain.Outcome]int64{domain.OutcomeYes: 1_000, domain.OutcomeNo: 1_000})
	m.Register(carol, 100_000, map[domain.Outcome]int64{domain.OutcomeYes: 1_000, domain.OutcomeNo: 1_000})
	return m
}

func limit(owner string, side domain.Side, price, qty int64) PlaceRequest {
	nonceSeq++
	return PlaceRequest{
		Participant: owner,
		Outcome:     domain.OutcomeYes,
		Side:        side,
		Kind:        domain.OrderKindLimit,
		Price:       price,
		Quantity:    qty,
		Nonce:       nonceSeq,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}
}

func market(owner string, side domain.Side, qty int64) PlaceRequest {
	req := limit(owner, side, 0, qty)
	req.Kind = domain.OrderKindMarket
	req.Price = 0
	return req
}

func TestLimitOrderRestsWhenBookEmpty(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	order, fills, err := e.Match(m, limit(alice, domain.SideBuy, 45, 100))
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.Equal(t, int64(100), order.Remaining)

	s := e.Summary(m, domain.OutcomeYes, 5)
	require.NotNil(t, s.BestBid)
	assert.Equal(t, int64(45), *s.BestBid)
}

func TestCrossingOrdersFillAtMakerPrice(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	// Resting ask at 46, taker bid at 48: fill executes at 46.
	_, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 100))
	require.NoError(t, err)

	order, fills, err := e.Match(m, limit(alice, domain.SideBuy, 48, 100))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(46), fills[0].Price)
	assert.Equal(t, int64(100), fills[0].Quantity)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)

	// Buyer paid the maker price, not the limit price.
	aliceBal := m.BalanceOf(alice)
	assert.Equal(t, int64(100_000-46*100), aliceBal.Cash)
	assert.Equal(t, int64(1_100), aliceBal.Shares[domain.OutcomeYes])

	bobBal := m.BalanceOf(bob)
	assert.Equal(t, int64(100_000+46*100), bobBal.Cash)
	assert.Equal(t, int64(900), bobBal.Shares[domain.OutcomeYes])
}

func TestPriceThenTimePriority(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	// Two asks at the same price: the older one fills first.
	first, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 50))
	require.NoError(t, err)
	second, _, err := e.Match(m, limit(carol, domain.SideSell, 46, 50))
	require.NoError(t, err)

	_, fills, err := e.Match(m, limit(alice, domain.SideBuy, 46, 50))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, first.ID, fills[0].MakerOrderID)
	assert.Equal(t, domain.OrderStatusOpen, second.Status)

	// Better-priced ask takes priority over an older worse one.
	_, _, err = e.Match(m, limit(carol, domain.SideSell, 44, 50))
	require.NoError(t, err)
	_, fills, err = e.Match(m, limit(alice, domain.SideBuy, 46, 50))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(44), fills[0].Price)
}

func TestPartialFillRestsRemainder(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	_, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 40))
	require.NoError(t, err)

	order, fills, err := e.Match(m, limit(alice, domain.SideBuy, 46, 100))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(40), fills[0].Quantity)
	assert.Equal(t, domain.OrderStatusPartial, order.Status)
	assert.Equal(t, int64(60), order.Remaining)

	s := e.Summary(m, domain.OutcomeYes, 5)
	require.NotNil(t, s.BestBid)
	assert.Equal(t, int64(46), *s.BestBid)
	require.Len(t, s.Bids, 1)
	assert.Equal(t, int64(60), s.Bids[0].Quantity)
}

func TestMarketOrderSweepsLevels(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	_, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 50))
	require.NoError(t, err)
	_, _, err = e.Match(m, limit(carol, domain.SideSell, 48, 50))
	require.NoError(t, err)

	order, fills, err := e.Match(m, market(alice, domain.SideBuy, 80))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, int64(46), fills[0].Price)
	assert.Equal(t, int64(50), fills[0].Quantity)
	assert.Equal(t, int64(48), fills[1].Price)
	assert.Equal(t, int64(30), fills[1].Quantity)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
}

func TestMarketOrderRemainderNeverRests(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	_, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 30))
	require.NoError(t, err)

	order, fills, err := e.Match(m, market(alice, domain.SideBuy, 100))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.OrderStatusPartial, order.Status)

	// Nothing rested on the bid side.
	s := e.Summary(m, domain.OutcomeYes, 5)
	assert.Nil(t, s.BestBid)
}

func TestMarketOrderNoLiquidityCancelled(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	order, fills, err := e.Match(m, market(alice, domain.SideBuy, 100))
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestValidationRejections(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	_, _, err := e.Match(m, limit("0xdead", domain.SideBuy, 45, 10))
	assert.ErrorIs(t, err, domain.ErrUnknownParticipant)

	req := limit(alice, domain.SideBuy, 45, 10)
	req.Outcome = "maybe"
	_, _, err = e.Match(m, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	req = limit(alice, domain.SideBuy, 45, 0)
	_, _, err = e.Match(m, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Prices 0 and 100 are outside the open interval.
	_, _, err = e.Match(m, limit(alice, domain.SideBuy, 0, 10))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = e.Match(m, limit(alice, domain.SideBuy, 100, 10))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	m := NewMarket("rain-tomorrow")
	m.Register(alice, 100, map[domain.Outcome]int64{domain.OutcomeYes: 5})
	e := NewEngine()

	// Buy cost 45*10 = 450 > 100 cash.
	_, _, err := e.Match(m, limit(alice, domain.SideBuy, 45, 10))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Market buy is costed at the worst case full-share price.
	_, _, err = e.Match(m, market(alice, domain.SideBuy, 2))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Sell of 10 shares with only 5 held.
	_, _, err = e.Match(m, limit(alice, domain.SideSell, 45, 10))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestOverflowingBuyCostRejected(t *testing.T) {
	m := NewMarket("rain-tomorrow")
	m.Register(alice, 1_000, map[domain.Outcome]int64{})
	m.Register(bob, 0, map[domain.Outcome]int64{domain.OutcomeYes: 50})
	e := NewEngine()

	_, _, err := e.Match(m, limit(bob, domain.SideSell, 99, 50))
	require.NoError(t, err)

	// A quantity that wraps the cost multiplication must not slip
	// past the cash check and trade against the resting ask.
	_, fills, err := e.Match(m, limit(alice, domain.SideBuy, 99, 100_000_000_000_000_000))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, fills)
	assert.Equal(t, int64(1_000), m.BalanceOf(alice).Cash)
	assert.Equal(t, int64(0), m.BalanceOf(alice).Shares[domain.OutcomeYes])

	// Market buys are costed at the full-share ceiling and must be
	// guarded the same way.
	_, _, err = e.Match(m, market(alice, domain.SideBuy, math.MaxInt64/2))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(1_000), m.BalanceOf(alice).Cash)
}

func TestUnfundedMakerSkipped(t *testing.T) {
	m := NewMarket("rain-tomorrow")
	m.Register(alice, 100_000, map[domain.Outcome]int64{})
	m.Register(bob, 0, map[domain.Outcome]int64{domain.OutcomeYes: 10})
	m.Register(carol, 0, map[domain.Outcome]int64{domain.OutcomeYes: 10})
	e := NewEngine()

	bobAsk, _, err := e.Match(m, limit(bob, domain.SideSell, 46, 10))
	require.NoError(t, err)
	_, _, err = e.Match(m, limit(carol, domain.SideSell, 47, 10))
	require.NoError(t, err)

	// Bob's shares leave through another market mutation before the
	// resting ask trades.
	m.Balances[bob].Shares[domain.OutcomeYes] = 0

	_, fills, err := e.Match(m, limit(alice, domain.SideBuy, 50, 10))
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(47), fills[0].Price)
	assert.Equal(t, domain.OrderStatusCancelled, bobAsk.Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	order, _, err := e.Match(m, limit(alice, domain.SideBuy, 45, 100))
	require.NoError(t, err)

	cancelled := e.Cancel(m, order.ID, alice)
	require.NotNil(t, cancelled)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	// Second cancel, wrong owner, unknown id: all clean no-ops.
	assert.Nil(t, e.Cancel(m, order.ID, alice))
	assert.Nil(t, e.Cancel(m, "nope", alice))

	order2, _, err := e.Match(m, limit(bob, domain.SideSell, 55, 10))
	require.NoError(t, err)
	assert.Nil(t, e.Cancel(m, order2.ID, alice))
	assert.Equal(t, domain.OrderStatusOpen, order2.Status)
}

func TestBalanceConservation(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	reqs := []PlaceRequest{
		limit(alice, domain.SideBuy, 45, 100),
		limit(bob, domain.SideSell, 44, 60),
		limit(carol, domain.SideSell, 45, 80),
		market(alice, domain.SideBuy, 50),
		limit(bob, domain.SideBuy, 43, 120),
		market(carol, domain.SideSell, 90),
	}
	for _, req := range reqs {
		_, _, err := e.Match(m, req)
		require.NoError(t, err)
	}

	var cash, shares int64
	for _, bal := range m.Balances {
		require.GreaterOrEqual(t, bal.Cash, int64(0))
		cash += bal.Cash
		for _, s := range bal.Shares {
			require.GreaterOrEqual(t, s, int64(0))
			shares += s
		}
	}
	assert.Equal(t, int64(300_000), cash)
	assert.Equal(t, int64(6_000), shares)
}

func TestDeterministicReplay(t *testing.T) {
	run := func() []domain.Fill {
		m := testMarket()
		e := NewEngine()
		reqs := []PlaceRequest{
			{Participant: alice, Outcome: domain.OutcomeYes, Side: domain.SideBuy, Kind: domain.OrderKindLimit, Price: 45, Quantity: 100, Nonce: 1, ExpiresAt: 9999999999},
			{Participant: bob, Outcome: domain.OutcomeYes, Side: domain.SideSell, Kind: domain.OrderKindLimit, Price: 44, Quantity: 60, Nonce: 2, ExpiresAt: 9999999999},
			{Participant: carol, Outcome: domain.OutcomeYes, Side: domain.SideSell, Kind: domain.OrderKindLimit, Price: 45, Quantity: 80, Nonce: 3, ExpiresAt: 9999999999},
		}
		var out []domain.Fill
		for _, req := range reqs {
			_, fills, err := e.Match(m, req)
			require.NoError(t, err)
			for _, f := range fills {
				out = append(out, domain.Fill{
					MakerOrderID: f.MakerOrderID,
					TakerOrderID: f.TakerOrderID,
					Price:        f.Price,
					Quantity:     f.Quantity,
				})
			}
		}
		return out
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

func TestSummarySpreadAndMid(t *testing.T) {
	m := testMarket()
	e := NewEngine()

	s := e.Summary(m, domain.OutcomeYes, 5)
	assert.Nil(t, s.BestBid)
	assert.Nil(t, s.BestAsk)
	assert.Nil(t, s.Spread)
	assert.Nil(t, s.MidPrice)

	_, _, err := e.Match(m, limit(alice, domain.SideBuy, 44, 10))
	require.NoError(t, err)
	_, _, err = e.Match(m, limit(bob, domain.SideSell, 48, 10))
	require.NoError(t, err)

	s = e.Summary(m, domain.OutcomeYes, 5)
	require.NotNil(t, s.Spread)
	require.NotNil(t, s.MidPrice)
	assert.Equal(t, int64(4), *s.Spread)
	assert.Equal(t, float64(46), *s.MidPrice)
}
