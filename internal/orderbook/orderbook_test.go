package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

func newOrder(id string, side domain.Side, price, qty int64) *domain.Order {
	return &domain.Order{
		ID:        id,
		Owner:     "0xaaaa",
		MarketID:  "rain-tomorrow",
		Outcome:   domain.OutcomeYes,
		Side:      side,
		Kind:      domain.OrderKindLimit,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Status:    domain.OrderStatusOpen,
	}
}

func TestAddAndBestPrice(t *testing.T) {
	b := NewBook(domain.SideSell)

	b.Add(newOrder("s1", domain.SideSell, 45, 100))

	assert.True(t, b.HasOrders())
	best, ok := b.BestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(45), best)

	levels := b.Levels(5)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(45), levels[0].Price)
	assert.Equal(t, int64(100), levels[0].Quantity)
}

func TestLevelsAggregateSamePrice(t *testing.T) {
	b := NewBook(domain.SideSell)

	b.Add(newOrder("s1", domain.SideSell, 45, 60))
	b.Add(newOrder("s2", domain.SideSell, 45, 40))

	levels := b.Levels(5)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(100), levels[0].Quantity)
	assert.Equal(t, 2, levels[0].OrderCount)
}

func TestBestPriceBySide(t *testing.T) {
	bids := NewBook(domain.SideBuy)
	bids.Add(newOrder("b1", domain.SideBuy, 40, 10))
	bids.Add(newOrder("b2", domain.SideBuy, 44, 10))
	bids.Add(newOrder("b3", domain.SideBuy, 38, 10))

	// Best bid is the highest buy price.
	best, ok := bids.BestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(44), best)

	asks := NewBook(domain.SideSell)
	asks.Add(newOrder("s1", domain.SideSell, 46, 10))
	asks.Add(newOrder("s2", domain.SideSell, 51, 10))

	// Best ask is the lowest sell price.
	best, ok = asks.BestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(46), best)
}

func TestPeekFIFOWithinLevel(t *testing.T) {
	b := NewBook(domain.SideSell)
	b.Add(newOrder("s1", domain.SideSell, 45, 10))
	b.Add(newOrder("s2", domain.SideSell, 45, 20))

	front := b.Peek()
	require.NotNil(t, front)
	assert.Equal(t, "s1", front.ID)

	_, found := b.Remove("s1")
	require.True(t, found)

	front = b.Peek()
	require.NotNil(t, front)
	assert.Equal(t, "s2", front.ID)
}

func TestFillPartialAndComplete(t *testing.T) {
	b := NewBook(domain.SideSell)
	order := newOrder("s1", domain.SideSell, 45, 100)
	b.Add(order)

	b.Fill(order, 30)
	assert.Equal(t, int64(70), order.Remaining)
	assert.Equal(t, domain.OrderStatusPartial, order.Status)

	levels := b.Levels(1)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(70), levels[0].Quantity)

	b.Fill(order, 70)
	assert.Equal(t, int64(0), order.Remaining)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.False(t, b.HasOrders())
	assert.Equal(t, 0, b.Len())
}

func TestRemoveUpdatesBest(t *testing.T) {
	b := NewBook(domain.SideBuy)
	b.Add(newOrder("b1", domain.SideBuy, 44, 10))
	b.Add(newOrder("b2", domain.SideBuy, 40, 10))

	removed, found := b.Remove("b1")
	require.True(t, found)
	assert.Equal(t, "b1", removed.ID)

	best, ok := b.BestPrice()
	require.True(t, ok)
	assert.Equal(t, int64(40), best)

	_, found = b.Remove("b1")
	assert.False(t, found)
}

func TestLevelsDepthAndOrdering(t *testing.T) {
	b := NewBook(domain.SideBuy)
	b.Add(newOrder("b1", domain.SideBuy, 40, 10))
	b.Add(newOrder("b2", domain.SideBuy, 44, 10))
	b.Add(newOrder("b3", domain.SideBuy, 42, 10))

	levels := b.Levels(2)
	require.Len(t, levels, 2)
	assert.Equal(t, int64(44), levels[0].Price)
	assert.Equal(t, int64(42), levels[1].Price)
}

func TestEmptyBook(t *testing.T) {
	b := NewBook(domain.SideSell)

	assert.False(t, b.HasOrders())
	_, ok := b.BestPrice()
	assert.False(t, ok)
	assert.Nil(t, b.Peek())
	assert.Empty(t, b.Levels(10))
}
