// Package orderbook implements one price-ordered side of a market's
// book: price levels holding FIFO queues of resting orders, with O(1)
// lookup and cancel by order id.
package orderbook

import (
	"container/list"
	"sort"

	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
)

// entry maps an order to its linked-list element for O(1) cancel.
type entry struct {
	order *domain.Order
	elem  *list.Element
	level *level
}

// level is a single price level: a doubly-linked list of orders at
// this price, consumed head-first (strict FIFO).
type level struct {
	price  int64
	volume int64
	orders *list.List // of *domain.Order
}

// Book is one side (bids or asks) of an outcome's order book.
type Book struct {
	side      domain.Side
	levels    map[int64]*level // price -> level
	entries   map[string]*entry
	bestPrice int64
	hasOrders bool
}

// NewBook creates an empty book side.
func NewBook(side domain.Side) *Book {
	return &Book{
		side:    side,
		levels:  make(map[int64]*level),
		entries: make(map[string]*entry),
	}
}

// Side returns which side of the market this book holds.
func (b *Book) Side() domain.Side { return b.side }

// HasOrders reports whether any order rests on this side.
func (b *Book) HasOrders() bool { return b.hasOrders }

// BestPrice returns the best price on this side: highest for bids,
// lowest for asks. The second return is false when the side is empty.
func (b *Book) BestPrice() (int64, bool) {
	if !b.hasOrders {
		return 0, false
	}
	return b.bestPrice, true
}

// Peek returns the order at the front of the best price level, or nil
// when the side is empty.
func (b *Book) Peek() *domain.Order {
	if !b.hasOrders {
		return nil
	}
	front := b.levels[b.bestPrice].orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*domain.Order)
}

// Add rests an order at the tail of its price level.
func (b *Book) Add(order *domain.Order) {
	lv, ok := b.levels[order.Price]
	if !ok {
		lv = &level{price: order.Price, orders: list.New()}
		b.levels[order.Price] = lv
	}
	lv.volume += order.Remaining
	elem := lv.orders.PushBack(order)
	b.entries[order.ID] = &entry{order: order, elem: elem, level: lv}
	b.refreshBest()
}

// Remove removes an order by id. Returns the order and whether it was
// found.
func (b *Book) Remove(orderID string) (*domain.Order, bool) {
	e, ok := b.entries[orderID]
	if !ok {
		return nil, false
	}
	b.remove(e)
	return e.order, true
}

// Get returns a resting order by id without removing it.
func (b *Book) Get(orderID string) (*domain.Order, bool) {
	e, ok := b.entries[orderID]
	if !ok {
		return nil, false
	}
	return e.order, true
}

// Fill consumes qty from a resting order, keeping level volume in
// sync. A fully consumed order is removed and marked Filled.
func (b *Book) Fill(order *domain.Order, qty int64) {
	e, ok := b.entries[order.ID]
	if !ok {
		return
	}
	order.Remaining -= qty
	e.level.volume -= qty
	if order.Remaining == 0 {
		order.Status = domain.OrderStatusFilled
		b.remove(e)
	} else {
		order.Status = domain.OrderStatusPartial
	}
}

// remove unlinks an entry. Remaining quantity still counted in the
// level volume is released here.
func (b *Book) remove(e *entry) {
	e.level.orders.Remove(e.elem)
	e.level.volume -= e.order.Remaining
	if e.level.orders.Len() == 0 {
		delete(b.levels, e.level.price)
	}
	delete(b.entries, e.order.ID)
	b.refreshBest()
}

// refreshBest recalculates the best price after a mutation.
func (b *Book) refreshBest() {
	if len(b.levels) == 0 {
		b.hasOrders = false
		b.bestPrice = 0
		return
	}
	b.hasOrders = true
	if b.side == domain.SideBuy {
		best := int64(0)
		for price := range b.levels {
			if price > best {
				best = price
			}
		}
		b.bestPrice = best
	} else {
		best := int64(1<<62 - 1)
		for price := range b.levels {
			if price < best {
				best = price
			}
		}
		b.bestPrice = best
	}
}

// Len returns the number of resting orders on this side.
func (b *Book) Len() int { return len(b.entries) }

// Levels returns the aggregated price levels sorted best-first:
// descending for bids, ascending for asks. depth <= 0 returns all.
func (b *Book) Levels(depth int) []domain.PriceLevel {
	prices := make([]int64, 0, len(b.levels))
	for price := range b.levels {
		prices = append(prices, price)
	}
	if b.side == domain.SideBuy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}

	out := make([]domain.PriceLevel, len(prices))
	for i, price := range prices {
		lv := b.levels[price]
		out[i] = domain.PriceLevel{
			Price:      price,
			Quantity:   lv.volume,
			OrderCount: lv.orders.Len(),
		}
	}
	return out
}
