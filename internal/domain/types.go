package domain

import "time"

// Outcome identifies which token of a binary market an order trades.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Side represents the order side (buy or sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind distinguishes limit orders from market orders.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "limit"
	OrderKindMarket OrderKind = "market"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Prices are integer cents. Valid limit prices sit strictly inside
// (PriceFloor, PriceCeiling); a share settles at PriceCeiling, so the
// worst-case collateral for a market buy is PriceCeiling per share.
const (
	PriceFloor   int64 = 0
	PriceCeiling int64 = 100
)

// MinLimitPrice and MaxLimitPrice are the tightest valid limit prices.
const (
	MinLimitPrice int64 = PriceFloor + 1
	MaxLimitPrice int64 = PriceCeiling - 1
)

// Order is a resting or incoming order. It is owned by the market
// snapshot until fully filled or cancelled.
type Order struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"` // participant address, 0x hex
	MarketID  string      `json:"market_id"`
	Outcome   Outcome     `json:"outcome"`
	Side      Side        `json:"side"`
	Kind      OrderKind   `json:"kind"`
	Price     int64       `json:"price"` // cents
	Quantity  int64       `json:"quantity"`
	Remaining int64       `json:"remaining"`
	Status    OrderStatus `json:"status"`
	Nonce     uint64      `json:"nonce"`
	ExpiresAt int64       `json:"expires_at"` // unix seconds
	CreatedAt time.Time   `json:"created_at"`
}

// Fill is an executed trade between a maker and a taker order.
// Immutable once created.
type Fill struct {
	ID           string    `json:"id"`
	MakerOrderID string    `json:"maker_order_id"`
	TakerOrderID string    `json:"taker_order_id"`
	MarketID     string    `json:"market_id"`
	Outcome      Outcome   `json:"outcome"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

// Balance tracks a participant's cash and per-outcome token holdings.
// All amounts are non-negative at every observable point; only the
// matching engine mutates balances, as a side effect of a fill.
type Balance struct {
	Cash   int64             `json:"cash"` // cents
	Shares map[Outcome]int64 `json:"shares"`
}

// NewBalance creates a balance record with the given cash and share
// holdings.
func NewBalance(cash int64, shares map[Outcome]int64) *Balance {
	s := make(map[Outcome]int64, len(shares))
	for k, v := range shares {
		s[k] = v
	}
	return &Balance{Cash: cash, Shares: s}
}

// Clone returns a deep copy of the balance.
func (b *Balance) Clone() *Balance {
	return NewBalance(b.Cash, b.Shares)
}

// PriceLevel is an aggregated level in the L2 book projection.
type PriceLevel struct {
	Price      int64 `json:"price"`
	Quantity   int64 `json:"quantity"`
	OrderCount int   `json:"order_count"`
}

// BookSummary is the read-only aggregated projection of one outcome's
// book. Best/spread/mid are nil when the corresponding side is empty.
type BookSummary struct {
	MarketID string       `json:"market_id"`
	Outcome  Outcome      `json:"outcome"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
	BestBid  *int64       `json:"best_bid"`
	BestAsk  *int64       `json:"best_ask"`
	Spread   *int64       `json:"spread"`
	MidPrice *float64     `json:"mid_price"`
}
