package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Order is a limit or market instruction. Prices are integer ticks and sizes
// integer lots; the codec converts them to real values and token atoms.
type Order struct {
	ID            uint64
	MarketID      string
	Type          OrderType
	Owner         string
	Side          Side
	PriceTicks    int64 // 0 for market orders
	SizeLots      int64
	RemainingLots int64
	FilledLots    int64
	PostOnly      bool
	Status        OrderStatus
	// Escrow is what a resting order still holds in the book escrow account:
	// quote atoms for bids, base atoms for asks.
	Escrow    decimal.Decimal
	CreatedAt time.Time
}

// Resting reports whether the order can still be matched as a maker.
func (o *Order) Resting() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

// ApplyFill reduces the remaining size and moves the status forward.
func (o *Order) ApplyFill(lots int64) {
	o.RemainingLots -= lots
	o.FilledLots += lots
	if o.RemainingLots == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}
