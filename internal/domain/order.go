package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is buy or sell.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Opposite returns the side a resting order must have to cross with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ParseOrderSide accepts "buy" and "sell", case-insensitively.
func ParseOrderSide(s string) (OrderSide, error) {
	side := OrderSide(strings.ToLower(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
	return side, nil
}

// Order is a limit order on one outcome of an order-book market. Price is
// fixed at creation; Quantity is the remaining size and only decreases.
// Orders are never deleted, filled ones are kept for audit.
type Order struct {
	ID               string          `json:"id"`
	MarketID         string          `json:"market_id"`
	TraderID         string          `json:"trader_id"`
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	Side             OrderSide       `json:"side"`
	Outcome          Outcome         `json:"outcome"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int64           `json:"quantity"`
	OriginalQuantity int64           `json:"original_quantity"`
	Filled           bool            `json:"filled"`
	Seq              int64           `json:"seq"` // store-assigned, orders time priority
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FilledQuantity returns how much of the order has executed.
func (o Order) FilledQuantity() int64 {
	return o.OriginalQuantity - o.Quantity
}

// Notional returns price * remaining quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Execute decrements the remaining quantity by qty and marks the order
// filled when nothing remains. A filled order is terminal.
func (o *Order) Execute(qty int64, now time.Time) error {
	if o.Filled {
		return fmt.Errorf("order %s: already filled", o.ID)
	}
	if qty <= 0 || qty > o.Quantity {
		return fmt.Errorf("order %s: execute %d of remaining %d: %w", o.ID, qty, o.Quantity, ErrInvalidQuantity)
	}
	o.Quantity -= qty
	o.Filled = o.Quantity == 0
	o.UpdatedAt = now
	return nil
}

// Retire closes the order without executing its remainder. Quantity keeps
// the unexecuted size, so FilledQuantity still reports what traded.
func (o *Order) Retire(now time.Time) {
	o.Filled = true
	o.UpdatedAt = now
}

// Validate checks the order against the market it targets.
func (o Order) Validate(m Market) error {
	if o.MarketID != m.ID {
		return fmt.Errorf("%w: order market %q does not match %q", ErrInvalidMarket, o.MarketID, m.ID)
	}
	if strings.TrimSpace(o.TraderID) == "" {
		return fmt.Errorf("%w: empty trader id", ErrInvalidTrader)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
	}
	if !o.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, o.Outcome)
	}
	if o.Quantity < 1 {
		return fmt.Errorf("%w: %d, must be >= 1", ErrInvalidQuantity, o.Quantity)
	}
	return m.ValidatePrice(o.Price)
}
