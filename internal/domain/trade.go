package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an executed crossing between an incoming order and a resting one.
// Trades are immutable and append-only.
type Trade struct {
	ID          string          `json:"id"`
	MarketID    string          `json:"market_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	Outcome     Outcome         `json:"outcome"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	TakerSide   OrderSide       `json:"taker_side"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Amount returns price * quantity.
func (t Trade) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// FillSource tells which engine produced a fill.
type FillSource string

const (
	FillSourceBook FillSource = "book"
	FillSourceAMM  FillSource = "amm"
)

// Fill is one entry in a trader's append-only position history.
type Fill struct {
	ID       string          `json:"id"`
	TraderID string          `json:"trader_id"`
	MarketID string          `json:"market_id"`
	OrderID  string          `json:"order_id,omitempty"`
	TradeID  string          `json:"trade_id,omitempty"`
	Side     OrderSide       `json:"side"`
	Outcome  Outcome         `json:"outcome"`
	Price    decimal.Decimal `json:"price"`
	// Quantity is a share count; AMM fills may be fractional.
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Source    FillSource      `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}
