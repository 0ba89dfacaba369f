package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxStore runs a unit of work atomically. If fn returns an error every
// mutation made through tx is discarded. Conflicts that prevent commit are
// reported as ErrConcurrencyConflict and are never retried here.
type TxStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface of a single transaction. LockMarket must be the
// first call for a market; it holds the market exclusively until the
// transaction ends.
type Tx interface {
	LockMarket(ctx context.Context, marketID string) (Market, error)
	SaveMarket(ctx context.Context, market Market) error

	// RestingOrders returns the unfilled orders of marketID on (side,
	// outcome). No ordering is guaranteed.
	RestingOrders(ctx context.Context, marketID string, side OrderSide, outcome Outcome) ([]Order, error)
	// InsertOrder persists a new order and assigns its Seq.
	InsertOrder(ctx context.Context, order *Order) error
	UpdateOrder(ctx context.Context, order Order) error

	GetTrader(ctx context.Context, id string) (Trader, error)
	// AdjustBalance adds delta to the trader's balance and returns the new
	// balance. A result below zero fails with ErrInsufficientBalance.
	AdjustBalance(ctx context.Context, traderID string, delta decimal.Decimal) (decimal.Decimal, error)

	AppendTrades(ctx context.Context, trades []Trade) error
	AppendFills(ctx context.Context, fills []Fill) error
}

// MarketStore persists market metadata and state outside of a transaction.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
}

// OrderStore reads orders.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	GetByClientID(ctx context.Context, traderID, clientOrderID string) (Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
	ListByTrader(ctx context.Context, traderID string, opts ListOpts) ([]Order, error)
	// ListResting returns the unfilled orders of a market.
	ListResting(ctx context.Context, marketID string) ([]Order, error)
	// ListFilledBefore returns filled orders last updated before the cutoff.
	ListFilledBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// TradeStore reads the append-only trade history.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	GetLastTimestamp(ctx context.Context, marketID string) (time.Time, error)
}

// FillStore reads trader position history.
type FillStore interface {
	ListByTrader(ctx context.Context, traderID string, opts ListOpts) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// TraderStore persists traders. Create fails with ErrAlreadyExists when
// either the id or the email is taken.
type TraderStore interface {
	Create(ctx context.Context, trader Trader) error
	GetByID(ctx context.Context, id string) (Trader, error)
	GetByEmail(ctx context.Context, email string) (Trader, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
