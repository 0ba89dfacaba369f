package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, seq, market_id, trader_id, COALESCE(client_order_id, ''),
	side, outcome, price::text, quantity, original_quantity, filled,
	created_at, updated_at`

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var side, outcome, price string
	err := row.Scan(
		&o.ID, &o.Seq, &o.MarketID, &o.TraderID, &o.ClientOrderID,
		&side, &outcome, &price, &o.Quantity, &o.OriginalQuantity, &o.Filled,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Outcome = domain.Outcome(outcome)
	if o.Price, err = parseDecimal("price", price); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// insertOrder writes o and returns the assigned sequence number.
func insertOrder(ctx context.Context, q querier, o domain.Order) (int64, error) {
	const query = `
		INSERT INTO orders (
			id, market_id, trader_id, client_order_id, side, outcome,
			price, quantity, original_quantity, filled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		) RETURNING seq`
	var seq int64
	err := q.QueryRow(ctx, query,
		o.ID, o.MarketID, o.TraderID, nullIfEmpty(o.ClientOrderID), string(o.Side), string(o.Outcome),
		o.Price.String(), o.Quantity, o.OriginalQuantity, o.Filled, o.CreatedAt, o.UpdatedAt,
	).Scan(&seq)
	return seq, err
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrap("get order "+id, err)
	}
	return o, nil
}

// GetByClientID retrieves the order a trader placed under clientOrderID.
func (s *OrderStore) GetByClientID(ctx context.Context, traderID, clientOrderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE trader_id = $1 AND client_order_id = $2`,
		traderID, clientOrderID)
	o, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrap("get order by client id "+clientOrderID, err)
	}
	return o, nil
}

func (s *OrderStore) list(ctx context.Context, op, where string, arg any, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := appendPage(
		`SELECT `+orderSelectCols+` FROM orders WHERE `+where+` = $1`,
		[]any{arg}, "created_at", "seq DESC", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, wrap(op, err)
	}
	return orders, nil
}

// ListByMarket returns a market's orders, newest first.
func (s *OrderStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "list orders by market "+marketID, "market_id", marketID, opts)
}

// ListByTrader returns a trader's orders, newest first.
func (s *OrderStore) ListByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Order, error) {
	return s.list(ctx, "list orders by trader "+traderID, "trader_id", traderID, opts)
}

// ListResting returns the unfilled orders of a market.
func (s *OrderStore) ListResting(ctx context.Context, marketID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE market_id = $1 AND NOT filled ORDER BY seq`,
		marketID)
	if err != nil {
		return nil, wrap("list resting orders "+marketID, err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, wrap("scan resting orders "+marketID, err)
	}
	return orders, nil
}

// ListFilledBefore returns filled orders last updated before the cutoff,
// oldest first.
func (s *OrderStore) ListFilledBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE filled AND updated_at < $1 ORDER BY seq`,
		before)
	if err != nil {
		return nil, wrap("list filled orders", err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, wrap("scan filled orders", err)
	}
	return orders, nil
}
