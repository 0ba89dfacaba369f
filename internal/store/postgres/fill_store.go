package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `id, trader_id, market_id, order_id, trade_id, side, outcome,
	price::text, quantity::text, amount::text, source, timestamp`

func scanFill(row scanner) (domain.Fill, error) {
	var f domain.Fill
	var side, outcome, source, price, qty, amount string
	err := row.Scan(
		&f.ID, &f.TraderID, &f.MarketID, &f.OrderID, &f.TradeID, &side, &outcome,
		&price, &qty, &amount, &source, &f.Timestamp,
	)
	if err != nil {
		return domain.Fill{}, err
	}
	f.Side = domain.OrderSide(side)
	f.Outcome = domain.Outcome(outcome)
	f.Source = domain.FillSource(source)
	if f.Price, err = parseDecimal("price", price); err != nil {
		return domain.Fill{}, err
	}
	if f.Quantity, err = parseDecimal("quantity", qty); err != nil {
		return domain.Fill{}, err
	}
	if f.Amount, err = parseDecimal("amount", amount); err != nil {
		return domain.Fill{}, err
	}
	return f, nil
}

func insertFills(ctx context.Context, q querier, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			id, trader_id, market_id, order_id, trade_id, side, outcome,
			price, quantity, amount, source, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12
		)`
	for _, f := range fills {
		batch.Queue(query,
			f.ID, f.TraderID, f.MarketID, f.OrderID, f.TradeID, string(f.Side), string(f.Outcome),
			f.Price.String(), f.Quantity.String(), f.Amount.String(), string(f.Source), f.Timestamp,
		)
	}

	br := q.SendBatch(ctx, batch)
	for i := range fills {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("fill %d (%s): %w", i, fills[i].ID, err)
		}
	}
	return br.Close()
}

// ListByTrader returns a trader's fills, newest first.
func (s *FillStore) ListByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Fill, error) {
	query, args := appendPage(
		`SELECT `+fillSelectCols+` FROM fills WHERE trader_id = $1`,
		[]any{traderID}, "timestamp", "timestamp DESC, id DESC", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list fills by trader "+traderID, err)
	}
	fills, err := collect(rows, scanFill)
	if err != nil {
		return nil, wrap("scan fills by trader "+traderID, err)
	}
	return fills, nil
}

// ListBefore returns every fill older than the cutoff, oldest first.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillSelectCols+` FROM fills WHERE timestamp < $1 ORDER BY timestamp, id`,
		before)
	if err != nil {
		return nil, wrap("list fills before", err)
	}
	fills, err := collect(rows, scanFill)
	if err != nil {
		return nil, wrap("scan fills before", err)
	}
	return fills, nil
}
