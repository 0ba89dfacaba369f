package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, price::text, quantity, buyer_id, seller_id,
	outcome, buy_order_id, sell_order_id, taker_side, timestamp`

func scanTrade(row scanner) (domain.Trade, error) {
	var t domain.Trade
	var price, outcome, takerSide string
	err := row.Scan(
		&t.ID, &t.MarketID, &price, &t.Quantity, &t.BuyerID, &t.SellerID,
		&outcome, &t.BuyOrderID, &t.SellOrderID, &takerSide, &t.Timestamp,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Outcome = domain.Outcome(outcome)
	t.TakerSide = domain.OrderSide(takerSide)
	if t.Price, err = parseDecimal("price", price); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

// insertTrades queues every trade on one batch and checks each result.
func insertTrades(ctx context.Context, q querier, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			id, market_id, price, quantity, buyer_id, seller_id,
			outcome, buy_order_id, sell_order_id, taker_side, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)`
	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.MarketID, t.Price.String(), t.Quantity, t.BuyerID, t.SellerID,
			string(t.Outcome), t.BuyOrderID, t.SellOrderID, string(t.TakerSide), t.Timestamp,
		)
	}

	br := q.SendBatch(ctx, batch)
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("trade %d (%s): %w", i, trades[i].ID, err)
		}
	}
	return br.Close()
}

// ListByMarket returns a market's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := appendPage(
		`SELECT `+tradeSelectCols+` FROM trades WHERE market_id = $1`,
		[]any{marketID}, "timestamp", "timestamp DESC, id DESC", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list trades by market "+marketID, err)
	}
	trades, err := collect(rows, scanTrade)
	if err != nil {
		return nil, wrap("scan trades by market "+marketID, err)
	}
	return trades, nil
}

// ListBefore returns every trade older than the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE timestamp < $1 ORDER BY timestamp, id`,
		before)
	if err != nil {
		return nil, wrap("list trades before", err)
	}
	trades, err := collect(rows, scanTrade)
	if err != nil {
		return nil, wrap("scan trades before", err)
	}
	return trades, nil
}

// GetLastTimestamp returns the time of the market's latest trade, or the
// zero time when it has none.
func (s *TradeStore) GetLastTimestamp(ctx context.Context, marketID string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM trades WHERE market_id = $1`, marketID,
	).Scan(&ts)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, wrap("get last trade timestamp "+marketID, err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}
