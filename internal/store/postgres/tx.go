package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// TxStore implements domain.TxStore. Each unit of work is one READ COMMITTED
// transaction; markets are serialised by row locks taken in LockMarket.
type TxStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTxStore creates a TxStore. A positive lockTimeout is applied with
// SET LOCAL so a busy market surfaces as domain.ErrConcurrencyConflict.
func NewTxStore(pool *pgxpool.Pool, lockTimeout time.Duration) *TxStore {
	return &TxStore{pool: pool, lockTimeout: lockTimeout}
}

// lockTimeoutStmt renders the SET LOCAL statement; SET takes no bind
// parameters.
func lockTimeoutStmt(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
}

// WithinTx runs fn inside a transaction and commits when it returns nil.
// Once begun, the transaction ignores cancellation of ctx so the pass runs to
// commit or rollback.
func (s *TxStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrap("begin tx", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		if _, err := pgTx.Exec(ctx, lockTimeoutStmt(s.lockTimeout)); err != nil {
			return wrap("set lock_timeout", err)
		}
	}

	if err := fn(ctx, &tx{q: pgTx, locked: make(map[string]bool)}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

type tx struct {
	q      querier
	locked map[string]bool
}

func (t *tx) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, wrap("lock market "+marketID, err)
	}
	t.locked[marketID] = true
	return m, nil
}

func (t *tx) SaveMarket(ctx context.Context, m domain.Market) error {
	if !t.locked[m.ID] {
		return fmt.Errorf("postgres: save market %s: market not locked in this transaction", m.ID)
	}
	options, book, amm, err := marketArgs(m)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}
	const query = `
		UPDATE markets SET
			options = $2, order_book = $3, traded_a = $4, traded_b = $5,
			volume = $6, amm = $7, status = $8, updated_at = $9
		WHERE id = $1`
	tag, err := t.q.Exec(ctx, query,
		m.ID, options, book, m.TotalTraded.A, m.TotalTraded.B,
		m.Volume.String(), amm, string(m.Status), m.UpdatedAt,
	)
	if err != nil {
		return wrap("save market "+m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) RestingOrders(ctx context.Context, marketID string, side domain.OrderSide, outcome domain.Outcome) ([]domain.Order, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE market_id = $1 AND side = $2 AND outcome = $3 AND NOT filled`,
		marketID, string(side), string(outcome))
	if err != nil {
		return nil, wrap("resting orders "+marketID, err)
	}
	orders, err := collect(rows, scanOrder)
	if err != nil {
		return nil, wrap("scan resting orders "+marketID, err)
	}
	return orders, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	seq, err := insertOrder(ctx, t.q, *o)
	if err != nil {
		return wrap("insert order "+o.ID, err)
	}
	o.Seq = seq
	return nil
}

func (t *tx) UpdateOrder(ctx context.Context, o domain.Order) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE orders SET quantity = $2, filled = $3, updated_at = $4 WHERE id = $1`,
		o.ID, o.Quantity, o.Filled, o.UpdatedAt)
	if err != nil {
		return wrap("update order "+o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) GetTrader(ctx context.Context, id string) (domain.Trader, error) {
	tr, err := scanTrader(t.q.QueryRow(ctx, `SELECT `+traderSelectCols+` FROM traders WHERE id = $1`, id))
	if err != nil {
		return domain.Trader{}, wrap("get trader "+id, err)
	}
	return tr, nil
}

// AdjustBalance applies delta with a guarded update. The row lock it takes
// is held until the transaction ends.
func (t *tx) AdjustBalance(ctx context.Context, traderID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var next string
	err := t.q.QueryRow(ctx,
		`UPDATE traders SET balance = balance + $2
		 WHERE id = $1 AND balance + $2 >= 0
		 RETURNING balance::text`,
		traderID, delta.String(),
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := t.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM traders WHERE id = $1)`, traderID).Scan(&exists); err != nil {
			return decimal.Zero, wrap("adjust balance "+traderID, err)
		}
		if !exists {
			return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", traderID, domain.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s by %s: %w", traderID, delta, domain.ErrInsufficientBalance)
	}
	if err != nil {
		return decimal.Zero, wrap("adjust balance "+traderID, err)
	}
	bal, err := parseDecimal("balance", next)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: adjust balance %s: %w", traderID, err)
	}
	return bal, nil
}

func (t *tx) AppendTrades(ctx context.Context, trades []domain.Trade) error {
	return wrap("append trades", insertTrades(ctx, t.q, trades))
}

func (t *tx) AppendFills(ctx context.Context, fills []domain.Fill) error {
	return wrap("append fills", insertFills(ctx, t.q, fills))
}
