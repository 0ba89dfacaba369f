package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// TraderStore implements domain.TraderStore using PostgreSQL.
type TraderStore struct {
	pool *pgxpool.Pool
}

// NewTraderStore creates a new TraderStore backed by the given connection pool.
func NewTraderStore(pool *pgxpool.Pool) *TraderStore {
	return &TraderStore{pool: pool}
}

const traderSelectCols = `id, name, email, balance::text, currency, created_at`

func scanTrader(row scanner) (domain.Trader, error) {
	var t domain.Trader
	var balance string
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &balance, &t.Currency, &t.CreatedAt); err != nil {
		return domain.Trader{}, err
	}
	var err error
	if t.Balance, err = parseDecimal("balance", balance); err != nil {
		return domain.Trader{}, err
	}
	return t, nil
}

// Create inserts a trader. A taken id or email fails with
// domain.ErrAlreadyExists.
func (s *TraderStore) Create(ctx context.Context, t domain.Trader) error {
	const query = `
		INSERT INTO traders (id, name, email, balance, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Name, strings.ToLower(strings.TrimSpace(t.Email)), t.Balance.String(), t.Currency, t.CreatedAt,
	)
	return wrap("create trader "+t.ID, err)
}

// GetByID retrieves a trader by id.
func (s *TraderStore) GetByID(ctx context.Context, id string) (domain.Trader, error) {
	t, err := scanTrader(s.pool.QueryRow(ctx, `SELECT `+traderSelectCols+` FROM traders WHERE id = $1`, id))
	if err != nil {
		return domain.Trader{}, wrap("get trader "+id, err)
	}
	return t, nil
}

// GetByEmail retrieves a trader by email, case-insensitively.
func (s *TraderStore) GetByEmail(ctx context.Context, email string) (domain.Trader, error) {
	t, err := scanTrader(s.pool.QueryRow(ctx,
		`SELECT `+traderSelectCols+` FROM traders WHERE LOWER(email) = LOWER($1)`,
		strings.TrimSpace(email)))
	if err != nil {
		return domain.Trader{}, wrap("get trader by email", err)
	}
	return t, nil
}
