package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// NUMERIC columns are read as text so decimals round-trip exactly.
const marketSelectCols = `id, question, category, mode, options,
	fixed_total::text, price_floor::text, price_ceiling::text, tick_size::text,
	order_book, traded_a, traded_b, volume::text, amm, status, end_time,
	created_at, updated_at`

func scanMarket(row scanner) (domain.Market, error) {
	var (
		m                                   domain.Market
		mode, status                        string
		optionsJSON, bookJSON, ammJSON      []byte
		fixedTotal, floor, ceiling, tick, v string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Category, &mode, &optionsJSON,
		&fixedTotal, &floor, &ceiling, &tick,
		&bookJSON, &m.TotalTraded.A, &m.TotalTraded.B, &v, &ammJSON, &status, &m.EndTime,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Mode = domain.PricingMode(mode)
	m.Status = domain.MarketStatus(status)

	if err := json.Unmarshal(optionsJSON, &m.Options); err != nil {
		return domain.Market{}, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(bookJSON, &m.Book); err != nil {
		return domain.Market{}, fmt.Errorf("unmarshal order_book: %w", err)
	}
	if ammJSON != nil {
		var amm domain.AMMState
		if err := json.Unmarshal(ammJSON, &amm); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal amm: %w", err)
		}
		m.AMM = &amm
	}

	for _, f := range []struct {
		col string
		src string
		dst *decimal.Decimal
	}{
		{"fixed_total", fixedTotal, &m.FixedTotal},
		{"price_floor", floor, &m.PriceFloor},
		{"price_ceiling", ceiling, &m.PriceCeiling},
		{"tick_size", tick, &m.TickSize},
		{"volume", v, &m.Volume},
	} {
		d, err := parseDecimal(f.col, f.src)
		if err != nil {
			return domain.Market{}, err
		}
		*f.dst = d
	}
	return m, nil
}

// marketArgs returns the JSON-encoded columns of m.
func marketArgs(m domain.Market) (options, book, amm []byte, err error) {
	if options, err = json.Marshal(m.Options); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal options: %w", err)
	}
	if book, err = json.Marshal(m.Book); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal order_book: %w", err)
	}
	if m.AMM != nil {
		if amm, err = json.Marshal(m.AMM); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal amm: %w", err)
		}
	}
	return options, book, amm, nil
}

// Create inserts a new market. A duplicate id fails with
// domain.ErrAlreadyExists.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	options, book, amm, err := marketArgs(m)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets (
			id, question, category, mode, options,
			fixed_total, price_floor, price_ceiling, tick_size,
			order_book, traded_a, traded_b, volume, amm, status, end_time,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16,
			$17, $18
		)`
	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Category, string(m.Mode), options,
		m.FixedTotal.String(), m.PriceFloor.String(), m.PriceCeiling.String(), m.TickSize.String(),
		book, m.TotalTraded.A, m.TotalTraded.B, m.Volume.String(), amm, string(m.Status), m.EndTime,
		m.CreatedAt, m.UpdatedAt,
	)
	return wrap("create market "+m.ID, err)
}

// GetByID retrieves a single market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, wrap("get market "+id, err)
	}
	return m, nil
}

// ListActive returns active markets, newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := appendPage(
		`SELECT `+marketSelectCols+` FROM markets WHERE status = $1`,
		[]any{string(domain.MarketStatusActive)},
		"created_at", "created_at DESC, id", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list active markets", err)
	}
	markets, err := collect(rows, scanMarket)
	if err != nil {
		return nil, wrap("scan active markets", err)
	}
	return markets, nil
}
