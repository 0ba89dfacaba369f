package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// SQLSTATE codes the store translates into domain errors.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// wrap prefixes err with the operation and maps driver errors onto domain
// sentinels so callers can classify them with errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w (%s)", op, domain.ErrAlreadyExists, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("postgres: %s: %w: %s", op, domain.ErrConcurrencyConflict, pgErr.Message)
		case codeCheckViolation:
			if pgErr.ConstraintName == "traders_balance_nonnegative" {
				return fmt.Errorf("postgres: %s: %w", op, domain.ErrInsufficientBalance)
			}
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// parseDecimal reads a NUMERIC column selected as text.
func parseDecimal(col, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", col, s, err)
	}
	return d, nil
}
