package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Validation: malformed or out-of-range input.
	ErrInvalidOutcome  = errors.New("invalid outcome")
	ErrInvalidSide     = errors.New("invalid order side")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidBudget   = errors.New("invalid budget")
	ErrInvalidAMMInput = errors.New("invalid amm input")
	ErrInvalidMarket   = errors.New("invalid market configuration")
	ErrInvalidTrader   = errors.New("invalid trader")
	ErrInvalidArchive  = errors.New("invalid archive request")

	// Business rules.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMarketClosed        = errors.New("market closed")
	ErrWrongPricingMode    = errors.New("operation not supported by market pricing mode")
	ErrDuplicateRequest    = errors.New("duplicate request")

	// Concurrency: the transaction could not commit. Retryable by the caller.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ErrorKind groups sentinel errors by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindBusinessRule
	KindConcurrency
	KindNotFound
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindConcurrency:
		return "concurrency"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// KindOf classifies err by the first matching sentinel in its chain.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrLockHeld):
		return KindConcurrency
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrMarketClosed),
		errors.Is(err, ErrWrongPricingMode),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrAlreadyExists):
		return KindBusinessRule
	case errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidBudget),
		errors.Is(err, ErrInvalidAMMInput),
		errors.Is(err, ErrInvalidMarket),
		errors.Is(err, ErrInvalidTrader),
		errors.Is(err, ErrInvalidArchive):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may resubmit the same request.
func Retryable(err error) bool {
	return KindOf(err) == KindConcurrency
}
