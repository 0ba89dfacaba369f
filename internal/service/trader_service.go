package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// RegisterRequest registers a trader under an externally issued id.
type RegisterRequest struct {
	ID    string
	Name  string
	Email string
}

// TraderService registers traders and serves their balances and fills.
type TraderService struct {
	traders         domain.TraderStore
	fills           domain.FillStore
	audit           domain.AuditStore
	startingBalance decimal.Decimal
	currency        string
	logger          *slog.Logger
	now             func() time.Time
}

// NewTraderService creates a TraderService. New traders start with
// startingBalance in currency. audit may be nil.
func NewTraderService(
	traders domain.TraderStore,
	fills domain.FillStore,
	audit domain.AuditStore,
	startingBalance decimal.Decimal,
	currency string,
	logger *slog.Logger,
) *TraderService {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &TraderService{
		traders:         traders,
		fills:           fills,
		audit:           audit,
		startingBalance: startingBalance,
		currency:        currency,
		logger:          logger.With(slog.String("component", "trader_service")),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the trader, or returns the existing one when the id is
// already registered. created reports which happened. An email owned by a
// different id fails with domain.ErrAlreadyExists.
func (s *TraderService) Register(ctx context.Context, req RegisterRequest) (trader domain.Trader, created bool, err error) {
	existing, err := s.traders.GetByID(ctx, req.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Trader{}, false, fmt.Errorf("trader_service: register %q: %w", req.ID, err)
	}

	trader = domain.Trader{
		ID:        strings.TrimSpace(req.ID),
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Balance:   s.startingBalance,
		Currency:  s.currency,
		CreatedAt: s.now(),
	}
	if err := trader.Validate(); err != nil {
		return domain.Trader{}, false, fmt.Errorf("trader_service: register: %w", err)
	}
	if err := s.traders.Create(ctx, trader); err != nil {
		// A concurrent registration of the same id wins; return it.
		if errors.Is(err, domain.ErrAlreadyExists) {
			if again, getErr := s.traders.GetByID(ctx, trader.ID); getErr == nil {
				return again, false, nil
			}
		}
		return domain.Trader{}, false, fmt.Errorf("trader_service: register %q: %w", trader.ID, err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "trader_registered", map[string]any{"trader": trader.ID}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "trader registered", slog.String("trader_id", trader.ID))
	return trader, true, nil
}

// GetTrader returns a trader by id.
func (s *TraderService) GetTrader(ctx context.Context, id string) (domain.Trader, error) {
	t, err := s.traders.GetByID(ctx, id)
	if err != nil {
		return domain.Trader{}, fmt.Errorf("trader_service: get %q: %w", id, err)
	}
	return t, nil
}

// ListFills returns a trader's position history, newest first.
func (s *TraderService) ListFills(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Fill, error) {
	fills, err := s.fills.ListByTrader(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("trader_service: list fills %q: %w", id, err)
	}
	return fills, nil
}
