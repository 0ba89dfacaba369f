package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/lmsr"
)

// costPlaces is the precision AMM costs are charged at. Costs round up so
// the pool never undercharges.
const costPlaces = 8

// AMMBuyResult is the outcome of a purchase from an LMSR pool.
type AMMBuyResult struct {
	MarketID string          `json:"market_id"`
	TraderID string          `json:"trader_id"`
	Outcome  domain.Outcome  `json:"outcome"`
	Shares   float64         `json:"shares"`
	Cost     decimal.Decimal `json:"cost"`
	Prices   lmsr.Prices     `json:"prices"`
	State    domain.AMMState `json:"state"`
	Balance  decimal.Decimal `json:"balance"`
	Fill     *domain.Fill    `json:"fill,omitempty"`
}

// AMMQuote is an advisory price for a purchase. Nothing is mutated.
type AMMQuote struct {
	MarketID string          `json:"market_id"`
	Outcome  domain.Outcome  `json:"outcome"`
	Shares   float64         `json:"shares"`
	Cost     float64         `json:"cost"`
	Before   lmsr.Prices     `json:"before"`
	After    lmsr.Prices     `json:"after"`
	Budget   decimal.Decimal `json:"budget"`
}

// AMMService executes purchases against LMSR markets. The read-modify-write
// of the pool state happens under the market lock, so concurrent budget buys
// always price against the latest state.
type AMMService struct {
	tx      domain.TxStore
	markets domain.MarketStore
	engine  *lmsr.Engine
	sinks   sinks
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewAMMService creates an AMMService.
func NewAMMService(
	tx domain.TxStore,
	markets domain.MarketStore,
	engine *lmsr.Engine,
	out Sinks,
	logger *slog.Logger,
) *AMMService {
	logger = logger.With(slog.String("component", "amm_service"))
	s := &AMMService{
		tx:      tx,
		markets: markets,
		engine:  engine,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	s.sinks = sinks{Sinks: out, logger: logger, now: func() time.Time { return s.now() }}
	return s
}

// Buy purchases a fixed number of shares. The trader must afford the cost.
func (s *AMMService) Buy(ctx context.Context, marketID, traderID string, outcome domain.Outcome, shares float64) (AMMBuyResult, error) {
	if math.IsNaN(shares) || math.IsInf(shares, 0) || shares <= 0 {
		return AMMBuyResult{}, fmt.Errorf("amm_service: buy: %w: shares %v must be > 0", domain.ErrInvalidQuantity, shares)
	}
	return s.execute(ctx, marketID, traderID, outcome, func(state domain.AMMState) (lmsr.BuyResult, decimal.Decimal, error) {
		res, err := s.engine.Buy(state, shares, outcome)
		if err != nil {
			return lmsr.BuyResult{}, decimal.Zero, err
		}
		return res, decimal.NewFromFloat(res.Cost).RoundCeil(costPlaces), nil
	})
}

// BuyWithBudget spends at most budget on as many shares as it buys. A budget
// too small to buy anything returns a zero-share result without error.
func (s *AMMService) BuyWithBudget(ctx context.Context, marketID, traderID string, outcome domain.Outcome, budget decimal.Decimal) (AMMBuyResult, error) {
	if !budget.IsPositive() {
		return AMMBuyResult{}, fmt.Errorf("amm_service: buy with budget: %w: %s must be > 0", domain.ErrInvalidBudget, budget)
	}
	return s.execute(ctx, marketID, traderID, outcome, func(state domain.AMMState) (lmsr.BuyResult, decimal.Decimal, error) {
		b, _ := budget.Float64()
		size, err := s.engine.SizeBudget(state, b, outcome)
		if err != nil {
			return lmsr.BuyResult{}, decimal.Zero, err
		}
		res := lmsr.BuyShares(state, size.Delta, outcome)
		cost := decimal.Min(decimal.NewFromFloat(res.Cost).RoundCeil(costPlaces), budget)
		return res, cost, nil
	})
}

type sizer func(state domain.AMMState) (lmsr.BuyResult, decimal.Decimal, error)

func (s *AMMService) execute(ctx context.Context, marketID, traderID string, outcome domain.Outcome, size sizer) (AMMBuyResult, error) {
	if err := ctx.Err(); err != nil {
		return AMMBuyResult{}, fmt.Errorf("amm_service: %w", err)
	}
	if !outcome.Valid() {
		return AMMBuyResult{}, fmt.Errorf("amm_service: %w: %q", domain.ErrInvalidOutcome, outcome)
	}

	out := AMMBuyResult{MarketID: marketID, TraderID: traderID, Outcome: outcome}
	var market domain.Market
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		now := s.now()
		if m.Mode != domain.PricingModeLMSR || m.AMM == nil {
			return fmt.Errorf("market %s: %w", m.ID, domain.ErrWrongPricingMode)
		}
		if err := m.CheckOpen(now); err != nil {
			return err
		}

		res, cost, err := size(*m.AMM)
		if err != nil {
			return err
		}
		out.Prices = res.Prices
		out.State = *m.AMM
		if res.Delta <= 0 {
			out.Prices = lmsr.Price(m.AMM.QYes, m.AMM.QNo, m.AMM.B)
			trader, err := tx.GetTrader(ctx, traderID)
			if err != nil {
				return err
			}
			out.Balance = trader.Balance
			market = m
			return nil
		}

		bal, err := tx.AdjustBalance(ctx, traderID, cost.Neg())
		if err != nil {
			return err
		}

		qty := decimal.NewFromFloat(res.Delta)
		fill := domain.Fill{
			ID:        s.newID(),
			TraderID:  traderID,
			MarketID:  m.ID,
			Side:      domain.OrderSideBuy,
			Outcome:   outcome,
			Price:     cost.DivRound(qty, costPlaces),
			Quantity:  qty,
			Amount:    cost,
			Source:    domain.FillSourceAMM,
			Timestamp: now,
		}
		if err := tx.AppendFills(ctx, []domain.Fill{fill}); err != nil {
			return err
		}

		m.ApplyAMMBuy(res.State, res.Prices.Yes, cost)
		m.UpdatedAt = now
		if err := tx.SaveMarket(ctx, m); err != nil {
			return err
		}

		out.Shares = res.Delta
		out.Cost = cost
		out.State = res.State
		out.Balance = bal
		out.Fill = &fill
		market = m
		return nil
	})
	if err != nil {
		s.logger.InfoContext(ctx, "amm buy rejected",
			slog.String("market_id", marketID),
			slog.String("trader_id", traderID),
			slog.String("kind", domain.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return AMMBuyResult{}, fmt.Errorf("amm_service: buy: %w", err)
	}
	if out.Fill == nil {
		return out, nil
	}

	s.sinks.publish(ctx, domain.ChannelAMM, Event{
		Type:     EventAMMBuy,
		MarketID: marketID,
		Data:     out,
		At:       out.Fill.Timestamp,
	})
	s.sinks.refresh(ctx, market, true)
	s.sinks.log(ctx, "amm_buy", map[string]any{
		"market":  marketID,
		"trader":  traderID,
		"outcome": string(outcome),
		"shares":  out.Shares,
		"cost":    out.Cost.String(),
	})
	s.logger.InfoContext(ctx, "amm buy executed",
		slog.String("market_id", marketID),
		slog.String("trader_id", traderID),
		slog.String("outcome", string(outcome)),
		slog.Float64("shares", out.Shares),
		slog.String("cost", out.Cost.String()),
		slog.Float64("p_yes", out.Prices.Yes),
	)
	return out, nil
}

func (s *AMMService) poolState(ctx context.Context, marketID string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	if m.Mode != domain.PricingModeLMSR || m.AMM == nil {
		return domain.Market{}, fmt.Errorf("market %s: %w", m.ID, domain.ErrWrongPricingMode)
	}
	return m, nil
}

// QuoteShares prices buying shares of outcome without executing.
func (s *AMMService) QuoteShares(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (AMMQuote, error) {
	m, err := s.poolState(ctx, marketID)
	if err != nil {
		return AMMQuote{}, fmt.Errorf("amm_service: quote: %w", err)
	}
	res, err := s.engine.Buy(*m.AMM, shares, outcome)
	if err != nil {
		return AMMQuote{}, fmt.Errorf("amm_service: quote: %w", err)
	}
	return AMMQuote{
		MarketID: marketID,
		Outcome:  outcome,
		Shares:   res.Delta,
		Cost:     res.Cost,
		Before:   lmsr.Price(m.AMM.QYes, m.AMM.QNo, m.AMM.B),
		After:    res.Prices,
	}, nil
}

// QuoteBudget sizes a budget purchase without executing.
func (s *AMMService) QuoteBudget(ctx context.Context, marketID string, outcome domain.Outcome, budget decimal.Decimal) (AMMQuote, error) {
	if !budget.IsPositive() {
		return AMMQuote{}, fmt.Errorf("amm_service: quote budget: %w: %s must be > 0", domain.ErrInvalidBudget, budget)
	}
	m, err := s.poolState(ctx, marketID)
	if err != nil {
		return AMMQuote{}, fmt.Errorf("amm_service: quote budget: %w", err)
	}
	b, _ := budget.Float64()
	size, err := s.engine.SizeBudget(*m.AMM, b, outcome)
	if err != nil {
		return AMMQuote{}, fmt.Errorf("amm_service: quote budget: %w", err)
	}
	after := lmsr.BuyShares(*m.AMM, size.Delta, outcome)
	return AMMQuote{
		MarketID: marketID,
		Outcome:  outcome,
		Shares:   size.Delta,
		Cost:     size.Cost,
		Before:   lmsr.Price(m.AMM.QYes, m.AMM.QNo, m.AMM.B),
		After:    after.Prices,
		Budget:   budget,
	}, nil
}
