// Package pricing exposes the two ways a market can be priced behind one
// interface. The market's Mode, fixed at creation, selects the strategy.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/lmsr"
)

// Strategy quotes and validates markets of one pricing mode.
type Strategy interface {
	Mode() domain.PricingMode
	// Validate checks the mode-specific pricing invariant: option prices sum
	// to FixedTotal for order-book markets, probabilities sum to 1 for LMSR.
	Validate(m domain.Market) error
	Quote(m domain.Market, now time.Time) (domain.Quote, error)
}

// For returns the strategy for mode.
func For(mode domain.PricingMode) (Strategy, error) {
	switch mode {
	case domain.PricingModeOrderBook:
		return OrderBook{}, nil
	case domain.PricingModeLMSR:
		return LMSR{}, nil
	default:
		return nil, fmt.Errorf("pricing: %w: unknown mode %q", domain.ErrInvalidMarket, mode)
	}
}

// QuoteMarket quotes m with the strategy its mode selects.
func QuoteMarket(m domain.Market, now time.Time) (domain.Quote, error) {
	s, err := For(m.Mode)
	if err != nil {
		return domain.Quote{}, err
	}
	return s.Quote(m, now)
}

// OrderBook prices markets whose option prices sum to a fixed total.
type OrderBook struct{}

func (OrderBook) Mode() domain.PricingMode { return domain.PricingModeOrderBook }

func (OrderBook) Validate(m domain.Market) error {
	if m.Mode != domain.PricingModeOrderBook {
		return fmt.Errorf("pricing: %w: market %s is %s", domain.ErrWrongPricingMode, m.ID, m.Mode)
	}
	sum := m.Options[0].CurrentPrice.Add(m.Options[1].CurrentPrice)
	if !sum.Equal(m.FixedTotal) {
		return fmt.Errorf("pricing: %w: prices sum to %s, want %s", domain.ErrInvalidMarket, sum, m.FixedTotal)
	}
	return nil
}

func (s OrderBook) Quote(m domain.Market, now time.Time) (domain.Quote, error) {
	if err := s.Validate(m); err != nil {
		return domain.Quote{}, err
	}
	a, b := m.Options[0].CurrentPrice, m.Options[1].CurrentPrice
	probA, _ := a.Div(m.FixedTotal).Float64()
	return domain.Quote{
		MarketID: m.ID,
		Mode:     m.Mode,
		ProbA:    probA,
		ProbB:    1 - probA,
		PriceA:   a,
		PriceB:   b,
		AsOf:     now,
	}, nil
}

// LMSR prices markets from their liquidity-pool state.
type LMSR struct{}

func (LMSR) Mode() domain.PricingMode { return domain.PricingModeLMSR }

func (LMSR) Validate(m domain.Market) error {
	if m.Mode != domain.PricingModeLMSR {
		return fmt.Errorf("pricing: %w: market %s is %s", domain.ErrWrongPricingMode, m.ID, m.Mode)
	}
	if m.AMM == nil {
		return fmt.Errorf("pricing: %w: market %s has no pool state", domain.ErrInvalidMarket, m.ID)
	}
	if err := m.AMM.Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	return nil
}

// Quote reports the pool probabilities and their display prices scaled to
// the market's fixed total.
func (s LMSR) Quote(m domain.Market, now time.Time) (domain.Quote, error) {
	if err := s.Validate(m); err != nil {
		return domain.Quote{}, err
	}
	p := lmsr.Price(m.AMM.QYes, m.AMM.QNo, m.AMM.B)
	priceA := decimal.NewFromFloat(p.Yes).Mul(m.FixedTotal).Round(4)
	return domain.Quote{
		MarketID: m.ID,
		Mode:     m.Mode,
		ProbA:    p.Yes,
		ProbB:    p.No,
		PriceA:   priceA,
		PriceB:   m.FixedTotal.Sub(priceA),
		AsOf:     now,
	}, nil
}
