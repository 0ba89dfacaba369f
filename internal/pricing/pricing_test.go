package pricing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustMarket(t *testing.T, p domain.MarketParams) domain.Market {
	t.Helper()
	m, err := domain.NewMarket(p, now)
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	return m
}

func TestFor(t *testing.T) {
	tests := []struct {
		mode    domain.PricingMode
		want    domain.PricingMode
		wantErr bool
	}{
		{domain.PricingModeOrderBook, domain.PricingModeOrderBook, false},
		{domain.PricingModeLMSR, domain.PricingModeLMSR, false},
		{"hybrid", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		s, err := For(tt.mode)
		if (err != nil) != tt.wantErr {
			t.Fatalf("For(%q) error = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidMarket) {
				t.Errorf("For(%q) error = %v, want ErrInvalidMarket", tt.mode, err)
			}
			continue
		}
		if s.Mode() != tt.want {
			t.Errorf("For(%q).Mode() = %q, want %q", tt.mode, s.Mode(), tt.want)
		}
	}
}

func TestOrderBookQuote(t *testing.T) {
	m := mustMarket(t, domain.MarketParams{
		ID:           "m1",
		Mode:         domain.PricingModeOrderBook,
		InitialPrice: decimal.RequireFromString("6.2"),
	})

	q, err := QuoteMarket(m, now)
	if err != nil {
		t.Fatalf("QuoteMarket: %v", err)
	}
	if !q.PriceA.Equal(decimal.RequireFromString("6.2")) || !q.PriceB.Equal(decimal.RequireFromString("3.8")) {
		t.Errorf("prices = %s/%s, want 6.2/3.8", q.PriceA, q.PriceB)
	}
	if math.Abs(q.ProbA-0.62) > 1e-12 || math.Abs(q.ProbA+q.ProbB-1) > 1e-12 {
		t.Errorf("probs = %v/%v, want 0.62/0.38", q.ProbA, q.ProbB)
	}
}

func TestOrderBookValidateDetectsBrokenSum(t *testing.T) {
	m := mustMarket(t, domain.MarketParams{ID: "m1", Mode: domain.PricingModeOrderBook})
	m.Options[1].CurrentPrice = decimal.RequireFromString("4.9")

	if err := (OrderBook{}).Validate(m); !errors.Is(err, domain.ErrInvalidMarket) {
		t.Errorf("Validate() error = %v, want ErrInvalidMarket", err)
	}
}

func TestLMSRQuote(t *testing.T) {
	m := mustMarket(t, domain.MarketParams{ID: "m2", Mode: domain.PricingModeLMSR, LiquidityB: 10})

	q, err := QuoteMarket(m, now)
	if err != nil {
		t.Fatalf("QuoteMarket: %v", err)
	}
	if q.ProbA != 0.5 || q.ProbB != 0.5 {
		t.Errorf("probs = %v/%v, want 0.5/0.5", q.ProbA, q.ProbB)
	}
	if !q.PriceA.Equal(decimal.NewFromInt(5)) || !q.PriceB.Equal(decimal.NewFromInt(5)) {
		t.Errorf("prices = %s/%s, want 5/5", q.PriceA, q.PriceB)
	}

	m.AMM.QYes = 5
	q, err = QuoteMarket(m, now)
	if err != nil {
		t.Fatalf("QuoteMarket: %v", err)
	}
	if q.ProbA <= 0.5 || math.Abs(q.ProbA+q.ProbB-1) > 1e-9 {
		t.Errorf("probs after yes skew = %v/%v", q.ProbA, q.ProbB)
	}
	if !q.PriceA.Add(q.PriceB).Equal(m.FixedTotal) {
		t.Errorf("display prices %s + %s != %s", q.PriceA, q.PriceB, m.FixedTotal)
	}
}

func TestStrategiesRejectOtherMode(t *testing.T) {
	ob := mustMarket(t, domain.MarketParams{ID: "ob", Mode: domain.PricingModeOrderBook})
	amm := mustMarket(t, domain.MarketParams{ID: "amm", Mode: domain.PricingModeLMSR, LiquidityB: 50})

	if _, err := (LMSR{}).Quote(ob, now); !errors.Is(err, domain.ErrWrongPricingMode) {
		t.Errorf("LMSR.Quote(orderbook) error = %v, want ErrWrongPricingMode", err)
	}
	if _, err := (OrderBook{}).Quote(amm, now); !errors.Is(err, domain.ErrWrongPricingMode) {
		t.Errorf("OrderBook.Quote(lmsr) error = %v, want ErrWrongPricingMode", err)
	}
}
