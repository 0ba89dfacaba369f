package lmsr

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestPriceAtOrigin(t *testing.T) {
	p := Price(0, 0, 10)
	if p.Yes != 0.5 || p.No != 0.5 {
		t.Errorf("Price(0,0,10) = %+v, want {0.5 0.5}", p)
	}
}

func TestCostToBuyWorkedExample(t *testing.T) {
	s := domain.AMMState{B: 10}

	first := BuyShares(s, 5, domain.OutcomeA)
	wantFirst := 10*math.Log(math.Exp(0.5)+1) - 10*math.Log(2)
	if !approx(first.Cost, wantFirst, 1e-9) {
		t.Errorf("cost of 5 YES = %v, want %v", first.Cost, wantFirst)
	}
	if !approx(first.Cost, 2.8092980362, 1e-9) {
		t.Errorf("cost of 5 YES = %v, want ~2.8092980362", first.Cost)
	}
	if first.State.QYes != 5 || first.State.QNo != 0 {
		t.Errorf("state after YES buy = %+v, want qYes=5 qNo=0", first.State)
	}

	second := BuyShares(first.State, 10, domain.OutcomeB)
	wantSecond := 10*math.Log(math.Exp(0.5)+math.Exp(1)) - 10*math.Log(math.Exp(0.5)+1)
	if !approx(second.Cost, wantSecond, 1e-9) {
		t.Errorf("cost of 10 NO = %v, want %v", second.Cost, wantSecond)
	}
	if !approx(second.Cost, 5, 1e-9) {
		t.Errorf("cost of 10 NO = %v, want 5", second.Cost)
	}
	if second.State.QYes != 5 || second.State.QNo != 10 {
		t.Errorf("state after NO buy = %+v, want qYes=5 qNo=10", second.State)
	}
	if !approx(second.Prices.Yes+second.Prices.No, 1, 1e-12) {
		t.Errorf("prices sum = %v, want 1", second.Prices.Yes+second.Prices.No)
	}
}

func TestCostToBuyMatchesCostDifference(t *testing.T) {
	tests := []struct {
		name           string
		qYes, qNo, b   float64
		delta          float64
		outcome        domain.Outcome
	}{
		{"origin yes", 0, 0, 10, 3, domain.OutcomeA},
		{"origin no", 0, 0, 10, 3, domain.OutcomeB},
		{"skewed yes", 40, 5, 25, 12.5, domain.OutcomeA},
		{"skewed no", 40, 5, 25, 12.5, domain.OutcomeB},
		{"tiny delta", 100, 100, 100, 1e-6, domain.OutcomeA},
		{"large delta", 0, 0, 1, 500, domain.OutcomeB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := Cost(tt.qYes, tt.qNo, tt.b)
			var after float64
			if tt.outcome == domain.OutcomeA {
				after = Cost(tt.qYes+tt.delta, tt.qNo, tt.b)
			} else {
				after = Cost(tt.qYes, tt.qNo+tt.delta, tt.b)
			}
			got := CostToBuy(tt.qYes, tt.qNo, tt.b, tt.delta, tt.outcome)
			if !approx(got, after-before, 1e-9*math.Max(1, after)) {
				t.Errorf("CostToBuy = %v, want %v", got, after-before)
			}
		})
	}
}

func TestCostToBuyNonPositiveDelta(t *testing.T) {
	for _, delta := range []float64{0, -1, -1e9, math.NaN()} {
		if got := CostToBuy(3, 4, 10, delta, domain.OutcomeA); got != 0 {
			t.Errorf("CostToBuy(delta=%v) = %v, want 0", delta, got)
		}
	}
	res := BuyShares(domain.AMMState{QYes: 1, QNo: 2, B: 5}, 0, domain.OutcomeB)
	if res.Cost != 0 || res.State.QNo != 2 {
		t.Errorf("BuyShares(0) = %+v, want unchanged state at zero cost", res)
	}
}

func TestLargeQuantitiesStayFinite(t *testing.T) {
	tests := []struct {
		qYes, qNo, b float64
	}{
		{1e9, 0, 1},
		{0, 1e9, 1},
		{1e9, 1e9, 0.5},
		{1e9, 1e9 - 1, 1e-3},
	}
	for _, tt := range tests {
		c := Cost(tt.qYes, tt.qNo, tt.b)
		if math.IsInf(c, 0) || math.IsNaN(c) {
			t.Errorf("Cost(%v,%v,%v) = %v, want finite", tt.qYes, tt.qNo, tt.b, c)
		}
		p := Price(tt.qYes, tt.qNo, tt.b)
		if math.IsNaN(p.Yes) || math.IsNaN(p.No) || !approx(p.Yes+p.No, 1, 1e-9) {
			t.Errorf("Price(%v,%v,%v) = %+v, want finite and summing to 1", tt.qYes, tt.qNo, tt.b, p)
		}
		ctb := CostToBuy(tt.qYes, tt.qNo, tt.b, 1e6, domain.OutcomeB)
		if math.IsInf(ctb, 0) || math.IsNaN(ctb) || ctb < 0 {
			t.Errorf("CostToBuy(%v,%v,%v) = %v, want finite and >= 0", tt.qYes, tt.qNo, tt.b, ctb)
		}
	}
}

func TestBuyWithBudgetInvertsWorkedExample(t *testing.T) {
	s := domain.AMMState{B: 10}
	budget := 10*math.Log(math.Exp(0.5)+1) - 10*math.Log(2)

	res := BuyWithBudget(s, budget, domain.OutcomeA, DefaultOptions())
	if !approx(res.Delta, 5, 1e-6) {
		t.Errorf("Delta = %v, want ~5", res.Delta)
	}
	if res.Cost > budget {
		t.Errorf("Cost = %v exceeds budget %v", res.Cost, budget)
	}
}

func TestBuyWithBudgetEdgeCases(t *testing.T) {
	s := domain.AMMState{QYes: 3, QNo: 1, B: 20}

	for _, budget := range []float64{0, -5, math.NaN()} {
		res := BuyWithBudget(s, budget, domain.OutcomeA, DefaultOptions())
		if res.Delta != 0 || res.Cost != 0 || res.Iterations != 0 {
			t.Errorf("BuyWithBudget(%v) = %+v, want zero result", budget, res)
		}
	}

	// A budget above the cost of MaxDelta returns the ceiling.
	res := BuyWithBudget(s, 2*MaxDelta, domain.OutcomeB, DefaultOptions())
	if res.Delta != MaxDelta {
		t.Errorf("Delta = %v, want ceiling %v", res.Delta, MaxDelta)
	}

	// Zero options fall back to defaults.
	a := BuyWithBudget(s, 7, domain.OutcomeA, Options{})
	b := BuyWithBudget(s, 7, domain.OutcomeA, DefaultOptions())
	if a != b {
		t.Errorf("zero options = %+v, defaults = %+v, want equal", a, b)
	}
}

func TestBuyWithBudgetIterationCap(t *testing.T) {
	s := domain.AMMState{B: 10}
	res := BuyWithBudget(s, 123.456, domain.OutcomeA, Options{MaxIterations: 3, Tolerance: 1e-12})
	if res.Iterations > 3 {
		t.Errorf("Iterations = %d, want <= 3", res.Iterations)
	}
	if res.Cost > 123.456 {
		t.Errorf("Cost = %v exceeds budget", res.Cost)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		qYes, qNo, b float64
		wantErr      bool
	}{
		{"ok", 0, 0, 10, false},
		{"zero b", 0, 0, 0, true},
		{"negative b", 0, 0, -1, true},
		{"inf b", 0, 0, math.Inf(1), true},
		{"nan q", math.NaN(), 0, 1, true},
		{"negative q", 0, -1, 1, true},
		{"inf q", math.Inf(1), 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.qYes, tt.qNo, tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidAMMInput) {
				t.Errorf("Validate() error = %v, want ErrInvalidAMMInput", err)
			}
			if err != nil && domain.KindOf(err) != domain.KindValidation {
				t.Errorf("KindOf = %v, want validation", domain.KindOf(err))
			}
		})
	}
}

func TestEngineRejectsMalformedInput(t *testing.T) {
	e := NewEngine(Options{})
	if got := e.Options(); got != DefaultOptions() {
		t.Errorf("Options() = %+v, want defaults", got)
	}

	if _, err := e.Buy(domain.AMMState{B: 0}, 1, domain.OutcomeA); !errors.Is(err, domain.ErrInvalidAMMInput) {
		t.Errorf("Buy with b=0 error = %v, want ErrInvalidAMMInput", err)
	}
	if _, err := e.Buy(domain.AMMState{B: 1}, 1, "C"); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Errorf("Buy with outcome C error = %v, want ErrInvalidOutcome", err)
	}
	if _, err := e.SizeBudget(domain.AMMState{B: 1}, math.Inf(1), domain.OutcomeA); !errors.Is(err, domain.ErrInvalidBudget) {
		t.Errorf("SizeBudget(+Inf) error = %v, want ErrInvalidBudget", err)
	}

	res, err := e.SizeBudget(domain.AMMState{B: 10}, 5, domain.OutcomeB)
	if err != nil {
		t.Fatalf("SizeBudget: %v", err)
	}
	if res.Delta <= 0 || res.Cost > 5 {
		t.Errorf("SizeBudget = %+v, want positive delta within budget", res)
	}
}
