package lmsr

import (
	"math"
	"testing"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"pgregory.net/rapid"
)

// drawState keeps |qYes-qNo|/b within 10 so every outcome keeps a
// probability well above float64 underflow.
func drawState(t *rapid.T) domain.AMMState {
	b := rapid.Float64Range(1, 200).Draw(t, "b")
	return domain.AMMState{
		QYes: rapid.Float64Range(0, 10*b).Draw(t, "qYes"),
		QNo:  rapid.Float64Range(0, 10*b).Draw(t, "qNo"),
		B:    b,
	}
}

func drawOutcome(t *rapid.T) domain.Outcome {
	return rapid.SampledFrom([]domain.Outcome{domain.OutcomeA, domain.OutcomeB}).Draw(t, "outcome")
}

func TestProperty_PricesSumToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1e-3, 1e6).Draw(t, "b")
		qYes := rapid.Float64Range(0, 1e9).Draw(t, "qYes")
		qNo := rapid.Float64Range(0, 1e9).Draw(t, "qNo")

		p := Price(qYes, qNo, b)
		if math.Abs(p.Yes+p.No-1) > 1e-9 {
			t.Fatalf("Price(%v,%v,%v) = %+v, sum %v", qYes, qNo, b, p, p.Yes+p.No)
		}
		if p.Yes < 0 || p.Yes > 1 || p.No < 0 || p.No > 1 {
			t.Fatalf("Price(%v,%v,%v) = %+v outside [0,1]", qYes, qNo, b, p)
		}
		if c := Cost(qYes, qNo, b); math.IsInf(c, 0) || math.IsNaN(c) {
			t.Fatalf("Cost(%v,%v,%v) = %v, want finite", qYes, qNo, b, c)
		}
	})
}

func TestProperty_PricesStrictlyInsideUnitInterval(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		p := Price(s.QYes, s.QNo, s.B)
		if !(p.Yes > 0 && p.Yes < 1 && p.No > 0 && p.No < 1) {
			t.Fatalf("Price(%+v) = %+v, want both in (0,1)", s, p)
		}
	})
}

func TestProperty_CostSymmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1e-3, 1e6).Draw(t, "b")
		x := rapid.Float64Range(0, 1e9).Draw(t, "x")
		y := rapid.Float64Range(0, 1e9).Draw(t, "y")
		if Cost(x, y, b) != Cost(y, x, b) {
			t.Fatalf("Cost(%v,%v,%v) = %v, Cost(%v,%v,%v) = %v", x, y, b, Cost(x, y, b), y, x, b, Cost(y, x, b))
		}
	})
}

func TestProperty_CostToBuyStrictlyIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		outcome := drawOutcome(t)
		d1 := rapid.Float64Range(1e-3, 1e4).Draw(t, "d1")
		step := rapid.Float64Range(1e-3, 1e4).Draw(t, "step")
		d2 := d1 + step

		c1 := CostToBuy(s.QYes, s.QNo, s.B, d1, outcome)
		c2 := CostToBuy(s.QYes, s.QNo, s.B, d2, outcome)
		if !(c1 > 0) {
			t.Fatalf("CostToBuy(%v) = %v, want > 0", d1, c1)
		}
		if !(c2 > c1) {
			t.Fatalf("CostToBuy(%v) = %v not greater than CostToBuy(%v) = %v", d2, c2, d1, c1)
		}
		if CostToBuy(s.QYes, s.QNo, s.B, -step, outcome) != 0 {
			t.Fatalf("CostToBuy(%v) != 0", -step)
		}
	})
}

func TestProperty_BudgetRespected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		outcome := drawOutcome(t)
		budget := rapid.Float64Range(1e-6, 1e5).Draw(t, "budget")
		opts := DefaultOptions()

		res := BuyWithBudget(s, budget, outcome, opts)
		if res.Cost > budget+opts.Tolerance {
			t.Fatalf("BuyWithBudget(%v) cost %v exceeds budget", budget, res.Cost)
		}
		if res.Delta < 0 {
			t.Fatalf("BuyWithBudget(%v) delta %v < 0", budget, res.Delta)
		}
		if got := CostToBuy(s.QYes, s.QNo, s.B, res.Delta, outcome); got != res.Cost {
			t.Fatalf("reported cost %v, recomputed %v", res.Cost, got)
		}
	})
}

func TestProperty_LargerBudgetNeverBuysLess(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		outcome := drawOutcome(t)
		b1 := rapid.Float64Range(1e-3, 1e4).Draw(t, "budget1")
		gap := rapid.Float64Range(1e-3, 1e4).Draw(t, "gap")

		r1 := BuyWithBudget(s, b1, outcome, DefaultOptions())
		r2 := BuyWithBudget(s, b1+gap, outcome, DefaultOptions())
		if r2.Delta < r1.Delta {
			t.Fatalf("budget %v bought %v, larger budget %v bought %v", b1, r1.Delta, b1+gap, r2.Delta)
		}
	})
}

func TestProperty_BuySharesMonotoneState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := drawState(t)
		outcome := drawOutcome(t)
		delta := rapid.Float64Range(0, 1e4).Draw(t, "delta")

		res := BuyShares(s, delta, outcome)
		if res.State.QYes < s.QYes || res.State.QNo < s.QNo || res.State.B != s.B {
			t.Fatalf("BuyShares(%+v, %v) produced %+v", s, delta, res.State)
		}
		if res.Prices.Of(outcome) < Price(s.QYes, s.QNo, s.B).Of(outcome) {
			t.Fatalf("buying %v lowered its price", outcome)
		}
	})
}
