// Package lmsr prices a binary liquidity pool with the logarithmic market
// scoring rule.
//
// The cost of the pool is C(qYes, qNo) = b * ln(e^(qYes/b) + e^(qNo/b)) and
// the price of an outcome is the softmax of q/b. Every function here is pure;
// callers persist the returned state. All evaluations go through log-sum-exp
// so that no result overflows for b > 0 and large share counts.
package lmsr

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// MaxDelta is the ceiling on the share count BuyWithBudget will search.
const MaxDelta = 1e12

// Options tunes the budget solver. Zero fields take the defaults.
type Options struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultOptions returns 60 bisection steps and a 1e-9 cost tolerance.
func DefaultOptions() Options {
	return Options{MaxIterations: 60, Tolerance: 1e-9}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.Tolerance <= 0 || math.IsNaN(o.Tolerance) {
		o.Tolerance = def.Tolerance
	}
	return o
}

// Prices are the implied probabilities of the two outcomes.
type Prices struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Of returns the probability of outcome.
func (p Prices) Of(outcome domain.Outcome) float64 {
	if outcome == domain.OutcomeB {
		return p.No
	}
	return p.Yes
}

// Validate rejects a non-positive or non-finite b and negative or
// non-finite share quantities with domain.ErrInvalidAMMInput.
func Validate(qYes, qNo, b float64) error {
	return domain.AMMState{QYes: qYes, QNo: qNo, B: b}.Validate()
}

// logSumExp returns ln(e^x + e^y) without overflow.
func logSumExp(x, y float64) float64 {
	m := math.Max(x, y)
	if math.IsInf(m, -1) {
		return m
	}
	return m + math.Log1p(math.Exp(-math.Abs(x-y)))
}

// logistic returns 1 / (1 + e^-x), split on the sign of x so the
// exponential never overflows.
func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logLogistic returns ln(logistic(x)).
func logLogistic(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}

// Cost returns b * ln(e^(qYes/b) + e^(qNo/b)).
func Cost(qYes, qNo, b float64) float64 {
	return b * logSumExp(qYes/b, qNo/b)
}

// Price returns the implied probabilities. Each is computed from its own
// logistic so neither is derived by subtraction.
func Price(qYes, qNo, b float64) Prices {
	d := (qYes - qNo) / b
	return Prices{Yes: logistic(d), No: logistic(-d)}
}

// CostToBuy returns Cost after adding delta shares of outcome minus Cost
// before. It is 0 for delta <= 0.
//
// The difference is evaluated as b * ln(p*e^(delta/b) + (1-p)), where p is
// the current probability of outcome, instead of subtracting two large
// costs.
func CostToBuy(qYes, qNo, b, delta float64, outcome domain.Outcome) float64 {
	if !(delta > 0) {
		return 0
	}
	d := (qYes - qNo) / b
	if outcome == domain.OutcomeB {
		d = -d
	}
	t := delta / b
	lnP := logLogistic(d)
	if t < 700 {
		return b * math.Log1p(math.Exp(lnP)*math.Expm1(t))
	}
	return b * logSumExp(lnP+t, logLogistic(-d))
}

// BuyResult is the outcome of a share purchase.
type BuyResult struct {
	Delta  float64         `json:"delta"`
	Cost   float64         `json:"cost"`
	Prices Prices          `json:"prices"`
	State  domain.AMMState `json:"state"`
}

// BuyShares prices the purchase of delta shares of outcome and returns the
// new state. It does not check affordability. A non-positive delta leaves
// the state unchanged at zero cost.
func BuyShares(s domain.AMMState, delta float64, outcome domain.Outcome) BuyResult {
	if !(delta > 0) {
		return BuyResult{State: s, Prices: Price(s.QYes, s.QNo, s.B)}
	}
	cost := CostToBuy(s.QYes, s.QNo, s.B, delta, outcome)
	next := s
	if outcome == domain.OutcomeB {
		next.QNo += delta
	} else {
		next.QYes += delta
	}
	return BuyResult{
		Delta:  delta,
		Cost:   cost,
		Prices: Price(next.QYes, next.QNo, next.B),
		State:  next,
	}
}

// BudgetResult is the sizing returned by BuyWithBudget.
type BudgetResult struct {
	Delta      float64 `json:"delta"`
	Cost       float64 `json:"cost"`
	Iterations int     `json:"iterations"`
}

// BuyWithBudget returns the largest share count of outcome found whose cost
// does not exceed budget.
//
// An upper bound is doubled from 1 until its cost exceeds the budget or
// MaxDelta is reached, then the bracket is bisected for at most
// MaxIterations steps, stopping early once the cost is within Tolerance of
// the budget. The lower end of the bracket is always affordable, so the
// returned cost never exceeds the budget. A non-positive budget returns
// zero without searching.
func BuyWithBudget(s domain.AMMState, budget float64, outcome domain.Outcome, opts Options) BudgetResult {
	if !(budget > 0) {
		return BudgetResult{}
	}
	opts = opts.withDefaults()
	cost := func(delta float64) float64 {
		return CostToBuy(s.QYes, s.QNo, s.B, delta, outcome)
	}

	lo, hi := 0.0, 1.0
	for cost(hi) <= budget {
		if hi >= MaxDelta {
			return BudgetResult{Delta: MaxDelta, Cost: cost(MaxDelta)}
		}
		lo = hi
		hi = math.Min(hi*2, MaxDelta)
	}

	var iter int
	for iter = 0; iter < opts.MaxIterations; iter++ {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		c := cost(mid)
		if c > budget {
			hi = mid
			continue
		}
		lo = mid
		if budget-c <= opts.Tolerance {
			iter++
			break
		}
	}
	return BudgetResult{Delta: lo, Cost: cost(lo), Iterations: iter}
}

// Engine binds solver options so callers do not thread them through every
// call.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine using opts, with zero fields defaulted.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Options returns the effective solver options.
func (e *Engine) Options() Options { return e.opts }

// Buy validates s and buys delta shares.
func (e *Engine) Buy(s domain.AMMState, delta float64, outcome domain.Outcome) (BuyResult, error) {
	if err := check(s, outcome); err != nil {
		return BuyResult{}, err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return BuyResult{}, fmt.Errorf("lmsr: buy: %w: delta %v", domain.ErrInvalidAMMInput, delta)
	}
	return BuyShares(s, delta, outcome), nil
}

// SizeBudget validates s and solves for the shares budget can buy.
func (e *Engine) SizeBudget(s domain.AMMState, budget float64, outcome domain.Outcome) (BudgetResult, error) {
	if err := check(s, outcome); err != nil {
		return BudgetResult{}, err
	}
	if math.IsNaN(budget) || math.IsInf(budget, 0) {
		return BudgetResult{}, fmt.Errorf("lmsr: size budget: %w: budget %v", domain.ErrInvalidBudget, budget)
	}
	return BuyWithBudget(s, budget, outcome, e.opts), nil
}

func check(s domain.AMMState, outcome domain.Outcome) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("lmsr: %w", err)
	}
	if !outcome.Valid() {
		return fmt.Errorf("lmsr: %w: %q", domain.ErrInvalidOutcome, outcome)
	}
	return nil
}
