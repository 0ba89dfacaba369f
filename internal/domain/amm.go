package domain

import (
	"fmt"
	"math"
)

// AMMState is the liquidity-pool state of an LMSR market. QYes and QNo are
// the cumulative shares issued per outcome and never decrease. B is set at
// creation and never changes.
type AMMState struct {
	QYes float64 `json:"q_yes"`
	QNo  float64 `json:"q_no"`
	B    float64 `json:"b"`
}

// Q returns the issued shares for outcome.
func (s AMMState) Q(outcome Outcome) float64 {
	if outcome == OutcomeB {
		return s.QNo
	}
	return s.QYes
}

// Validate rejects a non-positive or non-finite b and negative or
// non-finite quantities.
func (s AMMState) Validate() error {
	if math.IsNaN(s.B) || math.IsInf(s.B, 0) || s.B <= 0 {
		return fmt.Errorf("%w: liquidity b=%v must be finite and > 0", ErrInvalidAMMInput, s.B)
	}
	for _, q := range [2]float64{s.QYes, s.QNo} {
		if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
			return fmt.Errorf("%w: share quantity %v must be finite and >= 0", ErrInvalidAMMInput, q)
		}
	}
	return nil
}
