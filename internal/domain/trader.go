package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults applied to newly registered traders.
var (
	DefaultStartingBalance = decimal.NewFromInt(1500)
	DefaultCurrency        = "INR"
)

// Trader is a market participant. Balance is never negative and is only
// mutated by settlement inside a market transaction.
type Trader struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the registration fields.
func (t Trader) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTrader)
	}
	name := strings.TrimSpace(t.Name)
	if len(name) < 2 || len(name) > 80 {
		return fmt.Errorf("%w: name must be 2-80 characters", ErrInvalidTrader)
	}
	at := strings.Index(t.Email, "@")
	if at < 1 || at == len(t.Email)-1 || strings.ContainsAny(t.Email, " \t\n") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidTrader, t.Email)
	}
	if t.Balance.IsNegative() {
		return fmt.Errorf("%w: negative balance", ErrInvalidTrader)
	}
	return nil
}
