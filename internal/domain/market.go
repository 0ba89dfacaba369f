package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusClosed MarketStatus = "closed"
)

// PricingMode selects the pricing engine a market runs on. It is fixed when
// the market is created.
type PricingMode string

const (
	PricingModeOrderBook PricingMode = "orderbook"
	PricingModeLMSR      PricingMode = "lmsr"
)

// Valid reports whether m is a known pricing mode.
func (m PricingMode) Valid() bool {
	return m == PricingModeOrderBook || m == PricingModeLMSR
}

// Outcome is one of the two complementary results of a binary market.
type Outcome string

const (
	OutcomeA Outcome = "A" // YES
	OutcomeB Outcome = "B" // NO
)

// Valid reports whether o is A or B.
func (o Outcome) Valid() bool {
	return o == OutcomeA || o == OutcomeB
}

// Complement returns the other outcome.
func (o Outcome) Complement() Outcome {
	if o == OutcomeA {
		return OutcomeB
	}
	return OutcomeA
}

// Index maps A to 0 and B to 1.
func (o Outcome) Index() int {
	if o == OutcomeB {
		return 1
	}
	return 0
}

// ParseOutcome accepts "A"/"B" and the "yes"/"no" aliases, case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "YES":
		return OutcomeA, nil
	case "B", "NO":
		return OutcomeB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// Defaults for order-book markets.
var (
	DefaultFixedTotal   = decimal.NewFromInt(10)
	DefaultPriceFloor   = decimal.RequireFromString("0.5")
	DefaultPriceCeiling = decimal.RequireFromString("9.5")
	DefaultTickSize     = decimal.RequireFromString("0.1")
)

// probabilityPlaces is the decimal precision used when LMSR probabilities are
// stored on the market's options.
const probabilityPlaces = 8

// Option is one side of the market as shown to traders. In order-book mode
// CurrentPrice is in currency units; in LMSR mode it is the implied
// probability.
type Option struct {
	Key          Outcome         `json:"key"`
	Label        string          `json:"label"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// OrderBookIndex holds the ids of resting orders for each side and outcome,
// in queue order.
type OrderBookIndex struct {
	BuyA  []string `json:"buy_a"`
	BuyB  []string `json:"buy_b"`
	SellA []string `json:"sell_a"`
	SellB []string `json:"sell_b"`
}

func (b *OrderBookIndex) queue(side OrderSide, outcome Outcome) *[]string {
	switch {
	case side == OrderSideBuy && outcome == OutcomeA:
		return &b.BuyA
	case side == OrderSideBuy:
		return &b.BuyB
	case outcome == OutcomeA:
		return &b.SellA
	default:
		return &b.SellB
	}
}

// Queue returns the ids resting on the given side and outcome.
func (b OrderBookIndex) Queue(side OrderSide, outcome Outcome) []string {
	return *b.queue(side, outcome)
}

// Append adds id to the tail of the queue.
func (b *OrderBookIndex) Append(side OrderSide, outcome Outcome, id string) {
	q := b.queue(side, outcome)
	*q = append(*q, id)
}

// Remove drops id from the queue. It reports whether id was present.
func (b *OrderBookIndex) Remove(side OrderSide, outcome Outcome, id string) bool {
	q := b.queue(side, outcome)
	for i, v := range *q {
		if v == id {
			*q = append((*q)[:i:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the total number of resting ids.
func (b OrderBookIndex) Len() int {
	return len(b.BuyA) + len(b.BuyB) + len(b.SellA) + len(b.SellB)
}

func (b OrderBookIndex) clone() OrderBookIndex {
	return OrderBookIndex{
		BuyA:  append([]string(nil), b.BuyA...),
		BuyB:  append([]string(nil), b.BuyB...),
		SellA: append([]string(nil), b.SellA...),
		SellB: append([]string(nil), b.SellB...),
	}
}

// TradedQuantity is the cumulative number of shares traded per outcome.
type TradedQuantity struct {
	A int64 `json:"A"`
	B int64 `json:"B"`
}

// Add accumulates qty on the given outcome.
func (t *TradedQuantity) Add(outcome Outcome, qty int64) {
	if outcome == OutcomeA {
		t.A += qty
		return
	}
	t.B += qty
}

// Market is the aggregate root for one binary market. All mutations happen
// inside a market transaction.
type Market struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	Category     string          `json:"category"`
	Mode         PricingMode     `json:"mode"`
	Options      [2]Option       `json:"options"`
	FixedTotal   decimal.Decimal `json:"fixed_total"`
	PriceFloor   decimal.Decimal `json:"price_floor"`
	PriceCeiling decimal.Decimal `json:"price_ceiling"`
	TickSize     decimal.Decimal `json:"tick_size"`
	Book         OrderBookIndex  `json:"order_book"`
	TotalTraded  TradedQuantity  `json:"total_traded_quantity"`
	Volume       decimal.Decimal `json:"volume"`
	AMM          *AMMState       `json:"amm,omitempty"`
	Status       MarketStatus    `json:"status"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Option returns the option for outcome.
func (m Market) Option(outcome Outcome) (Option, error) {
	if !outcome.Valid() {
		return Option{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	return m.Options[outcome.Index()], nil
}

// Clone returns a deep copy so the caller can mutate it freely.
func (m Market) Clone() Market {
	out := m
	out.Book = m.Book.clone()
	if m.AMM != nil {
		amm := *m.AMM
		out.AMM = &amm
	}
	if m.EndTime != nil {
		t := *m.EndTime
		out.EndTime = &t
	}
	return out
}

// CheckOpen returns ErrMarketClosed if the market no longer accepts trading.
func (m Market) CheckOpen(now time.Time) error {
	if m.Status != MarketStatusActive {
		return fmt.Errorf("%w: market %s is %s", ErrMarketClosed, m.ID, m.Status)
	}
	if m.EndTime != nil && !now.Before(*m.EndTime) {
		return fmt.Errorf("%w: market %s ended at %s", ErrMarketClosed, m.ID, m.EndTime.Format(time.RFC3339))
	}
	return nil
}

// ValidatePrice checks p against the market's price band and tick size.
func (m Market) ValidatePrice(p decimal.Decimal) error {
	if p.LessThan(m.PriceFloor) || p.GreaterThan(m.PriceCeiling) {
		return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidPrice, p, m.PriceFloor, m.PriceCeiling)
	}
	if m.TickSize.IsPositive() && !p.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("%w: %s is not a multiple of tick %s", ErrInvalidPrice, p, m.TickSize)
	}
	return nil
}

// Complement returns FixedTotal - p.
func (m Market) Complement(p decimal.Decimal) decimal.Decimal {
	return m.FixedTotal.Sub(p)
}

// ApplyTrade records an executed trade on the aggregate. The traded outcome
// takes the trade price and the other option takes its complement, so the
// two prices keep summing to FixedTotal.
func (m *Market) ApplyTrade(outcome Outcome, price decimal.Decimal, qty int64) {
	m.Options[outcome.Index()].CurrentPrice = price
	m.Options[outcome.Complement().Index()].CurrentPrice = m.Complement(price)
	m.TotalTraded.Add(outcome, qty)
	m.Volume = m.Volume.Add(price.Mul(decimal.NewFromInt(qty)))
}

// ApplyAMMBuy records an AMM purchase: the new pool state, the implied
// probabilities and the cost paid. Issued shares are tracked by the pool
// state itself, not by TotalTraded.
func (m *Market) ApplyAMMBuy(state AMMState, pYes float64, cost decimal.Decimal) {
	amm := state
	m.AMM = &amm
	yes := decimal.NewFromFloat(pYes).Round(probabilityPlaces)
	m.Options[OutcomeA.Index()].CurrentPrice = yes
	m.Options[OutcomeB.Index()].CurrentPrice = decimal.NewFromInt(1).Sub(yes)
	m.Volume = m.Volume.Add(cost)
}

// Validate checks the structural invariants of the market.
func (m Market) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMarket)
	}
	if m.Options[0].Key != OutcomeA || m.Options[1].Key != OutcomeB {
		return fmt.Errorf("%w: options must be keyed A and B", ErrInvalidMarket)
	}
	if !m.FixedTotal.IsPositive() {
		return fmt.Errorf("%w: fixed total must be positive", ErrInvalidMarket)
	}
	if m.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume", ErrInvalidMarket)
	}

	switch m.Mode {
	case PricingModeOrderBook:
		if m.AMM != nil {
			return fmt.Errorf("%w: order-book market carries amm state", ErrInvalidMarket)
		}
		if !m.PriceFloor.IsPositive() || m.PriceFloor.GreaterThan(m.PriceCeiling) || !m.PriceCeiling.LessThan(m.FixedTotal) {
			return fmt.Errorf("%w: price band [%s, %s] must lie inside (0, %s)",
				ErrInvalidMarket, m.PriceFloor, m.PriceCeiling, m.FixedTotal)
		}
		if !m.TickSize.IsPositive() {
			return fmt.Errorf("%w: tick size must be positive", ErrInvalidMarket)
		}
		sum := m.Options[0].CurrentPrice.Add(m.Options[1].CurrentPrice)
		if !sum.Equal(m.FixedTotal) {
			return fmt.Errorf("%w: option prices sum to %s, want %s", ErrInvalidMarket, sum, m.FixedTotal)
		}
	case PricingModeLMSR:
		if m.AMM == nil {
			return fmt.Errorf("%w: lmsr market without amm state", ErrInvalidMarket)
		}
		if err := m.AMM.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMarket, err)
		}
		if m.Book.Len() > 0 {
			return fmt.Errorf("%w: lmsr market carries resting orders", ErrInvalidMarket)
		}
	default:
		return fmt.Errorf("%w: unknown pricing mode %q", ErrInvalidMarket, m.Mode)
	}
	return nil
}

// MarketParams configures a new market. Mode must be set explicitly.
type MarketParams struct {
	ID           string
	Question     string
	Category     string
	Mode         PricingMode
	Labels       [2]string
	FixedTotal   decimal.Decimal
	PriceFloor   decimal.Decimal
	PriceCeiling decimal.Decimal
	TickSize     decimal.Decimal
	InitialPrice decimal.Decimal // order-book mode: starting price of outcome A
	LiquidityB   float64         // lmsr mode
	EndTime      *time.Time
}

// NewMarket builds a validated market from params, filling unset numeric
// fields with the package defaults.
func NewMarket(p MarketParams, now time.Time) (Market, error) {
	orZero := func(v, def decimal.Decimal) decimal.Decimal {
		if v.IsZero() {
			return def
		}
		return v
	}
	labels := p.Labels
	if labels[0] == "" {
		labels[0] = "Yes"
	}
	if labels[1] == "" {
		labels[1] = "No"
	}

	m := Market{
		ID:           p.ID,
		Question:     p.Question,
		Category:     p.Category,
		Mode:         p.Mode,
		FixedTotal:   orZero(p.FixedTotal, DefaultFixedTotal),
		PriceFloor:   orZero(p.PriceFloor, DefaultPriceFloor),
		PriceCeiling: orZero(p.PriceCeiling, DefaultPriceCeiling),
		TickSize:     orZero(p.TickSize, DefaultTickSize),
		Volume:       decimal.Zero,
		Status:       MarketStatusActive,
		EndTime:      p.EndTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switch p.Mode {
	case PricingModeOrderBook:
		initial := p.InitialPrice
		if initial.IsZero() {
			initial = m.FixedTotal.Div(decimal.NewFromInt(2))
		}
		if err := m.ValidatePrice(initial); err != nil {
			return Market{}, fmt.Errorf("%w: initial price: %v", ErrInvalidMarket, err)
		}
		m.Options = [2]Option{
			{Key: OutcomeA, Label: labels[0], CurrentPrice: initial},
			{Key: OutcomeB, Label: labels[1], CurrentPrice: m.Complement(initial)},
		}
	case PricingModeLMSR:
		half := decimal.RequireFromString("0.5")
		m.AMM = &AMMState{B: p.LiquidityB}
		m.Options = [2]Option{
			{Key: OutcomeA, Label: labels[0], CurrentPrice: half},
			{Key: OutcomeB, Label: labels[1], CurrentPrice: half},
		}
	default:
		return Market{}, fmt.Errorf("%w: pricing mode must be %q or %q, got %q",
			ErrInvalidMarket, PricingModeOrderBook, PricingModeLMSR, p.Mode)
	}

	if err := m.Validate(); err != nil {
		return Market{}, err
	}
	return m, nil
}
