// Package matching executes complementary-price crossings on order-book
// markets.
//
// A buy at price p on one outcome crosses a resting sell at FixedTotal - p on
// the other outcome, and a sell crosses a resting buy the same way. Every
// mutation goes through the domain.Tx handed in by the caller, so a pass is
// applied entirely or not at all.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/book"
	"github.com/alanyoungcy/predictbook/internal/domain"
)

// Result describes one matching pass.
type Result struct {
	Order   domain.Order   `json:"order"` // the incoming order after matching
	Trades  []domain.Trade `json:"trades"`
	Fills   []domain.Fill  `json:"fills"`
	Market  domain.Market  `json:"market"`
	Resting bool           `json:"resting"`
	// Retired lists resting buys closed during the pass because their
	// owner could no longer pay for them.
	Retired []domain.Order `json:"retired,omitempty"`
}

// Filled reports how much of the incoming order executed.
func (r Result) Filled() int64 {
	var n int64
	for _, t := range r.Trades {
		n += t.Quantity
	}
	return n
}

// Engine matches incoming orders. It holds no per-market state; the book is
// rebuilt from the transaction on every pass.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Engine.
func New(logger *slog.Logger) *Engine {
	return &Engine{
		logger: logger.With(slog.String("component", "matching")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
}

// Match runs one matching pass for order inside tx.
//
// The market is locked first, the order is validated against it, and the
// resting orders of the complementary side and outcome are scanned
// best-first. A candidate crosses only when the two prices sum exactly to
// the market's FixedTotal; others are skipped. Each crossing executes at the
// taker's price. Whatever remains of the order rests on its own queue.
//
// A resting buy whose owner cannot pay for the crossing is retired instead
// of failing the pass, so one overdrawn maker never blocks its queue.
//
// Any error leaves the transaction to be rolled back by the caller.
func (e *Engine) Match(ctx context.Context, tx domain.Tx, order domain.Order) (Result, error) {
	m, err := tx.LockMarket(ctx, order.MarketID)
	if err != nil {
		return Result{}, fmt.Errorf("matching: lock market: %w", err)
	}
	now := e.now()
	if m.Mode != domain.PricingModeOrderBook {
		return Result{}, fmt.Errorf("matching: market %s: %w", m.ID, domain.ErrWrongPricingMode)
	}
	if err := m.CheckOpen(now); err != nil {
		return Result{}, fmt.Errorf("matching: %w", err)
	}
	if err := order.Validate(m); err != nil {
		return Result{}, fmt.Errorf("matching: %w", err)
	}

	if order.ID == "" {
		order.ID = e.newID()
	}
	if order.OriginalQuantity == 0 {
		order.OriginalQuantity = order.Quantity
	}
	order.Filled = false
	order.CreatedAt = now
	order.UpdatedAt = now

	candidates, err := tx.RestingOrders(ctx, m.ID, order.Side.Opposite(), order.Outcome.Complement())
	if err != nil {
		return Result{}, fmt.Errorf("matching: load resting orders: %w", err)
	}
	queue := book.QueueOf(order.Side, candidates)

	var (
		trades  []domain.Trade
		fills   []domain.Fill
		retired []domain.Order
	)
	for _, cand := range queue.Orders() {
		if order.Quantity == 0 {
			break
		}
		if !order.Price.Add(cand.Price).Equal(m.FixedTotal) {
			continue
		}

		qty := min(order.Quantity, cand.Quantity)
		price := order.Price

		trade := e.newTrade(m.ID, order, cand, price, qty, now)
		if err := settle(ctx, tx, trade); err != nil {
			if cand.Side != domain.OrderSideBuy || !errors.Is(err, domain.ErrInsufficientBalance) {
				return Result{}, err
			}
			cand.Retire(now)
			if err := tx.UpdateOrder(ctx, cand); err != nil {
				return Result{}, fmt.Errorf("matching: retire order %s: %w", cand.ID, err)
			}
			m.Book.Remove(cand.Side, cand.Outcome, cand.ID)
			retired = append(retired, cand)
			e.logger.WarnContext(ctx, "unfunded resting buy retired",
				slog.String("market_id", m.ID),
				slog.String("order_id", cand.ID),
				slog.String("trader_id", cand.TraderID),
				slog.Int64("unexecuted", cand.Quantity),
			)
			continue
		}

		if err := order.Execute(qty, now); err != nil {
			return Result{}, fmt.Errorf("matching: %w", err)
		}
		if err := cand.Execute(qty, now); err != nil {
			return Result{}, fmt.Errorf("matching: %w", err)
		}
		if err := tx.UpdateOrder(ctx, cand); err != nil {
			return Result{}, fmt.Errorf("matching: update resting order %s: %w", cand.ID, err)
		}
		if cand.Filled {
			m.Book.Remove(cand.Side, cand.Outcome, cand.ID)
		}

		trades = append(trades, trade)
		fills = append(fills,
			e.newFill(order, trade, now),
			e.newFill(cand, trade, now),
		)
		m.ApplyTrade(order.Outcome, price, qty)

		e.logger.DebugContext(ctx, "orders crossed",
			slog.String("market_id", m.ID),
			slog.String("taker", order.ID),
			slog.String("maker", cand.ID),
			slog.String("price", price.String()),
			slog.Int64("quantity", qty),
		)
	}

	if err := tx.InsertOrder(ctx, &order); err != nil {
		return Result{}, fmt.Errorf("matching: insert order: %w", err)
	}
	resting := !order.Filled
	if resting {
		m.Book.Append(order.Side, order.Outcome, order.ID)
	}

	if len(trades) > 0 {
		if err := tx.AppendTrades(ctx, trades); err != nil {
			return Result{}, fmt.Errorf("matching: append trades: %w", err)
		}
		if err := tx.AppendFills(ctx, fills); err != nil {
			return Result{}, fmt.Errorf("matching: append fills: %w", err)
		}
	}

	m.UpdatedAt = now
	if err := tx.SaveMarket(ctx, m); err != nil {
		return Result{}, fmt.Errorf("matching: save market: %w", err)
	}

	return Result{
		Order:   order,
		Trades:  trades,
		Fills:   fills,
		Market:  m,
		Resting: resting,
		Retired: retired,
	}, nil
}

// settle moves price*quantity from the buyer to the seller. The debit goes
// first so an overdrawn buyer fails before anyone is credited; both stores
// leave the transaction usable after a refused debit.
func settle(ctx context.Context, tx domain.Tx, t domain.Trade) error {
	amount := t.Amount()
	if _, err := tx.AdjustBalance(ctx, t.BuyerID, amount.Neg()); err != nil {
		return fmt.Errorf("matching: debit buyer %s: %w", t.BuyerID, err)
	}
	if _, err := tx.AdjustBalance(ctx, t.SellerID, amount); err != nil {
		return fmt.Errorf("matching: credit seller %s: %w", t.SellerID, err)
	}
	return nil
}

func (e *Engine) newTrade(marketID string, taker, maker domain.Order, price decimal.Decimal, qty int64, now time.Time) domain.Trade {
	buy, sell := taker, maker
	if taker.Side == domain.OrderSideSell {
		buy, sell = maker, taker
	}
	return domain.Trade{
		ID:          e.newID(),
		MarketID:    marketID,
		Price:       price,
		Quantity:    qty,
		BuyerID:     buy.TraderID,
		SellerID:    sell.TraderID,
		Outcome:     taker.Outcome,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		TakerSide:   taker.Side,
		Timestamp:   now,
	}
}

// newFill records o's side of t. Each order is filled at its own price, so
// the maker of a complementary cross sees FixedTotal minus the trade price;
// Amount is the cash that moved.
func (e *Engine) newFill(o domain.Order, t domain.Trade, now time.Time) domain.Fill {
	return domain.Fill{
		ID:        e.newID(),
		TraderID:  o.TraderID,
		MarketID:  o.MarketID,
		OrderID:   o.ID,
		TradeID:   t.ID,
		Side:      o.Side,
		Outcome:   o.Outcome,
		Price:     o.Price,
		Quantity:  decimal.NewFromInt(t.Quantity),
		Amount:    t.Amount(),
		Source:    domain.FillSourceBook,
		Timestamp: now,
	}
}
