package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/matching"
)

// PlaceOrderRequest is a validated request to place a limit order.
type PlaceOrderRequest struct {
	MarketID      string
	TraderID      string
	ClientOrderID string
	Side          domain.OrderSide
	Outcome       domain.Outcome
	Price         decimal.Decimal
	Quantity      int64
}

// PlaceOrderResult is returned by PlaceOrder. Duplicate is set when the
// client order id matched an order placed earlier; Result then only carries
// that order.
type PlaceOrderResult struct {
	matching.Result
	Duplicate bool `json:"duplicate"`
}

// OrderService places orders on order-book markets.
type OrderService struct {
	tx     domain.TxStore
	orders domain.OrderStore
	engine *matching.Engine
	dedup  *Dedup
	sinks  sinks
	logger *slog.Logger
	now    func() time.Time
}

// NewOrderService creates an OrderService. dedup may be nil.
func NewOrderService(
	tx domain.TxStore,
	orders domain.OrderStore,
	engine *matching.Engine,
	dedup *Dedup,
	out Sinks,
	logger *slog.Logger,
) *OrderService {
	logger = logger.With(slog.String("component", "order_service"))
	s := &OrderService{
		tx:     tx,
		orders: orders,
		engine: engine,
		dedup:  dedup,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.sinks = sinks{Sinks: out, logger: logger, now: func() time.Time { return s.now() }}
	return s
}

// PlaceOrder matches the order and rests any remainder, all in one market
// transaction. Buy orders are rejected up front when the trader's balance is
// below price*quantity. The pass is never retried here; a
// domain.ErrConcurrencyConflict is returned for the caller to retry.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := ctx.Err(); err != nil {
		return PlaceOrderResult{}, fmt.Errorf("order_service: place order: %w", err)
	}

	var dedupKey string
	if req.ClientOrderID != "" {
		prev, err := s.orders.GetByClientID(ctx, req.TraderID, req.ClientOrderID)
		switch {
		case err == nil:
			return PlaceOrderResult{Result: matching.Result{Order: prev, Resting: !prev.Filled}, Duplicate: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return PlaceOrderResult{}, fmt.Errorf("order_service: lookup client order id: %w", err)
		}
		dedupKey = req.TraderID + ":" + req.ClientOrderID
		if s.dedup != nil && s.dedup.IsDuplicate(dedupKey) {
			return PlaceOrderResult{}, fmt.Errorf("order_service: client order id %q: %w", req.ClientOrderID, domain.ErrDuplicateRequest)
		}
	}

	order := domain.Order{
		ID:               uuid.NewString(),
		MarketID:         req.MarketID,
		TraderID:         req.TraderID,
		ClientOrderID:    req.ClientOrderID,
		Side:             req.Side,
		Outcome:          req.Outcome,
		Price:            req.Price,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
	}

	var res matching.Result
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		trader, err := tx.GetTrader(ctx, req.TraderID)
		if err != nil {
			return fmt.Errorf("trader %s: %w", req.TraderID, err)
		}
		if req.Side == domain.OrderSideBuy {
			need := req.Price.Mul(decimal.NewFromInt(req.Quantity))
			if trader.Balance.LessThan(need) {
				return fmt.Errorf("%w: balance %s, need %s", domain.ErrInsufficientBalance, trader.Balance, need)
			}
		}
		res, err = s.engine.Match(ctx, tx, order)
		return err
	})
	if err != nil && req.ClientOrderID != "" && errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a race with a concurrent replay that committed first.
		if prev, lerr := s.orders.GetByClientID(ctx, req.TraderID, req.ClientOrderID); lerr == nil {
			return PlaceOrderResult{Result: matching.Result{Order: prev, Resting: !prev.Filled}, Duplicate: true}, nil
		}
	}
	if err != nil {
		if dedupKey != "" && s.dedup != nil {
			s.dedup.Forget(dedupKey)
		}
		s.logger.InfoContext(ctx, "order rejected",
			slog.String("market_id", req.MarketID),
			slog.String("trader_id", req.TraderID),
			slog.String("kind", domain.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return PlaceOrderResult{}, fmt.Errorf("order_service: place order: %w", err)
	}

	s.afterCommit(ctx, res)
	return PlaceOrderResult{Result: res}, nil
}

func (s *OrderService) afterCommit(ctx context.Context, res matching.Result) {
	o := res.Order
	s.sinks.publish(ctx, domain.ChannelOrders, Event{
		Type:     EventOrderPlaced,
		MarketID: o.MarketID,
		Data:     o,
		At:       o.CreatedAt,
	})
	for _, r := range res.Retired {
		s.sinks.publish(ctx, domain.ChannelOrders, Event{
			Type:     EventOrderRetired,
			MarketID: r.MarketID,
			Data:     r,
			At:       r.UpdatedAt,
		})
		s.sinks.log(ctx, "order_retired", map[string]any{
			"order_id":   r.ID,
			"market":     r.MarketID,
			"trader":     r.TraderID,
			"unexecuted": r.Quantity,
		})
	}
	for _, t := range res.Trades {
		s.sinks.publish(ctx, domain.ChannelTrades, Event{
			Type:     EventTrade,
			MarketID: t.MarketID,
			Data:     t,
			At:       t.Timestamp,
		})
	}
	s.sinks.refresh(ctx, res.Market, len(res.Trades) > 0)

	s.sinks.log(ctx, "order_placed", map[string]any{
		"order_id":  o.ID,
		"market":    o.MarketID,
		"trader":    o.TraderID,
		"side":      string(o.Side),
		"outcome":   string(o.Outcome),
		"price":     o.Price.String(),
		"quantity":  o.OriginalQuantity,
		"filled":    res.Filled(),
		"trades":    len(res.Trades),
		"resting":   res.Resting,
		"client_id": o.ClientOrderID,
	})

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", o.ID),
		slog.String("market_id", o.MarketID),
		slog.String("side", string(o.Side)),
		slog.String("outcome", string(o.Outcome)),
		slog.String("price", o.Price.String()),
		slog.Int64("filled", res.Filled()),
		slog.Int("trades", len(res.Trades)),
		slog.Bool("resting", res.Resting),
	)
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// ListByMarket returns orders for a market, newest first.
func (s *OrderService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketID, err)
	}
	return orders, nil
}

// ListByTrader returns a trader's orders, newest first.
func (s *OrderService) ListByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByTrader(ctx, traderID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by trader %q: %w", traderID, err)
	}
	return orders, nil
}
