package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/service"
)

// OrderService is what the order handler needs from the service layer.
type OrderService interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (service.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error)
	ListByTrader(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order placement and order history.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// placeOrderBody is the JSON body of POST /api/markets/{id}/orders. Price
// accepts a JSON number or string.
type placeOrderBody struct {
	TraderID      string          `json:"trader_id"`
	ClientOrderID string          `json:"client_order_id"`
	Side          string          `json:"side"`
	Outcome       string          `json:"outcome"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
}

func (b placeOrderBody) request(marketID string) (service.PlaceOrderRequest, error) {
	if b.TraderID == "" {
		return service.PlaceOrderRequest{}, fmt.Errorf("%w: trader_id is required", domain.ErrInvalidTrader)
	}
	side, err := domain.ParseOrderSide(b.Side)
	if err != nil {
		return service.PlaceOrderRequest{}, err
	}
	outcome, err := domain.ParseOutcome(b.Outcome)
	if err != nil {
		return service.PlaceOrderRequest{}, err
	}
	return service.PlaceOrderRequest{
		MarketID:      marketID,
		TraderID:      b.TraderID,
		ClientOrderID: b.ClientOrderID,
		Side:          side,
		Outcome:       outcome,
		Price:         b.Price,
		Quantity:      b.Quantity,
	}, nil
}

// PlaceOrder matches a limit order and rests any remainder. A replayed
// client_order_id answers 200 with the original order instead of 201.
// POST /api/markets/{id}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.request(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListMarketOrders returns a market's orders, newest first.
// GET /api/markets/{id}/orders
func (h *OrderHandler) ListMarketOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListByMarket)
}

// ListTraderOrders returns a trader's orders, newest first.
// GET /api/traders/{id}/orders
func (h *OrderHandler) ListTraderOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.orders.ListByTrader)
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, domain.ListOpts) ([]domain.Order, error)) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := fn(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(orders, opts))
}
