package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predictbook/internal/book"
	"github.com/alanyoungcy/predictbook/internal/domain"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Quote(ctx context.Context, id string) (domain.Quote, error)
	Depth(ctx context.Context, id string, levels int) (book.Depth, error)
	ListTrades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error)
}

const defaultDepthLevels = 10

// MarketHandler serves market state, quotes, depth and trade history.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns active markets.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(markets, opts))
}

// GetMarket returns a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Quote returns the market's current probabilities and display prices.
// GET /api/markets/{id}/quote
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := h.markets.Quote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "quote market", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Depth returns aggregated resting liquidity of an order-book market.
// GET /api/markets/{id}/book?levels=10
func (h *MarketHandler) Depth(w http.ResponseWriter, r *http.Request) {
	levels := defaultDepthLevels
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "levels must be between 1 and 500")
			return
		}
		levels = n
	}
	d, err := h.markets.Depth(r.Context(), r.PathValue("id"), levels)
	if err != nil {
		writeServiceError(w, r, h.logger, "market depth", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListTrades returns the market's trades, newest first.
// GET /api/markets/{id}/trades
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.markets.ListTrades(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(trades, opts))
}
