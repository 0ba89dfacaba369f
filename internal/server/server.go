// Package server exposes the exchange over an HTTP JSON API and a
// websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/server/handler"
	"github.com/alanyoungcy/predictbook/internal/server/middleware"
	"github.com/alanyoungcy/predictbook/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per caller; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Orders  *handler.OrderHandler
	AMM     *handler.AMMHandler
	Traders *handler.TraderHandler
	Archive *handler.ArchiveHandler // nil when no archive is configured
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, auth, then rate limiting. limiter and wsHub may be
// nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", h.Markets.Quote)
	mux.HandleFunc("GET /api/markets/{id}/book", h.Markets.Depth)
	mux.HandleFunc("GET /api/markets/{id}/trades", h.Markets.ListTrades)

	mux.HandleFunc("POST /api/markets/{id}/orders", h.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/markets/{id}/orders", h.Orders.ListMarketOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.Orders.GetOrder)

	mux.HandleFunc("POST /api/markets/{id}/amm/buy", h.AMM.Buy)
	mux.HandleFunc("POST /api/markets/{id}/amm/budget", h.AMM.BuyWithBudget)
	mux.HandleFunc("GET /api/markets/{id}/amm/quote", h.AMM.Quote)

	mux.HandleFunc("POST /api/traders", h.Traders.Register)
	mux.HandleFunc("GET /api/traders/{id}", h.Traders.GetTrader)
	mux.HandleFunc("GET /api/traders/{id}/fills", h.Traders.ListFills)
	mux.HandleFunc("GET /api/traders/{id}/orders", h.Orders.ListTraderOrders)

	if h.Archive != nil {
		mux.HandleFunc("GET /api/archive/{kind}", h.Archive.ListPartitions)
		mux.HandleFunc("GET /api/archive/{kind}/{day}", h.Archive.GetPartition)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	handler = middleware.Auth(cfg.APIKey, "/api/health")(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
