package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictbook/internal/config"
	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/lmsr"
	"github.com/alanyoungcy/predictbook/internal/matching"
	"github.com/alanyoungcy/predictbook/internal/notify"
	"github.com/alanyoungcy/predictbook/internal/pipeline"
	"github.com/alanyoungcy/predictbook/internal/server"
	"github.com/alanyoungcy/predictbook/internal/server/handler"
	"github.com/alanyoungcy/predictbook/internal/server/ws"
	"github.com/alanyoungcy/predictbook/internal/service"
)

const (
	dedupSweepInterval = time.Minute
	shutdownTimeout    = 10 * time.Second
)

// ServerMode serves the HTTP API and websocket stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return ignoreCanceled(g.Wait())
}

// ArchiveMode runs only the retention archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API server and, when enabled, the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		if err := a.startServer(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	return ignoreCanceled(g.Wait())
}

// startServer builds the services, seeds configured markets and adds the
// HTTP server, websocket hub and dedup sweeper to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	startingBalance, err := decimal.NewFromString(a.cfg.Market.StartingBalance)
	if err != nil {
		return fmt.Errorf("market.starting_balance: %w", err)
	}
	seeds, err := seedParams(a.cfg.Market)
	if err != nil {
		return err
	}

	out := deps.Sinks()
	dedup := service.NewDedup(a.cfg.Engine.DedupTTL.Duration)
	engine := lmsr.NewEngine(lmsr.Options{
		MaxIterations: a.cfg.Market.LMSRIterations,
		Tolerance:     a.cfg.Market.LMSRTolerance,
	})

	markets := service.NewMarketService(deps.Markets, deps.Orders, deps.Trades, out, a.logger)
	orders := service.NewOrderService(deps.Tx, deps.Orders, matching.New(a.logger), dedup, out, a.logger)
	amm := service.NewAMMService(deps.Tx, deps.Markets, engine, out, a.logger)
	traders := service.NewTraderService(deps.Traders, deps.Fills, deps.Audit, startingBalance, a.cfg.Market.Currency, a.logger)

	if len(seeds) > 0 {
		n, err := markets.Seed(ctx, seeds)
		if err != nil {
			return fmt.Errorf("seed markets: %w", err)
		}
		a.logger.InfoContext(ctx, "markets seeded",
			slog.Int("created", n),
			slog.Int("configured", len(seeds)),
		)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Markets: handler.NewMarketHandler(markets, a.logger),
		Orders:  handler.NewOrderHandler(orders, a.logger),
		AMM:     handler.NewAMMHandler(amm, a.logger),
		Traders: handler.NewTraderHandler(traders, a.logger),
	}
	if deps.ArchiveReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return dedup.Run(ctx, dedupSweepInterval) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := deps.Notifier.Notify(ctx, notify.EventStarted, "predictbook started",
		fmt.Sprintf("mode=%s port=%d", a.cfg.Mode, a.cfg.Server.Port)); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
	return nil
}

// startArchiver adds the cron-driven archiver to g.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archiver requires s3 blob storage")
	}
	if deps.LockManager == nil {
		a.logger.WarnContext(ctx, "redis disabled: archiver runs without a cross-replica lock")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, deps.Notifier, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error { return archiver.RunCron(ctx, a.cfg.Archive.Cron) })
	return nil
}

// seedParams converts configured seed markets into domain parameters,
// applying the market-level defaults.
func seedParams(mc config.MarketConfig) ([]domain.MarketParams, error) {
	if len(mc.Seed) == 0 {
		return nil, nil
	}
	defaults := make(map[string]decimal.Decimal, 4)
	for name, v := range map[string]string{
		"fixed_total":   mc.FixedTotal,
		"price_floor":   mc.PriceFloor,
		"price_ceiling": mc.PriceCeiling,
		"tick_size":     mc.TickSize,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("market.%s: %w", name, err)
		}
		defaults[name] = d
	}

	params := make([]domain.MarketParams, 0, len(mc.Seed))
	for _, s := range mc.Seed {
		p := domain.MarketParams{
			ID:           s.ID,
			Question:     s.Question,
			Category:     s.Category,
			Mode:         domain.PricingMode(strings.ToLower(s.Mode)),
			FixedTotal:   defaults["fixed_total"],
			PriceFloor:   defaults["price_floor"],
			PriceCeiling: defaults["price_ceiling"],
			TickSize:     defaults["tick_size"],
			LiquidityB:   s.LiquidityB,
		}
		if len(s.Labels) == 2 {
			p.Labels = [2]string{s.Labels[0], s.Labels[1]}
		}
		if s.InitialPrice != "" {
			d, err := decimal.NewFromString(s.InitialPrice)
			if err != nil {
				return nil, fmt.Errorf("market.seed %s: initial_price: %w", s.ID, err)
			}
			p.InitialPrice = d
		}
		if s.EndTime != "" {
			t, err := time.Parse(time.RFC3339, s.EndTime)
			if err != nil {
				return nil, fmt.Errorf("market.seed %s: end_time: %w", s.ID, err)
			}
			p.EndTime = &t
		}
		params = append(params, p)
	}
	return params, nil
}

// ignoreCanceled treats context cancellation as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
