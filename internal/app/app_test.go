package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/predictbook/internal/config"
	"github.com/alanyoungcy/predictbook/internal/domain"
)

func TestSeedParams(t *testing.T) {
	mc := config.Defaults().Market
	mc.TickSize = "0.5"
	mc.Seed = []config.MarketSeed{
		{ID: "rain", Question: "Rain?", Mode: "OrderBook", Labels: []string{"Rain", "Dry"}, InitialPrice: "6"},
		{ID: "flood", Question: "Flood?", Mode: "lmsr", LiquidityB: 20, EndTime: "2027-01-01T00:00:00Z"},
	}

	params, err := seedParams(mc)
	if err != nil {
		t.Fatalf("seedParams: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("got %d params", len(params))
	}
	rain := params[0]
	if rain.Mode != domain.PricingModeOrderBook || rain.Labels[1] != "Dry" || rain.InitialPrice.String() != "6" {
		t.Errorf("rain = %+v", rain)
	}
	if rain.TickSize.String() != "0.5" || rain.FixedTotal.String() != "10" {
		t.Errorf("defaults not applied: tick %s total %s", rain.TickSize, rain.FixedTotal)
	}
	flood := params[1]
	if flood.Mode != domain.PricingModeLMSR || flood.LiquidityB != 20 || flood.EndTime == nil || flood.EndTime.Year() != 2027 {
		t.Errorf("flood = %+v", flood)
	}

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range params {
		if _, err := domain.NewMarket(p, now); err != nil {
			t.Errorf("NewMarket(%s): %v", p.ID, err)
		}
	}
}

func TestSeedParamsErrors(t *testing.T) {
	mc := config.Defaults().Market
	mc.Seed = []config.MarketSeed{{ID: "x", Mode: "orderbook", InitialPrice: "abc"}}
	if _, err := seedParams(mc); err == nil {
		t.Error("expected initial_price error")
	}

	mc = config.Defaults().Market
	mc.PriceFloor = "low"
	mc.Seed = []config.MarketSeed{{ID: "x", Mode: "orderbook"}}
	if _, err := seedParams(mc); err == nil {
		t.Error("expected price_floor error")
	}

	if p, err := seedParams(config.Defaults().Market); err != nil || p != nil {
		t.Errorf("no seeds = %v, %v", p, err)
	}
}

func TestNeedsS3(t *testing.T) {
	cfg := config.Defaults()
	for _, tt := range []struct {
		mode    string
		enabled bool
		want    bool
	}{
		{"server", false, false},
		{"server", true, true},
		{"archive", false, true},
		{"full", false, false},
		{"full", true, true},
	} {
		cfg.Mode, cfg.Archive.Enabled = tt.mode, tt.enabled
		if got := needsS3(&cfg); got != tt.want {
			t.Errorf("needsS3(%s, enabled=%v) = %v", tt.mode, tt.enabled, got)
		}
	}
}

func TestWireMemoryWithoutRedis(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store = "memory"
	cfg.Redis.Addr = ""
	cfg.Mode = "server"

	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Tx == nil || deps.Markets == nil || deps.Traders == nil || deps.Audit == nil {
		t.Fatal("memory stores not wired")
	}
	if deps.SignalBus != nil || deps.PriceCache != nil || deps.Archiver != nil || deps.ArchiveReader != nil {
		t.Error("optional backends should be nil")
	}
	if len(deps.Checks) != 0 {
		t.Errorf("checks = %v, want none", deps.Checks)
	}
	s := deps.Sinks()
	if s.Bus != nil || s.Depth != nil || s.Audit == nil {
		t.Errorf("sinks = %+v", s)
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(fmt.Errorf("wrapped: %w", context.Canceled)); err != nil {
		t.Errorf("canceled = %v", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Errorf("boom = %v", err)
	}
}
