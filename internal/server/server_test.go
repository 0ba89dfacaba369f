package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/lmsr"
	"github.com/alanyoungcy/predictbook/internal/matching"
	"github.com/alanyoungcy/predictbook/internal/server"
	"github.com/alanyoungcy/predictbook/internal/server/handler"
	"github.com/alanyoungcy/predictbook/internal/service"
	"github.com/alanyoungcy/predictbook/internal/store/memory"
)

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

// fakeArchive serves fixed JSONL partitions keyed by kind and day.
type fakeArchive struct {
	days map[string]map[string]string
}

func (f fakeArchive) Partitions(_ context.Context, kind string) ([]domain.ArchivePartition, error) {
	if !domain.ValidArchiveKind(kind) {
		return nil, domain.ErrInvalidArchive
	}
	var out []domain.ArchivePartition
	for d, body := range f.days[kind] {
		out = append(out, domain.ArchivePartition{Kind: kind, Day: d, Size: int64(len(body))})
	}
	return out, nil
}

func (f fakeArchive) OpenPartition(_ context.Context, kind string, day time.Time) (io.ReadCloser, error) {
	if !domain.ValidArchiveKind(kind) {
		return nil, domain.ErrInvalidArchive
	}
	body, ok := f.days[kind][day.Format(time.DateOnly)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func newTestServer(t *testing.T, checks map[string]handler.Pinger) http.Handler {
	t.Helper()
	return newTestServerWithArchive(t, checks, nil)
}

func newTestServerWithArchive(t *testing.T, checks map[string]handler.Pinger, archive domain.ArchiveReader) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New(time.Second)
	out := service.Sinks{Audit: s.Audit()}

	markets := service.NewMarketService(s.Markets(), s.Orders(), s.Trades(), out, logger)
	orders := service.NewOrderService(s, s.Orders(), matching.New(logger), service.NewDedup(time.Minute), out, logger)
	amm := service.NewAMMService(s, s.Markets(), lmsr.NewEngine(lmsr.DefaultOptions()), out, logger)
	traders := service.NewTraderService(s.Traders(), s.Fills(), s.Audit(), decimal.NewFromInt(1500), "", logger)

	if _, err := markets.Seed(context.Background(), []domain.MarketParams{
		{ID: "book", Question: "Will it rain tomorrow?", Mode: domain.PricingModeOrderBook},
		{ID: "pool", Question: "Will the river flood?", Mode: domain.PricingModeLMSR, LiquidityB: 10},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Markets: handler.NewMarketHandler(markets, logger),
		Orders:  handler.NewOrderHandler(orders, logger),
		AMM:     handler.NewAMMHandler(amm, logger),
		Traders: handler.NewTraderHandler(traders, logger),
	}
	if archive != nil {
		handlers.Archive = handler.NewArchiveHandler(archive, logger)
	}
	srv := server.NewServer(server.Config{APIKey: "k"}, handlers, nil, nil, logger)
	return srv.Handler()
}

func call(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func register(t *testing.T, h http.Handler, id string) {
	t.Helper()
	code := call(t, h, http.MethodPost, "/api/traders", map[string]string{
		"id": id, "name": id, "email": id + "@example.com",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("register %s: status %d", id, code)
	}
}

type errResp struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func TestOrderFlow(t *testing.T) {
	h := newTestServer(t, nil)
	register(t, h, "alice")
	register(t, h, "bob")

	var again domain.Trader
	if code := call(t, h, http.MethodPost, "/api/traders", map[string]string{"id": "alice", "name": "x", "email": "other@example.com"}, &again); code != http.StatusOK {
		t.Errorf("re-register status = %d, want 200", code)
	}

	code := call(t, h, http.MethodPost, "/api/markets/book/orders", map[string]any{
		"trader_id": "bob", "side": "sell", "outcome": "B", "price": "6.2", "quantity": 10,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("resting sell status = %d", code)
	}

	var placed struct {
		Trades  []domain.Trade `json:"trades"`
		Resting bool           `json:"resting"`
	}
	code = call(t, h, http.MethodPost, "/api/markets/book/orders", map[string]any{
		"trader_id": "alice", "side": "buy", "outcome": "yes", "price": 3.8, "quantity": 4, "client_order_id": "c1",
	}, &placed)
	if code != http.StatusCreated || len(placed.Trades) != 1 || placed.Resting {
		t.Fatalf("taker buy = %d %+v", code, placed)
	}

	var dup struct {
		Duplicate bool `json:"duplicate"`
	}
	code = call(t, h, http.MethodPost, "/api/markets/book/orders", map[string]any{
		"trader_id": "alice", "side": "buy", "outcome": "A", "price": "3.8", "quantity": 4, "client_order_id": "c1",
	}, &dup)
	if code != http.StatusOK || !dup.Duplicate {
		t.Errorf("replay = %d %+v, want 200 duplicate", code, dup)
	}

	var alice domain.Trader
	call(t, h, http.MethodGet, "/api/traders/alice", nil, &alice)
	if !alice.Balance.Equal(decimal.RequireFromString("1484.8")) {
		t.Errorf("alice balance = %s, want 1484.8", alice.Balance)
	}

	var trades struct {
		Items []domain.Trade `json:"items"`
		Limit int            `json:"limit"`
	}
	call(t, h, http.MethodGet, "/api/markets/book/trades?limit=1000", nil, &trades)
	if len(trades.Items) != 1 || trades.Limit != 500 {
		t.Errorf("trades = %+v", trades)
	}

	var depth struct {
		SellB []struct {
			Quantity int64 `json:"quantity"`
		} `json:"sell_b"`
	}
	call(t, h, http.MethodGet, "/api/markets/book/book", nil, &depth)
	if len(depth.SellB) != 1 || depth.SellB[0].Quantity != 6 {
		t.Errorf("depth = %+v, want sell B remainder 6", depth)
	}

	var fills struct {
		Items []domain.Fill `json:"items"`
	}
	call(t, h, http.MethodGet, "/api/traders/bob/fills", nil, &fills)
	if len(fills.Items) != 1 || fills.Items[0].Source != domain.FillSourceBook {
		t.Errorf("bob fills = %+v", fills.Items)
	}

	var quote domain.Quote
	call(t, h, http.MethodGet, "/api/markets/book/quote", nil, &quote)
	if !quote.PriceA.Equal(decimal.RequireFromString("3.8")) {
		t.Errorf("quote = %+v", quote)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t, nil)
	register(t, h, "alice")

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"bad outcome", http.MethodPost, "/api/markets/book/orders",
			map[string]any{"trader_id": "alice", "side": "buy", "outcome": "C", "price": "4", "quantity": 1},
			http.StatusBadRequest, "validation"},
		{"off tick price", http.MethodPost, "/api/markets/book/orders",
			map[string]any{"trader_id": "alice", "side": "buy", "outcome": "A", "price": "4.05", "quantity": 1},
			http.StatusBadRequest, "validation"},
		{"insufficient balance", http.MethodPost, "/api/markets/book/orders",
			map[string]any{"trader_id": "alice", "side": "buy", "outcome": "A", "price": "9", "quantity": 1000},
			http.StatusUnprocessableEntity, "business_rule"},
		{"wrong mode", http.MethodPost, "/api/markets/pool/orders",
			map[string]any{"trader_id": "alice", "side": "buy", "outcome": "A", "price": "4", "quantity": 1},
			http.StatusUnprocessableEntity, "business_rule"},
		{"unknown market", http.MethodGet, "/api/markets/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown trader", http.MethodGet, "/api/traders/nobody", nil, http.StatusNotFound, "not_found"},
		{"zero budget", http.MethodPost, "/api/markets/pool/amm/budget",
			map[string]any{"trader_id": "alice", "outcome": "A", "budget": "0"},
			http.StatusBadRequest, "validation"},
		{"amm on book market", http.MethodGet, "/api/markets/book/amm/quote?outcome=A&shares=1", nil,
			http.StatusUnprocessableEntity, "business_rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errResp
			code := call(t, h, tt.method, tt.path, tt.body, &e)
			if code != tt.wantCode || e.Kind != tt.wantKind {
				t.Errorf("got %d %+v, want %d %s", code, e, tt.wantCode, tt.wantKind)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/markets/book/orders", strings.NewReader(`{"trader_id":"alice","bogus":1}`))
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/markets/book", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", rec.Code)
	}
}

func TestAMMEndpoints(t *testing.T) {
	h := newTestServer(t, nil)
	register(t, h, "alice")

	var quote service.AMMQuote
	if code := call(t, h, http.MethodGet, "/api/markets/pool/amm/quote?outcome=yes&shares=5", nil, &quote); code != http.StatusOK {
		t.Fatalf("quote status = %d", code)
	}
	if quote.Cost < 2.809 || quote.Cost > 2.81 {
		t.Errorf("quoted cost = %v, want ~2.8093", quote.Cost)
	}
	if code := call(t, h, http.MethodGet, "/api/markets/pool/amm/quote?outcome=A&shares=5&budget=3", nil, nil); code != http.StatusBadRequest {
		t.Errorf("shares and budget together = %d, want 400", code)
	}

	var res service.AMMBuyResult
	if code := call(t, h, http.MethodPost, "/api/markets/pool/amm/buy", map[string]any{
		"trader_id": "alice", "outcome": "A", "shares": 5,
	}, &res); code != http.StatusCreated {
		t.Fatalf("buy status = %d", code)
	}
	cost, _ := res.Cost.Float64()
	if cost < 2.809 || cost > 2.81 || !res.Balance.Equal(decimal.NewFromInt(1500).Sub(res.Cost)) {
		t.Errorf("buy = cost %s balance %s", res.Cost, res.Balance)
	}

	var budget service.AMMBuyResult
	if code := call(t, h, http.MethodPost, "/api/markets/pool/amm/budget", map[string]any{
		"trader_id": "alice", "outcome": "B", "budget": 10,
	}, &budget); code != http.StatusCreated {
		t.Fatalf("budget status = %d", code)
	}
	if budget.Shares <= 0 || budget.Cost.GreaterThan(decimal.NewFromInt(10)) {
		t.Errorf("budget buy = %+v", budget)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, map[string]handler.Pinger{"postgres": failingPinger{}})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200 without a key", rec.Code)
	}

	h = newTestServer(t, map[string]handler.Pinger{"redis": failingPinger{err: errors.New("down")}})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("degraded health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestArchiveEndpoints(t *testing.T) {
	line := `{"id":"t1","market_id":"book","quantity":4}` + "\n"
	h := newTestServerWithArchive(t, nil, fakeArchive{days: map[string]map[string]string{
		domain.ArchiveTrades: {"2026-05-01": line},
	}})

	var list struct {
		Partitions []domain.ArchivePartition `json:"partitions"`
	}
	if code := call(t, h, http.MethodGet, "/api/archive/trades", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list.Partitions) != 1 || list.Partitions[0].Day != "2026-05-01" {
		t.Errorf("partitions = %+v", list.Partitions)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/archive/trades/2026-05-01", nil)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != line {
		t.Errorf("partition = %d %q, want the stored lines", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown kind", "/api/archive/positions", http.StatusBadRequest},
		{"bad day", "/api/archive/trades/May-1", http.StatusBadRequest},
		{"missing day", "/api/archive/trades/2026-05-02", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errResp
			if code := call(t, h, http.MethodGet, tt.path, nil, &e); code != tt.want {
				t.Errorf("status = %d (%+v), want %d", code, e, tt.want)
			}
		})
	}

	// Without an archive the routes do not exist.
	plain := newTestServer(t, nil)
	if code := call(t, plain, http.MethodGet, "/api/archive/trades", nil, nil); code != http.StatusNotFound {
		t.Errorf("no archive: status = %d, want 404", code)
	}
}
