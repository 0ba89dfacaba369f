package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// chanBus hands out one channel per bus channel name.
type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
	sub  sync.WaitGroup
}

func newChanBus() *chanBus {
	b := &chanBus{subs: make(map[string]chan []byte)}
	b.sub.Add(len(Channels))
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[channel] = ch
	b.mu.Unlock()
	b.sub.Done()
	return ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_FansOutWithMarketFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()
	bus.sub.Wait()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	all, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()
	only, _, err := websocket.DefaultDialer.Dial(url+"?market=m2", nil)
	if err != nil {
		t.Fatalf("dial filtered: %v", err)
	}
	defer only.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	_ = bus.Publish(ctx, domain.ChannelTrades, []byte(`{"event":"trade","market_id":"m1"}`))
	_ = bus.Publish(ctx, domain.ChannelOrders, []byte(`{"event":"order_placed","market_id":"m2"}`))

	read := func(c *websocket.Conn) string {
		t.Helper()
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(msg)
	}

	got := []string{read(all), read(all)}
	if !strings.Contains(strings.Join(got, ""), `"m1"`) || !strings.Contains(strings.Join(got, ""), `"m2"`) {
		t.Errorf("unfiltered client got %v", got)
	}
	if msg := read(only); !strings.Contains(msg, `"m2"`) {
		t.Errorf("filtered client got %s, want only m2", msg)
	}

	cancel()
	_ = only.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := only.ReadMessage(); err == nil {
		t.Error("connection still open after hub shutdown")
	}
}

func TestClientApply(t *testing.T) {
	c := &client{subs: map[string]bool{"trades": true}, markets: map[string]bool{}}
	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"trades"}})
	if c.wants("trades", "m1") {
		t.Error("unsubscribed channel still delivered")
	}
	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"amm"}, Markets: []string{"m1"}})
	if !c.wants("amm", "m1") || c.wants("amm", "m2") {
		t.Error("market filter not applied")
	}
	c.apply(subscribeMsg{Action: "bogus", Channels: []string{"orders"}})
	if c.wants("orders", "m1") {
		t.Error("unknown action changed subscriptions")
	}
}
