package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// paginate filters records by opts' time window and applies offset and
// limit. Records must already be sorted newest first.
func paginate[T any](records []T, ts func(T) time.Time, opts domain.ListOpts) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		t := ts(r)
		if opts.Since != nil && t.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// MarketStore implements domain.MarketStore.
type MarketStore struct{ s *Store }

func (m *MarketStore) Create(_ context.Context, market domain.Market) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.markets[market.ID]; ok {
		return fmt.Errorf("memory: create market %s: %w", market.ID, domain.ErrAlreadyExists)
	}
	m.s.markets[market.ID] = market.Clone()
	return nil
}

func (m *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	market, ok := m.s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %s: %w", id, domain.ErrNotFound)
	}
	return market.Clone(), nil
}

func (m *MarketStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	m.s.mu.RLock()
	out := make([]domain.Market, 0, len(m.s.markets))
	for _, market := range m.s.markets {
		if market.Status == domain.MarketStatusActive {
			out = append(out, market.Clone())
		}
	}
	m.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, func(m domain.Market) time.Time { return m.CreatedAt }, opts), nil
}

// OrderStore implements domain.OrderStore.
type OrderStore struct{ s *Store }

func (o *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	order, ok := o.s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memory: get order %s: %w", id, domain.ErrNotFound)
	}
	return order, nil
}

func (o *OrderStore) GetByClientID(_ context.Context, traderID, clientOrderID string) (domain.Order, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	key := clientKey(domain.Order{TraderID: traderID, ClientOrderID: clientOrderID})
	if id, ok := o.s.clientID[key]; ok && key != "" {
		return o.s.orders[id], nil
	}
	return domain.Order{}, fmt.Errorf("memory: get order by client id %s: %w", clientOrderID, domain.ErrNotFound)
}

func (o *OrderStore) collect(keep func(domain.Order) bool) []domain.Order {
	o.s.mu.RLock()
	var out []domain.Order
	for _, order := range o.s.orders {
		if keep(order) {
			out = append(out, order)
		}
	}
	o.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out
}

func (o *OrderStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	out := o.collect(func(order domain.Order) bool { return order.MarketID == marketID })
	return paginate(out, func(o domain.Order) time.Time { return o.CreatedAt }, opts), nil
}

func (o *OrderStore) ListByTrader(_ context.Context, traderID string, opts domain.ListOpts) ([]domain.Order, error) {
	out := o.collect(func(order domain.Order) bool { return order.TraderID == traderID })
	return paginate(out, func(o domain.Order) time.Time { return o.CreatedAt }, opts), nil
}

// ListResting returns the unfilled orders of a market.
func (o *OrderStore) ListResting(_ context.Context, marketID string) ([]domain.Order, error) {
	return o.collect(func(order domain.Order) bool {
		return order.MarketID == marketID && !order.Filled
	}), nil
}

func (o *OrderStore) ListFilledBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	out := o.collect(func(order domain.Order) bool {
		return order.Filled && order.UpdatedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ s *Store }

func (t *TradeStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	t.s.mu.RLock()
	var out []domain.Trade
	for i := len(t.s.trades) - 1; i >= 0; i-- {
		if t.s.trades[i].MarketID == marketID {
			out = append(out, t.s.trades[i])
		}
	}
	t.s.mu.RUnlock()
	return paginate(out, func(tr domain.Trade) time.Time { return tr.Timestamp }, opts), nil
}

func (t *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []domain.Trade
	for _, tr := range t.s.trades {
		if tr.Timestamp.Before(before) {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (t *TradeStore) GetLastTimestamp(_ context.Context, marketID string) (time.Time, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for i := len(t.s.trades) - 1; i >= 0; i-- {
		if t.s.trades[i].MarketID == marketID {
			return t.s.trades[i].Timestamp, nil
		}
	}
	return time.Time{}, nil
}

// FillStore implements domain.FillStore.
type FillStore struct{ s *Store }

func (f *FillStore) ListByTrader(_ context.Context, traderID string, opts domain.ListOpts) ([]domain.Fill, error) {
	f.s.mu.RLock()
	var out []domain.Fill
	for i := len(f.s.fills) - 1; i >= 0; i-- {
		if f.s.fills[i].TraderID == traderID {
			out = append(out, f.s.fills[i])
		}
	}
	f.s.mu.RUnlock()
	return paginate(out, func(fl domain.Fill) time.Time { return fl.Timestamp }, opts), nil
}

func (f *FillStore) ListBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	var out []domain.Fill
	for _, fl := range f.s.fills {
		if fl.Timestamp.Before(before) {
			out = append(out, fl)
		}
	}
	return out, nil
}

// TraderStore implements domain.TraderStore.
type TraderStore struct{ s *Store }

func (t *TraderStore) Create(_ context.Context, trader domain.Trader) error {
	email := strings.ToLower(strings.TrimSpace(trader.Email))
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.traders[trader.ID]; ok {
		return fmt.Errorf("memory: create trader %s: %w", trader.ID, domain.ErrAlreadyExists)
	}
	if _, ok := t.s.emails[email]; ok {
		return fmt.Errorf("memory: create trader email %s: %w", trader.Email, domain.ErrAlreadyExists)
	}
	t.s.traders[trader.ID] = trader
	t.s.emails[email] = trader.ID
	return nil
}

func (t *TraderStore) GetByID(_ context.Context, id string) (domain.Trader, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	tr, ok := t.s.traders[id]
	if !ok {
		return domain.Trader{}, fmt.Errorf("memory: get trader %s: %w", id, domain.ErrNotFound)
	}
	return tr, nil
}

func (t *TraderStore) GetByEmail(_ context.Context, email string) (domain.Trader, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.Trader{}, fmt.Errorf("memory: get trader by email: %w", domain.ErrNotFound)
	}
	return t.s.traders[id], nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        int64(len(a.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(a.s.audit))
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		out = append(out, a.s.audit[i])
	}
	a.s.mu.RUnlock()
	return paginate(out, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}
