// Package memory implements the domain store interfaces in process memory.
// Transactions stage their writes and apply them on commit, so a failed unit
// of work leaves no trace. Markets are locked with a per-market semaphore.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// DefaultLockTimeout bounds how long LockMarket waits for a busy market.
const DefaultLockTimeout = 2 * time.Second

// Store holds committed state.
type Store struct {
	mu       sync.RWMutex
	markets  map[string]domain.Market
	orders   map[string]domain.Order
	byMarket map[string][]string // market id -> order ids in insertion order
	clientID map[string]string   // clientKey -> order id
	trades   []domain.Trade
	fills    []domain.Fill
	traders  map[string]domain.Trader
	emails   map[string]string // lower-cased email -> trader id
	audit    []domain.AuditEntry

	seq atomic.Int64

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// New creates an empty store. A non-positive lockTimeout uses
// DefaultLockTimeout.
func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		markets:     make(map[string]domain.Market),
		orders:      make(map[string]domain.Order),
		byMarket:    make(map[string][]string),
		clientID:    make(map[string]string),
		traders:     make(map[string]domain.Trader),
		emails:      make(map[string]string),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// clientKey indexes orders by (trader, client order id), unique like the
// postgres uq_orders_client_id index. Orders without a client id are not
// indexed.
func clientKey(o domain.Order) string {
	if o.ClientOrderID == "" {
		return ""
	}
	return o.TraderID + "\x00" + o.ClientOrderID
}

func (s *Store) marketLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

func (s *Store) acquire(ctx context.Context, id string) error {
	l := s.marketLock(id)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("memory: lock market %s: %w", id, domain.ErrConcurrencyConflict)
	case <-ctx.Done():
		return fmt.Errorf("memory: lock market %s: %w: %v", id, domain.ErrConcurrencyConflict, ctx.Err())
	}
}

func (s *Store) release(id string) {
	<-s.marketLock(id)
}

// WithinTx runs fn in a transaction. Staged writes are applied only when fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	t := newTx(s)
	defer t.releaseLocks()

	if err := fn(ctx, t); err != nil {
		t.done = true
		return err
	}
	return t.commit()
}

// Markets returns the market read store.
func (s *Store) Markets() *MarketStore { return &MarketStore{s: s} }

// Orders returns the order read store.
func (s *Store) Orders() *OrderStore { return &OrderStore{s: s} }

// Trades returns the trade read store.
func (s *Store) Trades() *TradeStore { return &TradeStore{s: s} }

// Fills returns the fill read store.
func (s *Store) Fills() *FillStore { return &FillStore{s: s} }

// Traders returns the trader store.
func (s *Store) Traders() *TraderStore { return &TraderStore{s: s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// ---------------------------------------------------------------------------
// transaction
// ---------------------------------------------------------------------------

type tx struct {
	s *Store

	held     []string
	markets  map[string]domain.Market
	orders   map[string]domain.Order
	inserted []string
	deltas   map[string]decimal.Decimal // trader id -> net balance change
	trades   []domain.Trade
	fills    []domain.Fill
	done     bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:       s,
		markets: make(map[string]domain.Market),
		orders:  make(map[string]domain.Order),
		deltas:  make(map[string]decimal.Decimal),
	}
}

func (t *tx) releaseLocks() {
	for _, id := range t.held {
		t.s.release(id)
	}
	t.held = nil
}

func (t *tx) check() error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	return nil
}

func (t *tx) holds(marketID string) bool {
	for _, id := range t.held {
		if id == marketID {
			return true
		}
	}
	return false
}

func (t *tx) LockMarket(ctx context.Context, marketID string) (domain.Market, error) {
	if err := t.check(); err != nil {
		return domain.Market{}, err
	}
	if m, ok := t.markets[marketID]; ok {
		return m.Clone(), nil
	}
	if !t.holds(marketID) {
		if err := t.s.acquire(ctx, marketID); err != nil {
			return domain.Market{}, err
		}
		t.held = append(t.held, marketID)
	}

	t.s.mu.RLock()
	m, ok := t.s.markets[marketID]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: lock market %s: %w", marketID, domain.ErrNotFound)
	}
	t.markets[marketID] = m.Clone()
	return m.Clone(), nil
}

func (t *tx) SaveMarket(_ context.Context, m domain.Market) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.holds(m.ID) {
		return fmt.Errorf("memory: save market %s: market not locked in this transaction", m.ID)
	}
	t.markets[m.ID] = m.Clone()
	return nil
}

func (t *tx) RestingOrders(_ context.Context, marketID string, side domain.OrderSide, outcome domain.Outcome) ([]domain.Order, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	keep := func(o domain.Order) bool {
		return o.MarketID == marketID && o.Side == side && o.Outcome == outcome && !o.Filled
	}

	var out []domain.Order
	t.s.mu.RLock()
	for _, id := range t.s.byMarket[marketID] {
		o := t.s.orders[id]
		if staged, ok := t.orders[id]; ok {
			o = staged
		}
		if keep(o) {
			out = append(out, o)
		}
	}
	t.s.mu.RUnlock()

	for _, id := range t.inserted {
		if o := t.orders[id]; keep(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, staged := t.orders[o.ID]; staged {
		return fmt.Errorf("memory: insert order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	key := clientKey(*o)
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	_, taken := t.s.clientID[key]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("memory: insert order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	if key != "" {
		for _, id := range t.inserted {
			if clientKey(t.orders[id]) == key {
				taken = true
			}
		}
		if taken {
			return fmt.Errorf("memory: insert order %s: client order id %q: %w", o.ID, o.ClientOrderID, domain.ErrAlreadyExists)
		}
	}

	o.Seq = t.s.seq.Add(1)
	t.orders[o.ID] = *o
	t.inserted = append(t.inserted, o.ID)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o domain.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, staged := t.orders[o.ID]; !staged {
		t.s.mu.RLock()
		_, exists := t.s.orders[o.ID]
		t.s.mu.RUnlock()
		if !exists {
			return fmt.Errorf("memory: update order %s: %w", o.ID, domain.ErrNotFound)
		}
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tx) GetTrader(_ context.Context, id string) (domain.Trader, error) {
	if err := t.check(); err != nil {
		return domain.Trader{}, err
	}
	t.s.mu.RLock()
	tr, ok := t.s.traders[id]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Trader{}, fmt.Errorf("memory: get trader %s: %w", id, domain.ErrNotFound)
	}
	if d, ok := t.deltas[id]; ok {
		tr.Balance = tr.Balance.Add(d)
	}
	return tr, nil
}

func (t *tx) AdjustBalance(ctx context.Context, traderID string, delta decimal.Decimal) (decimal.Decimal, error) {
	tr, err := t.GetTrader(ctx, traderID)
	if err != nil {
		return decimal.Zero, err
	}
	next := tr.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("memory: adjust balance %s by %s: %w", traderID, delta, domain.ErrInsufficientBalance)
	}
	t.deltas[traderID] = t.deltas[traderID].Add(delta)
	return next, nil
}

func (t *tx) AppendTrades(_ context.Context, trades []domain.Trade) error {
	if err := t.check(); err != nil {
		return err
	}
	t.trades = append(t.trades, trades...)
	return nil
}

func (t *tx) AppendFills(_ context.Context, fills []domain.Fill) error {
	if err := t.check(); err != nil {
		return err
	}
	t.fills = append(t.fills, fills...)
	return nil
}

// commit applies every staged write under the store's write lock. Balances
// are staged as deltas and re-checked against committed state, since another
// market's transaction may have moved the same trader in the meantime.
func (t *tx) commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]decimal.Decimal, len(t.deltas))
	for id, d := range t.deltas {
		tr, ok := s.traders[id]
		if !ok {
			return fmt.Errorf("memory: commit: trader %s: %w", id, domain.ErrNotFound)
		}
		bal := tr.Balance.Add(d)
		if bal.IsNegative() {
			return fmt.Errorf("memory: commit: trader %s: %w", id, domain.ErrInsufficientBalance)
		}
		next[id] = bal
	}
	for _, id := range t.inserted {
		if key := clientKey(t.orders[id]); key != "" {
			if _, taken := s.clientID[key]; taken {
				return fmt.Errorf("memory: commit: order %s: client order id: %w", id, domain.ErrAlreadyExists)
			}
		}
	}

	for id, bal := range next {
		tr := s.traders[id]
		tr.Balance = bal
		s.traders[id] = tr
	}
	for id, m := range t.markets {
		s.markets[id] = m
	}
	for _, id := range t.inserted {
		o := t.orders[id]
		s.byMarket[o.MarketID] = append(s.byMarket[o.MarketID], id)
		if key := clientKey(o); key != "" {
			s.clientID[key] = id
		}
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	s.trades = append(s.trades, t.trades...)
	s.fills = append(s.fills, t.fills...)
	return nil
}
