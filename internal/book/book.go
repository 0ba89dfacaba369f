// Package book keeps resting orders in price-time priority.
package book

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// Queue holds the resting orders of one (side, outcome) pair ordered
// best-first for a taker of the given side: ascending price when the taker
// buys, descending when it sells. Equal prices fall back to the earliest Seq,
// then to ID.
type Queue struct {
	taker domain.OrderSide
	tree  *btree.BTreeG[domain.Order]
}

func lessAsc(a, b domain.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return lessTime(a, b)
}

func lessDesc(a, b domain.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return lessTime(a, b)
}

func lessTime(a, b domain.Order) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

// NewQueue creates an empty queue scanned by a taker on side taker.
func NewQueue(taker domain.OrderSide) *Queue {
	less := lessAsc
	if taker == domain.OrderSideSell {
		less = lessDesc
	}
	return &Queue{taker: taker, tree: btree.NewG(32, less)}
}

// QueueOf builds a queue from orders, dropping filled ones.
func QueueOf(taker domain.OrderSide, orders []domain.Order) *Queue {
	q := NewQueue(taker)
	for _, o := range orders {
		q.Push(o)
	}
	return q
}

// Taker returns the side this queue is ordered for.
func (q *Queue) Taker() domain.OrderSide { return q.taker }

// Push inserts or replaces o. Filled or empty orders are removed instead.
func (q *Queue) Push(o domain.Order) {
	if o.Filled || o.Quantity <= 0 {
		q.tree.Delete(o)
		return
	}
	q.tree.ReplaceOrInsert(o)
}

// Remove deletes o, matched by price, Seq and ID.
func (q *Queue) Remove(o domain.Order) bool {
	_, ok := q.tree.Delete(o)
	return ok
}

// Best returns the first order in priority order.
func (q *Queue) Best() (domain.Order, bool) {
	return q.tree.Min()
}

// Len returns the number of resting orders.
func (q *Queue) Len() int { return q.tree.Len() }

// Ascend calls fn for each order in priority order until fn returns false.
func (q *Queue) Ascend(fn func(domain.Order) bool) {
	q.tree.Ascend(fn)
}

// Orders returns a snapshot of the queue in priority order.
func (q *Queue) Orders() []domain.Order {
	out := make([]domain.Order, 0, q.tree.Len())
	q.tree.Ascend(func(o domain.Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Level aggregates the resting quantity at one price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Levels returns up to n price levels in priority order. n <= 0 means all.
func (q *Queue) Levels(n int) []Level {
	var out []Level
	q.tree.Ascend(func(o domain.Order) bool {
		if k := len(out); k > 0 && out[k-1].Price.Equal(o.Price) {
			out[k-1].Quantity += o.Quantity
			out[k-1].Orders++
			return true
		}
		if n > 0 && len(out) == n {
			return false
		}
		out = append(out, Level{Price: o.Price, Quantity: o.Quantity, Orders: 1})
		return true
	})
	return out
}

// Book holds the four resting queues of one market. Each queue is ordered
// for the taker that would scan it: sells for incoming buys and buys for
// incoming sells.
type Book struct {
	queues [2][2]*Queue // [side][outcome]
}

func sideIndex(s domain.OrderSide) int {
	if s == domain.OrderSideSell {
		return 1
	}
	return 0
}

// New creates an empty book.
func New() *Book {
	b := &Book{}
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		for _, out := range []domain.Outcome{domain.OutcomeA, domain.OutcomeB} {
			b.queues[sideIndex(side)][out.Index()] = NewQueue(side.Opposite())
		}
	}
	return b
}

// FromOrders builds a book from resting orders.
func FromOrders(orders []domain.Order) *Book {
	b := New()
	for _, o := range orders {
		b.Add(o)
	}
	return b
}

// Queue returns the queue of resting orders on (side, outcome).
func (b *Book) Queue(side domain.OrderSide, outcome domain.Outcome) *Queue {
	return b.queues[sideIndex(side)][outcome.Index()]
}

// Add rests o on its own side and outcome.
func (b *Book) Add(o domain.Order) {
	b.Queue(o.Side, o.Outcome).Push(o)
}

// Remove takes o off the book.
func (b *Book) Remove(o domain.Order) bool {
	return b.Queue(o.Side, o.Outcome).Remove(o)
}

// Len returns the number of resting orders across all queues.
func (b *Book) Len() int {
	n := 0
	for _, row := range b.queues {
		for _, q := range row {
			n += q.Len()
		}
	}
	return n
}

// Depth is a per-queue view of a market's book.
type Depth struct {
	BuyA  []Level `json:"buy_a"`
	BuyB  []Level `json:"buy_b"`
	SellA []Level `json:"sell_a"`
	SellB []Level `json:"sell_b"`
}

// Depth aggregates up to n levels per queue.
func (b *Book) Depth(n int) Depth {
	return Depth{
		BuyA:  b.Queue(domain.OrderSideBuy, domain.OutcomeA).Levels(n),
		BuyB:  b.Queue(domain.OrderSideBuy, domain.OutcomeB).Levels(n),
		SellA: b.Queue(domain.OrderSideSell, domain.OutcomeA).Levels(n),
		SellB: b.Queue(domain.OrderSideSell, domain.OutcomeB).Levels(n),
	}
}
