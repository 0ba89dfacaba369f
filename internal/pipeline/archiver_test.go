package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/notify"
)

type fakeBlobArchiver struct {
	cutoffs  []time.Time
	tradeErr error
	counts   [3]int64
	calls    int
}

func (f *fakeBlobArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.calls++
	f.cutoffs = append(f.cutoffs, before)
	return f.counts[0], f.tradeErr
}

func (f *fakeBlobArchiver) ArchiveFills(context.Context, time.Time) (int64, error) {
	f.calls++
	return f.counts[1], nil
}

func (f *fakeBlobArchiver) ArchiveOrders(context.Context, time.Time) (int64, error) {
	f.calls++
	return f.counts[2], nil
}

type fakeLocks struct {
	held     bool
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() { l.released++ }, nil
}

type recordingSender struct{ titles []string }

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "rec" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newArchiver(blob domain.Archiver, locks domain.LockManager, sender *recordingSender) *Archiver {
	n := notify.NewNotifier([]notify.Sender{sender}, nil, discard())
	a := NewArchiver(blob, locks, n, 30, discard())
	a.now = func() time.Time { return time.Date(2026, 6, 30, 3, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiverRun(t *testing.T) {
	blob := &fakeBlobArchiver{counts: [3]int64{4, 8, 2}}
	locks := &fakeLocks{}
	sender := &recordingSender{}
	a := newArchiver(blob, locks, sender)

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Trades != 4 || res.Fills != 8 || res.Orders != 2 {
		t.Errorf("result = %+v", res)
	}
	want := time.Date(2026, 5, 31, 3, 0, 0, 0, time.UTC)
	if len(blob.cutoffs) != 1 || !blob.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", blob.cutoffs, want)
	}
	if locks.released != 1 {
		t.Errorf("lock released %d times, want 1", locks.released)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "Archive completed" {
		t.Errorf("notifications = %v", sender.titles)
	}
}

func TestArchiverRun_LockHeldSkips(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := newArchiver(blob, &fakeLocks{held: true}, &recordingSender{})
	res, err := a.Run(context.Background())
	if err != nil || !res.Skipped || blob.calls != 0 {
		t.Errorf("res = %+v, err = %v, calls = %d; want skipped", res, err, blob.calls)
	}
}

func TestArchiverRun_FailureNotifiesAndContinues(t *testing.T) {
	boom := errors.New("s3 down")
	blob := &fakeBlobArchiver{tradeErr: boom, counts: [3]int64{0, 1, 1}}
	sender := &recordingSender{}
	a := newArchiver(blob, nil, sender)

	res, err := a.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want s3 down", err)
	}
	if blob.calls != 3 || res.Fills != 1 {
		t.Errorf("later kinds not attempted: calls = %d, res = %+v", blob.calls, res)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "Archive failed" {
		t.Errorf("notifications = %v", sender.titles)
	}
}

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 6, 30, 3, 7, 30, 0, time.UTC) // Tuesday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 6, 30, 3, 15, 0, 0, time.UTC)},
		{"30 1-4 * * *", time.Date(2026, 6, 30, 3, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 0,6", time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, err := c.next(base)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		if _, err := parseCron(expr); err == nil {
			t.Errorf("parseCron(%q) accepted", expr)
		}
	}
}
