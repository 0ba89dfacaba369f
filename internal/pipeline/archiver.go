package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/notify"
)

// archiveLockKey serialises archive runs across replicas.
const archiveLockKey = "archiver"

// ArchiveResult counts the records copied by one run.
type ArchiveResult struct {
	Trades  int64
	Fills   int64
	Orders  int64
	Skipped bool
}

func (r ArchiveResult) total() int64 { return r.Trades + r.Fills + r.Orders }

// Archiver copies trades, fills and filled orders older than the retention
// window to cold storage. Locks and notifier are optional.
type Archiver struct {
	blob      domain.Archiver
	locks     domain.LockManager
	notifier  *notify.Notifier
	retention time.Duration
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates a new Archiver keeping retentionDays of history hot.
func NewArchiver(
	blob domain.Archiver,
	locks domain.LockManager,
	notifier *notify.Notifier,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blob:      blob,
		locks:     locks,
		notifier:  notifier,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		lockTTL:   30 * time.Minute,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single archive pass. Another replica holding the lock makes
// the run a skipped no-op. Each kind is attempted even if an earlier one
// fails; failures are joined and reported to the notifier.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	var res ArchiveResult
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive run skipped, lock held elsewhere")
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, a.fail(ctx, fmt.Errorf("acquire archive lock: %w", err))
		}
		defer unlock()
	}

	cutoff := a.now().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	var errs []error
	var err error
	if res.Trades, err = a.blob.ArchiveTrades(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("archiving trades before %v: %w", cutoff, err))
	}
	if res.Fills, err = a.blob.ArchiveFills(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("archiving fills before %v: %w", cutoff, err))
	}
	if res.Orders, err = a.blob.ArchiveOrders(ctx, cutoff); err != nil {
		errs = append(errs, fmt.Errorf("archiving orders before %v: %w", cutoff, err))
	}
	if err := errors.Join(errs...); err != nil {
		return res, a.fail(ctx, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", res.Trades),
		slog.Int64("fills_archived", res.Fills),
		slog.Int64("orders_archived", res.Orders),
	)
	if res.total() > 0 {
		msg := fmt.Sprintf("archived %d trades, %d fills, %d orders before %s",
			res.Trades, res.Fills, res.Orders, cutoff.Format(time.RFC3339))
		if err := a.notifier.Notify(ctx, notify.EventArchiveCompleted, "Archive completed", msg); err != nil {
			a.logger.WarnContext(ctx, "archive notification failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (a *Archiver) fail(ctx context.Context, err error) error {
	if nerr := a.notifier.Notify(ctx, notify.EventArchiveFailed, "Archive failed", err.Error()); nerr != nil {
		a.logger.WarnContext(ctx, "archive notification failed", slog.String("error", nerr.Error()))
	}
	return err
}

// RunCron runs the archiver on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week", UTC) until ctx is
// cancelled. Example: "0 3 * * *" runs daily at 03:00.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now())
		if err != nil {
			return fmt.Errorf("cron expression %q: %w", cronExpr, err)
		}

		wait := time.Until(next)
		a.logger.InfoContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses one cron field within [lo, hi]. Supported forms:
// "*", "5", "1,15", "1-5", "*/10" and "0-30/5".
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	var values []int
	for _, p := range strings.Split(field, ",") {
		p = strings.TrimSpace(p)
		step := 1
		if base, s, ok := strings.Cut(p, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid cron step %q", p)
			}
			p, step = base, n
		}

		from, to := lo, hi
		switch {
		case p == "*":
		case strings.Contains(p, "-"):
			a, b, _ := strings.Cut(p, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid cron range %q", p)
			}
		default:
			v, err := strconv.Atoi(p)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
			}
			from, to = v, v
			if step > 1 {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("cron value %q out of range %d-%d", p, lo, hi)
		}
		for v := from; v <= to; v += step {
			values = append(values, v)
		}
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0], 0, 59)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1], 0, 23)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3], 1, 12)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 6)
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// next returns the first matching minute after the given time, searching up to
// one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within one year")
}
