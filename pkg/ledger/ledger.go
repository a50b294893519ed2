// Package ledger counts secondary-engine calls per billing period and decides
// whether another call fits under the hard limit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// DefaultHardLimit applies when the configured limit is not positive.
const DefaultHardLimit = 50000

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("ledger: unknown driver")

// Store persists per-period counters. Increment must be a single atomic
// read-modify-write: concurrent callers never observe the same count.
type Store interface {
	Increment(ctx context.Context, p Period) (int64, error)
	Get(ctx context.Context, p Period) (int64, error)
	Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error)
	Close() error
}

// Ledger enforces the hard limit over a Store.
type Ledger struct {
	store    Store
	limit    int64
	resetDay int
	clock    clockwork.Clock
	logger   *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHardLimit sets the per-period limit. Non-positive values select
// DefaultHardLimit.
func WithHardLimit(n int64) Option {
	return func(l *Ledger) { l.limit = n }
}

// WithResetDay sets the day of month on which periods roll over.
func WithResetDay(day int) Option {
	return func(l *Ledger) { l.resetDay = day }
}

func WithClock(clock clockwork.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		limit:    DefaultHardLimit,
		resetDay: 1,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.limit <= 0 {
		l.limit = DefaultHardLimit
	}
	return l
}

// TryConsume counts one secondary call in the current period and reports
// whether the call is admitted. The counter is incremented even when the
// answer is no, so denied calls also count toward the period.
func (l *Ledger) TryConsume(ctx context.Context) (bool, error) {
	p := CurrentPeriod(l.clock.Now(), l.resetDay)
	used, err := l.store.Increment(ctx, p)
	if err != nil {
		return false, fmt.Errorf("increment usage: %w", err)
	}
	admitted := used <= l.limit
	if !admitted {
		l.logger.Warn("secondary quota exhausted",
			zap.Int64("used", used),
			zap.Int64("limit", l.limit),
			zap.Time("period_start", p.Start))
	}
	return admitted, nil
}

// Status reports usage of the current period.
func (l *Ledger) Status(ctx context.Context) (models.UsageStatus, error) {
	p := CurrentPeriod(l.clock.Now(), l.resetDay)
	used, err := l.store.Get(ctx, p)
	if err != nil {
		return models.UsageStatus{}, fmt.Errorf("get usage: %w", err)
	}
	remaining := l.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return models.UsageStatus{
		Period:    models.UsagePeriod{Start: p.Start, End: p.End, UsedCount: used},
		Limit:     l.limit,
		Remaining: remaining,
	}, nil
}

// Periods lists recorded periods, newest first.
func (l *Ledger) Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error) {
	return l.store.Periods(ctx, limit)
}

// Limit returns the effective hard limit.
func (l *Ledger) Limit() int64 { return l.limit }

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
