// Package dispatch runs a recognition job against the worker pool, retrying
// on other workers and falling back to the secondary engine under quota.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/metrics"
	"github.com/pario-ai/ocrgate/pkg/models"
	"github.com/pario-ai/ocrgate/pkg/pool"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAcquireTimeout = 120 * time.Second
	DefaultLanguage       = "es"
)

// ErrUnavailable means no worker lease was obtained, so no primary outcome
// exists. The secondary engine is not consulted in that case.
var ErrUnavailable = errors.New("dispatch: no recognition worker available")

// WorkerPool hands out worker leases.
type WorkerPool interface {
	Acquire(ctx context.Context, timeout time.Duration) (*pool.Lease, error)
}

// Extractor runs primary recognition on one worker.
type Extractor interface {
	Extract(ctx context.Context, address, filePath, requestID, language string) (models.ExtractionOutcome, error)
}

// QuotaLedger decides whether a secondary call may be made.
type QuotaLedger interface {
	TryConsume(ctx context.Context) (bool, error)
}

// Reader runs secondary recognition.
type Reader interface {
	Read(ctx context.Context, filePath, requestID string) (string, error)
}

// Job is one file to recognize.
type Job struct {
	RequestID string
	FilePath  string
	Language  string
}

// Result is the final text and how it was obtained.
type Result struct {
	Text           string
	Source         models.Source
	EndpointsTried []string
	Attempts       int
	Primary        models.ExtractionOutcome
	QuotaDenied    bool
	Elapsed        time.Duration
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	workers        WorkerPool
	primary        Extractor
	ledger         QuotaLedger
	secondary      Reader
	maxAttempts    int
	acquireTimeout time.Duration
	language       string
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFallback enables the secondary engine behind the quota ledger. Both
// must be non-nil for fallback to happen.
func WithFallback(ledger QuotaLedger, secondary Reader) Option {
	return func(d *Dispatcher) {
		d.ledger = ledger
		d.secondary = secondary
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

func WithAcquireTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.acquireTimeout = t }
}

// WithLanguage sets the language used when a Job has none.
func WithLanguage(lang string) Option {
	return func(d *Dispatcher) { d.language = lang }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher.
func New(workers WorkerPool, primary Extractor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workers:        workers,
		primary:        primary,
		maxAttempts:    DefaultMaxAttempts,
		acquireTimeout: DefaultAcquireTimeout,
		language:       DefaultLanguage,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxAttempts < 1 {
		d.maxAttempts = DefaultMaxAttempts
	}
	return d
}

// Dispatch recognizes job. It tries up to maxAttempts leased workers, stopping
// at the first success or when no lease can be had. If the last primary
// outcome failed and the quota admits it, the secondary engine is tried and
// its text wins when non-blank. Errors are ErrUnavailable or a context error.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (Result, error) {
	start := time.Now()
	lang := job.Language
	if lang == "" {
		lang = d.language
	}
	logger := d.logger.With(zap.String("request_id", job.RequestID))

	var (
		res  Result
		last *models.ExtractionOutcome
	)
	finish := func(label string) {
		res.Elapsed = time.Since(start)
		d.metrics.RecordDispatch(label, res.Elapsed)
	}

	for res.Attempts < d.maxAttempts {
		waitStart := time.Now()
		lease, err := d.workers.Acquire(ctx, d.acquireTimeout)
		d.metrics.ObserveLeaseWait(time.Since(waitStart))
		if err != nil {
			finish("canceled")
			return res, err
		}
		if lease == nil {
			logger.Warn("no worker lease available",
				zap.Int("attempts", res.Attempts), zap.Duration("timeout", d.acquireTimeout))
			break
		}

		res.Attempts++
		res.EndpointsTried = append(res.EndpointsTried, lease.Address())

		out, err := d.invoke(ctx, lease, job, lang)
		if err != nil {
			finish("canceled")
			return res, err
		}
		d.metrics.RecordAttempt(out.Endpoint, out.Success)
		last = &out
		if out.Success {
			break
		}
		logger.Info("primary attempt failed",
			zap.Int("attempt", res.Attempts),
			zap.String("worker", out.Endpoint),
			zap.String("error", out.Error))
	}

	if last == nil {
		finish("unavailable")
		return res, ErrUnavailable
	}
	res.Primary = *last

	if !last.Success && d.ledger != nil && d.secondary != nil {
		text, err := d.fallback(ctx, job, &res, logger)
		if err != nil {
			finish("canceled")
			return res, err
		}
		if strings.TrimSpace(text) != "" {
			res.Text = text
			res.Source = models.SourceSecondary
			finish(string(models.SourceSecondary))
			return res, nil
		}
	}

	res.Text = last.Text
	res.Source = models.SourcePrimary
	if last.Success {
		finish(string(models.SourcePrimary))
	} else {
		finish("primary_failed")
	}
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, lease *pool.Lease, job Job, lang string) (models.ExtractionOutcome, error) {
	d.metrics.LeaseAcquired()
	defer func() {
		lease.Release()
		d.metrics.LeaseReleased()
	}()
	return d.primary.Extract(ctx, lease.Address(), job.FilePath, job.RequestID, lang)
}

// fallback consults the ledger and, when admitted, the secondary engine. Ledger
// and reader failures are logged and yield no text; only cancellation is
// returned.
func (d *Dispatcher) fallback(ctx context.Context, job Job, res *Result, logger *zap.Logger) (string, error) {
	admitted, err := d.ledger.TryConsume(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		d.metrics.RecordQuota("error")
		logger.Error("quota check failed, skipping secondary", zap.Error(err))
		return "", nil
	}
	if !admitted {
		d.metrics.RecordQuota("denied")
		res.QuotaDenied = true
		logger.Warn("secondary quota exhausted, returning primary result")
		return "", nil
	}
	d.metrics.RecordQuota("admitted")

	text, err := d.secondary.Read(ctx, job.FilePath, job.RequestID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		logger.Error("secondary read failed", zap.Error(err))
		return "", nil
	}
	return text, nil
}
