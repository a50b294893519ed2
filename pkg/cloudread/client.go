// Package cloudread is the HTTP client for the secondary cloud "Read"
// recognition engine.
package cloudread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pario-ai/ocrgate/pkg/metrics"
	"github.com/pario-ai/ocrgate/pkg/retry"
)

const (
	DefaultRetries     = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultTimeout     = 30 * time.Second

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	requestIDHeader       = "X-Request-Id"
)

var errEmptyResult = errors.New("cloudread: empty result")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cloudread: status %d: %s", e.StatusCode, e.Body)
}

// fileError marks local file problems, which are never retried.
type fileError struct{ err error }

func (e *fileError) Error() string { return "cloudread: " + e.err.Error() }
func (e *fileError) Unwrap() error { return e.err }

// Client posts files to the Read endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retries     int
	backoffBase time.Duration
	timeout     time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	policy      retry.Policy
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry count and linear backoff base.
func WithRetry(retries int, base time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoffBase = base
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces outgoing attempts to rps requests per second. A
// non-positive rps disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client for endpoint authenticated with apiKey.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		retries:     DefaultRetries,
		backoffBase: DefaultBackoffBase,
		timeout:     DefaultTimeout,
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retries < 0 {
		c.retries = 0
	}

	c.policy = retry.Wrap(
		retry.Linear{
			MaxRetries: c.retries,
			Base:       c.backoffBase,
			ShouldRetry: func(err error) bool {
				var fe *fileError
				return !errors.As(err, &fe)
			},
			Clock: c.clock,
			OnRetry: func(n int, err error, delay time.Duration) {
				c.metrics.RecordRetry("secondary")
				c.logger.Warn("retrying read call",
					zap.Int("retry", n), zap.Duration("delay", delay), zap.Error(err))
			},
		},
		retry.Timeout{Duration: c.timeout},
	)
	return c
}

// Read uploads filePath and returns the recognized text. When every attempt
// fails or yields no text it returns ("", nil). It returns an error only when
// ctx is cancelled or the local file cannot be read.
func (c *Client) Read(ctx context.Context, filePath, requestID string) (string, error) {
	logger := c.logger.With(zap.String("request_id", requestID))

	var text string
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		t, err := c.post(ctx, filePath, requestID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(t) == "" {
			return errEmptyResult
		}
		text = t
		return nil
	})
	if err == nil {
		c.metrics.RecordSecondary("text")
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	var fe *fileError
	if errors.As(err, &fe) {
		c.metrics.RecordSecondary("error")
		return "", err
	}

	c.metrics.RecordSecondary("empty")
	logger.Warn("read engine returned nothing", zap.Error(err))
	return "", nil
}

func (c *Client) post(ctx context.Context, filePath, requestID string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", &fileError{err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &fileError{err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, f)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(subscriptionKeyHeader, c.apiKey)
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return ExtractText(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
