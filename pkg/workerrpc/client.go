// Package workerrpc is the gRPC client (and service descriptor) for the
// primary recognition workers.
package workerrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pario-ai/ocrgate/pkg/metrics"
	"github.com/pario-ai/ocrgate/pkg/models"
	"github.com/pario-ai/ocrgate/pkg/retry"
)

const (
	DefaultRetries     = 3
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultTimeout     = 30 * time.Second
)

// Client calls ExtractText on worker addresses. Connections are created
// lazily and cached per address.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	dialOpts    []grpc.DialOption
	retries     int
	backoffBase time.Duration
	timeout     time.Duration
	useAngleCls bool
	clock       clockwork.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	policy      retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithDialOptions appends grpc dial options. Transport credentials default to
// insecure.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
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

// WithAngleClassifier toggles the worker's text-orientation classifier.
func WithAngleClassifier(on bool) Option {
	return func(c *Client) { c.useAngleCls = on }
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

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		conns:       make(map[string]*grpc.ClientConn),
		retries:     DefaultRetries,
		backoffBase: DefaultBackoffBase,
		timeout:     DefaultTimeout,
		useAngleCls: true,
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
			MaxRetries:  c.retries,
			Base:        c.backoffBase,
			ShouldRetry: isTransient,
			Clock:       c.clock,
			OnRetry: func(n int, err error, delay time.Duration) {
				c.metrics.RecordRetry("primary")
				c.logger.Warn("retrying worker call",
					zap.Int("retry", n), zap.Duration("delay", delay), zap.Error(err))
			},
		},
		retry.Timeout{Duration: c.timeout},
	)
	return c
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, retry.ErrTimeout) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func (c *Client) conn(address string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[address]; ok {
		return cc, nil
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.dialOpts...)
	cc, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", address, err)
	}
	c.conns[address] = cc
	return cc, nil
}

// Extract asks the worker at address to recognize filePath. Remote failures,
// exhausted retries and negative worker replies all come back as an
// unsuccessful outcome with a nil error; the error is non-nil only when ctx
// was cancelled.
func (c *Client) Extract(ctx context.Context, address, filePath, requestID, language string) (models.ExtractionOutcome, error) {
	start := time.Now()
	logger := c.logger.With(zap.String("request_id", requestID), zap.String("worker", address))

	failed := func(err error) models.ExtractionOutcome {
		return models.ExtractionOutcome{
			Success:  false,
			Error:    err.Error(),
			Elapsed:  time.Since(start),
			Endpoint: address,
		}
	}

	cc, err := c.conn(address)
	if err != nil {
		logger.Error("worker connection failed", zap.Error(err))
		return failed(err), nil
	}

	req := ExtractRequest{
		RequestID:   requestID,
		FilePath:    filePath,
		Language:    language,
		UseAngleCls: c.useAngleCls,
	}.toStruct()

	var reply ExtractReply
	err = c.policy.Execute(ctx, func(ctx context.Context) error {
		out := new(structpb.Struct)
		if err := cc.Invoke(ctx, extractTextMethod, req, out); err != nil {
			return err
		}
		reply = replyFromStruct(out)
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failed(ctxErr), ctxErr
		}
		logger.Warn("worker call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return failed(err), nil
	}
	if !reply.OK {
		logger.Warn("worker reported failure", zap.String("error", reply.Error))
		return models.ExtractionOutcome{
			Success:  false,
			Text:     reply.Text,
			Error:    reply.Error,
			Elapsed:  time.Since(start),
			Endpoint: address,
		}, nil
	}

	return models.ExtractionOutcome{
		Success:  true,
		Text:     reply.Text,
		Elapsed:  time.Since(start),
		Endpoint: address,
	}, nil
}

// Probe runs a standard gRPC health check against address.
func (c *Client) Probe(ctx context.Context, address string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	cc, err := c.conn(address)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", address, err)
	}
	return resp.GetStatus(), nil
}

// Close closes every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for addr, cc := range c.conns {
		err = multierr.Append(err, cc.Close())
		delete(c.conns, addr)
	}
	return err
}
