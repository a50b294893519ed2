// Package ratelimit implements a per-client fixed-window admission gate.
package ratelimit

import (
	"net"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/metrics"
)

const (
	DefaultPermitLimit = 60
	DefaultWindow      = 60 * time.Second

	unknownClient = "unknown"
)

type window struct {
	count int
	end   time.Time
}

type counter struct {
	state atomic.Pointer[window]
}

// Gate admits at most PermitLimit requests per client key per window. The
// window for a key starts with its first request and is replaced by a new
// one once it has ended.
type Gate struct {
	enabled bool
	permit  int
	window  time.Duration
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	entries *ttlcache.Cache[string, *counter]
}

// Option configures a Gate.
type Option func(*Gate)

// WithLimit sets the permit limit and window length.
func WithLimit(permit int, window time.Duration) Option {
	return func(g *Gate) {
		g.permit = permit
		g.window = window
	}
}

// WithEnabled turns the gate on or off. A disabled gate admits everything.
func WithEnabled(on bool) Option {
	return func(g *Gate) { g.enabled = on }
}

func WithClock(clock clockwork.Clock) Option {
	return func(g *Gate) { g.clock = clock }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates an enabled Gate with default limits unless overridden.
// Idle keys are evicted in the background; call Close to stop that loop.
func New(opts ...Option) *Gate {
	g := &Gate{
		enabled: true,
		permit:  DefaultPermitLimit,
		window:  DefaultWindow,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.permit < 1 {
		g.permit = DefaultPermitLimit
	}
	if g.window <= 0 {
		g.window = DefaultWindow
	}

	idle := 2 * g.window
	if idle < time.Minute {
		idle = time.Minute
	}
	g.entries = ttlcache.New(ttlcache.WithTTL[string, *counter](idle))
	go g.entries.Start()
	return g
}

// Admit records one request for key and reports whether it is within the
// limit.
func (g *Gate) Admit(key string) bool {
	if !g.enabled {
		return true
	}

	item, _ := g.entries.GetOrSet(key, &counter{})
	g.entries.Touch(key)
	c := item.Value()

	now := g.clock.Now()
	for {
		cur := c.state.Load()
		next := &window{count: 1, end: now.Add(g.window)}
		if cur != nil && !now.After(cur.end) {
			next.count = cur.count + 1
			next.end = cur.end
		}
		if c.state.CompareAndSwap(cur, next) {
			return next.count <= g.permit
		}
	}
}

// Middleware rejects requests over the limit with 429 before calling next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if !g.Admit(key) {
			g.metrics.RecordRateRejection()
			g.logger.Info("rate limit exceeded", zap.String("client", key), zap.String("path", r.URL.Path))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey is the remote IP of r, or "unknown".
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return unknownClient
	}
	return host
}

// Close stops background eviction.
func (g *Gate) Close() {
	g.entries.Stop()
}
