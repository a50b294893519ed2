package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func newGate(t *testing.T, opts ...Option) *Gate {
	t.Helper()
	g := New(opts...)
	t.Cleanup(g.Close)
	return g
}

func TestAdmitWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(t, WithLimit(3, time.Minute), WithClock(clock))

	for i := 0; i < 3; i++ {
		assert.True(t, g.Admit("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, g.Admit("10.0.0.1"))
	assert.True(t, g.Admit("10.0.0.2"), "other keys have their own window")
}

func TestWindowResetsAfterEnd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(t, WithLimit(1, time.Minute), WithClock(clock))

	assert.True(t, g.Admit("k"))
	assert.False(t, g.Admit("k"))

	// still inside the window at its exact end
	clock.Advance(time.Minute)
	assert.False(t, g.Admit("k"))

	clock.Advance(time.Second)
	assert.True(t, g.Admit("k"))
	assert.False(t, g.Admit("k"))
}

func TestDisabledGateAdmitsEverything(t *testing.T) {
	g := newGate(t, WithEnabled(false), WithLimit(1, time.Minute))
	for i := 0; i < 100; i++ {
		assert.True(t, g.Admit("k"))
	}
}

func TestConcurrentAdmitNeverExceedsLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(t, WithLimit(10, time.Minute), WithClock(clock))

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit("shared") {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), admitted.Load())
}

func TestMiddleware(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(t, WithLimit(1, time.Minute), WithClock(clock))

	var calls int
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/ocr", nil)
	req.RemoteAddr = "192.0.2.7:51234"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.Equal(t, 1, calls)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientKey(r))

	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientKey(r))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientKey(r))
}
