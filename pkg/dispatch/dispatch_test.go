package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/pario-ai/ocrgate/pkg/models"
	"github.com/pario-ai/ocrgate/pkg/pool"
)

type fakeExtractor struct {
	mu       sync.Mutex
	outcomes map[string]models.ExtractionOutcome
	calls    []string
	block    chan struct{}
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeExtractor) Extract(ctx context.Context, address, filePath, requestID, language string) (models.ExtractionOutcome, error) {
	n := f.inFlight.Inc()
	defer f.inFlight.Dec()
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, address)
	out, ok := f.outcomes[address]
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.ExtractionOutcome{Endpoint: address}, ctx.Err()
		}
	}
	if !ok {
		out = models.ExtractionOutcome{Success: false, Error: "unreachable"}
	}
	out.Endpoint = address
	return out, nil
}

func (f *fakeExtractor) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLedger struct {
	admit bool
	err   error
	calls atomic.Int64
}

func (l *fakeLedger) TryConsume(context.Context) (bool, error) {
	l.calls.Inc()
	return l.admit, l.err
}

type fakeReader struct {
	text  string
	err   error
	calls atomic.Int64
}

func (r *fakeReader) Read(context.Context, string, string) (string, error) {
	r.calls.Inc()
	return r.text, r.err
}

var job = Job{RequestID: "req1", FilePath: "/tmp/upload.png"}

func TestPrimarySuccessFirstAttempt(t *testing.T) {
	p := pool.New([]string{"w1", "w2"})
	ex := &fakeExtractor{outcomes: map[string]models.ExtractionOutcome{
		"w1": {Success: true, Text: "hola"},
	}}
	ledger, reader := &fakeLedger{admit: true}, &fakeReader{text: "cloud"}
	d := New(p, ex, WithFallback(ledger, reader))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "hola", res.Text)
	assert.Equal(t, models.SourcePrimary, res.Source)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"w1"}, res.EndpointsTried)
	assert.Zero(t, ledger.calls.Load())
	assert.Zero(t, reader.calls.Load())
	assert.Equal(t, 0, p.Stats().Outstanding)
}

func TestRetriesOnNextWorker(t *testing.T) {
	p := pool.New([]string{"w1", "w2"})
	ex := &fakeExtractor{outcomes: map[string]models.ExtractionOutcome{
		"w2": {Success: true, Text: "from w2"},
	}}
	d := New(p, ex)

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "from w2", res.Text)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"w1", "w2"}, res.EndpointsTried)
}

func TestAllAttemptsFailFallsBackToSecondary(t *testing.T) {
	p := pool.New([]string{"w1", "w2"})
	ex := &fakeExtractor{}
	ledger, reader := &fakeLedger{admit: true}, &fakeReader{text: "cloud text"}
	d := New(p, ex, WithFallback(ledger, reader), WithMaxAttempts(3))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "cloud text", res.Text)
	assert.Equal(t, models.SourceSecondary, res.Source)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"w1", "w2", "w1"}, res.EndpointsTried)
	assert.False(t, res.Primary.Success)
	assert.Equal(t, int64(1), ledger.calls.Load())
	assert.Equal(t, int64(1), reader.calls.Load())
	assert.Equal(t, pool.Stats{Capacity: 2, Available: 2, Outstanding: 0}, p.Stats())
}

func TestQuotaDeniedReturnsPrimaryOutcome(t *testing.T) {
	p := pool.New([]string{"w1"})
	ex := &fakeExtractor{outcomes: map[string]models.ExtractionOutcome{
		"w1": {Success: false, Text: "partial", Error: "low confidence"},
	}}
	ledger, reader := &fakeLedger{admit: false}, &fakeReader{text: "cloud"}
	d := New(p, ex, WithFallback(ledger, reader), WithMaxAttempts(1))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, models.SourcePrimary, res.Source)
	assert.True(t, res.QuotaDenied)
	assert.Zero(t, reader.calls.Load())
}

func TestBlankSecondaryKeepsPrimary(t *testing.T) {
	p := pool.New([]string{"w1"})
	ledger, reader := &fakeLedger{admit: true}, &fakeReader{text: "  \n "}
	d := New(p, &fakeExtractor{}, WithFallback(ledger, reader), WithMaxAttempts(1))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, res.Source)
	assert.Empty(t, res.Text)
}

func TestLedgerErrorIsTreatedAsDenial(t *testing.T) {
	p := pool.New([]string{"w1"})
	ledger, reader := &fakeLedger{err: errors.New("db locked")}, &fakeReader{text: "cloud"}
	d := New(p, &fakeExtractor{}, WithFallback(ledger, reader), WithMaxAttempts(1))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, res.Source)
	assert.Zero(t, reader.calls.Load())
}

func TestSecondaryErrorKeepsPrimary(t *testing.T) {
	p := pool.New([]string{"w1"})
	ledger, reader := &fakeLedger{admit: true}, &fakeReader{err: errors.New("missing file")}
	d := New(p, &fakeExtractor{}, WithFallback(ledger, reader), WithMaxAttempts(1))

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, res.Source)
}

func TestNoLeaseIsUnavailable(t *testing.T) {
	p := pool.New(nil)
	ledger, reader := &fakeLedger{admit: true}, &fakeReader{text: "cloud"}
	d := New(p, &fakeExtractor{}, WithFallback(ledger, reader), WithAcquireTimeout(10*time.Millisecond))

	res, err := d.Dispatch(context.Background(), job)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, res.EndpointsTried)
	assert.Zero(t, ledger.calls.Load())
	assert.Zero(t, reader.calls.Load())
}

func TestLeaseTimeoutBeforeAnyAttempt(t *testing.T) {
	p := pool.New([]string{"w1"})
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	ex := &fakeExtractor{}
	d := New(p, ex, WithAcquireTimeout(20*time.Millisecond))

	// first acquisition times out: nothing was tried
	_, err = d.Dispatch(context.Background(), job)
	assert.ErrorIs(t, err, ErrUnavailable)
	held.Release()

	res, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, models.SourcePrimary, res.Source)
}

func TestCancellationReleasesLease(t *testing.T) {
	p := pool.New([]string{"w1"})
	ex := &fakeExtractor{block: make(chan struct{})}
	d := New(p, ex)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Dispatch(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pool.Stats{Capacity: 1, Available: 1, Outstanding: 0}, p.Stats())
}

func TestCancellationWhileWaitingForLease(t *testing.T) {
	p := pool.New([]string{"w1"})
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	d := New(p, &fakeExtractor{}, WithAcquireTimeout(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = d.Dispatch(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestConcurrentDispatchRespectsCapacity(t *testing.T) {
	p := pool.New([]string{"w1", "w2"})
	ex := &fakeExtractor{
		block: make(chan struct{}),
		outcomes: map[string]models.ExtractionOutcome{
			"w1": {Success: true, Text: "a"},
			"w2": {Success: true, Text: "b"},
		},
	}
	d := New(p, ex)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Dispatch(context.Background(), job)
			assert.NoError(t, err)
			assert.Equal(t, models.SourcePrimary, res.Source)
		}()
	}

	time.Sleep(30 * time.Millisecond)
	close(ex.block)
	wg.Wait()

	assert.LessOrEqual(t, ex.peak.Load(), int64(2))
	assert.Len(t, ex.callList(), 8)
	assert.Equal(t, 0, p.Stats().Outstanding)
}

func TestDefaultLanguage(t *testing.T) {
	var gotLang string
	p := pool.New([]string{"w1"})
	d := New(p, extractorFunc(func(_ context.Context, addr, _, _, lang string) (models.ExtractionOutcome, error) {
		gotLang = lang
		return models.ExtractionOutcome{Success: true, Endpoint: addr}, nil
	}))

	_, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "es", gotLang)

	_, err = d.Dispatch(context.Background(), Job{RequestID: "r2", FilePath: "/f", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "en", gotLang)
}

type extractorFunc func(ctx context.Context, address, filePath, requestID, language string) (models.ExtractionOutcome, error)

func (f extractorFunc) Extract(ctx context.Context, address, filePath, requestID, language string) (models.ExtractionOutcome, error) {
	return f(ctx, address, filePath, requestID, language)
}
