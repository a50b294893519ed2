package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ocrgate/pkg/config"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": newSQLite(t),
	}
}

func TestTryConsumeAdmitsUpToLimit(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
			l := New(store, WithHardLimit(3), WithClock(clock))
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				ok, err := l.TryConsume(ctx)
				require.NoError(t, err)
				assert.True(t, ok, "call %d", i+1)
			}
			ok, err := l.TryConsume(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			// denied attempts still count
			st, err := l.Status(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), st.Period.UsedCount)
			assert.Equal(t, int64(0), st.Remaining)
		})
	}
}

func TestTryConsumeNewPeriodResets(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC))
			l := New(store, WithHardLimit(1), WithClock(clock))
			ctx := context.Background()

			ok, _ := l.TryConsume(ctx)
			assert.True(t, ok)
			ok, _ = l.TryConsume(ctx)
			assert.False(t, ok)

			clock.Advance(2 * time.Hour)
			ok, err := l.TryConsume(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			periods, err := l.Periods(ctx, 10)
			require.NoError(t, err)
			require.Len(t, periods, 2)
			assert.Equal(t, time.June, periods[0].Start.Month())
			assert.Equal(t, int64(1), periods[0].UsedCount)
			assert.Equal(t, int64(2), periods[1].UsedCount)
		})
	}
}

func TestDefaultHardLimit(t *testing.T) {
	l := New(NewMemory(), WithHardLimit(0))
	assert.Equal(t, int64(DefaultHardLimit), l.Limit())
	l = New(NewMemory(), WithHardLimit(-5))
	assert.Equal(t, int64(DefaultHardLimit), l.Limit())
}

func TestConcurrentTryConsumeAdmitsExactlyLimit(t *testing.T) {
	const limit, callers = 25, 60
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, WithHardLimit(limit))

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := l.TryConsume(context.Background())
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						admitted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, limit, admitted)
			st, err := l.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(callers), st.Period.UsedCount)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	p := CurrentPeriod(time.Now(), 1)
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	_, err = s.Increment(ctx, p)
	require.NoError(t, err)
	_, err = s.Increment(ctx, p)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.QuotaConfig{Driver: "memory"}, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.QuotaConfig{}, filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.QuotaConfig{Driver: "mongo"}, "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
