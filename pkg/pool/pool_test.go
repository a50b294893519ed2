package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestAcquireFIFOAndExhaustion(t *testing.T) {
	p := New([]string{"a", "b"})
	ctx := context.Background()

	l1, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, l1)
	l2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, l2)
	assert.Equal(t, "a", l1.Address())
	assert.Equal(t, "b", l2.Address())

	l3, err := p.Acquire(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, l3)

	assert.Equal(t, Stats{Capacity: 2, Available: 0, Outstanding: 2}, p.Stats())

	l1.Release()
	l4, err := p.Acquire(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, l4)
	assert.Equal(t, "a", l4.Address())
}

func TestNonBlockingAcquire(t *testing.T) {
	p := New([]string{"a"})
	l, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, l)

	start := time.Now()
	none, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New([]string{"a"})
	l, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	l.Release()
	l.Release()
	l.Release()

	assert.Equal(t, Stats{Capacity: 1, Available: 1, Outstanding: 0}, p.Stats())

	first, _ := p.Acquire(context.Background(), 0)
	second, _ := p.Acquire(context.Background(), 0)
	assert.NotNil(t, first)
	assert.Nil(t, second)
}

func TestEmptyPoolYieldsNoLease(t *testing.T) {
	p := New(nil)
	assert.Equal(t, 1, p.Stats().Capacity)
	assert.Equal(t, 0, p.Size())

	l, err := p.Acquire(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, l)

	// the token taken for the empty queue must come back
	l, err = p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.Equal(t, 0, p.Stats().Outstanding)
}

func TestCancellationIsDistinctFromTimeout(t *testing.T) {
	p := New([]string{"a"})
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	l, err := p.Acquire(ctx, time.Minute)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepeatedCancellationKeepsCapacity(t *testing.T) {
	p := New([]string{"a"})

	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ran, err := p.With(ctx, time.Second, func(string) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		})
		require.True(t, ran, "iteration %d", i)
		require.ErrorIs(t, err, context.Canceled)

		// a waiter cancelled while the only lease is held must not take a token
		held, err := p.Acquire(context.Background(), 0)
		require.NoError(t, err)
		require.NotNil(t, held)
		waitCtx, waitCancel := context.WithCancel(context.Background())
		waitCancel()
		l, err := p.Acquire(waitCtx, time.Second)
		assert.Nil(t, l)
		require.ErrorIs(t, err, context.Canceled)
		held.Release()
	}

	l, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "a", l.Address())
	l.Release()
	assert.Equal(t, Stats{Capacity: 1, Available: 1, Outstanding: 0}, p.Stats())
}

func TestWaiterWakesOnRelease(t *testing.T) {
	p := New([]string{"a"})
	held, err := p.Acquire(context.Background(), 0)
	require.NoError(t, err)

	got := make(chan *Lease, 1)
	go func() {
		l, _ := p.Acquire(context.Background(), time.Second)
		got <- l
	}()

	time.Sleep(10 * time.Millisecond)
	held.Release()

	select {
	case l := <-got:
		require.NotNil(t, l)
		assert.Equal(t, "a", l.Address())
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWithReleasesOnErrorAndPanic(t *testing.T) {
	p := New([]string{"a"})
	boom := errors.New("boom")

	ran, err := p.With(context.Background(), time.Second, func(string) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Stats().Available)

	func() {
		defer func() { _ = recover() }()
		_, _ = p.With(context.Background(), time.Second, func(string) error { panic("worker blew up") })
	}()
	assert.Equal(t, Stats{Capacity: 1, Available: 1, Outstanding: 0}, p.Stats())
}

func TestConcurrentLeasesAreExclusive(t *testing.T) {
	addrs := []string{"a", "b", "c"}
	p := New(addrs)

	var (
		mu      sync.Mutex
		holders = map[string]int{}
		maxOut  atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.With(context.Background(), 5*time.Second, func(addr string) error {
				mu.Lock()
				holders[addr]++
				if holders[addr] > 1 {
					t.Errorf("address %s leased twice", addr)
				}
				mu.Unlock()

				out := int64(p.Stats().Outstanding)
				for {
					cur := maxOut.Load()
					if out <= cur || maxOut.CompareAndSwap(cur, out) {
						break
					}
				}
				time.Sleep(time.Millisecond)

				mu.Lock()
				holders[addr]--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxOut.Load(), int64(len(addrs)))
	assert.Equal(t, Stats{Capacity: 3, Available: 3, Outstanding: 0}, p.Stats())
}
