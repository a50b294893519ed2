// Package pool hands out exclusive, time-boxed leases on a fixed set of
// recognition worker addresses.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Pool bounds concurrent use of the configured worker addresses. Admission is
// a buffered channel of tokens sized to the pool capacity; the free addresses
// sit in a second buffered channel and are handed out in FIFO order.
type Pool struct {
	tokens      chan struct{}
	free        chan string
	size        int
	outstanding atomic.Int64
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Capacity    int `json:"capacity"`
	Available   int `json:"available"`
	Outstanding int `json:"outstanding"`
}

// New creates a pool over addresses. Capacity is max(1, len(addresses)); with
// no addresses every acquisition yields no lease.
func New(addresses []string) *Pool {
	capacity := len(addresses)
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		tokens: make(chan struct{}, capacity),
		free:   make(chan string, capacity),
		size:   len(addresses),
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	for _, addr := range addresses {
		p.free <- addr
	}
	return p
}

// Acquire waits up to timeout for a free worker. It returns (nil, nil) when
// the timeout elapses or no address is free, and (nil, ctx.Err()) when ctx is
// cancelled first. A non-positive timeout makes a single non-blocking attempt.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		select {
		case <-p.tokens:
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.tokens:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case addr := <-p.free:
		p.outstanding.Inc()
		return &Lease{pool: p, addr: addr}, nil
	default:
		p.tokens <- struct{}{}
		return nil, nil
	}
}

// With acquires a lease, runs fn with the leased address and releases the
// lease on every exit path. It reports whether fn ran.
func (p *Pool) With(ctx context.Context, timeout time.Duration, fn func(address string) error) (bool, error) {
	lease, err := p.Acquire(ctx, timeout)
	if err != nil || lease == nil {
		return false, err
	}
	defer lease.Release()
	return true, fn(lease.Address())
}

// Stats reports capacity, free addresses and outstanding leases.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:    cap(p.tokens),
		Available:   len(p.free),
		Outstanding: int(p.outstanding.Load()),
	}
}

// Size is the number of configured addresses.
func (p *Pool) Size() int { return p.size }

func (p *Pool) release(addr string) {
	p.outstanding.Dec()
	p.free <- addr
	p.tokens <- struct{}{}
}

// Lease binds one worker address to one holder until Release.
type Lease struct {
	pool *Pool
	addr string
	once sync.Once
}

// Address returns the leased worker address.
func (l *Lease) Address() string { return l.addr }

// Release returns the address and one unit of capacity to the pool. Calls
// after the first are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.release(l.addr) })
}
