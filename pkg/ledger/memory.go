package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// MemoryStore is an in-process Store guarded by a single mutex. Counters are
// lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[Period]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{counts: make(map[Period]int64)}
}

func (s *MemoryStore) Increment(_ context.Context, p Period) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(p)
	s.counts[key]++
	return s.counts[key], nil
}

func (s *MemoryStore) Get(_ context.Context, p Period) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[normalize(p)], nil
}

func (s *MemoryStore) Periods(_ context.Context, limit int) ([]models.UsagePeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.UsagePeriod, 0, len(s.counts))
	for p, n := range s.counts {
		out = append(out, models.UsagePeriod{Start: p.Start, End: p.End, UsedCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// normalize strips location and monotonic readings so equal instants map to
// the same key.
func normalize(p Period) Period {
	return Period{Start: p.Start.UTC().Round(0), End: p.End.UTC().Round(0)}
}
