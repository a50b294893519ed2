package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// RedisStore keeps one counter key per period plus a sorted index of known
// periods. Counters expire a retention window after the period ends.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
	closer    func() error
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix (default "ocrgate:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRetention sets how long counters outlive their period (default 400 days).
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// WithCloser sets the function run by Close, typically client.Close.
func WithCloser(fn func() error) RedisOption {
	return func(s *RedisStore) { s.closer = fn }
}

// NewRedis creates a store over a connected client.
func NewRedis(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "ocrgate:usage:",
		retention: 400 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) indexKey() string { return s.keyPrefix + "periods" }

func (s *RedisStore) periodKey(p Period) string {
	return s.keyPrefix + periodMember(p)
}

func periodMember(p Period) string {
	return strconv.FormatInt(p.Start.Unix(), 10) + ":" + strconv.FormatInt(p.End.Unix(), 10)
}

func parseMember(m string) (Period, error) {
	startStr, endStr, ok := strings.Cut(m, ":")
	if !ok {
		return Period{}, fmt.Errorf("malformed period member %q", m)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return Period{}, err
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: time.Unix(start, 0).UTC(), End: time.Unix(end, 0).UTC()}, nil
}

// Increment runs INCR, EXPIREAT and the index update in one MULTI/EXEC.
func (s *RedisStore) Increment(ctx context.Context, p Period) (int64, error) {
	key := s.periodKey(p)
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, p.End.Add(s.retention))
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(p.Start.Unix()), Member: periodMember(p)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger/redis: increment: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, p Period) (int64, error) {
	n, err := s.client.Get(ctx, s.periodKey(p)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger/redis: get: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger/redis: periods: %w", err)
	}

	out := make([]models.UsagePeriod, 0, len(members))
	for _, m := range members {
		p, err := parseMember(m)
		if err != nil {
			return nil, fmt.Errorf("ledger/redis: %w", err)
		}
		used, err := s.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, models.UsagePeriod{Start: p.Start, End: p.End, UsedCount: used})
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
