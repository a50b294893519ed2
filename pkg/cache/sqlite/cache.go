// Package sqlite caches recognized text in SQLite, keyed by the SHA-256 of
// the uploaded file and the recognition language.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// Cache maps an upload's content digest and language to recognized text.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	clock  clockwork.Clock
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock used for expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS result_cache (
	digest     TEXT NOT NULL,
	language   TEXT NOT NULL,
	text       TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_ms INTEGER NOT NULL,
	expires_ms INTEGER NOT NULL,
	PRIMARY KEY (digest, language)
);
CREATE INDEX IF NOT EXISTS idx_result_cache_expires ON result_cache(expires_ms);
`

// New opens the cache table in dbPath. Entries live for ttl.
func New(dbPath string, ttl time.Duration, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, ttl: ttl, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the live entry for digest and language. Lookup failures count
// as misses.
func (c *Cache) Get(ctx context.Context, digest, language string) (models.CacheEntry, bool) {
	var (
		e                    models.CacheEntry
		source               string
		createdMs, expiresMs int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT text, source, created_ms, expires_ms FROM result_cache
		 WHERE digest = ? AND language = ? AND expires_ms > ?`,
		digest, language, c.clock.Now().UnixMilli(),
	).Scan(&e.Text, &source, &createdMs, &expiresMs)
	if err != nil {
		c.misses.Inc()
		return models.CacheEntry{}, false
	}

	c.hits.Inc()
	e.Digest = digest
	e.Source = models.Source(source)
	e.CreatedAt = time.UnixMilli(createdMs).UTC()
	e.TTL = time.Duration(expiresMs-createdMs) * time.Millisecond
	return e, true
}

// Put stores text for digest and language, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, digest, language, text string, source models.Source) error {
	if digest == "" {
		return errors.New("cache put: empty digest")
	}
	now := c.clock.Now()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO result_cache (digest, language, text, source, created_ms, expires_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		digest, language, text, string(source), now.UnixMilli(), now.Add(c.ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats counts stored rows, expired ones included, plus hits and misses since
// the cache was opened.
func (c *Cache) Stats() (models.CacheStats, error) {
	var count int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM result_cache`).Scan(&count); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes every entry, or only expired ones when expiredOnly is set.
func (c *Cache) Clear(expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.Exec(`DELETE FROM result_cache WHERE expires_ms <= ?`, c.clock.Now().UnixMilli())
	} else {
		_, err = c.db.Exec(`DELETE FROM result_cache`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
