package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/ocrgate/pkg/config"
)

// Open builds the Store named by cfg.Driver. The SQLite store uses cfg.DSN
// when set and falls back to dbPath.
func Open(ctx context.Context, cfg config.QuotaConfig, dbPath string) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.DSN
		if path == "" {
			path = dbPath
		}
		return NewSQLite(path)

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("ledger/postgres: connect: %w", err)
		}
		s := NewPostgres(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("ledger/redis: parse dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ledger/redis: ping: %w", err)
		}
		return NewRedis(client, WithCloser(client.Close)), nil

	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
}
