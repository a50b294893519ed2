package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// PostgresStore keeps counters in PostgreSQL, shared by every instance that
// points at the same database.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix sets the table name prefix (default "ocrgate_").
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) { s.tablePrefix = prefix }
}

// NewPostgres creates a store over pool. Call EnsureSchema before use.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:        pool,
		tablePrefix: "ocrgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) table() string { return s.tablePrefix + "usage_periods" }

// EnsureSchema creates the counters table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			used_count   BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (period_start, period_end)
		)`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ledger/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, p Period) (int64, error) {
	q := fmt.Sprintf(`
		INSERT INTO %s (period_start, period_end, used_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (period_start, period_end)
		DO UPDATE SET used_count = %s.used_count + 1, updated_at = now()
		RETURNING used_count`, s.table(), s.table())

	var used int64
	if err := s.pool.QueryRow(ctx, q, p.Start.UTC(), p.End.UTC()).Scan(&used); err != nil {
		return 0, fmt.Errorf("ledger/postgres: increment: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) Get(ctx context.Context, p Period) (int64, error) {
	q := fmt.Sprintf(`SELECT used_count FROM %s WHERE period_start = $1 AND period_end = $2`, s.table())

	var used int64
	err := s.pool.QueryRow(ctx, q, p.Start.UTC(), p.End.UTC()).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger/postgres: get: %w", err)
	}
	return used, nil
}

func (s *PostgresStore) Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}
	q := fmt.Sprintf(`SELECT period_start, period_end, used_count FROM %s
		ORDER BY period_start DESC LIMIT $1`, s.table())

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: periods: %w", err)
	}
	defer rows.Close()

	var out []models.UsagePeriod
	for rows.Next() {
		var up models.UsagePeriod
		if err := rows.Scan(&up.Start, &up.End, &up.UsedCount); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan period: %w", err)
		}
		up.Start, up.End = up.Start.UTC(), up.End.UTC()
		out = append(out, up)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
