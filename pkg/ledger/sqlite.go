package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// SQLiteStore keeps counters in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS usage_periods (
		period_start TEXT NOT NULL,
		period_end   TEXT NOT NULL,
		used_count   INTEGER NOT NULL DEFAULT 0,
		updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (period_start, period_end)
	)`)
	return err
}

// Increment adds one to the period's counter with a single upsert and
// returns the new value.
func (s *SQLiteStore) Increment(ctx context.Context, p Period) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_periods (period_start, period_end, used_count)
		 VALUES (?, ?, 1)
		 ON CONFLICT(period_start, period_end)
		 DO UPDATE SET used_count = used_count + 1, updated_at = datetime('now')
		 RETURNING used_count`,
		formatTime(p.Start), formatTime(p.End),
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("ledger/sqlite: increment: %w", err)
	}
	return used, nil
}

// Get returns the period's counter, zero if absent.
func (s *SQLiteStore) Get(ctx context.Context, p Period) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT used_count FROM usage_periods WHERE period_start = ? AND period_end = ?`,
		formatTime(p.Start), formatTime(p.End),
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger/sqlite: get: %w", err)
	}
	return used, nil
}

// Periods lists stored periods, newest first.
func (s *SQLiteStore) Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_start, period_end, used_count FROM usage_periods
		 ORDER BY period_start DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: periods: %w", err)
	}
	defer rows.Close()

	var out []models.UsagePeriod
	for rows.Next() {
		var start, end string
		var up models.UsagePeriod
		if err := rows.Scan(&start, &end, &up.UsedCount); err != nil {
			return nil, fmt.Errorf("ledger/sqlite: scan period: %w", err)
		}
		if up.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, fmt.Errorf("ledger/sqlite: parse period start: %w", err)
		}
		if up.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("ledger/sqlite: parse period end: %w", err)
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
