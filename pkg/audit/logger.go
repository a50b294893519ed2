package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/ocrgate/pkg/models"
)

// Logger writes and queries audit records in a dedicated SQLite database.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		request_id      TEXT PRIMARY KEY,
		correlation_id  TEXT,
		file_name       TEXT NOT NULL,
		content_type    TEXT,
		length          INTEGER NOT NULL,
		source          TEXT NOT NULL,
		text_length     INTEGER,
		endpoints_tried TEXT,
		attempts        INTEGER,
		status_code     INTEGER,
		latency_ms      INTEGER,
		created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_source ON audit_log(source)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`)
	return err
}

// Record inserts an audit record. A nil Logger records nothing.
func (l *Logger) Record(ctx context.Context, rec models.AuditRecord) error {
	if l == nil || l.db == nil {
		return nil
	}

	endpoints, err := json.Marshal(rec.EndpointsTried)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, correlation_id, file_name, content_type, length, source,
		 text_length, endpoints_tried, attempts, status_code, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.CorrelationID, rec.FileName, rec.ContentType,
		rec.Length, string(rec.Source), rec.TextLength, string(endpoints),
		rec.Attempts, rec.StatusCode, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	return err
}

// Query returns audit records matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditRecord, error) {
	q := `SELECT request_id, correlation_id, file_name, content_type, length, source,
		text_length, endpoints_tried, attempts, status_code, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Source != "" {
		q += " AND source = ?"
		args = append(args, string(opts.Source))
	}
	if opts.FileName != "" {
		q += " AND file_name LIKE ?"
		args = append(args, "%"+opts.FileName+"%")
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var correlationID, contentType, endpoints sql.NullString
		var source string
		if err := rows.Scan(
			&r.RequestID, &correlationID, &r.FileName, &contentType, &r.Length, &source,
			&r.TextLength, &endpoints, &r.Attempts, &r.StatusCode, &r.LatencyMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.CorrelationID = correlationID.String
		r.ContentType = contentType.String
		r.Source = models.Source(source)
		if endpoints.Valid && endpoints.String != "" {
			_ = json.Unmarshal([]byte(endpoints.String), &r.EndpointsTried)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns aggregate counts grouped by source and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT source, date(created_at) as day, count(*) as cnt
		 FROM audit_log GROUP BY source, day ORDER BY day DESC, source`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var source string
		var day sql.NullString
		if err := rows.Scan(&source, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Source = models.Source(source)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
