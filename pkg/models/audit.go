package models

import "time"

// AuditRecord describes one processed upload.
type AuditRecord struct {
	RequestID      string    `json:"request_id"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	FileName       string    `json:"file_name"`
	ContentType    string    `json:"content_type"`
	Length         int64     `json:"length"`
	Source         Source    `json:"source"`
	TextLength     int       `json:"text_length"`
	EndpointsTried []string  `json:"endpoints_tried,omitempty"`
	Attempts       int       `json:"attempts"`
	StatusCode     int       `json:"status_code"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AuditQueryOpts specifies filters for querying audit records.
type AuditQueryOpts struct {
	RequestID string
	Source    Source
	FileName  string
	Since     time.Time
	Limit     int
}

// AuditStat holds aggregate audit counts for a source/day combination.
type AuditStat struct {
	Source Source
	Day    string
	Count  int
}
