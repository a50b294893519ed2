package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/ocrgate/pkg/models"
)

const (
	defaultPeriods     = 6
	defaultAuditLimit  = 50
	maxAuditSearchRows = 500
)

type usageArgs struct {
	Periods int `json:"periods"`
}

type auditSearchArgs struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	FileName  string `json:"file_name"`
	Since     string `json:"since"`
	Limit     int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"ocr_usage":        handleUsage,
	"ocr_audit_search": handleAuditSearch,
	"ocr_cache_stats":  handleCacheStats,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "ocr_usage",
		Description: "Show secondary engine usage for the current billing period and recent history.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"periods": map[string]any{
					"type":        "integer",
					"description": "Number of past periods to list (optional, default 6)",
				},
			},
		},
	},
	{
		Name:        "ocr_audit_search",
		Description: "Search processed uploads with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request_id": map[string]any{
					"type":        "string",
					"description": "Exact request ID (optional)",
				},
				"source": map[string]any{
					"type":        "string",
					"enum":        []string{string(models.SourcePrimary), string(models.SourceSecondary), string(models.SourceCache)},
					"description": "Filter by text source (optional)",
				},
				"file_name": map[string]any{
					"type":        "string",
					"description": "Filter by uploaded file name (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum rows (optional, default 50)",
				},
			},
		},
	},
	{
		Name:        "ocr_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.usage == nil {
		return textResult("Secondary engine quota is not configured.")
	}
	var args usageArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Periods <= 0 {
		args.Periods = defaultPeriods
	}

	status, err := s.usage.Status(ctx)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	periods, err := s.usage.Periods(ctx, args.Periods)
	if err != nil {
		return errorResult("Error fetching usage periods: " + err.Error())
	}
	return textResult(formatUsageStatus(status) + "\n" + formatUsagePeriods(periods))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		RequestID: args.RequestID,
		Source:    models.Source(args.Source),
		FileName:  args.FileName,
		Limit:     args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultAuditLimit
	}
	if opts.Limit > maxAuditSearchRows {
		opts.Limit = maxAuditSearchRows
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	records, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditRecords(records))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}
