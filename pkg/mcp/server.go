package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/logging"
	"github.com/pario-ai/ocrgate/pkg/models"
)

const maxLineBytes = 1 << 20

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats() (models.CacheStats, error)
}

// UsageReporter exposes the secondary engine quota.
type UsageReporter interface {
	Status(ctx context.Context) (models.UsageStatus, error)
	Periods(ctx context.Context, limit int) ([]models.UsagePeriod, error)
}

// AuditSearcher queries processed uploads.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditRecord, error)
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
// Any dependency may be nil; its tools then report that it is not configured.
type Server struct {
	usage   UsageReporter
	auditor AuditSearcher
	cache   CacheStatter
	version string
	logger  *zap.Logger
}

// New creates a new MCP Server.
func New(usage UsageReporter, auditor AuditSearcher, cache CacheStatter, version string, logger *zap.Logger) *Server {
	return &Server{
		usage:   usage,
		auditor: auditor,
		cache:   cache,
		version: version,
		logger:  logging.OrNop(logger),
	}
}

// Run reads one JSON-RPC request per line from r and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, maxLineBytes), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "ocrgate", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	start := time.Now()
	result := handler(ctx, s, params.Arguments)
	s.logger.Debug("tool call",
		zap.String("tool", params.Name),
		zap.Bool("is_error", result.IsError),
		zap.Duration("elapsed", time.Since(start)))
	return resultResponse(req.ID, result)
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp: marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp: write response", zap.Error(err))
	}
}
