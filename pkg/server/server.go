// Package server exposes the recognition API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cachepkg "github.com/pario-ai/ocrgate/pkg/cache/sqlite"
	"github.com/pario-ai/ocrgate/pkg/config"
	"github.com/pario-ai/ocrgate/pkg/dispatch"
	"github.com/pario-ai/ocrgate/pkg/models"
	"github.com/pario-ai/ocrgate/pkg/pool"
	"github.com/pario-ai/ocrgate/pkg/postprocess"
	"github.com/pario-ai/ocrgate/pkg/ratelimit"
	"github.com/pario-ai/ocrgate/pkg/upload"
)

var allowedMIMETypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
}

// Dispatcher runs recognition jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job) (dispatch.Result, error)
}

// Auditor persists audit records.
type Auditor interface {
	Record(ctx context.Context, rec models.AuditRecord) error
}

// PoolStats reports worker pool usage for the health endpoint.
type PoolStats interface {
	Stats() pool.Stats
}

// Server is the ocrgate HTTP API.
type Server struct {
	cfg        *config.Config
	dispatcher Dispatcher
	storage    *upload.Storage
	processor  *postprocess.Processor
	cache      *cachepkg.Cache
	auditor    Auditor
	gate       *ratelimit.Gate
	workers    PoolStats
	metrics    http.Handler
	logger     *zap.Logger
	mux        *http.ServeMux
	handler    http.Handler
	audits     sync.WaitGroup
}

// Option configures optional Server dependencies.
type Option func(*Server)

func WithCache(c *cachepkg.Cache) Option {
	return func(s *Server) { s.cache = c }
}

func WithAuditor(a Auditor) Option {
	return func(s *Server) { s.auditor = a }
}

// WithGate puts the admission gate in front of every route.
func WithGate(g *ratelimit.Gate) Option {
	return func(s *Server) { s.gate = g }
}

func WithPoolStats(p PoolStats) Option {
	return func(s *Server) { s.workers = p }
}

// WithMetricsHandler serves h on cfg.Metrics.Path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, d Dispatcher, st *upload.Storage, pp *postprocess.Processor, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		storage:    st,
		processor:  pp,
		logger:     zap.NewNop(),
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/api/ocr", s.handleOCR)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil && cfg.Metrics.Path != "" {
		s.mux.Handle(cfg.Metrics.Path, s.metrics)
	}

	var h http.Handler = withCorrelationID(s.mux)
	if s.gate != nil {
		h = s.gate.Middleware(h)
	}
	s.handler = h
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support. Pending
// audit writes are flushed before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ocrgate listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.audits.Wait()
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	start := time.Now()
	correlationID := CorrelationID(ctx)

	if limit := s.cfg.Storage.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !allowedMIMETypes[contentType] {
		writeJSONError(w, http.StatusBadRequest, "Unsupported MIME type")
		return
	}
	if header.Size == 0 {
		writeJSONError(w, http.StatusBadRequest, "Empty file")
		return
	}

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("correlation_id", correlationID))

	stored, err := s.storage.Save(ctx, file, header.Filename, requestID)
	if err != nil {
		if ctx.Err() != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "The request was canceled")
			return
		}
		logger.Error("failed to stage upload", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer s.storage.Delete(stored.Path)

	language := s.cfg.Primary.Language
	res, err := s.recognize(ctx, stored, requestID, language)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnavailable):
			logger.Warn("no worker reachable")
			writeJSONError(w, http.StatusServiceUnavailable, "Failed to reach worker")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSONError(w, http.StatusServiceUnavailable, "The request was canceled")
		default:
			logger.Error("dispatch failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "recognition failed")
		}
		return
	}

	processed, err := s.processor.Process(ctx, res.Text)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "The request was canceled")
		return
	}

	elapsed := time.Since(start)
	s.recordAudit(models.AuditRecord{
		RequestID:      requestID,
		CorrelationID:  correlationID,
		FileName:       header.Filename,
		ContentType:    contentType,
		Length:         header.Size,
		Source:         res.Source,
		TextLength:     len(res.Text),
		EndpointsTried: res.EndpointsTried,
		Attempts:       res.Attempts,
		StatusCode:     http.StatusOK,
		LatencyMs:      elapsed.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}, logger)

	logger.Info("recognition complete",
		zap.String("source", string(res.Source)),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", elapsed))

	writeJSON(w, http.StatusOK, models.OCRResponse{
		RequestID:      requestID,
		CorrelationID:  correlationID,
		Text:           res.Text,
		Source:         res.Source,
		Processed:      processed,
		EndpointsTried: res.EndpointsTried,
		Attempts:       res.Attempts,
		ElapsedMs:      elapsed.Milliseconds(),
	})
}

// recognize serves from the result cache when possible and otherwise
// dispatches, caching text that came from a successful engine.
func (s *Server) recognize(ctx context.Context, stored upload.Stored, requestID, language string) (dispatch.Result, error) {
	if s.cache != nil {
		if e, ok := s.cache.Get(ctx, stored.Digest, language); ok {
			return dispatch.Result{Text: e.Text, Source: models.SourceCache}, nil
		}
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Job{
		RequestID: requestID,
		FilePath:  stored.Path,
		Language:  language,
	})
	if err != nil {
		return res, err
	}

	if s.cache != nil && strings.TrimSpace(res.Text) != "" &&
		(res.Source == models.SourceSecondary || res.Primary.Success) {
		if err := s.cache.Put(ctx, stored.Digest, language, res.Text, res.Source); err != nil {
			s.logger.Warn("cache put failed", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Server) recordAudit(rec models.AuditRecord, logger *zap.Logger) {
	if s.auditor == nil {
		return
	}
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.auditor.Record(ctx, rec); err != nil {
			logger.Error("audit record failed", zap.Error(err))
		}
	}()
}

type healthResponse struct {
	Status  string      `json:"status"`
	Workers *pool.Stats `json:"workers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.workers != nil {
		st := s.workers.Stats()
		resp.Workers = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"ocrgate_error","code":%d}}`, message, code)
}
