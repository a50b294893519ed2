// Package upload stages uploaded files on local disk for the lifetime of one
// request.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/logging"
)

// Stored describes a staged upload.
type Stored struct {
	Path   string
	Size   int64
	Digest string // hex SHA-256 of the content
}

// Storage writes uploads under a root directory.
type Storage struct {
	root   string
	logger *zap.Logger
}

// New creates root if needed and returns a Storage writing into it.
func New(root string, logger *zap.Logger) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &Storage{root: abs, logger: logging.OrNop(logger)}, nil
}

// Root returns the absolute storage directory.
func (s *Storage) Root() string { return s.root }

// Save copies r to <root>/<requestID><ext of fileName>. Workers read the file
// by this path, so it is absolute.
func (s *Storage) Save(ctx context.Context, r io.Reader, fileName, requestID string) (Stored, error) {
	if requestID == "" || filepath.Base(requestID) != requestID {
		return Stored{}, fmt.Errorf("invalid request id %q", requestID)
	}
	path := filepath.Join(s.root, requestID+filepath.Ext(filepath.Base(fileName)))

	f, err := os.Create(path)
	if err != nil {
		return Stored{}, fmt.Errorf("create upload file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Delete(path)
		return Stored{}, fmt.Errorf("write upload file: %w", err)
	}

	return Stored{Path: path, Size: n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// Delete removes path. Failures are logged, never returned.
func (s *Storage) Delete(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to delete upload", zap.String("path", path), zap.Error(err))
	}
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
