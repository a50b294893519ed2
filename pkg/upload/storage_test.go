package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "temp")
	s, err := New(root, nil)
	require.NoError(t, err)

	st, err := s.Save(context.Background(), strings.NewReader("pdf bytes"), "scan.PDF", "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "abc123.PDF"), st.Path)
	assert.Equal(t, int64(9), st.Size)

	sum := sha256.Sum256([]byte("pdf bytes"))
	assert.Equal(t, hex.EncodeToString(sum[:]), st.Digest)

	data, err := os.ReadFile(st.Path)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	s.Delete(st.Path)
	_, err = os.Stat(st.Path)
	assert.True(t, os.IsNotExist(err))

	// deleting twice is harmless
	s.Delete(st.Path)
}

func TestSaveIgnoresDirectoriesInFileName(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	st, err := s.Save(context.Background(), strings.NewReader("x"), "../../etc/passwd.png", "req")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "req.png"), st.Path)
}

func TestSaveRejectsPathLikeRequestID(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), strings.NewReader("x"), "a.png", "../escape")
	assert.Error(t, err)
}

func TestSaveCancelled(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, strings.NewReader("data"), "a.png", "req")
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
