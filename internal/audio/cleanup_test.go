package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveAllIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	frags := writeFragments(t, dir, ".mp3", []byte("a"), []byte("b"))
	paths := Paths(frags)

	require.NoError(t, RemoveAll(discardLogger(), paths...))
	require.NoError(t, RemoveAll(discardLogger(), paths...))
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	}
}

func TestRemoveAllReportsFailures(t *testing.T) {
	dir := t.TempDir()
	busy := filepath.Join(dir, "busy")
	require.NoError(t, os.MkdirAll(filepath.Join(busy, "child"), 0o755))
	ok := filepath.Join(dir, "ok.mp3")
	require.NoError(t, os.WriteFile(ok, []byte("x"), 0o644))

	err := RemoveAll(discardLogger(), busy, ok)
	var cerr *CleanupError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Failed, busy)
	assert.Len(t, cerr.Failed, 1)

	_, statErr := os.Stat(ok)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRemoveDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	writeFragments(t, mustMkdir(t, dir), ".mp3", []byte("a"))
	require.NoError(t, RemoveDir(discardLogger(), dir))
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	require.NoError(t, RemoveDir(discardLogger(), dir))
}

func mustMkdir(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}
