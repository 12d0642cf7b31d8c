package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.zip")
	dst := filepath.Join(dir, "Artist", "Series", "dst.zip")

	require.NoError(t, os.WriteFile(src, []byte("content"), 0600))
	require.NoError(t, MoveFile(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := MoveFile(filepath.Join(dir, "nope.zip"), filepath.Join(dir, "dst.zip"))
	assert.Error(t, err)
}

func TestRemoveFileAndEmptyParents(t *testing.T) {
	root := t.TempDir()
	rel := filepath.Join("Artist", "Series", "Vol 1.zip")
	keep := filepath.Join("Artist", "other.zip")

	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.Dir(rel)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, keep), []byte("x"), 0600))

	require.NoError(t, RemoveFileAndEmptyParents(root, rel))

	// The now-empty series directory is gone, the artist directory stays
	// because it still holds a file.
	_, err := os.Stat(filepath.Join(root, "Artist", "Series"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, keep))
	assert.NoError(t, err)

	// The library root itself is never removed.
	_, err = os.Stat(root)
	assert.NoError(t, err)
}
