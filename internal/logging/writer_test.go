package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_CreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRotatingWriter_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRotatingWriter_RotatesAtSizeCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	// Two writes that together exceed 1MB force one rotation.
	big := bytes.Repeat([]byte("a"), 700*1024)
	_, err = w.Write(big)
	require.NoError(t, err)
	_, err = w.Write(big)
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err, "rotated file should exist")
	assert.Len(t, rotated, 700*1024)

	active, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, active, 700*1024)
}

func TestRotatingWriter_DropsFilesPastMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	// Pre-seed rotated files at and beyond the cap of 2.
	require.NoError(t, os.WriteFile(path+".1", []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(path+".2", []byte("two"), 0o644))

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	big := bytes.Repeat([]byte("b"), 700*1024)
	_, err = w.Write(big)
	require.NoError(t, err)
	_, err = w.Write(big)
	require.NoError(t, err)

	// .2 held the oldest content and fell off; .1 shifted to .2.
	data, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	entries, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	for _, e := range entries {
		suffix := strings.TrimPrefix(filepath.Base(e), "server.log.")
		assert.NotEqual(t, "3", suffix, "no rotation past maxFiles")
	}
}
