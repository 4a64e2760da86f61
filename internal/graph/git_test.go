package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPythonFilesSkipsVendoredDirs(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"app.py":                  "x = 1",
		"pkg/mod.py":              "y = 2",
		"pkg/__init__.py":         "",
		"README.md":               "docs",
		".git/hooks/sample.py":    "hook",
		"venv/lib/site.py":        "vendored",
		"__pycache__/mod.cpython": "cache",
	}
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	ws := NewGitWorkspace(dir, nil)
	got, err := ws.PythonFiles(dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"app.py", "pkg/mod.py", "pkg/__init__.py"}, got)
}
