package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashgrep/flashgrep/internal/gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path     string
		wantLang string
	}{
		{"main.go", "go"},
		{"pkg/lib/utils.go", "go"},
		{"app.ts", "typescript"},
		{"script.py", "python"},
		{"README.md", "markdown"},
		{"Dockerfile", "dockerfile"},
		{"Makefile", "makefile"},
		{"file.xyz", ""},
		{"LICENSE", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantLang, DetectLanguage(tt.path), tt.path)
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func collect(t *testing.T, root string, opts *ScanOptions) ([]*FileInfo, *Stats) {
	t.Helper()
	s := New()
	opts.RootDir = root
	results, stats, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	var files []*FileInfo
	for r := range results {
		require.NoError(t, r.Error)
		files = append(files, r.File)
	}
	return files, stats
}

func TestScanSkipsIgnoredAndBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n")
	writeFile(t, root, "vendor/dep.go", "package dep\n")
	writeFile(t, root, "bin.dat", "\x00\x01\x02binary")

	m := gitignore.NewWithBuiltins(".flashgrep")
	files, _ := collect(t, root, &ScanOptions{Ignore: m})

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Contains(t, paths, "src/main.go")
	assert.NotContains(t, paths, "vendor/dep.go")
	assert.NotContains(t, paths, "bin.dat")
}

func TestScanRespectsMaxFileSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", string(make([]byte, 100)))

	files, stats := collect(t, root, &ScanOptions{MaxFileSize: 10})
	assert.Empty(t, files)
	assert.Equal(t, 1, stats.FilesSkipped)
}

func TestScanExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.md", "# doc\n")

	files, _ := collect(t, root, &ScanOptions{Extensions: map[string]bool{"go": true}})
	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].Path)
}
