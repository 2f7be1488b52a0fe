package glob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c.go"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden", "d.go"), []byte("x"), 0o644))
	return root
}

func TestExecuteRecursiveFindsNestedFiles(t *testing.T) {
	root := buildTree(t)
	entries, err := Execute(context.Background(), Options{Base: root, Recursive: true, Pattern: "*.go"})
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		if !e.IsDir {
			paths = append(paths, e.Path)
		}
	}
	assert.ElementsMatch(t, []string{"a.go", "sub/c.go"}, paths)
}

func TestExecuteNonRecursiveStopsAtTopLevel(t *testing.T) {
	root := buildTree(t)
	entries, err := Execute(context.Background(), Options{Base: root, Recursive: false})
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Path, "sub/c.go")
	}
}

func TestExecuteSkipsHiddenByDefault(t *testing.T) {
	root := buildTree(t)
	entries, err := Execute(context.Background(), Options{Base: root, Recursive: true})
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Path, ".hidden")
	}
}

func TestExecuteRejectsNegativeMaxDepth(t *testing.T) {
	_, err := Execute(context.Background(), Options{MaxDepth: -1})
	require.Error(t, err)
	var invalid *ErrInvalidParams
	assert.ErrorAs(t, err, &invalid)
}

func TestExecutePaginationIsStable(t *testing.T) {
	root := buildTree(t)
	page1, err := Execute(context.Background(), Options{Base: root, Recursive: true, Limit: 1, Offset: 0})
	require.NoError(t, err)
	page2, err := Execute(context.Background(), Options{Base: root, Recursive: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page1, 1)
	require.Len(t, page2, 1)
	assert.NotEqual(t, page1[0].Path, page2[0].Path)
}

func TestExecutePatternDoubleStarMatchesAnyDepth(t *testing.T) {
	root := buildTree(t)
	entries, err := Execute(context.Background(), Options{Base: root, Recursive: true, Pattern: "**/*"})
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		if !e.IsDir {
			paths = append(paths, e.Path)
		}
	}
	assert.ElementsMatch(t, []string{"a.go", "b.txt", "sub/c.go"}, paths)
}

func TestExecutePatternWithSlashAnchorsToSubdir(t *testing.T) {
	root := buildTree(t)
	entries, err := Execute(context.Background(), Options{Base: root, Recursive: true, Pattern: "sub/*.go"})
	require.NoError(t, err)
	var paths []string
	for _, e := range entries {
		if !e.IsDir {
			paths = append(paths, e.Path)
		}
	}
	assert.ElementsMatch(t, []string{"sub/c.go"}, paths)
}

func TestExecuteExtensionFilterAcceptsDottedAndUndotted(t *testing.T) {
	root := buildTree(t)
	dotted, err := Execute(context.Background(), Options{Base: root, Recursive: true, Extensions: map[string]bool{".go": true}})
	require.NoError(t, err)
	undotted, err := Execute(context.Background(), Options{Base: root, Recursive: true, Extensions: map[string]bool{"go": true}})
	require.NoError(t, err)
	assert.Equal(t, len(dotted), len(undotted))
}
