package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashgrep/flashgrep/internal/gitignore"
	"github.com/flashgrep/flashgrep/internal/scanner"
	"github.com/flashgrep/flashgrep/internal/store"
)

func newTestIndexer(t *testing.T, root string) *Indexer {
	t.Helper()
	meta, err := store.OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	text, err := store.NewTextIndex("", store.DefaultTextIndexConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = text.Close() })

	return New(root, meta, text, DefaultOptions())
}

func TestIndexFileCreatesChunksAndTextDocs(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("func computeTotal() int {\n\treturn 0\n}\n"), 0o644))

	ix := newTestIndexer(t, root)
	ctx := context.Background()
	require.NoError(t, ix.IndexFile(ctx, path))

	chunks, err := ix.meta.GetChunksByFile(ctx, "main.go")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	hits, err := ix.text.Search(ctx, "computeTotal", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndexFileReindexRemovesStaleChunks(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	ix := newTestIndexer(t, root)
	ctx := context.Background()
	require.NoError(t, ix.IndexFile(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("shorter\n"), 0o644))
	require.NoError(t, ix.IndexFile(ctx, path))

	chunks, err := ix.meta.GetChunksByFile(ctx, "main.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	ids, err := ix.text.AllIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestDeleteFileRemovesMetadataAndTextDocs(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	ix := newTestIndexer(t, root)
	ctx := context.Background()
	require.NoError(t, ix.IndexFile(ctx, path))
	require.NoError(t, ix.DeleteFile(ctx, "main.go"))

	f, err := ix.meta.GetFile(ctx, "main.go")
	require.NoError(t, err)
	assert.Nil(t, f)

	ids, err := ix.text.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndexRepositoryPrunesRemovedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package b\n"), 0o644))

	ix := newTestIndexer(t, root)
	ctx := context.Background()

	ignore := gitignore.NewWithBuiltins(".flashgrep")
	_, err := ix.IndexRepository(ctx, scanner.ScanOptions{Ignore: ignore})
	require.NoError(t, err)

	paths, err := ix.meta.AllFilePaths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, paths)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))
	_, err = ix.IndexRepository(ctx, scanner.ScanOptions{Ignore: ignore})
	require.NoError(t, err)

	paths, err = ix.meta.AllFilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths)
}

func TestClearAllEmptiesBothStores(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	ix := newTestIndexer(t, root)
	ctx := context.Background()
	require.NoError(t, ix.IndexFile(ctx, path))
	require.NoError(t, ix.ClearAll(ctx))

	paths, err := ix.meta.AllFilePaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	ids, err := ix.text.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
