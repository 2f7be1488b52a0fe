package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashgrep/flashgrep/internal/chunk"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetFile(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	f := &File{Path: "main.go", Size: 100, ModTime: time.Now(), ContentHash: "abc", Language: "go", IndexedAt: time.Now()}
	require.NoError(t, s.UpsertFile(ctx, f))

	got, err := s.GetFile(ctx, "main.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.ContentHash)

	f.ContentHash = "def"
	require.NoError(t, s.UpsertFile(ctx, f))
	got, err = s.GetFile(ctx, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "def", got.ContentHash)
}

func TestGetFileMissingReturnsNilNotError(t *testing.T) {
	s := newTestMetadataStore(t)
	got, err := s.GetFile(context.Background(), "nope.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteFileCascadesChunksAndSymbols(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, s.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))
	require.NoError(t, s.ReplaceSymbols(ctx, "a.go", []*chunk.Symbol{{FilePath: "a.go", Line: 1, Kind: chunk.KindFunction, Name: "f"}}))

	require.NoError(t, s.DeleteFile(ctx, "a.go"))

	chunks, err := s.GetChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	syms, err := s.SearchSymbols(ctx, "f", 10)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestListFilesPagination(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	for _, p := range []string{"a.go", "b.go", "c.go"} {
		require.NoError(t, s.UpsertFile(ctx, &File{Path: p, IndexedAt: time.Now()}))
	}

	page1, cursor, err := s.ListFiles(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "b.go", cursor)

	page2, cursor2, err := s.ListFiles(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, cursor2)
}

func TestReplaceChunksSwapsAtomically(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.go", IndexedAt: time.Now()}))

	require.NoError(t, s.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{
		{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "old"},
	}))
	require.NoError(t, s.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{
		{FilePath: "a.go", StartLine: 1, EndLine: 3, Content: "new"},
	}))

	chunks, err := s.GetChunksByFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "new", chunks[0].Content)
}

func TestSearchSymbolsExactMatchRanksFirst(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, s.ReplaceSymbols(ctx, "a.go", []*chunk.Symbol{
		{FilePath: "a.go", Line: 1, Kind: chunk.KindFunction, Name: "parseConfigFile"},
		{FilePath: "a.go", Line: 2, Kind: chunk.KindFunction, Name: "parse"},
	}))

	syms, err := s.SearchSymbols(ctx, "parse", 10)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "parse", syms[0].Name)
}

func TestBulkPrune(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	for _, p := range []string{"a.go", "b.go"} {
		require.NoError(t, s.UpsertFile(ctx, &File{Path: p, IndexedAt: time.Now()}))
	}

	require.NoError(t, s.BulkPrune(ctx, []string{"a.go", "b.go"}))

	paths, err := s.AllFilePaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestStateRoundTrips(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "last_reconciled")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, "last_reconciled", "123"))
	v, err = s.GetState(ctx, "last_reconciled")
	require.NoError(t, err)
	assert.Equal(t, "123", v)
}

func TestStatsReportsCounts(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFile(ctx, &File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, s.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 2, Content: "x"}}))
	require.NoError(t, s.ReplaceSymbols(ctx, "a.go", []*chunk.Symbol{{FilePath: "a.go", Line: 1, Kind: chunk.KindFunction, Name: "f"}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.Equal(t, 1, stats.SymbolCount)
}
