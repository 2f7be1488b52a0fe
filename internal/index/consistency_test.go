package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashgrep/flashgrep/internal/chunk"
	"github.com/flashgrep/flashgrep/internal/store"
)

func newTestStores(t *testing.T) (store.MetadataStore, store.TextIndex) {
	t.Helper()
	meta, err := store.OpenMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	text, err := store.NewTextIndex("", store.DefaultTextIndexConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = text.Close() })

	return meta, text
}

func TestCheckDetectsNoIssuesWhenConsistent(t *testing.T) {
	meta, text := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, meta.UpsertFile(ctx, &store.File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, meta.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))
	require.NoError(t, text.Index(ctx, []*store.IndexDoc{{Path: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))

	checker := NewConsistencyChecker(meta, text)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Inconsistencies)
	assert.Equal(t, 1, result.Checked)
}

func TestCheckDetectsOrphanText(t *testing.T) {
	meta, text := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, text.Index(ctx, []*store.IndexDoc{{Path: "ghost.go", StartLine: 1, EndLine: 5, Content: "x"}}))

	checker := NewConsistencyChecker(meta, text)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanText, result.Inconsistencies[0].Type)
}

func TestCheckDetectsMissingText(t *testing.T) {
	meta, text := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, meta.UpsertFile(ctx, &store.File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, meta.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))

	checker := NewConsistencyChecker(meta, text)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyMissingText, result.Inconsistencies[0].Type)
}

func TestRepairDeletesOrphansAndReportsMissingPaths(t *testing.T) {
	meta, text := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, text.Index(ctx, []*store.IndexDoc{{Path: "ghost.go", StartLine: 1, EndLine: 5, Content: "x"}}))
	require.NoError(t, meta.UpsertFile(ctx, &store.File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, meta.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))

	checker := NewConsistencyChecker(meta, text)
	result, err := checker.Check(ctx)
	require.NoError(t, err)

	paths, err := checker.Repair(ctx, result.Inconsistencies)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths)

	ids, err := text.AllIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, store.DocID("ghost.go", 1, 5))
}

func TestQuickCheckComparesCounts(t *testing.T) {
	meta, text := newTestStores(t)
	ctx := context.Background()
	checker := NewConsistencyChecker(meta, text)

	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, meta.UpsertFile(ctx, &store.File{Path: "a.go", IndexedAt: time.Now()}))
	require.NoError(t, meta.ReplaceChunks(ctx, "a.go", []*chunk.Chunk{{FilePath: "a.go", StartLine: 1, EndLine: 5, Content: "x"}}))

	ok, err = checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
