package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/flashgrep/flashgrep/internal/chunk"
	"github.com/flashgrep/flashgrep/internal/pathkey"
	"github.com/flashgrep/flashgrep/internal/scanner"
	"github.com/flashgrep/flashgrep/internal/store"
)

// indexRepositoryConcurrency bounds the number of files read, chunked, and
// symbol-extracted in parallel during IndexRepository. IndexFile itself
// still serializes its store writes on writeMu, so this only parallelizes
// the read/chunk/extract work ahead of the write.
const indexRepositoryConcurrency = 8

// Options configures an Indexer.
type Options struct {
	MaxChunkLines int
	MaxFileSize   int64
}

// DefaultOptions returns the indexer's default chunking/size limits.
func DefaultOptions() Options {
	return Options{
		MaxChunkLines: chunk.MaxChunkLines,
		MaxFileSize:   scanner.DefaultMaxFileSize,
	}
}

// Indexer is the sole writer to the metadata store and text index (C8).
// Every mutating method serializes on a single mutex per §5's
// single-writer rule; readers (search, code IO) go straight to the
// stores and never block on it.
type Indexer struct {
	root    string
	meta    store.MetadataStore
	text    store.TextIndex
	opts    Options
	writeMu sync.Mutex
	sf      singleflight.Group
}

// New builds an Indexer rooted at root, backed by the given stores.
func New(root string, meta store.MetadataStore, text store.TextIndex, opts Options) *Indexer {
	if opts.MaxChunkLines <= 0 {
		opts.MaxChunkLines = chunk.MaxChunkLines
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = scanner.DefaultMaxFileSize
	}
	return &Indexer{root: root, meta: meta, text: text, opts: opts}
}

// IndexFile reads, chunks, and symbol-extracts absPath, then commits the
// result: metadata first, text index second (§4.6), so a crash between
// the two leaves only a "missing from text index" drift that the
// consistency checker can repair by reindexing, never an orphaned text
// document with no backing file record. Concurrent calls for the same
// path (a watcher event racing a manual reindex) collapse onto one
// execution via singleflight rather than each redoing the read/chunk/
// extract/commit work.
func (ix *Indexer) IndexFile(ctx context.Context, absPath string) error {
	key, err := pathkey.Relative(ix.root, absPath)
	if err != nil {
		return fmt.Errorf("index file: %w", err)
	}

	_, err, _ = ix.sf.Do(key, func() (interface{}, error) {
		return nil, ix.indexFile(ctx, key, absPath)
	})
	return err
}

func (ix *Indexer) indexFile(ctx context.Context, key, absPath string) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.Size() > ix.opts.MaxFileSize {
		return fmt.Errorf("file %s exceeds max size %d", key, ix.opts.MaxFileSize)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", absPath, err)
	}

	chunks := chunk.Split(key, content, ix.opts.MaxChunkLines)
	var symbols []*chunk.Symbol
	for _, c := range chunks {
		symbols = append(symbols, chunk.Extract(key, c)...)
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	oldChunks, err := ix.meta.GetChunksByFile(ctx, key)
	if err != nil {
		return fmt.Errorf("read previous chunks for %s: %w", key, err)
	}

	f := &store.File{
		Path:        key,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: contentHash(content),
		Language:    scanner.DetectLanguage(key),
		IndexedAt:   time.Now(),
	}

	if err := ix.meta.UpsertFile(ctx, f); err != nil {
		return fmt.Errorf("upsert file %s: %w", key, err)
	}
	if err := ix.meta.ReplaceChunks(ctx, key, chunks); err != nil {
		return fmt.Errorf("replace chunks for %s: %w", key, err)
	}
	if err := ix.meta.ReplaceSymbols(ctx, key, symbols); err != nil {
		return fmt.Errorf("replace symbols for %s: %w", key, err)
	}

	docs := make([]*store.IndexDoc, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, &store.IndexDoc{
			Path:        c.FilePath,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Content:     c.Content,
			SymbolNames: symbolNamesInRange(symbols, c.StartLine, c.EndLine),
			Depth:       pathkey.Depth(key),
			ModTime:     info.ModTime(),
		})
	}
	if err := ix.text.Index(ctx, docs); err != nil {
		return fmt.Errorf("index text documents for %s: %w", key, err)
	}

	if removed := removedDocIDs(oldChunks, chunks); len(removed) > 0 {
		if err := ix.text.Delete(ctx, removed); err != nil {
			return fmt.Errorf("delete stale text documents for %s: %w", key, err)
		}
	}

	return nil
}

// DeleteFile removes path and all its derived records. Text-index
// documents are deleted before the metadata record, so a reader never
// observes a text hit for a file whose metadata has already vanished.
func (ix *Indexer) DeleteFile(ctx context.Context, path string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	return ix.deleteFileLocked(ctx, path)
}

func (ix *Indexer) deleteFileLocked(ctx context.Context, path string) error {
	chunks, err := ix.meta.GetChunksByFile(ctx, path)
	if err != nil {
		return fmt.Errorf("read chunks for %s: %w", path, err)
	}

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, store.DocID(c.FilePath, c.StartLine, c.EndLine))
	}
	if len(ids) > 0 {
		if err := ix.text.Delete(ctx, ids); err != nil {
			return fmt.Errorf("delete text documents for %s: %w", path, err)
		}
	}
	if err := ix.meta.DeleteFile(ctx, path); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

// BulkPrune removes every path in paths. Used when the ignore file
// changes and previously-indexed paths now fall under an exclusion
// (§4.2, §4.7).
func (ix *Indexer) BulkPrune(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	var allIDs []string
	for _, p := range paths {
		chunks, err := ix.meta.GetChunksByFile(ctx, p)
		if err != nil {
			return fmt.Errorf("read chunks for %s: %w", p, err)
		}
		for _, c := range chunks {
			allIDs = append(allIDs, store.DocID(c.FilePath, c.StartLine, c.EndLine))
		}
	}
	if len(allIDs) > 0 {
		if err := ix.text.Delete(ctx, allIDs); err != nil {
			return fmt.Errorf("bulk delete text documents: %w", err)
		}
	}
	return ix.meta.BulkPrune(ctx, paths)
}

// IndexRepository walks root via the scanner, indexes every yielded
// file, and prunes any previously-indexed path no longer present (moved,
// deleted, or newly ignored). It returns scan stats for progress
// reporting.
func (ix *Indexer) IndexRepository(ctx context.Context, opts scanner.ScanOptions) (*scanner.Stats, error) {
	opts.RootDir = ix.root

	results, stats, err := scanner.New().Scan(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}

	var (
		resMu    sync.Mutex
		seen     = make(map[string]bool)
		firstErr error
	)
	recordErr := func(err error) {
		resMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		resMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(indexRepositoryConcurrency)
	for res := range results {
		res := res
		if res.Error != nil {
			recordErr(res.Error)
			continue
		}
		resMu.Lock()
		seen[res.File.Path] = true
		resMu.Unlock()

		g.Go(func() error {
			if err := ix.IndexFile(ctx, res.File.AbsPath); err != nil {
				recordErr(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	existing, err := ix.meta.AllFilePaths(ctx)
	if err != nil {
		return stats, err
	}
	var stale []string
	for _, p := range existing {
		if !seen[p] {
			stale = append(stale, p)
		}
	}
	if err := ix.BulkPrune(ctx, stale); err != nil {
		return stats, err
	}

	return stats, firstErr
}

// ClearAll removes every indexed record from both stores, used by the
// clear_all operation (§4.6).
func (ix *Indexer) ClearAll(ctx context.Context) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	paths, err := ix.meta.AllFilePaths(ctx)
	if err != nil {
		return err
	}

	ids, err := ix.text.AllIDs()
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := ix.text.Delete(ctx, ids); err != nil {
			return fmt.Errorf("clear text index: %w", err)
		}
	}
	return ix.meta.BulkPrune(ctx, paths)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

func symbolNamesInRange(symbols []*chunk.Symbol, start, end int) []string {
	var names []string
	for _, s := range symbols {
		if s.Line >= start && s.Line <= end {
			names = append(names, s.Name)
		}
	}
	return names
}

// removedDocIDs returns the text-index IDs present in oldChunks but not
// in newChunks, so a reindex that produced fewer/differently-bounded
// chunks cleans up the ones that no longer exist.
func removedDocIDs(oldChunks, newChunks []*chunk.Chunk) []string {
	newSet := make(map[string]bool, len(newChunks))
	for _, c := range newChunks {
		newSet[store.DocID(c.FilePath, c.StartLine, c.EndLine)] = true
	}
	var removed []string
	for _, c := range oldChunks {
		id := store.DocID(c.FilePath, c.StartLine, c.EndLine)
		if !newSet[id] {
			removed = append(removed, id)
		}
	}
	return removed
}
