package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/flashgrep/flashgrep/internal/filestate"
	"github.com/flashgrep/flashgrep/internal/index"
	"github.com/flashgrep/flashgrep/internal/scanner"
)

// quickHashWindow bounds how much of a file filestate's cheap staleness
// check reads, so reconciliation stays fast on large files; a file is
// re-read in full only if its size, mtime or this short hash differs
// from the snapshot.
const quickHashWindow = 8192

// reconcile compares the current scan against the persisted file-state
// snapshot to find what changed while flashgrepd was not running (§6
// persisted file-state, package doc in internal/filestate), so a restart
// doesn't pay for reindexing every unchanged file. Files whose size, mtime
// and quick hash all match the snapshot are skipped; everything else is
// indexed.
func reconcile(ctx context.Context, ix *index.Indexer, fs_ *filestate.Store, opts scanner.ScanOptions) (*scanner.Stats, error) {
	results, stats, err := scanner.New().Scan(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("reconcile scan: %w", err)
	}

	seen := make(map[string]bool)
	var firstErr error
	indexed, skipped := 0, 0

	for res := range results {
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
			}
			continue
		}
		path := res.File.Path
		seen[path] = true

		hash, herr := quickHash(res.File.AbsPath)
		if herr != nil {
			if firstErr == nil {
				firstErr = herr
			}
			continue
		}

		if prev, ok := fs_.Get(path); ok && prev.Size == res.File.Size && prev.ModTime == res.File.ModTime.Unix() && prev.Hash == hash {
			skipped++
			continue
		}

		if err := ix.IndexFile(ctx, res.File.AbsPath); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fs_.Set(path, filestate.Entry{Size: res.File.Size, ModTime: res.File.ModTime.Unix(), Hash: hash})
		indexed++
		_ = fs_.FlushEvery(200)
	}

	var stale []string
	for path := range fs_.All() {
		if !seen[path] {
			stale = append(stale, path)
			fs_.Delete(path)
		}
	}
	if len(stale) > 0 {
		if err := ix.BulkPrune(ctx, stale); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := fs_.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}

	slog.Info("startup reconciliation complete",
		slog.Int("indexed", indexed), slog.Int("skipped_unchanged", skipped), slog.Int("pruned", len(stale)))

	return stats, firstErr
}

// quickHash hashes up to quickHashWindow leading bytes of the file at
// absPath, the same cheap staleness signal filestate.Entry.Hash is
// documented to hold.
func quickHash(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, quickHashWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	sum := sha256.Sum256(buf[:n])
	return hex.EncodeToString(sum[:]), nil
}
