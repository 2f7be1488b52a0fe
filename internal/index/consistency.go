// Package index implements the Indexer (C8): the sole writer that keeps
// the metadata store and text index consistent, plus the consistency
// checker that detects and repairs drift between them after a crash.
package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/flashgrep/flashgrep/internal/store"
)

// InconsistencyType categorizes a detected cross-store issue.
type InconsistencyType int

const (
	// InconsistencyOrphanText indicates a text-index document without a
	// matching chunk in the metadata store.
	InconsistencyOrphanText InconsistencyType = iota
	// InconsistencyMissingText indicates a metadata chunk missing from
	// the text index.
	InconsistencyMissingText
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanText:
		return "orphan_text"
	case InconsistencyMissingText:
		return "missing_text"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	DocID   string
	Details string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker validates that every chunk in the metadata store has
// exactly one corresponding text-index document, and vice versa (§3
// consistency invariant, §9).
type ConsistencyChecker struct {
	metadata store.MetadataStore
	text     store.TextIndex
}

// NewConsistencyChecker builds a checker over the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, text store.TextIndex) *ConsistencyChecker {
	return &ConsistencyChecker{metadata: metadata, text: text}
}

// Check scans both stores and reports drift. O(n) in total chunk count.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	paths, err := c.metadata.AllFilePaths(ctx)
	if err != nil {
		return nil, err
	}

	metadataIDs := make(map[string]bool)
	for _, path := range paths {
		chunks, err := c.metadata.GetChunksByFile(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			metadataIDs[store.DocID(ch.FilePath, ch.StartLine, ch.EndLine)] = true
		}
	}

	textIDs, err := c.text.AllIDs()
	if err != nil {
		slog.Warn("failed to get text index ids for consistency check", slog.String("error", err.Error()))
	}
	textSet := make(map[string]bool, len(textIDs))
	for _, id := range textIDs {
		textSet[id] = true
	}

	for _, id := range textIDs {
		if !metadataIDs[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanText, DocID: id, Details: "text index document without matching chunk"})
		}
	}
	for id := range metadataIDs {
		if !textSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingText, DocID: id, Details: "chunk missing from text index"})
		}
	}

	return &CheckResult{
		Checked:         len(metadataIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair fixes detected drift: orphan text documents are deleted
// (best-effort); missing text documents can only be fixed by reindexing
// their file, so they're logged and returned for the caller to act on.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) ([]string, error) {
	var orphans []string
	missingPaths := make(map[string]bool)

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanText:
			orphans = append(orphans, issue.DocID)
		case InconsistencyMissingText:
			if path := pathFromDocID(issue.DocID); path != "" {
				missingPaths[path] = true
			}
		}
	}

	if len(orphans) > 0 {
		if err := c.text.Delete(ctx, orphans); err != nil {
			slog.Warn("failed to delete orphan text documents", slog.Int("count", len(orphans)), slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan text documents", slog.Int("count", len(orphans)))
		}
	}

	paths := make([]string, 0, len(missingPaths))
	for p := range missingPaths {
		paths = append(paths, p)
	}
	if len(paths) > 0 {
		slog.Warn("text index missing documents, files need reindexing", slog.Int("file_count", len(paths)))
	}
	return paths, nil
}

// QuickCheck compares only aggregate counts, for a cheap startup check.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	stats, err := c.metadata.Stats(ctx)
	if err != nil {
		return false, err
	}
	textStats := c.text.Stats()
	textCount := 0
	if textStats != nil {
		textCount = textStats.DocumentCount
	}

	consistent := stats.ChunkCount == textCount
	if !consistent {
		slog.Debug("index counts mismatch", slog.Int("metadata_chunks", stats.ChunkCount), slog.Int("text_docs", textCount))
	}
	return consistent, nil
}

// pathFromDocID extracts the file path portion of a "path:start:end" doc
// ID. Paths themselves never contain ':' (normalized forward-slash keys),
// so splitting on the last two colons is unambiguous.
func pathFromDocID(id string) string {
	lastColon := -1
	colonCount := 0
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == ':' {
			colonCount++
			if colonCount == 2 {
				lastColon = i
				break
			}
		}
	}
	if lastColon == -1 {
		return ""
	}
	return id[:lastColon]
}
