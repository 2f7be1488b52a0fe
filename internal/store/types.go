// Package store persists the two stores the indexer keeps consistent: a
// relational metadata store (files, chunks, symbols, runtime state) and a
// full-text inverted index over chunk content (§3, §4.6, §9).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/flashgrep/flashgrep/internal/chunk"
)

// CurrentSchemaVersion is the metadata store's schema version.
const CurrentSchemaVersion = 1

// File is the persisted file record (§3).
type File struct {
	Path        string    `json:"path"` // Repo-relative normalized path; primary key.
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mtime"`
	ContentHash string    `json:"content_hash"`
	Language    string    `json:"language,omitempty"`
	Extension   string    `json:"extension,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Stats summarizes the metadata store's contents.
type Stats struct {
	FileCount   int `json:"file_count"`
	ChunkCount  int `json:"chunk_count"`
	SymbolCount int `json:"symbol_count"`
}

// MetadataStore is the relational store of files, chunks, and symbols
// (C6). The Indexer is its sole writer; search and code-IO are readers.
type MetadataStore interface {
	// File operations.
	UpsertFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	DeleteFile(ctx context.Context, path string) error // Cascades chunks and symbols.
	ListFiles(ctx context.Context, cursor string, limit int) ([]*File, string, error)
	AllFilePaths(ctx context.Context) ([]string, error)

	// Chunk operations. ReplaceChunks atomically swaps the full chunk set
	// for a path, matching §4.6's index_file contract.
	ReplaceChunks(ctx context.Context, path string, chunks []*chunk.Chunk) error
	GetChunksByFile(ctx context.Context, path string) ([]*chunk.Chunk, error)
	GetChunk(ctx context.Context, path string, startLine, endLine int) (*chunk.Chunk, error)

	// Symbol operations.
	ReplaceSymbols(ctx context.Context, path string, symbols []*chunk.Symbol) error
	SearchSymbols(ctx context.Context, name string, limit int) ([]*chunk.Symbol, error)

	// BulkPrune removes file/chunk/symbol records for every path in paths.
	// Idempotent; used by ignore reconciliation (§4.2, §4.7).
	BulkPrune(ctx context.Context, paths []string) error

	// Stats reports aggregate counts.
	Stats(ctx context.Context) (*Stats, error)

	// State is a small key-value store for runtime bookkeeping (e.g. the
	// consistency checker's last-reconciled marker).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// IndexDoc is a text-index document: one per chunk (§3).
type IndexDoc struct {
	Path        string
	StartLine   int
	EndLine     int
	Content     string
	SymbolNames []string // Boosted in ranking; see internal/search.
	Depth       int
	ModTime     time.Time
}

// DocID returns the composite key identifying a chunk's text-index
// document, matching it 1:1 against the metadata store's (path, start,
// end) triple (§3 consistency invariant).
func DocID(path string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d:%d", path, startLine, endLine)
}

// Hit is a single text-index search result.
type Hit struct {
	ID           string
	Path         string
	StartLine    int
	EndLine      int
	Score        float64
	MatchedTerms []string
	ModTime      time.Time // Chunk's indexed mtime; zero if the index predates this field.
}

// IndexStats reports aggregate counts for the text index.
type IndexStats struct {
	DocumentCount int
}

// TextIndexConfig holds tokenizer settings; NewTextIndex stores it with the
// index, but the registered code analyzer does not read it and always uses
// DefaultCodeStopWords and a minimum token length of 2.
type TextIndexConfig struct {
	StopWords      []string
	MinTokenLength int
}

// DefaultTextIndexConfig returns the default tokenizer configuration.
func DefaultTextIndexConfig() TextIndexConfig {
	return TextIndexConfig{
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords filtered from the
// index so they don't dominate lexical scoring.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// TextIndex is the persisted full-text inverted index (C7).
type TextIndex interface {
	Index(ctx context.Context, docs []*IndexDoc) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, queryStr string, limit int) ([]*Hit, error)
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Close() error
}
