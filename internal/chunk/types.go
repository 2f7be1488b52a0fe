// Package chunk splits file content into bounded line-range chunks and
// extracts symbols from them using language-agnostic regex heuristics
// (§4.4, §4.5). There is no AST or tree-sitter parsing here by design:
// regex misses some constructs, but stays consistent across languages.
package chunk

// MaxChunkLines is the default cap on a chunk's line span (§3).
const MaxChunkLines = 300

// TokensPerChar approximates token count from byte length for the code-IO
// budget estimator (bytes/4, rounded up).
const TokensPerChar = 4

// Chunk is a contiguous, bounded line range from one file (§3).
type Chunk struct {
	FilePath    string // Repo-relative normalized path.
	StartLine   int    // 1-indexed, inclusive.
	EndLine     int    // 1-indexed, inclusive.
	ContentHash string // Short hash of Content, for change detection.
	Content     string // Raw line range, for display and reindex diffing.
}

// Kind enumerates the symbol categories recognized by the extractor (§4.5).
type Kind string

const (
	KindFunction   Kind = "function"
	KindClass      Kind = "class"
	KindStruct     Kind = "struct"
	KindInterface  Kind = "interface"
	KindType       Kind = "type"
	KindImport     Kind = "import"
	KindExport     Kind = "export"
	KindRoute      Kind = "route"
	KindSQL        Kind = "sql"
	KindVisibility Kind = "visibility-marker"
)

// Symbol is a named code element recognized within a chunk and attributed
// to its source file line, not a chunk-relative offset (§3, §4.5).
type Symbol struct {
	FilePath string
	Line     int
	Kind     Kind
	Name     string
}
