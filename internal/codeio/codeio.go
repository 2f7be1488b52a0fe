// Package codeio implements the Code IO component (C13): budgeted
// line-range and symbol-scoped reads with truncation/continuation, and
// precondition-guarded line-range writes (§4.10).
package codeio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/flashgrep/flashgrep/internal/chunk"
	"github.com/flashgrep/flashgrep/internal/ferrors"
	"github.com/flashgrep/flashgrep/internal/pathkey"
	"github.com/flashgrep/flashgrep/internal/scanner"
	"github.com/flashgrep/flashgrep/internal/store"
)

// ReadMode selects how a read resolves its line range.
type ReadMode string

const (
	ReadModeSlice  ReadMode = "slice"
	ReadModeSymbol ReadMode = "symbol"
)

// Profile selects how much metadata a read response carries.
type Profile string

const (
	ProfileMinimal  Profile = "minimal"
	ProfileStandard Profile = "standard"
)

const (
	// DefaultMaxWriteReplacement bounds a single write's replacement
	// payload before chunking is required (§4.11).
	DefaultMaxWriteReplacement = 1 << 20 // 1 MiB.
)

// ReadRequest is one Code IO read (§4.10 Read modes).
type ReadRequest struct {
	Mode               ReadMode
	Path               string
	StartLine          int // 1-based; 0 means "from continuation or file start".
	EndLine             int // 0 means "to file end, subject to budgets".
	SymbolName          string
	SymbolContextLines  int
	MaxLines            int
	MaxBytes            int
	MaxTokens           int
	ContinuationStartLine int
	Profile             Profile
}

// Match is one resolved range within a read result (symbol mode may
// resolve to several, one per matching definition).
type Match struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
	Symbol    string `json:"symbol,omitempty"`
}

// ReadResult is the Code IO read response (§4.10 Truncation/continuation,
// Metadata profile).
type ReadResult struct {
	Matches               []*Match  `json:"matches"`
	Truncated             bool      `json:"truncated"`
	ContinuationStartLine int       `json:"continuation_start_line,omitempty"`
	Completed             bool      `json:"completed"`
	AppliedLimits         []string  `json:"applied_limits,omitempty"`
	Language              string    `json:"language,omitempty"`
	ModTime               time.Time `json:"mtime,omitempty"`
}

// Reader serves Code IO reads. It never writes to either store.
type Reader struct {
	root string
	meta store.MetadataStore
}

// NewReader builds a Reader rooted at root.
func NewReader(root string, meta store.MetadataStore) *Reader {
	return &Reader{root: root, meta: meta}
}

// Read implements slice and symbol reads with budget-bounded truncation.
func (r *Reader) Read(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	switch req.Mode {
	case ReadModeSlice:
		return r.readSlice(ctx, req)
	case ReadModeSymbol:
		return r.readSymbol(ctx, req)
	default:
		return nil, ferrors.New(ferrors.ErrCodeInvalidInput, fmt.Sprintf("unknown read mode %q", req.Mode), nil)
	}
}

func (r *Reader) readSlice(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	abs := pathkey.Join(r.root, req.Path)
	lines, modTime, err := readFileLines(abs)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeFileNotFound, err)
	}

	start := req.StartLine
	if req.ContinuationStartLine > 0 {
		start = req.ContinuationStartLine
	}
	if start < 1 {
		start = 1
	}
	end := req.EndLine
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return &ReadResult{Completed: true}, nil
	}

	budgetEnd, applied := applyBudgets(start, end, lines, req.MaxLines, req.MaxBytes, req.MaxTokens)

	m := &Match{Path: req.Path, StartLine: start, EndLine: budgetEnd, Content: strings.Join(lines[start-1:budgetEnd], "\n")}
	result := &ReadResult{Matches: []*Match{m}, AppliedLimits: applied, ModTime: modTime}
	if budgetEnd < end {
		result.Truncated = true
		result.ContinuationStartLine = budgetEnd + 1
	} else {
		result.Completed = true
	}
	if req.Profile == ProfileStandard || req.Profile == "" {
		result.Language = scanner.DetectLanguage(req.Path)
	}
	return result, nil
}

func (r *Reader) readSymbol(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	symbols, err := r.meta.SearchSymbols(ctx, req.SymbolName, 50)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeSearchFailed, err)
	}
	var exact []*chunk.Symbol
	for _, s := range symbols {
		if s.Name == req.SymbolName {
			exact = append(exact, s)
		}
	}
	if len(exact) == 0 {
		return nil, ferrors.New(ferrors.ErrCodeNotIndexed, fmt.Sprintf("no symbol named %q", req.SymbolName), nil)
	}

	contextLines := req.SymbolContextLines
	var matches []*Match
	var applied []string
	for _, s := range exact {
		abs := pathkey.Join(r.root, s.FilePath)
		lines, _, err := readFileLines(abs)
		if err != nil {
			continue
		}
		start := s.Line - contextLines
		if start < 1 {
			start = 1
		}
		end := s.Line + contextLines
		if end > len(lines) {
			end = len(lines)
		}
		budgetEnd, a := applyBudgets(start, end, lines, req.MaxLines, req.MaxBytes, req.MaxTokens)
		applied = append(applied, a...)
		matches = append(matches, &Match{
			Path:      s.FilePath,
			StartLine: start,
			EndLine:   budgetEnd,
			Content:   strings.Join(lines[start-1:budgetEnd], "\n"),
			Symbol:    s.Name,
		})
	}

	return &ReadResult{Matches: matches, Completed: true, AppliedLimits: applied}, nil
}

// applyBudgets returns the tightest end line across max_lines (exact),
// max_bytes and max_tokens (a bytes/4 estimate), and names which budgets
// bound the result. The byte and token cutoffs are line-granular: the
// line that crosses the limit is kept.
func applyBudgets(start, end int, lines []string, maxLines, maxBytes, maxTokens int) (int, []string) {
	result := end
	var applied []string

	if maxLines > 0 && start+maxLines-1 < result {
		result = start + maxLines - 1
		applied = append(applied, "max_lines")
	}

	if maxBytes > 0 {
		total := 0
		for i := start - 1; i < result; i++ {
			total += len(lines[i]) + 1
			if total > maxBytes {
				result = i + 1
				if result < start {
					result = start
				}
				applied = append(applied, "max_bytes")
				break
			}
		}
	}

	if maxTokens > 0 {
		maxBytesFromTokens := maxTokens * chunk.TokensPerChar
		total := 0
		for i := start - 1; i < result; i++ {
			total += len(lines[i]) + 1
			if total > maxBytesFromTokens {
				result = i + 1
				if result < start {
					result = start
				}
				applied = append(applied, "max_tokens")
				break
			}
		}
	}

	if result < start {
		result = start
	}
	return result, applied
}

func readFileLines(absPath string) ([]string, time.Time, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	text := strings.TrimSuffix(string(content), "\n")
	return strings.Split(text, "\n"), info.ModTime(), nil
}

// WriteRequest is one Code IO write (§4.10 Write).
type WriteRequest struct {
	Path                 string
	StartLine            int
	EndLine              int
	Replacement          string
	ExpectedHash         string
	ExpectedStartLineText string
	ExpectedEndLineText  string
	ContinuationID       string
	ChunkIndex           int
	IsFinalChunk         bool
}

// WriteResult is the Code IO write response.
type WriteResult struct {
	OK      bool              `json:"ok"`
	Error   ferrors.Kind      `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	// InProgress is true for an intermediate chunk of a multi-chunk write
	// that hasn't assembled/applied yet.
	InProgress bool `json:"in_progress,omitempty"`
}

// Writer serves Code IO writes. Reindexing after a successful apply is
// the caller's responsibility (the Indexer), since Writer has no index
// dependency of its own.
type Writer struct {
	root               string
	maxWriteReplacement int

	mu       sync.Mutex
	pending  map[string][]string // continuation ID -> accumulated chunks in order.
}

// NewWriter builds a Writer rooted at root.
func NewWriter(root string, maxWriteReplacement int) *Writer {
	if maxWriteReplacement <= 0 {
		maxWriteReplacement = DefaultMaxWriteReplacement
	}
	return &Writer{root: root, maxWriteReplacement: maxWriteReplacement, pending: make(map[string][]string)}
}

// Write applies req, or buffers it if it's a non-final chunk of a
// multi-chunk sequence.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if req.ContinuationID != "" && !req.IsFinalChunk {
		w.mu.Lock()
		w.pending[req.ContinuationID] = append(w.pending[req.ContinuationID], req.Replacement)
		w.mu.Unlock()
		return &WriteResult{OK: true, InProgress: true, Details: map[string]string{"chunk_index": fmt.Sprintf("%d", req.ChunkIndex)}}, nil
	}

	replacement := req.Replacement
	if req.ContinuationID != "" {
		w.mu.Lock()
		chunks := append(w.pending[req.ContinuationID], req.Replacement)
		delete(w.pending, req.ContinuationID)
		w.mu.Unlock()
		replacement = strings.Join(chunks, "")
	}

	if len(replacement) > w.maxWriteReplacement {
		return &WriteResult{
			OK:    false,
			Error: ferrors.KindPayloadTooLarge,
			Details: map[string]string{
				"max_allowed_bytes": fmt.Sprintf("%d", w.maxWriteReplacement),
				"observed_bytes":    fmt.Sprintf("%d", len(replacement)),
			},
		}, nil
	}

	abs := pathkey.Join(w.root, req.Path)
	lines, _, err := readFileLines(abs)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeFileNotFound, err)
	}
	if req.StartLine < 1 || req.EndLine < req.StartLine || req.EndLine > len(lines) {
		return nil, ferrors.New(ferrors.ErrCodeInvalidInput, "start/end line out of range", nil)
	}

	if mismatch := checkPrecondition(req, abs, lines); mismatch != nil {
		return &WriteResult{OK: false, Error: ferrors.KindPreconditionFailed, Details: mismatch}, nil
	}

	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:req.StartLine-1]...)
	newLines = append(newLines, strings.Split(replacement, "\n")...)
	newLines = append(newLines, lines[req.EndLine:]...)

	hadTrailingNewline := hasTrailingNewline(abs)
	out := strings.Join(newLines, "\n")
	if hadTrailingNewline {
		out += "\n"
	}

	if err := os.WriteFile(abs, []byte(out), 0o644); err != nil {
		return nil, ferrors.Wrap(ferrors.ErrCodeFilePermission, err)
	}

	return &WriteResult{OK: true}, nil
}

func hasTrailingNewline(absPath string) bool {
	content, err := os.ReadFile(absPath)
	if err != nil || len(content) == 0 {
		return true
	}
	return content[len(content)-1] == '\n'
}

func checkPrecondition(req WriteRequest, absPath string, lines []string) map[string]string {
	if req.ExpectedHash != "" {
		content, err := os.ReadFile(absPath)
		observed := ""
		if err == nil {
			observed = fileHash(content)
		}
		if observed != req.ExpectedHash {
			return map[string]string{"field": "expected_hash", "expected": req.ExpectedHash, "observed": observed}
		}
	}
	if req.ExpectedStartLineText != "" {
		observed := ""
		if req.StartLine-1 < len(lines) {
			observed = lines[req.StartLine-1]
		}
		if observed != req.ExpectedStartLineText {
			return map[string]string{"field": "expected_start_line_text", "expected": req.ExpectedStartLineText, "observed": observed}
		}
	}
	if req.ExpectedEndLineText != "" {
		observed := ""
		if req.EndLine-1 < len(lines) {
			observed = lines[req.EndLine-1]
		}
		if observed != req.ExpectedEndLineText {
			return map[string]string{"field": "expected_end_line_text", "expected": req.ExpectedEndLineText, "observed": observed}
		}
	}
	return nil
}

func fileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
