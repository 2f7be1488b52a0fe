// Package search implements the Search Executor (C11): grep-parity
// literal/regex matching plus ranked lexical search against the text
// index, sharing one ranking and pagination path (§4.8).
package search

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/flashgrep/flashgrep/internal/chunk"
	"github.com/flashgrep/flashgrep/internal/gitignore"
	"github.com/flashgrep/flashgrep/internal/pathkey"
	"github.com/flashgrep/flashgrep/internal/store"
)

// Mode selects how the query text is evaluated.
type Mode string

const (
	ModeSmart   Mode = "smart"
	ModeLiteral Mode = "literal"
	ModeRegex   Mode = "regex"
)

const (
	// DefaultMaxLimit bounds how many results a single query may request.
	DefaultMaxLimit = 500
	// DefaultSnippetLines bounds a result's snippet: the first lines of
	// the matched chunk, not a window around the matching line.
	DefaultSnippetLines = 6

	// Ranking weights (§4.8), fixed and added to (or, for depth,
	// subtracted from) the lexical score.
	symbolBoostWeight   = 2.0
	proximityWeight     = 0.5
	recencyWeight       = 0.25
	depthPenaltyWeight  = 0.05
	proximityWindowSize = 20 // Lines.

	// recencyHalfLife is how long it takes a chunk's recency contribution
	// to decay to half its value at mtime == now.
	recencyHalfLife = 30 * 24 * time.Hour
)

// Query is one search request (§4.8 Input).
type Query struct {
	Text          string
	Mode          Mode
	CaseSensitive bool
	Include       []string
	Exclude       []string
	ContextLines  int
	Limit         int
	Offset        int
}

// Result is one ranked match (§4.8 Result shape).
type Result struct {
	Path       string  `json:"path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Score      float64 `json:"score"`
	SymbolName string  `json:"symbol_name,omitempty"`
	Snippet    string  `json:"snippet"`
}

// Executor evaluates queries against the metadata store and text index.
// It never writes to either.
type Executor struct {
	meta         store.MetadataStore
	text         store.TextIndex
	maxLimit     int
	snippetLines int
}

// New builds an Executor over the given stores.
func New(meta store.MetadataStore, text store.TextIndex) *Executor {
	return &Executor{meta: meta, text: text, maxLimit: DefaultMaxLimit, snippetLines: DefaultSnippetLines}
}

type candidate struct {
	chunk      *chunk.Chunk
	lexScore   float64
	matchLines []int     // 1-based source lines where the query matched, for proximity scoring.
	modTime    time.Time // Chunk file's mtime, for recency scoring.
}

// Search evaluates q and returns a stable, ranked, paginated window of
// results (§4.8 Determinism).
func (e *Executor) Search(ctx context.Context, q Query) ([]*Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("invalid_params: empty query text")
	}
	limit := q.Limit
	if limit <= 0 || limit > e.maxLimit {
		limit = e.maxLimit
	}

	var candidates []*candidate
	var err error
	switch q.Mode {
	case ModeLiteral:
		candidates, err = e.grepCandidates(ctx, q.Text, q.CaseSensitive, false)
	case ModeRegex:
		candidates, err = e.grepCandidates(ctx, q.Text, q.CaseSensitive, true)
	case ModeSmart, "":
		candidates, err = e.smartCandidates(ctx, q.Text)
	default:
		return nil, fmt.Errorf("invalid_params: unknown mode %q", q.Mode)
	}
	if err != nil {
		return nil, err
	}

	candidates = filterByPath(candidates, q.Include, q.Exclude)

	symbolMatches, err := e.meta.SearchSymbols(ctx, q.Text, 1000)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}

	results := make([]*Result, 0, len(candidates))
	for _, c := range candidates {
		r := &Result{
			Path:      c.chunk.FilePath,
			StartLine: c.chunk.StartLine,
			EndLine:   c.chunk.EndLine,
		}
		score := c.lexScore

		if sym, ok := matchingSymbol(symbolMatches, c.chunk); ok {
			score += symbolBoostWeight
			r.SymbolName = sym
		}

		score += proximityWeight * proximityScore(c.matchLines)
		score += recencyWeight * recencyScore(c.modTime)
		score -= depthPenaltyWeight * float64(pathkey.Depth(c.chunk.FilePath))

		r.Score = score
		r.Snippet = snippet(c.chunk.Content, q.ContextLines, e.snippetLines)
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].StartLine < results[j].StartLine
	})

	return paginate(results, q.Offset, limit), nil
}

// smartCandidates runs the tokenized query against the text index and
// resolves each hit back to its metadata chunk.
func (e *Executor) smartCandidates(ctx context.Context, text string) ([]*candidate, error) {
	hits, err := e.text.Search(ctx, text, e.maxLimit*4)
	if err != nil {
		return nil, fmt.Errorf("text index search: %w", err)
	}

	candidates := make([]*candidate, 0, len(hits))
	for _, h := range hits {
		c, err := e.meta.GetChunk(ctx, h.Path, h.StartLine, h.EndLine)
		if err != nil || c == nil {
			continue
		}
		candidates = append(candidates, &candidate{chunk: c, lexScore: h.Score, modTime: h.ModTime})
	}
	return candidates, nil
}

// grepCandidates scans every chunk directly for literal or regex
// matches, giving grep parity independent of tokenization.
func (e *Executor) grepCandidates(ctx context.Context, pattern string, caseSensitive, isRegex bool) ([]*candidate, error) {
	var re *regexp.Regexp
	if isRegex {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		var err error
		re, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid_params: bad regex: %w", err)
		}
	} else {
		needle := pattern
		if !caseSensitive {
			needle = strings.ToLower(needle)
		}
		re = regexp.MustCompile(regexp.QuoteMeta(needle))
		if !caseSensitive {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
		}
	}

	paths, err := e.meta.AllFilePaths(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*candidate
	for _, p := range paths {
		chunks, err := e.meta.GetChunksByFile(ctx, p)
		if err != nil {
			return nil, err
		}
		var modTime time.Time
		if f, ferr := e.meta.GetFile(ctx, p); ferr == nil && f != nil {
			modTime = f.ModTime
		}
		for _, c := range chunks {
			lines := strings.Split(c.Content, "\n")
			var matchLines []int
			count := 0
			for i, line := range lines {
				if re.MatchString(line) {
					matchLines = append(matchLines, c.StartLine+i)
					count++
				}
			}
			if count > 0 {
				candidates = append(candidates, &candidate{chunk: c, lexScore: float64(count), matchLines: matchLines, modTime: modTime})
			}
		}
	}
	return candidates, nil
}

func filterByPath(candidates []*candidate, include, exclude []string) []*candidate {
	if len(include) == 0 && len(exclude) == 0 {
		return candidates
	}
	var out []*candidate
	for _, c := range candidates {
		if len(include) > 0 && !gitignore.MatchesAnyPattern(c.chunk.FilePath, include) {
			continue
		}
		if len(exclude) > 0 && gitignore.MatchesAnyPattern(c.chunk.FilePath, exclude) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchingSymbol(symbols []*chunk.Symbol, c *chunk.Chunk) (string, bool) {
	for _, s := range symbols {
		if s.FilePath == c.FilePath && s.Line >= c.StartLine && s.Line <= c.EndLine {
			return s.Name, true
		}
	}
	return "", false
}

// proximityScore rewards matches clustered within a small line window
// over matches scattered across a large chunk.
func proximityScore(matchLines []int) float64 {
	if len(matchLines) < 2 {
		return 0
	}
	span := matchLines[len(matchLines)-1] - matchLines[0]
	if span <= 0 {
		return float64(len(matchLines))
	}
	if span > proximityWindowSize {
		return 0
	}
	return float64(len(matchLines)) * (1 - float64(span)/float64(proximityWindowSize))
}

// recencyScore rewards recently-modified files, decaying exponentially
// with half-life recencyHalfLife. A zero modTime (a hit from an index
// predating the field) scores 0 rather than looking infinitely old.
func recencyScore(modTime time.Time) float64 {
	if modTime.IsZero() {
		return 0
	}
	age := time.Since(modTime)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(recencyHalfLife))
}

func snippet(content string, contextLines, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultSnippetLines
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}
	return strings.Join(lines[:maxLines], "\n")
}

func paginate(results []*Result, offset, limit int) []*Result {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []*Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}
