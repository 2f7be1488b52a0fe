package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// CodeTokenizerName is the name of the code-aware tokenizer.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName is the name of the code stop word filter.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the name of the code analyzer built from the two
	// above.
	CodeAnalyzerName = "code_analyzer"

	// symbolFieldBoost weights a symbol-name match above a plain content
	// match, matching §4.8's "symbol-name match" ranking signal.
	symbolFieldBoost = 4.0
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// bleveTextIndex wraps Bleve v2 as the persisted full-text inverted index
// (C7). Each document corresponds 1:1 to a metadata-store chunk, keyed by
// DocID(path, startLine, endLine).
type bleveTextIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config TextIndexConfig
	closed bool
}

// bleveDoc is the shape indexed into Bleve. Content and Symbols are
// separate fields so a search can weight symbol-name hits above plain
// text hits (§4.8).
type bleveDoc struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
	Symbols   string `json:"symbols"`
	Depth     int    `json:"depth"`
	ModTime   int64  `json:"mod_time"`
}

// validateIndexIntegrity checks whether an on-disk Bleve index looks
// intact before opening it, so a half-written index from a killed process
// doesn't wedge every future startup.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether err looks like Bleve index corruption
// rather than an ordinary open failure.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewTextIndex opens (or creates) the text index at path. An empty path
// creates an in-memory index, used by tests and by clear_all's rebuild
// path. A corrupted on-disk index is discarded and rebuilt rather than
// failing startup; the caller is expected to trigger a full reindex in
// that case (§7 session resilience).
func NewTextIndex(path string, config TextIndexConfig) (*bleveTextIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("text_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("text index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("text_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("text_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("text index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("text_index_cleared", slog.String("path", path), slog.String("reason", "open failed with corruption, reindex required"))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &bleveTextIndex{index: idx, path: path, config: config}, nil
}

// createIndexMapping builds the Bleve mapping: a content field analyzed
// with the code analyzer, and a symbols field using the same analyzer but
// queried with a boost so symbol-name matches outrank plain text matches.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = CodeAnalyzerName

	return indexMapping, nil
}

// Index implements TextIndex.
func (b *bleveTextIndex) Index(ctx context.Context, docs []*IndexDoc) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		id := DocID(doc.Path, doc.StartLine, doc.EndLine)
		bd := bleveDoc{
			Path:      doc.Path,
			StartLine: doc.StartLine,
			EndLine:   doc.EndLine,
			Content:   doc.Content,
			Symbols:   strings.Join(doc.SymbolNames, " "),
			Depth:     doc.Depth,
			ModTime:   doc.ModTime.Unix(),
		}
		if err := batch.Index(id, bd); err != nil {
			return fmt.Errorf("failed to index document %s: %w", id, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search implements TextIndex. It matches against content and symbols,
// with symbol matches boosted per §4.8.
func (b *bleveTextIndex) Search(ctx context.Context, queryStr string, limit int) ([]*Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*Hit{}, nil
	}

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")

	symbolQuery := bleve.NewMatchQuery(queryStr)
	symbolQuery.SetField("symbols")
	symbolQuery.SetBoost(symbolFieldBoost)

	disjunction := bleve.NewDisjunctionQuery(contentQuery, symbolQuery)

	searchRequest := bleve.NewSearchRequest(disjunction)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true
	searchRequest.Fields = []string{"path", "start_line", "end_line", "mod_time"}

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]*Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		h := &Hit{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		}
		if p, ok := hit.Fields["path"].(string); ok {
			h.Path = p
		}
		if s, ok := hit.Fields["start_line"].(float64); ok {
			h.StartLine = int(s)
		}
		if e, ok := hit.Fields["end_line"].(float64); ok {
			h.EndLine = int(e)
		}
		if m, ok := hit.Fields["mod_time"].(float64); ok {
			h.ModTime = time.Unix(int64(m), 0)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Delete implements TextIndex.
func (b *bleveTextIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs implements TextIndex, used by the consistency checker to diff
// against the metadata store's chunk set (§9).
func (b *bleveTextIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	query := bleve.NewMatchAllQuery()
	docCount, _ := b.index.DocCount()

	req := bleve.NewSearchRequest(query)
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats implements TextIndex.
func (b *bleveTextIndex) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Close implements TextIndex.
func (b *bleveTextIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms collects the distinct matched terms across the
// content and symbols fields, for result explanation.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" || field == "symbols" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}
	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

var _ TextIndex = (*bleveTextIndex)(nil)

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer implements analysis.Tokenizer with camelCase/snake_case
// aware splitting (§4.8's lexical layer).
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

// bleveCodeStopFilter implements analysis.TokenFilter, dropping programming
// keywords from the index.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
