package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flashgrep/flashgrep/internal/codeio"
	"github.com/flashgrep/flashgrep/internal/ferrors"
	"github.com/flashgrep/flashgrep/internal/glob"
	"github.com/flashgrep/flashgrep/internal/index"
	"github.com/flashgrep/flashgrep/internal/pathkey"
	"github.com/flashgrep/flashgrep/internal/search"
	"github.com/flashgrep/flashgrep/internal/store"
)

// Service wires the request envelope to every component it dispatches
// to. One Service is shared by every connection the Server accepts.
type Service struct {
	root    string
	meta    store.MetadataStore
	search  *search.Executor
	indexer *index.Indexer
	reader  *codeio.Reader
	writer  *codeio.Writer

	bootstrap *bootstrapState

	maxRequestBytes  int
	maxResponseBytes int
}

// NewService builds a Service over the given components. root is the
// repository root, used to resolve write_code's post-write reindex path.
func NewService(root string, meta store.MetadataStore, searchExec *search.Executor, indexer *index.Indexer, reader *codeio.Reader, writer *codeio.Writer) *Service {
	return &Service{
		root:             root,
		meta:             meta,
		search:           searchExec,
		indexer:          indexer,
		reader:           reader,
		writer:           writer,
		bootstrap:        newBootstrapState(),
		maxRequestBytes:  DefaultMaxRequestBytes,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
}

// Dispatch handles one decoded request and returns its response. It
// never returns an error for domain-level failures — those are encoded
// into the response itself, per §4.11's session-resilience rule.
func (s *Service) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodBootstrapSkill:
		return s.handleBootstrap(req)
	case MethodQuery:
		return s.handleQuery(ctx, req)
	case MethodGlob:
		return s.handleGlob(ctx, req)
	case MethodGetSlice:
		return s.handleGetSlice(ctx, req)
	case MethodGetSymbol:
		return s.handleGetSymbol(ctx, req)
	case MethodReadCode:
		return s.handleReadCode(ctx, req)
	case MethodWriteCode:
		return s.handleWriteCode(ctx, req)
	case MethodListFiles:
		return s.handleListFiles(ctx, req)
	case MethodStats:
		return s.handleStats(ctx, req)
	default:
		return transportError(req.ID, TransportErrMethodNotFound, "method not found: "+req.Method)
	}
}

func decodeParams(req Request, out any) error {
	raw, err := json.Marshal(req.Params)
	if err != nil {
		return ferrors.New(ferrors.ErrCodeInvalidInput, "failed to encode params", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ferrors.New(ferrors.ErrCodeInvalidInput, "failed to decode params: "+err.Error(), err)
	}
	return nil
}

func (s *Service) handleBootstrap(req Request) Response {
	var params BootstrapParams
	if err := decodeParams(req, &params); err != nil {
		return domainError(req.ID, err)
	}
	result, err := s.bootstrap.Bootstrap(params)
	if err != nil {
		return domainError(req.ID, err)
	}
	return success(req.ID, result)
}

// QueryParams is the query method's input (§4.8).
type QueryParams struct {
	Text          string   `json:"text"`
	Mode          string   `json:"mode"`
	CaseSensitive bool     `json:"case_sensitive"`
	Include       []string `json:"include"`
	Exclude       []string `json:"exclude"`
	ContextLines  int      `json:"context_lines"`
	Limit         int      `json:"limit"`
	Offset        int      `json:"offset"`
}

func (s *Service) handleQuery(ctx context.Context, req Request) Response {
	var p QueryParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}
	results, err := s.search.Search(ctx, search.Query{
		Text:          p.Text,
		Mode:          search.Mode(p.Mode),
		CaseSensitive: p.CaseSensitive,
		Include:       p.Include,
		Exclude:       p.Exclude,
		ContextLines:  p.ContextLines,
		Limit:         p.Limit,
		Offset:        p.Offset,
	})
	if err != nil {
		return domainError(req.ID, ferrors.New(ferrors.ErrCodeInvalidQuery, err.Error(), err))
	}
	return success(req.ID, results)
}

// GlobParams is the glob method's input (§4.9).
type GlobParams struct {
	Base           string          `json:"base"`
	Pattern        string          `json:"pattern"`
	Include        []string        `json:"include"`
	Exclude        []string        `json:"exclude"`
	Extensions     map[string]bool `json:"extensions"`
	MaxDepth       int             `json:"max_depth"`
	Recursive      bool            `json:"recursive"`
	IncludeHidden  bool            `json:"include_hidden"`
	FollowSymlinks bool            `json:"follow_symlinks"`
	SortBy         string          `json:"sort_by"`
	SortOrder      string          `json:"sort_order"`
	Offset         int             `json:"offset"`
	Limit          int             `json:"limit"`
}

func (s *Service) handleGlob(ctx context.Context, req Request) Response {
	var p GlobParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}
	entries, err := glob.Execute(ctx, glob.Options{
		Base:           p.Base,
		Pattern:        p.Pattern,
		Include:        p.Include,
		Exclude:        p.Exclude,
		Extensions:     p.Extensions,
		MaxDepth:       p.MaxDepth,
		Recursive:      p.Recursive,
		IncludeHidden:  p.IncludeHidden,
		FollowSymlinks: p.FollowSymlinks,
		SortBy:         glob.SortBy(p.SortBy),
		SortOrder:      glob.SortOrder(p.SortOrder),
		Offset:         p.Offset,
		Limit:          p.Limit,
	})
	if err != nil {
		return domainError(req.ID, ferrors.New(ferrors.ErrCodeInvalidInput, err.Error(), err))
	}
	return success(req.ID, entries)
}

// ReadParams covers get_slice, get_symbol, and read_code, which differ
// only in which fields are populated (§4.10).
type ReadParams struct {
	Mode                  string `json:"mode"`
	Path                  string `json:"path"`
	StartLine             int    `json:"start_line"`
	EndLine               int    `json:"end_line"`
	SymbolName            string `json:"symbol_name"`
	SymbolContextLines    int    `json:"symbol_context_lines"`
	MaxLines              int    `json:"max_lines"`
	MaxBytes              int    `json:"max_bytes"`
	MaxTokens             int    `json:"max_tokens"`
	ContinuationStartLine int    `json:"continuation_start_line"`
	Profile               string `json:"profile"`
}

func (s *Service) handleGetSlice(ctx context.Context, req Request) Response {
	return s.read(ctx, req, codeio.ReadModeSlice)
}

func (s *Service) handleGetSymbol(ctx context.Context, req Request) Response {
	return s.read(ctx, req, codeio.ReadModeSymbol)
}

func (s *Service) handleReadCode(ctx context.Context, req Request) Response {
	var p ReadParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}
	mode := codeio.ReadMode(p.Mode)
	if mode == "" {
		mode = codeio.ReadModeSlice
	}
	return s.readWith(ctx, req, p, mode)
}

func (s *Service) read(ctx context.Context, req Request, mode codeio.ReadMode) Response {
	var p ReadParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}
	return s.readWith(ctx, req, p, mode)
}

func (s *Service) readWith(ctx context.Context, req Request, p ReadParams, mode codeio.ReadMode) Response {
	result, err := s.reader.Read(ctx, codeio.ReadRequest{
		Mode:                  mode,
		Path:                  p.Path,
		StartLine:             p.StartLine,
		EndLine:               p.EndLine,
		SymbolName:            p.SymbolName,
		SymbolContextLines:    p.SymbolContextLines,
		MaxLines:              p.MaxLines,
		MaxBytes:              p.MaxBytes,
		MaxTokens:             p.MaxTokens,
		ContinuationStartLine: p.ContinuationStartLine,
		Profile:               codeio.Profile(p.Profile),
	})
	if err != nil {
		return domainError(req.ID, err)
	}
	return success(req.ID, result)
}

// WriteParams is the write_code method's input (§4.10 Write).
type WriteParams struct {
	Path                  string `json:"path"`
	StartLine             int    `json:"start_line"`
	EndLine               int    `json:"end_line"`
	Replacement           string `json:"replacement"`
	ExpectedHash          string `json:"expected_hash"`
	ExpectedStartLineText string `json:"expected_start_line_text"`
	ExpectedEndLineText   string `json:"expected_end_line_text"`
	ContinuationID        string `json:"continuation_id"`
	ChunkIndex            int    `json:"chunk_index"`
	IsFinalChunk          bool   `json:"is_final_chunk"`
}

func (s *Service) handleWriteCode(ctx context.Context, req Request) Response {
	var p WriteParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}

	if len(p.Replacement) > s.maxRequestBytes {
		return success(req.ID, ferrors.Wire{
			Error:   ferrors.KindPayloadTooLarge,
			Message: "replacement exceeds max request size",
			Details: map[string]string{
				"max_allowed_bytes": fmt.Sprintf("%d", s.maxRequestBytes),
			},
		})
	}

	result, err := s.writer.Write(ctx, codeio.WriteRequest{
		Path:                  p.Path,
		StartLine:             p.StartLine,
		EndLine:               p.EndLine,
		Replacement:           p.Replacement,
		ExpectedHash:          p.ExpectedHash,
		ExpectedStartLineText: p.ExpectedStartLineText,
		ExpectedEndLineText:   p.ExpectedEndLineText,
		ContinuationID:        p.ContinuationID,
		ChunkIndex:            p.ChunkIndex,
		IsFinalChunk:          p.IsFinalChunk,
	})
	if err != nil {
		return domainError(req.ID, err)
	}
	if !result.OK {
		return success(req.ID, ferrors.Wire{Error: result.Error, Details: result.Details})
	}
	if result.InProgress {
		return success(req.ID, result)
	}

	// Reindex so the session's subsequent reads reflect the write
	// (§5 ordering guarantee b). The watcher's own event for this same
	// change is deduplicated by content hash in internal/watcher.
	if s.indexer != nil {
		if err := s.indexer.IndexFile(ctx, pathkey.Join(s.root, p.Path)); err != nil {
			return domainError(req.ID, ferrors.Wrap(ferrors.ErrCodeIndexFailed, err))
		}
	}
	return success(req.ID, result)
}

// ListFilesParams is the list_files method's input.
type ListFilesParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

func (s *Service) handleListFiles(ctx context.Context, req Request) Response {
	var p ListFilesParams
	if err := decodeParams(req, &p); err != nil {
		return domainError(req.ID, err)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	files, nextCursor, err := s.meta.ListFiles(ctx, p.Cursor, limit)
	if err != nil {
		return domainError(req.ID, ferrors.Wrap(ferrors.ErrCodeInternal, err))
	}
	return success(req.ID, map[string]any{"files": files, "next_cursor": nextCursor})
}

func (s *Service) handleStats(ctx context.Context, req Request) Response {
	stats, err := s.meta.Stats(ctx)
	if err != nil {
		return domainError(req.ID, ferrors.Wrap(ferrors.ErrCodeInternal, err))
	}
	return success(req.ID, stats)
}
