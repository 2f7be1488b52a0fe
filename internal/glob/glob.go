// Package glob implements the Glob Executor (C12): single-pass directory
// traversal with early pruning by include/exclude/depth/hidden/symlink
// rules, followed by deterministic sorting and pagination (§4.9).
package glob

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flashgrep/flashgrep/internal/gitignore"
	"github.com/flashgrep/flashgrep/internal/pathkey"
)

// SortBy selects the sort key applied to the collected entry set.
type SortBy string

const (
	SortByPath     SortBy = "path"
	SortByName     SortBy = "name"
	SortByModified SortBy = "modified"
	SortBySize     SortBy = "size"
)

// SortOrder selects ascending or descending order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Options is one glob request (§4.9 Input).
type Options struct {
	Base           string
	Pattern        string
	Include        []string
	Exclude        []string
	Extensions     map[string]bool // Accepts both "go" and ".go".
	MaxDepth       int             // 0 = unlimited; negative is invalid_params.
	Recursive      bool
	IncludeHidden  bool
	FollowSymlinks bool
	CaseSensitive  bool
	SortBy         SortBy
	SortOrder      SortOrder
	Offset         int
	Limit          int
}

// Entry is one matched filesystem entry.
type Entry struct {
	Path    string    `json:"path"` // Normalized, relative to Base.
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// ErrInvalidParams wraps a named-field validation failure (§4.9 Errors).
type ErrInvalidParams struct {
	Field   string
	Message string
}

func (e *ErrInvalidParams) Error() string {
	return fmt.Sprintf("invalid_params: %s: %s", e.Field, e.Message)
}

// Execute runs one glob traversal and returns a sorted, paginated window.
func Execute(ctx context.Context, opts Options) ([]*Entry, error) {
	if opts.MaxDepth < 0 {
		return nil, &ErrInvalidParams{Field: "max_depth", Message: "must be >= 0"}
	}
	if opts.SortBy != "" {
		switch opts.SortBy {
		case SortByPath, SortByName, SortByModified, SortBySize:
		default:
			return nil, &ErrInvalidParams{Field: "sort_by", Message: "unknown sort key"}
		}
	}
	if opts.SortOrder != "" && opts.SortOrder != SortAsc && opts.SortOrder != SortDesc {
		return nil, &ErrInvalidParams{Field: "sort_order", Message: "must be asc or desc"}
	}

	base := opts.Base
	if base == "" {
		base = "."
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	visited := make(map[string]bool) // Canonical real paths, to break symlink cycles.

	err = filepath.WalkDir(absBase, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil
		}

		relPath, relErr := pathkey.Relative(absBase, path)
		if relErr != nil {
			return nil
		}
		if relPath == "" {
			return nil
		}

		depth := pathkey.Depth(relPath)
		name := d.Name()

		if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			real, err := filepath.EvalSymlinks(path)
			if err != nil || visited[real] {
				return nil
			}
			visited[real] = true
		}

		if d.IsDir() {
			if path == absBase {
				return nil
			}
			if matchesExclude(relPath, opts.Exclude) {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 && depth > opts.MaxDepth {
				return filepath.SkipDir
			}
			entries = append(entries, dirEntry(relPath, name))
			if !opts.Recursive && depth >= 1 {
				return filepath.SkipDir
			}
			return nil
		}

		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			return nil
		}
		if !opts.Recursive && depth > 1 {
			return nil
		}
		if !matchesFilters(relPath, name, opts) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, &Entry{Path: relPath, Name: name, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortEntries(entries, opts.SortBy, opts.SortOrder)
	return paginate(entries, opts.Offset, opts.Limit), nil
}

func dirEntry(relPath, name string) *Entry {
	return &Entry{Path: relPath, Name: name, IsDir: true}
}

func matchesFilters(relPath, name string, opts Options) bool {
	if opts.Pattern != "" && !gitignore.MatchesAnyPattern(relPath, []string{opts.Pattern}) {
		return false
	}
	if len(opts.Include) > 0 && !gitignore.MatchesAnyPattern(relPath, opts.Include) {
		return false
	}
	if matchesExclude(relPath, opts.Exclude) {
		return false
	}
	if len(opts.Extensions) > 0 {
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if !opts.Extensions[ext] && !opts.Extensions["."+ext] {
			return false
		}
	}
	return true
}

func matchesExclude(relPath string, exclude []string) bool {
	return len(exclude) > 0 && gitignore.MatchesAnyPattern(relPath, exclude)
}

func sortEntries(entries []*Entry, sortBy SortBy, order SortOrder) {
	if sortBy == "" {
		sortBy = SortByPath
	}
	desc := order == SortDesc

	less := func(i, j int) bool {
		a, b := entries[i], entries[j]
		var primaryLess bool
		switch sortBy {
		case SortByName:
			primaryLess = a.Name < b.Name
			if a.Name == b.Name {
				return a.Path < b.Path
			}
		case SortByModified:
			primaryLess = a.ModTime.Before(b.ModTime)
			if a.ModTime.Equal(b.ModTime) {
				return a.Path < b.Path
			}
		case SortBySize:
			primaryLess = a.Size < b.Size
			if a.Size == b.Size {
				return a.Path < b.Path
			}
		default:
			return a.Path < b.Path
		}
		if desc {
			return !primaryLess
		}
		return primaryLess
	}
	sort.SliceStable(entries, less)
}

func paginate(entries []*Entry, offset, limit int) []*Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*Entry{}
	}
	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return entries[offset:end]
}
