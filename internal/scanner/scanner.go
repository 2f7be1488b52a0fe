package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/flashgrep/flashgrep/internal/pathkey"
)

// Scanner performs a single recursive walk of a repository root, honoring
// ignore rules and the size/binary/extension gates from §4.3.
type Scanner struct{}

// New creates a Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan discovers indexable files under opts.RootDir. The returned channel
// is closed when the walk completes; stats is only safe to read after the
// channel has drained.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, *Stats, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, &fs.PathError{Op: "scan", Path: absRoot, Err: fs.ErrInvalid}
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	walkOpts := *opts
	if walkOpts.Ignore != nil {
		walkOpts.Ignore = newCachingMatcher(walkOpts.Ignore)
	}

	results := make(chan ScanResult, workers*10)
	stats := &Stats{}

	go func() {
		start := time.Now()
		defer close(results)
		s.walk(ctx, absRoot, &walkOpts, maxFileSize, results, stats)
		stats.Duration = time.Since(start)
	}()

	return results, stats, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult, stats *Stats) {
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		relPath, relErr := pathkey.Relative(absRoot, path)
		if relErr != nil {
			return nil
		}
		if relPath == "" {
			return nil
		}

		if d.IsDir() {
			if opts.Ignore != nil && opts.Ignore.Match(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			if _, statErr := os.Stat(path); statErr != nil {
				stats.BrokenSymlinks++
				return nil
			}
		}

		if opts.Ignore != nil && opts.Ignore.Match(relPath, false) {
			return nil
		}

		if len(opts.Extensions) > 0 {
			ext := strings.TrimPrefix(extension(relPath), ".")
			if !opts.Extensions[strings.ToLower(ext)] {
				return nil
			}
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if fi.Size() > maxFileSize {
			stats.FilesSkipped++
			return nil
		}

		if isBinary(path) {
			stats.FilesSkipped++
			return nil
		}

		stats.FilesYielded++
		select {
		case results <- ScanResult{File: &FileInfo{
			Path:     relPath,
			AbsPath:  path,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
			Language: DetectLanguage(relPath),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// isBinary reports whether the file's leading bytes contain a null byte or
// fail UTF-8 decoding, per §4.3.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binaryCheckWindow)
	n, _ := f.Read(buf)
	window := buf[:n]

	if bytes.IndexByte(window, 0) >= 0 {
		return true
	}

	// Trim a possibly-truncated trailing rune before validating, so a
	// window boundary mid-rune isn't mistaken for invalid UTF-8.
	for i := 1; i <= utf8.UTFMax && i <= len(window); i++ {
		if utf8.RuneStart(window[len(window)-i]) {
			if !utf8.FullRune(window[len(window)-i:]) {
				window = window[:len(window)-i]
			}
			break
		}
	}
	return !utf8.Valid(window)
}

func extension(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[i:]
	}
	return ""
}
