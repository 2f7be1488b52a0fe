package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flashgrep/flashgrep/internal/config"
	"github.com/flashgrep/flashgrep/internal/gitignore"
)

// ignoreFileName is flashgrep's own ignore file (§6), reconciled the same
// way a .gitignore change is.
const ignoreFileName = ".flashgrepignore"

// HybridWatcher implements the Watcher interface using fsnotify as the primary
// watching mechanism with polling as a fallback.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	gitignore      *gitignore.Matcher
	ignoreRaw      map[string]string // last-seen raw content, by absolute ignore-file path
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
	overflowed     map[string]struct{} // paths whose events were coalesced to "unknown" on overflow (§5)
}

// Ensure HybridWatcher implements Watcher interface.
// Note: Events() returns batched events ([]FileEvent) due to debouncing.
var _ interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
} = (*HybridWatcher)(nil)

// NewHybridWatcher creates a new hybrid watcher with the given options.
// Attempts to use fsnotify first, falls back to polling if it fails.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer:  NewDebouncer(opts.DebounceWindow),
		gitignore:  gitignore.NewWithBuiltins(config.StateDirName),
		ignoreRaw:  map[string]string{},
		events:     make(chan []FileEvent, opts.EventBufferSize),
		errors:     make(chan error, 10),
		stopCh:     make(chan struct{}),
		opts:       opts,
		overflowed: map[string]struct{}{},
	}

	for _, pattern := range opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.useFsnotify = false
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start begins watching the given directory.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	h.rootPath = absPath

	h.loadGitignore()

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify starts the fsnotify-based watcher.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// startPolling starts the polling-based watcher.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				if h.shouldIgnore(event.Path, event.IsDir) {
					continue
				}

				if event.Path == ".gitignore" || event.Path == ignoreFileName {
					h.reloadIgnoreFile(filepath.Join(h.rootPath, event.Path))
					h.debouncer.Add(FileEvent{
						Path:      event.Path,
						Operation: OpGitignoreChange,
						IsDir:     false,
						Timestamp: time.Now(),
					})
					continue
				}

				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

// handleFsnotifyEvent converts and filters fsnotify events.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if h.shouldIgnore(relPath, isDir) {
		return
	}

	if relPath == ".gitignore" || relPath == ignoreFileName {
		h.reloadIgnoreFile(event.Name)
		h.debouncer.Add(FileEvent{
			Path:      relPath,
			Operation: OpGitignoreChange,
			IsDir:     false,
			Timestamp: time.Now(),
		})
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	case event.Op&fsnotify.Chmod != 0:
		return
	default:
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// forwardDebouncedEvents forwards debounced events to the output channel,
// opportunistically draining any paths coalesced to "unknown" by a prior
// overflow (§5) alongside each freshly-debounced batch.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			events = append(h.drainOverflow(), events...)
			if len(events) == 0 {
				continue
			}
			h.emitEvents(events)
		}
	}
}

// addRecursive adds all directories under root to the fsnotify watcher.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(h.rootPath, path)

		if relPath == "." {
			return h.fsWatcher.Add(path)
		}

		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}

		return h.fsWatcher.Add(path)
	})
}

// shouldIgnoreDir checks if a directory should be ignored.
func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, config.StateDirName) || relPath == config.StateDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, true)
}

// shouldIgnore returns true if the path should be ignored.
func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}

	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, config.StateDirName+"/") || relPath == config.StateDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, isDir)
}

// loadGitignore (re)builds the ignore matcher from the repo-root .gitignore
// and .flashgrepignore, recording each file's raw content so a future change
// can be diffed. Nested .gitignore files are out of scope; only the
// repo-root file is honored.
func (h *HybridWatcher) loadGitignore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gitignore = gitignore.NewWithBuiltins(config.StateDirName)
	for _, pattern := range h.opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}

	gitignorePath := filepath.Join(h.rootPath, ".gitignore")
	h.addIgnoreFileLocked(gitignorePath, "")

	flashgrepIgnorePath := filepath.Join(h.rootPath, ignoreFileName)
	h.addIgnoreFileLocked(flashgrepIgnorePath, "")
}

// addIgnoreFileLocked reads path (if present), adds its patterns to the
// current matcher under base, and records the raw content for future diffing.
// Caller must hold h.mu.
func (h *HybridWatcher) addIgnoreFileLocked(path, base string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read ignore file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		h.ignoreRaw[path] = ""
		return
	}
	if err := h.gitignore.AddFromFile(path, base); err != nil {
		slog.Warn("failed to parse ignore file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	h.ignoreRaw[path] = string(data)
}

// reloadIgnoreFile diffs absPath's previous content against its current
// content (§5's "ignore-file reload reconciliation"), logs which patterns
// were added/removed, then rebuilds the whole matcher so subsequent Match
// calls reflect the new rules.
func (h *HybridWatcher) reloadIgnoreFile(absPath string) {
	h.mu.RLock()
	previous := h.ignoreRaw[absPath]
	h.mu.RUnlock()

	current, err := os.ReadFile(absPath)
	currentContent := ""
	if err == nil {
		currentContent = string(current)
	}

	added, removed := gitignore.DiffPatterns(previous, currentContent)
	if len(added) > 0 || len(removed) > 0 {
		slog.Info("ignore file changed",
			slog.String("path", absPath),
			slog.Int("patterns_added", len(added)),
			slog.Int("patterns_removed", len(removed)))
	}

	h.loadGitignore()
}

// emitEvents sends events to the output channel. On overflow, rather than
// dropping the batch outright, every distinct path in it is recorded as
// "unknown" (§5 backpressure): the next forwarded batch carries a
// synthetic unknown-operation event per such path so the indexer rescans
// it by hash instead of trusting a stale or missing event.
func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		h.mu.Lock()
		for _, e := range events {
			h.overflowed[e.Path] = struct{}{}
		}
		h.mu.Unlock()
		slog.Warn("event buffer full, coalescing batch to unknown",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_overflow_batches", count),
		)
	}
}

// drainOverflow returns one OpUnknown FileEvent per path coalesced by a
// prior overflow, clearing the pending set.
func (h *HybridWatcher) drainOverflow() []FileEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.overflowed) == 0 {
		return nil
	}
	out := make([]FileEvent, 0, len(h.overflowed))
	now := time.Now()
	for path := range h.overflowed {
		out = append(out, FileEvent{Path: path, Operation: OpUnknown, Timestamp: now})
	}
	h.overflowed = map[string]struct{}{}
	return out
}

// DroppedBatches returns the number of event batches that overflowed the
// buffer and were coalesced to unknown rather than delivered directly.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// emitError sends an error to the error channel.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()

	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns the type of watcher being used ("fsnotify" or "polling").
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
