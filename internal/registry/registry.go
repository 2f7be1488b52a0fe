// Package registry implements the Project Registry (C15): a
// cross-process record of which repository roots have a running
// flashgrepd, keyed by canonical absolute path (§4.12).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Start when a live entry already
// exists for the given path.
var ErrAlreadyRunning = errors.New("already running")

// Entry is one running instance's launch metadata (§4.12).
type Entry struct {
	Path      string    `json:"path"` // Canonical absolute repository path; key.
	PID       int       `json:"pid"`
	Socket    string    `json:"socket,omitempty"`
	Port      int       `json:"port,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry tracks one Entry per canonical repository path, persisted to
// a single JSON file and guarded by a cross-process file lock so
// concurrent flashgrepd launches never race on the same file (§4.12,
// §5 shared-resource policy).
type Registry struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// New builds a Registry backed by the file at path.
func New(path string) *Registry {
	return &Registry{path: path, lock: flock.New(path + ".lock")}
}

// Start registers canonicalPath as running under entry. If a prior
// entry exists for the same path and its process is no longer live, it
// is evicted as stale and Start proceeds; if it is still live, Start
// returns ErrAlreadyRunning and leaves the registry untouched.
func (r *Registry) Start(canonicalPath string, entry Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.Lock(); err != nil {
		return Entry{}, fmt.Errorf("acquire registry lock: %w", err)
	}
	defer r.lock.Unlock()

	entries, err := r.loadLocked()
	if err != nil {
		return Entry{}, err
	}

	if existing, ok := entries[canonicalPath]; ok {
		if processExists(existing.PID) {
			return Entry{}, ErrAlreadyRunning
		}
		// Stale: recorded process is gone, evict and proceed.
		delete(entries, canonicalPath)
	}

	entry.Path = canonicalPath
	entries[canonicalPath] = entry
	if err := r.saveLocked(entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Stop removes the entry for canonicalPath, leaving every other entry
// untouched.
func (r *Registry) Stop(canonicalPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer r.lock.Unlock()

	entries, err := r.loadLocked()
	if err != nil {
		return err
	}
	delete(entries, canonicalPath)
	return r.saveLocked(entries)
}

// Get returns the entry for canonicalPath, if one exists. A stale entry
// (dead process) is still returned as-is; callers that care about
// liveness should use Start's eviction path or check IsLive.
func (r *Registry) Get(canonicalPath string) (*Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.RLock(); err != nil {
		return nil, false, fmt.Errorf("acquire registry read lock: %w", err)
	}
	defer r.lock.Unlock()

	entries, err := r.loadLocked()
	if err != nil {
		return nil, false, err
	}
	e, ok := entries[canonicalPath]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

// List returns every registered entry, in no particular order.
func (r *Registry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire registry read lock: %w", err)
	}
	defer r.lock.Unlock()

	entries, err := r.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out, nil
}

// IsLive reports whether the process recorded in entry is still running.
func IsLive(entry Entry) bool {
	return processExists(entry.PID)
}

func (r *Registry) loadLocked() (map[string]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Entry), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]Entry), nil
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt registry is treated as empty rather than fatal; the
		// next Start simply rewrites it.
		return make(map[string]Entry), nil
	}
	return entries, nil
}

// saveLocked writes entries atomically via rename, matching the
// persisted file-state format's durability rule (§6).
func (r *Registry) saveLocked(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

// processExists reports whether pid refers to a live process, using
// the same signal-0 probe the teacher's PID-file manager uses.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
