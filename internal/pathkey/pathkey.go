// Package pathkey canonicalizes filesystem paths into the repo-relative
// normalized form used as the identity key across the index, the watcher,
// and the request surface.
package pathkey

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Normalize folds an OS-native path into forward-slash, repo-relative form
// with "." components stripped. It does not touch the filesystem.
func Normalize(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/")
}

// Relative resolves abs (a path anywhere under root, possibly containing
// symlinks already resolved by the caller) to a normalized path relative to
// root. It rejects any result that escapes root.
func Relative(root, abs string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("pathkey: resolve root: %w", err)
	}
	target, err := filepath.Abs(abs)
	if err != nil {
		return "", fmt.Errorf("pathkey: resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("pathkey: relativize: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("pathkey: path %q escapes root %q", abs, root)
	}
	return rel, nil
}

// Canonical resolves root to its absolute, symlink-resolved form, so
// "./repo" and "/abs/repo" yield the same key.
func Canonical(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("pathkey: resolve: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Root may not exist yet (e.g. being created); fall back to the
		// absolute form rather than failing canonicalization outright.
		return abs, nil
	}
	return resolved, nil
}

// Join builds an absolute path from a canonical root and a normalized
// repo-relative key.
func Join(root, key string) string {
	if key == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(key))
}

// Depth returns the number of path segments in a normalized key, used by
// the search executor's depth penalty and by glob's depth limits.
func Depth(key string) int {
	if key == "" {
		return 0
	}
	return strings.Count(key, "/") + 1
}
