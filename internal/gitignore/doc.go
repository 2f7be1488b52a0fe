// Package gitignore provides gitignore-style pattern matching for the
// single repo-root ignore file flashgrep reads (nested ignore files are
// out of scope).
//
// It implements the gitignore pattern syntax as documented at:
// https://git-scm.com/docs/gitignore
//
// Features:
//   - Basic pattern matching (*.log, temp/)
//   - Wildcard patterns (*, ?, **)
//   - Rooted patterns (/build)
//   - Negation patterns (!important.log)
//   - Directory-only patterns (build/)
//   - Thread-safe matching
//
// Usage:
//
//	m := gitignore.NewWithBuiltins("")
//	m.AddFromFile("/path/to/project/.flashgrepignore", "")
//
//	if m.Match("error.log", false) {
//	    // File is ignored
//	}
package gitignore
