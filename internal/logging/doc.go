// Package logging provides structured logging with file rotation for
// flashgrepd. Logs are written to ~/.flashgrep/logs/flashgrepd.log plus,
// unless suppressed, mirrored to stderr. The handler format follows the
// output's terminal-ness: JSON when running headless as a daemon, a
// human-readable text handler when attached to an interactive TTY.
package logging
