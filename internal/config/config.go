// Package config loads and validates the flashgrep configuration file
// (§6): a JSON object living in the repository's state directory,
// with a fixed set of recognized keys and round-trip preservation of
// anything else. The loading shape (defaults, then file, then env
// overrides, then validation) follows the teacher's layered
// config.Load, adapted from YAML to JSON per the wire format.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SchemaVersion is the current configuration schema version string.
const SchemaVersion = "1"

// DefaultMCPPort is the default TCP port for the request transport.
const DefaultMCPPort = 7777

// Config is the flashgrep configuration file's recognized shape (§6).
// Extra holds any keys the file carries that this version of flashgrep
// doesn't recognize, so they survive a load-then-write round trip
// rather than being silently dropped.
type Config struct {
	Version             string   `json:"version"`
	MCPPort             int      `json:"mcp_port"`
	UseUnixSocket       bool     `json:"use_unix_socket"`
	MaxFileSize         int64    `json:"max_file_size"`
	MaxChunkLines       int      `json:"max_chunk_lines"`
	Extensions          []string `json:"extensions"`
	IgnoredDirs         []string `json:"ignored_dirs"`
	DebounceMS          int      `json:"debounce_ms"`
	EnableInitialIndex  bool     `json:"enable_initial_index"`
	ProgressInterval    int      `json:"progress_interval"`
	IndexStatePath      string   `json:"index_state_path"`
	BootstrapEnforce    string   `json:"bootstrap_enforcement_mode,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// recognizedKeys lists the JSON object keys Config understands; every
// other top-level key in a loaded file is preserved in Extra.
var recognizedKeys = map[string]bool{
	"version":                   true,
	"mcp_port":                  true,
	"use_unix_socket":           true,
	"max_file_size":             true,
	"max_chunk_lines":           true,
	"extensions":                true,
	"ignored_dirs":              true,
	"debounce_ms":               true,
	"enable_initial_index":      true,
	"progress_interval":         true,
	"index_state_path":          true,
	"bootstrap_enforcement_mode": true,
}

// defaultIgnoredDirs is the default value of the ignored_dirs key,
// independent of anything read from a .flashgrepignore file. These are
// applied on top of gitignore.BuiltinExclusions, which is a separate list.
var defaultIgnoredDirs = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	".flashgrep",
}

// defaultExtensions are the file extensions indexed by default when a
// project config doesn't narrow the set. Empty means "no extension
// filter" at the scanner layer; flashgrep ships a practical default
// rather than indexing every byte in the tree.
var defaultExtensions = []string{
	"go", "js", "jsx", "ts", "tsx", "py", "java", "rb", "rs", "c", "h",
	"cc", "cpp", "hpp", "md", "json", "yaml", "yml", "sh",
}

// NewConfig returns a Config populated with flashgrep's defaults.
func NewConfig() *Config {
	return &Config{
		Version:            SchemaVersion,
		MCPPort:            DefaultMCPPort,
		UseUnixSocket:      false,
		MaxFileSize:        2 * 1024 * 1024,
		MaxChunkLines:      300,
		Extensions:         append([]string(nil), defaultExtensions...),
		IgnoredDirs:        append([]string(nil), defaultIgnoredDirs...),
		DebounceMS:         300,
		EnableInitialIndex: true,
		ProgressInterval:   500,
		IndexStatePath:     "filestate.json",
		BootstrapEnforce:   "advisory",
		Extra:              map[string]json.RawMessage{},
	}
}

// FileName is the configuration file's name inside the state directory.
const FileName = "config.json"

// Load reads and validates the configuration file at path. A missing
// file is not an error: Load returns flashgrep's defaults. A present
// but malformed file, or one with an invalid recognized value, is an
// error naming the offending key.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := cfg.unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// unmarshal parses data into c, keeping known fields in their typed
// slots and every other top-level key in c.Extra.
func (c *Config) unmarshal(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid key \"<root>\": %w", err)
	}

	type alias Config
	a := (*alias)(c)
	if err := json.Unmarshal(data, a); err != nil {
		return describeUnmarshalError(err)
	}

	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if !recognizedKeys[k] {
			extra[k] = v
		}
	}
	c.Extra = extra
	return nil
}

// describeUnmarshalError turns a json.Unmarshal error on a *Config into
// one naming the offending key where possible.
func describeUnmarshalError(err error) error {
	if typeErr, ok := err.(*json.UnmarshalTypeError); ok && typeErr.Field != "" {
		return fmt.Errorf("invalid key %q: expected %s, got %s", jsonNameFor(typeErr.Field), typeErr.Type, typeErr.Value)
	}
	return err
}

// jsonNameFor maps a Go struct field name back to its JSON tag name,
// used only for error messages.
func jsonNameFor(field string) string {
	names := map[string]string{
		"Version":            "version",
		"MCPPort":            "mcp_port",
		"UseUnixSocket":      "use_unix_socket",
		"MaxFileSize":        "max_file_size",
		"MaxChunkLines":      "max_chunk_lines",
		"Extensions":         "extensions",
		"IgnoredDirs":        "ignored_dirs",
		"DebounceMS":         "debounce_ms",
		"EnableInitialIndex": "enable_initial_index",
		"ProgressInterval":   "progress_interval",
		"IndexStatePath":     "index_state_path",
		"BootstrapEnforce":   "bootstrap_enforcement_mode",
	}
	if name, ok := names[field]; ok {
		return name
	}
	return field
}

// applyEnvOverrides applies FLASHGREP_* environment variable overrides,
// the highest-precedence layer, mirroring the teacher's env-override step.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("FLASHGREP_MCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.MCPPort = p
		}
	}
	if v := os.Getenv("FLASHGREP_USE_UNIX_SOCKET"); v != "" {
		c.UseUnixSocket = v == "1" || v == "true"
	}
	if v := os.Getenv("FLASHGREP_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.DebounceMS = ms
		}
	}
	if v := os.Getenv("FLASHGREP_BOOTSTRAP_ENFORCEMENT_MODE"); v != "" {
		c.BootstrapEnforce = v
	}
}

// Validate checks invariants on the recognized fields, returning an
// error naming the offending key (§6: "invalid values produce startup
// errors naming the key").
func (c *Config) Validate() error {
	if c.MCPPort <= 0 || c.MCPPort > 65535 {
		return fmt.Errorf("mcp_port must be between 1 and 65535, got %d", c.MCPPort)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	if c.MaxChunkLines <= 0 {
		return fmt.Errorf("max_chunk_lines must be positive, got %d", c.MaxChunkLines)
	}
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must be non-negative, got %d", c.DebounceMS)
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("progress_interval must be positive, got %d", c.ProgressInterval)
	}
	if c.IndexStatePath == "" {
		return fmt.Errorf("index_state_path must not be empty")
	}
	if filepath.IsAbs(c.IndexStatePath) {
		return fmt.Errorf("index_state_path must be relative, got %q", c.IndexStatePath)
	}
	switch c.BootstrapEnforce {
	case "", "advisory", "strict":
	default:
		return fmt.Errorf("bootstrap_enforcement_mode must be \"advisory\" or \"strict\", got %q", c.BootstrapEnforce)
	}
	return nil
}

// Write serializes c to path, folding Extra back in alongside the
// recognized keys so a load-then-write round trip preserves unknown
// fields (§6).
func (c *Config) Write(path string) error {
	out := map[string]json.RawMessage{}
	for k, v := range c.Extra {
		out[k] = v
	}

	type alias Config
	known, err := json.Marshal((*alias)(c))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	for k, v := range knownMap {
		out[k] = v
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}

// StateDirName is the fixed subdirectory at the repository root holding
// the text index, metadata store, configuration file, persisted
// file-state, and optional transport socket (§6).
const StateDirName = ".flashgrep"

// StateDir returns the state directory path for a repository root.
func StateDir(repoRoot string) string {
	return filepath.Join(repoRoot, StateDirName)
}

// PathFor returns the configuration file path for a repository root.
func PathFor(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), FileName)
}
