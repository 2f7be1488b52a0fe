package cmd

import (
	"os"
	"path/filepath"
)

// registryDirName is the per-user directory holding the project
// registry (§4.12), distinct from each repository's own .flashgrep
// state directory since one registry tracks every repository with a
// running flashgrepd.
const registryDirName = ".flashgrep"

// registryPath returns the path to the shared, per-user project
// registry file.
func registryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, registryDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "registry.json"), nil
}
