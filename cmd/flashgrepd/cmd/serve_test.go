package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashgrep/flashgrep/internal/config"
)

func TestBuildScanOptionsAppliesExtensions(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Extensions = []string{"GO", ".md"}

	opts := buildScanOptions(root, cfg)

	assert.True(t, opts.Extensions["go"])
	assert.True(t, opts.Extensions["md"])
	assert.False(t, opts.Extensions["py"])
}

func TestBuildScanOptionsIgnoresConfiguredDirs(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.IgnoredDirs = []string{"fixtures"}

	opts := buildScanOptions(root, cfg)

	require.NotNil(t, opts.Ignore)
	assert.True(t, opts.Ignore.Match("fixtures", true))
	assert.False(t, opts.Ignore.Match("src", true))
}

func TestBuildScanOptionsReadsGitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))
	cfg := config.NewConfig()

	opts := buildScanOptions(root, cfg)

	assert.True(t, opts.Ignore.Match("debug.log", false))
}

func TestNormalizeExtension(t *testing.T) {
	assert.Equal(t, "go", normalizeExtension("go"))
	assert.Equal(t, "go", normalizeExtension(".go"))
	assert.Equal(t, "go", normalizeExtension("GO"))
}

func TestServeCmdHasPathArg(t *testing.T) {
	cmd := newServeCmd()
	assert.Equal(t, "serve [path]", cmd.Use)
}
