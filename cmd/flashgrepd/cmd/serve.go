package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashgrep/flashgrep/internal/codeio"
	"github.com/flashgrep/flashgrep/internal/config"
	"github.com/flashgrep/flashgrep/internal/filestate"
	"github.com/flashgrep/flashgrep/internal/gitignore"
	"github.com/flashgrep/flashgrep/internal/index"
	"github.com/flashgrep/flashgrep/internal/output"
	"github.com/flashgrep/flashgrep/internal/registry"
	"github.com/flashgrep/flashgrep/internal/rpc"
	"github.com/flashgrep/flashgrep/internal/scanner"
	"github.com/flashgrep/flashgrep/internal/search"
	"github.com/flashgrep/flashgrep/internal/store"
	"github.com/flashgrep/flashgrep/internal/watcher"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Index a repository and serve search/glob/read/write over JSON-RPC",
		Long: `Serve indexes the repository at path (default: current directory) and
starts the JSON-RPC request server (§4.11), keeping the index current via
a filesystem watcher until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, args)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, args []string) error {
	out := output.New(cmd.OutOrStdout())

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve repository root: %w", err)
	}

	regPath, err := registryPath()
	if err != nil {
		return fmt.Errorf("resolve registry path: %w", err)
	}
	reg := registry.New(regPath)

	cfg, err := config.Load(config.PathFor(absRoot))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	entry := registry.Entry{Path: absRoot, PID: os.Getpid(), CreatedAt: time.Now()}
	if cfg.UseUnixSocket {
		entry.Socket = filepath.Join(config.StateDir(absRoot), "flashgrepd.sock")
	} else {
		entry.Port = cfg.MCPPort
	}
	if _, err := reg.Start(absRoot, entry); err != nil {
		if err == registry.ErrAlreadyRunning {
			out.Status("", fmt.Sprintf("flashgrepd is already running for %s", absRoot))
			return nil
		}
		return fmt.Errorf("register daemon: %w", err)
	}
	defer func() { _ = reg.Stop(absRoot) }()

	stateDir := config.StateDir(absRoot)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	meta, err := store.OpenMetadataStore(filepath.Join(stateDir, "metadata.db"))
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = meta.Close() }()

	text, err := store.NewTextIndex(filepath.Join(stateDir, "text.bleve"), store.DefaultTextIndexConfig())
	if err != nil {
		return fmt.Errorf("open text index: %w", err)
	}
	defer func() { _ = text.Close() }()

	ix := index.New(absRoot, meta, text, index.Options{
		MaxChunkLines: cfg.MaxChunkLines,
		MaxFileSize:   cfg.MaxFileSize,
	})

	scanOpts := buildScanOptions(absRoot, cfg)

	fsStore, err := filestate.Open(filepath.Join(stateDir, cfg.IndexStatePath))
	if err != nil {
		return fmt.Errorf("open file-state store: %w", err)
	}
	defer func() { _ = fsStore.Flush() }()

	if cfg.EnableInitialIndex {
		out.Status("", fmt.Sprintf("Indexing %s...", absRoot))
		stats, err := reconcile(ctx, ix, fsStore, scanOpts)
		if err != nil {
			slog.Warn("startup reconciliation encountered errors", slog.String("error", err.Error()))
		}
		if stats != nil {
			out.Success(fmt.Sprintf("Indexed %d files (%d skipped)", stats.FilesYielded, stats.FilesSkipped))
		}
	}

	wopts := watcher.DefaultOptions()
	if cfg.DebounceMS > 0 {
		wopts.DebounceWindow = time.Duration(cfg.DebounceMS) * time.Millisecond
	}
	wopts.IgnorePatterns = cfg.IgnoredDirs

	w, err := watcher.NewHybridWatcher(wopts)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx, absRoot); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	go runWatchLoop(ctx, w, ix, fsStore, scanOpts)

	searchExec := search.New(meta, text)
	reader := codeio.NewReader(absRoot, meta)
	writer := codeio.NewWriter(absRoot, codeio.DefaultMaxWriteReplacement)

	svc := rpc.NewService(absRoot, meta, searchExec, ix, reader, writer)

	var srv *rpc.Server
	if cfg.UseUnixSocket {
		srv = rpc.NewUnixServer(entry.Socket, svc)
		out.Status("", fmt.Sprintf("Listening on %s", entry.Socket))
	} else {
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.MCPPort)
		srv = rpc.NewTCPServer(addr, svc)
		out.Status("", fmt.Sprintf("Listening on %s", addr))
	}

	slog.Info("flashgrepd serving", slog.String("root", absRoot), slog.Int("pid", os.Getpid()))
	err = srv.ListenAndServe(ctx)
	if err != nil && ctx.Err() != nil {
		out.Success("flashgrepd stopped")
		return nil
	}
	return err
}

// runWatchLoop dispatches watcher events to the indexer until ctx is
// cancelled. OpUnknown events (coalesced by a buffer overflow) are
// treated like OpModify since the indexer re-derives the content hash
// itself; gitignore/config changes trigger a fresh reconciliation pass
// rather than a single-file update.
func runWatchLoop(ctx context.Context, w *watcher.HybridWatcher, ix *index.Indexer, fsStore *filestate.Store, scanOpts scanner.ScanOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				handleWatchEvent(ctx, ev, ix, fsStore, scanOpts)
			}
		case werr, ok := <-w.Errors():
			if !ok {
				continue
			}
			if werr != nil {
				slog.Warn("watcher error", slog.String("error", werr.Error()))
			}
		}
	}
}

func handleWatchEvent(ctx context.Context, ev watcher.FileEvent, ix *index.Indexer, fsStore *filestate.Store, scanOpts scanner.ScanOptions) {
	switch ev.Operation {
	case watcher.OpModify, watcher.OpCreate, watcher.OpUnknown:
		absPath := filepath.Join(scanOpts.RootDir, ev.Path)
		if err := ix.IndexFile(ctx, absPath); err != nil {
			slog.Warn("reindex failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	case watcher.OpDelete:
		if err := ix.DeleteFile(ctx, ev.Path); err != nil {
			slog.Warn("delete from index failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
		fsStore.Delete(ev.Path)
	case watcher.OpRename:
		fsStore.Delete(ev.OldPath)
		if err := ix.DeleteFile(ctx, ev.OldPath); err != nil {
			slog.Warn("delete renamed-from path failed", slog.String("path", ev.OldPath), slog.String("error", err.Error()))
		}
		absPath := filepath.Join(scanOpts.RootDir, ev.Path)
		if err := ix.IndexFile(ctx, absPath); err != nil {
			slog.Warn("reindex renamed-to path failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	case watcher.OpGitignoreChange, watcher.OpConfigChange:
		slog.Info("ignore rules changed, reconciling", slog.String("trigger", ev.Operation.String()))
		if _, err := reconcile(ctx, ix, fsStore, scanOpts); err != nil {
			slog.Warn("reconciliation after ignore-rule change failed", slog.String("error", err.Error()))
		}
	}
}

// buildScanOptions translates the flat config file's ignored_dirs and
// extensions lists into the scanner's matcher and extension set.
func buildScanOptions(absRoot string, cfg *config.Config) scanner.ScanOptions {
	ig := gitignore.NewWithBuiltins(config.StateDirName)
	for _, d := range cfg.IgnoredDirs {
		ig.AddPattern(d + "/")
	}
	if err := ig.AddFromFile(filepath.Join(absRoot, ".gitignore"), ""); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .gitignore failed", slog.String("error", err.Error()))
	}
	if err := ig.AddFromFile(filepath.Join(absRoot, ".flashgrepignore"), ""); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .flashgrepignore failed", slog.String("error", err.Error()))
	}

	var extensions map[string]bool
	if len(cfg.Extensions) > 0 {
		extensions = make(map[string]bool, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			extensions[normalizeExtension(ext)] = true
		}
	}

	return scanner.ScanOptions{
		RootDir:     absRoot,
		Ignore:      ig,
		MaxFileSize: cfg.MaxFileSize,
		Extensions:  extensions,
	}
}

func normalizeExtension(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return strings.ToLower(ext)
}
