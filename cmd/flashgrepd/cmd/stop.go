package cmd

import (
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashgrep/flashgrep/internal/output"
	"github.com/flashgrep/flashgrep/internal/registry"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop [path]",
		Short: "Stop the flashgrepd instance running for a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, args)
		},
	}
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
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

	entry, ok, err := reg.Get(absRoot)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if !ok || !registry.IsLive(*entry) {
		out.Status("", fmt.Sprintf("No running flashgrepd for %s", absRoot))
		return nil
	}

	proc, err := findProcess(entry.PID)
	if err != nil {
		out.Status("", fmt.Sprintf("Process %d is gone, cleaning up registry", entry.PID))
		return reg.Stop(absRoot)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !processAlive(entry.PID) {
			_ = reg.Stop(absRoot)
			out.Success(fmt.Sprintf("Stopped flashgrepd (was pid: %d)", entry.PID))
			return nil
		}
	}

	out.Status("", "flashgrepd not responding, sending SIGKILL...")
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill daemon: %w", err)
	}
	_ = reg.Stop(absRoot)
	out.Success("flashgrepd killed")
	return nil
}
