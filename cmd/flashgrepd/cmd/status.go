package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flashgrep/flashgrep/internal/output"
	"github.com/flashgrep/flashgrep/internal/registry"
)

// statusEntry is one registry entry's liveness-annotated status, shaped
// for JSON output.
type statusEntry struct {
	Path    string `json:"path"`
	PID     int    `json:"pid"`
	Socket  string `json:"socket,omitempty"`
	Port    int    `json:"port,omitempty"`
	Running bool   `json:"running"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var all bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show flashgrepd status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args, jsonOutput, all)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "List every registered repository, not just the current one")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string, jsonOutput, all bool) error {
	out := output.New(cmd.OutOrStdout())

	regPath, err := registryPath()
	if err != nil {
		return fmt.Errorf("resolve registry path: %w", err)
	}
	reg := registry.New(regPath)

	entries, err := reg.List()
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	if !all {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve repository root: %w", err)
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Path == absRoot {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	statuses := make([]statusEntry, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, statusEntry{
			Path:    e.Path,
			PID:     e.PID,
			Socket:  e.Socket,
			Port:    e.Port,
			Running: registry.IsLive(e),
		})
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		out.Status("", "No flashgrepd instances registered")
		return nil
	}
	for _, s := range statuses {
		if s.Running {
			transport := fmt.Sprintf("port %d", s.Port)
			if s.Socket != "" {
				transport = s.Socket
			}
			out.Success(fmt.Sprintf("%s — running (pid %d, %s)", s.Path, s.PID, transport))
		} else {
			out.Status("", fmt.Sprintf("%s — not running (stale entry, pid %d)", s.Path, s.PID))
		}
	}
	return nil
}
