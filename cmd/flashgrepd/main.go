// Package main provides the entry point for the flashgrepd daemon.
package main

import (
	"os"

	"github.com/flashgrep/flashgrep/cmd/flashgrepd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
