package cmd

import (
	"fmt"
	"os"
	"syscall"
)

// findProcess returns the process for pid if it is currently live,
// probed with the same signal-0 check the registry uses internally.
func findProcess(pid int) (*os.Process, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, err
	}
	if !processAlive(pid) {
		return nil, fmt.Errorf("process %d is not running", pid)
	}
	return proc, nil
}

// processAlive reports whether pid refers to a live process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
