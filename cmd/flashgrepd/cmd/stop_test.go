package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCmdNoRunningInstance(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	root := t.TempDir()
	cmd := newStopCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{root})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No running flashgrepd")
}

func TestProcessAliveForCurrentProcess(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAliveForInvalidPID(t *testing.T) {
	assert.False(t, processAlive(-1))
	assert.False(t, processAlive(0))
}
