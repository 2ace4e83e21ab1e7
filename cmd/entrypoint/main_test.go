package main

import (
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunExitCodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	assert.Equal(t, 0, run(sh, []string{"-c", "exit 0"}))
	assert.Equal(t, 3, run(sh, []string{"-c", "exit 3"}))
	assert.Equal(t, 128+15, run(sh, []string{"-c", "kill -TERM $$"}))
}

func TestRunMissingBinary(t *testing.T) {
	assert.Equal(t, 127, run("/nonexistent/backend", nil))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(assert.AnError))
}
