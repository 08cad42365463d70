// Package clitest runs command-line binaries from tests and captures what
// they print.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// DefaultTimeout bounds a Command that sets no Timeout.
const DefaultTimeout = 30 * time.Second

// Command describes one invocation.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string // KEY=VALUE pairs added to the current environment
	Stdin   string
	Timeout time.Duration
}

// Result is what a finished process produced. A non-zero exit is a Result,
// not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Run executes cmd and waits for it. Errors are reserved for processes that
// could not be started or that were killed by the timeout or ctx.
func Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Binary == "" {
		return Result{}, errors.New("clitest: binary is required")
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	// children of a killed script may keep the output pipes open
	c.WaitDelay = time.Second
	c.Env = append(os.Environ(), cmd.Env...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("clitest: %s: %w", cmd.Binary, ctx.Err())
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("clitest: start %s: %w", cmd.Binary, err)
	}
	return res, nil
}

// Lines splits stdout into trimmed, non-empty lines.
func (r Result) Lines() []string {
	var out []string
	for _, l := range strings.Split(r.Stdout, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// MustSucceed fails the test unless the process exited 0.
func (r Result) MustSucceed(t testing.TB) Result {
	t.Helper()
	if r.ExitCode != 0 {
		t.Fatalf("exit code %d\nstdout:\n%s\nstderr:\n%s", r.ExitCode, r.Stdout, r.Stderr)
	}
	return r
}
