// Package toolchain runs external build and dependency commands.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrToolchain is returned when a command exits non-zero or times out.
var ErrToolchain = errors.New("toolchain command failed")

// Result contains the outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external commands. The build strategy depends on this
// interface so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Result, error)
}

// Invoker is the real Runner backed by os/exec.
type Invoker struct {
	timeout time.Duration
}

// NewInvoker creates an invoker whose commands are bounded by timeout.
func NewInvoker(timeout time.Duration) *Invoker {
	return &Invoker{timeout: timeout}
}

// Run executes the command in dir, waiting for completion. A non-zero exit
// or timeout yields ErrToolchain carrying the captured stderr.
func (i *Invoker) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Context timeout, missing binary, or start failure.
			res.ExitCode = -1
		}
		if ctx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("%w: %s timed out after %s", ErrToolchain, name, i.timeout)
		}
		return res, fmt.Errorf("%w: %s exited %d: %s", ErrToolchain, name, res.ExitCode, firstLine(res.Stderr))
	}

	return res, nil
}

// firstLine trims stderr down to something fit for an error message.
func firstLine(s string) string {
	for idx, r := range s {
		if r == '\n' {
			return s[:idx]
		}
	}
	return s
}
