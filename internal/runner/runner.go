// Package runner executes a script as a child process and captures the
// complete stdout/stderr streams, the exit code, and whether the run hit
// its timeout. Scripts run as plain subprocesses with the workspace as
// their working directory, so relative file writes land where the output
// diff will find them.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sakif/script-runner/internal/apperror"
)

// TimeoutExitCode is the sentinel exit code reported when a script is
// killed at its deadline, matching timeout(1).
const TimeoutExitCode = 124

// Result is the raw outcome of one subprocess run. A non-zero exit code or
// a timeout is data, not an error; Run only returns an error when the
// process could not be spawned at all.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner invokes scripts through a configured interpreter.
type Runner struct {
	Interpreter string
}

// New creates a Runner for the given interpreter binary (e.g. "python3").
func New(interpreter string) *Runner {
	return &Runner{Interpreter: interpreter}
}

// Run executes scriptPath with args inside workDir, blocking until the
// child exits or timeout elapses. On timeout the whole process group is
// killed so the script cannot leave grandchildren behind, and the partial
// output captured up to that point is returned with TimedOut set.
func (r *Runner) Run(ctx context.Context, scriptPath string, args []string, workDir string, timeout time.Duration) (*Result, error) {
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, apperror.Resource(fmt.Sprintf("script file not found: %s", scriptPath), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Interpreter, append([]string{scriptPath}, args...)...)
	cmd.Dir = workDir

	// New process group, so the deadline kill reaches the script's own
	// children as well.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// Give the group a moment to die before Wait gives up on the pipes.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, apperror.Resource(fmt.Sprintf("spawning %s", r.Interpreter), err)
	}

	err := cmd.Wait()

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// Wait failed for a reason other than the script exiting non-zero.
		return nil, apperror.Resource("waiting for script process", err)
	}

	res.ExitCode = 0
	return res, nil
}
