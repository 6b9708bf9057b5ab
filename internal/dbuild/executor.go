package dbuild

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Executor runs external commands for the pipeline. Non-interactive commands
// get their own process group so a cancelled context kills the whole tree,
// not just the direct child.
type Executor struct {
	// Interactive connects the command to the terminal and skips the
	// process-group handling, for commands that may prompt.
	Interactive bool
}

// Run starts cmd and waits for it, honoring ctx cancellation.
func (e *Executor) Run(ctx context.Context, cmd *exec.Cmd) error {
	if e.Interactive {
		cmd.Stdin = os.Stdin
		if cmd.Stdout == nil {
			cmd.Stdout = os.Stdout
		}
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", cmd.Path, err)
		}
		return e.wait(ctx, cmd, false)
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return e.wait(ctx, cmd, true)
}

func (e *Executor) wait(ctx context.Context, cmd *exec.Cmd, pgroup bool) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if pgroup && cmd.Process != nil {
			// Negative pid addresses the process group.
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		} else if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Output runs cmd and returns its stdout, for short helper invocations.
func (e *Executor) Output(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	var buf bytes.Buffer
	cmd.Stdout = &buf
	err := e.Run(ctx, cmd)
	return buf.Bytes(), err
}
