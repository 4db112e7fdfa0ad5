// Package proc supervises the child processes at either end of a bridge:
// spawning with piped stdio, observing exit, and the cooperative-then-forced
// teardown sequence.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Config describes one child process.
type Config struct {
	// Name labels the child in logs and status output (e.g. "c1").
	Name string

	// Command is the executable path or name.
	Command string

	// Args are the command arguments.
	Args []string
}

// ExitEvent reports that a child process terminated.
type ExitEvent struct {
	Name string
	Code int
}

// Child is a supervised external process. Its stdout is read by exactly one
// framed reader, its stdin written by exactly one queued writer, and its
// stderr tailed into a bounded postmortem buffer. The handle itself is owned
// by the supervisor; reader/writer tasks only touch the stream endpoints.
type Child struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger

	stdin  io.WriteCloser
	stdout io.ReadCloser

	stderrTail *tailBuffer

	stdinOnce  sync.Once
	stdinErr   error
	stdoutOnce sync.Once
	stdoutErr  error

	done     chan struct{} // closed once the exit status is reaped
	exitCode int
	exited   chan ExitEvent // buffered; receives exactly one event
}

// Start launches the child with stdin, stdout, and stderr piped. A launch
// failure (e.g. executable not found) is fatal: no Child is returned and the
// bridge must not start.
func Start(cfg Config, logger *slog.Logger) (*Child, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("proc %s: stdin pipe: %w", cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proc %s: stdout pipe: %w", cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("proc %s: stderr pipe: %w", cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proc %s: starting %s: %w", cfg.Name, cfg.Command, err)
	}

	c := &Child{
		name:       cfg.Name,
		cmd:        cmd,
		logger:     logger.With("component", "proc", "child", cfg.Name),
		stdin:      stdin,
		stdout:     stdout,
		stderrTail: newTailBuffer(stderrTailLines),
		done:       make(chan struct{}),
		exited:     make(chan ExitEvent, 1),
	}

	c.logger.Info("child started", "command", cfg.Command, "args", cfg.Args, "pid", cmd.Process.Pid)

	go c.tailStderr(stderr)
	go c.watch()

	return c, nil
}

// tailStderr drains the diagnostic stream into the postmortem buffer and
// releases the pipe at end of stream. The bridge never parses it, but it is
// preserved for inspection after exit.
func (c *Child) tailStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		c.stderrTail.append(line)
		c.logger.Debug("stderr", "line", line)
	}
}

// watch reaps the exit status and publishes exactly one ExitEvent. The
// supervisor (or the bridge shutdown path) consumes the event; the code stays
// readable afterwards via ExitCode.
//
// Reaping goes through os.Process, not exec.Cmd: Cmd.Wait closes the stdio
// pipes the moment the child exits, destroying any final output the framed
// reader has not drained yet. Each pipe is closed by its owner instead
// (CloseInput, CloseOutput, the stderr tail).
func (c *Child) watch() {
	state, err := c.cmd.Process.Wait()
	if err != nil {
		c.logger.Error("reaping child", "error", err)
	}
	code := -1
	if state != nil {
		code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			// Terminated by signal; surface the conventional 128+signal code.
			code = 128 + int(ws.Signal())
		}
	}

	c.exitCode = code
	close(c.done)

	if tail := c.stderrTail.lines(); len(tail) > 0 {
		c.logger.Debug("stderr tail at exit", "lines", len(tail))
	}
	c.logger.Info("child exited", "code", code)

	c.exited <- ExitEvent{Name: c.name, Code: code}
}

// Name returns the configured child label.
func (c *Child) Name() string { return c.name }

// Stdout returns the child's output stream. Read by exactly one FramedReader.
func (c *Child) Stdout() io.Reader { return c.stdout }

// Stdin returns the child's input stream. Written by exactly one QueuedWriter.
func (c *Child) Stdin() io.Writer { return c.stdin }

// Exited delivers the child's single exit event. An exit observed outside the
// shutdown path is the bridge's cue to unwind.
func (c *Child) Exited() <-chan ExitEvent { return c.exited }

// CloseInput closes the child's stdin, signalling EOF so a cooperative child
// can exit on its own. Idempotent.
func (c *Child) CloseInput() error {
	c.stdinOnce.Do(func() {
		c.stdinErr = c.stdin.Close()
		c.logger.Info("stdin closed")
	})
	return c.stdinErr
}

// CloseOutput releases the child's stdout pipe. Only the reader task may call
// it, and only once the stream is drained: closing earlier would destroy
// output still sitting in the pipe. Idempotent.
func (c *Child) CloseOutput() error {
	c.stdoutOnce.Do(func() {
		c.stdoutErr = c.stdout.Close()
	})
	return c.stdoutErr
}

// Alive reports whether the exit status has not yet been reaped.
func (c *Child) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// WaitExit blocks until the child's exit status is reaped or the timeout
// elapses. Returns the exit code and whether the child actually exited.
func (c *Child) WaitExit(timeout time.Duration) (int, bool) {
	select {
	case <-c.done:
		return c.exitCode, true
	case <-time.After(timeout):
		return 0, false
	}
}

// AwaitExit blocks until the exit status is reaped or ctx is done.
func (c *Child) AwaitExit(ctx context.Context) (int, bool) {
	select {
	case <-c.done:
		return c.exitCode, true
	case <-ctx.Done():
		return 0, false
	}
}

// Terminate sends SIGTERM. Safe to call on an already-exited child.
func (c *Child) Terminate() {
	if !c.Alive() {
		return
	}
	c.logger.Info("sending SIGTERM")
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		c.logger.Debug("terminate signal failed", "error", err)
	}
}

// Kill sends SIGKILL. Safe to call on an already-exited child.
func (c *Child) Kill() {
	if !c.Alive() {
		return
	}
	c.logger.Warn("sending SIGKILL")
	if err := c.cmd.Process.Kill(); err != nil {
		c.logger.Debug("kill failed", "error", err)
	}
}

// ExitCode returns the reaped exit code. Only meaningful after the exit
// event was delivered or WaitExit reported true.
func (c *Child) ExitCode() int {
	<-c.done
	return c.exitCode
}

// StderrTail returns the last lines of the diagnostic stream for postmortem
// inspection.
func (c *Child) StderrTail() []string {
	return c.stderrTail.lines()
}
