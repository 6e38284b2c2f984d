// Package runner starts external toolchain processes and turns their output
// into an ordered stream of line chunks. It knows nothing about projects or
// build semantics; callers get exactly one Outcome per started process.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Stream identifies which pipe a chunk was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Chunk is one line of process output. Order is preserved within a stream;
// interleaving between stdout and stderr follows pipe delivery and is
// best-effort only.
type Chunk struct {
	Stream Stream
	Text   string
	Time   time.Time
}

// Command describes a process to launch.
type Command struct {
	Dir     string
	Program string
	Args    []string
	Env     []string // KEY=VALUE pairs appended to the inherited environment

	// GracePeriod is how long the process gets between SIGTERM and SIGKILL
	// when the context is cancelled. Zero means SIGKILL immediately.
	GracePeriod time.Duration
}

// Outcome is the final result of a started process.
type Outcome struct {
	ExitCode  int
	Err       error // abnormal termination (signal, cancellation); nil for a plain exit
	Cancelled bool
	Duration  time.Duration
}

// Execution is a started process. Callers must drain Chunks; the pipe pumps
// block once the channel buffer fills, which in turn stalls the child.
type Execution struct {
	cmd     *exec.Cmd
	chunks  chan Chunk
	done    chan struct{}
	outcome Outcome
	started time.Time
}

// maxLineBytes caps a single output line. Toolchains occasionally emit very
// long linker invocations; anything past the cap is truncated, not fatal.
const maxLineBytes = 1024 * 1024

// Start launches the command. A non-nil error means the process never ran
// (program missing, bad working directory); it is never a non-zero exit.
func Start(ctx context.Context, command Command) (*Execution, error) {
	cmd := exec.CommandContext(ctx, command.Program, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	// Own process group so cancellation signals reach children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	grace := command.GracePeriod
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if grace <= 0 {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			// Process group already gone or unsignalable, escalate.
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(grace)
			// ESRCH from an exited group is harmless.
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command.Program, err)
	}

	e := &Execution{
		cmd:     cmd,
		chunks:  make(chan Chunk, 64),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go e.pump(&pumps, stdout, StreamStdout)
	go e.pump(&pumps, stderr, StreamStderr)
	go e.finish(ctx, &pumps)

	return e, nil
}

// Chunks returns the output stream. The channel is closed before Wait
// returns; no chunk is ever delivered for a completed execution.
func (e *Execution) Chunks() <-chan Chunk {
	return e.chunks
}

// Wait blocks until the process has exited and all output has been
// delivered, then returns the outcome. Safe to call from multiple
// goroutines.
func (e *Execution) Wait() Outcome {
	<-e.done
	return e.outcome
}

func (e *Execution) pump(pumps *sync.WaitGroup, pipe io.Reader, stream Stream) {
	defer pumps.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		e.chunks <- Chunk{Stream: stream, Text: scanner.Text(), Time: time.Now()}
	}
	if err := scanner.Err(); err != nil {
		e.chunks <- Chunk{Stream: stream, Text: "[output truncated: " + err.Error() + "]", Time: time.Now()}
		// Keep draining so the child is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, pipe)
	}
}

func (e *Execution) finish(ctx context.Context, pumps *sync.WaitGroup) {
	// Pipes hit EOF when the process exits; drain fully before Wait so the
	// chunk channel can be closed ahead of the outcome becoming visible.
	pumps.Wait()
	err := e.cmd.Wait()

	outcome := Outcome{Duration: time.Since(e.started)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -1
			outcome.Err = err
		}
	}
	if ctx.Err() != nil {
		outcome.Cancelled = true
		if outcome.Err == nil {
			outcome.Err = ctx.Err()
		}
	}

	close(e.chunks)
	e.outcome = outcome
	close(e.done)
}
