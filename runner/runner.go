// Package runner spawns external commands and exposes their stdio as independent operations,
// so that callers can stream output line by line while writing input and watching for cancellation.
package runner

import (
	"context"
	"io"
	"time"
)

// Command describes an external invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	WD   string
}

// Runner starts processes. The OS implementation is Exec; tests use runnertest.Runner.
type Runner interface {
	// Start spawns cmd with piped stdin and stdout.
	// The process is killed if ctx is done before it exits.
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Process is a handle to one spawned command.
// WriteInput/CloseInput, ReadLine and Wait may be called from different goroutines,
// but each of them must only be used by one goroutine at a time.
type Process interface {
	// WriteInput writes p to the process's stdin.
	WriteInput(p []byte) error
	// CloseInput closes stdin, signalling end of input. Closing twice is a no-op.
	CloseInput() error
	// ReadLine returns the next line of stdout including its trailing newline, if any.
	// It returns io.EOF once stdout is exhausted.
	ReadLine() (string, error)
	// Wait blocks until the process exits. Stdout must be drained or the process killed first.
	Wait() (*Result, error)
	// Kill terminates the process and its descendants immediately. Killing an exited process is a no-op.
	Kill() error
	// Stderr returns what the process wrote to stderr so far, capped at MaxStderrBytes.
	Stderr() string
}

// Result describes how a process ended.
type Result struct {
	// ExitCode is only meaningful when Signaled is false.
	ExitCode int
	// Signaled is true when the process was terminated by a signal rather than exiting.
	Signaled bool
	Duration time.Duration
}

// Code returns the exit code, or nil if the process did not exit normally.
func (r *Result) Code() *int {
	if r == nil || r.Signaled {
		return nil
	}
	code := r.ExitCode
	return &code
}

// Success reports whether the process exited with code 0.
func (r *Result) Success() bool {
	return r != nil && !r.Signaled && r.ExitCode == 0
}

// Output is the collected result of a non-streaming command.
type Output struct {
	Stdout string
	Stderr string
	Result *Result
}

// Collect runs cmd to completion with empty stdin, gathering all of stdout.
func Collect(ctx context.Context, r Runner, cmd Command) (*Output, error) {
	proc, err := r.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := proc.CloseInput(); err != nil {
		proc.Kill()
		proc.Wait()
		return nil, err
	}

	var stdout []byte
	for {
		line, err := proc.ReadLine()
		stdout = append(stdout, line...)
		if err == io.EOF {
			break
		}
		if err != nil {
			proc.Kill()
			proc.Wait()
			return nil, err
		}
	}

	res, err := proc.Wait()
	if err != nil {
		return nil, err
	}
	return &Output{Stdout: string(stdout), Stderr: proc.Stderr(), Result: res}, nil
}
