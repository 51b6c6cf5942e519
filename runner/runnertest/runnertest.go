// Package runnertest provides a scripted runner.Runner that never spawns a real process.
package runnertest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/guseggert/nativehost/runner"
)

// Script describes how one fake process behaves.
type Script struct {
	// Lines are produced on stdout in order. Include "\n" to mimic terminated lines.
	Lines []string
	// LineDelay is waited before each line.
	LineDelay time.Duration
	// Block keeps stdout open after Lines until the process is killed.
	Block bool
	// BlockInput makes WriteInput hang until the process is killed or has exited, then fail.
	BlockInput bool

	ExitCode int
	Signaled bool
	Stderr   string

	// ReadErr is returned by ReadLine after Lines instead of io.EOF.
	ReadErr  error
	WriteErr error
	WaitErr  error
}

// Lines is a shorthand for a process that prints lines and exits with code.
func Lines(code int, lines ...string) Script {
	return Script{Lines: lines, ExitCode: code}
}

// Runner hands out Processes following the Script chosen for each command.
type Runner struct {
	// Script picks the behaviour for cmd. Returning an error fails the spawn.
	Script func(cmd runner.Command) (Script, error)

	mu      sync.Mutex
	started []*Process
}

// Static returns a Runner that uses s for every command.
func Static(s Script) *Runner {
	return &Runner{Script: func(runner.Command) (Script, error) { return s, nil }}
}

// Failing returns a Runner whose spawns all fail with err.
func Failing(err error) *Runner {
	return &Runner{Script: func(runner.Command) (Script, error) { return Script{}, err }}
}

func (r *Runner) Start(ctx context.Context, cmd runner.Command) (runner.Process, error) {
	if r.Script == nil {
		return nil, errors.New("runnertest: no script configured")
	}
	s, err := r.Script(cmd)
	if err != nil {
		return nil, err
	}
	p := &Process{
		Cmd:    cmd,
		script: s,
		killed: make(chan struct{}),
		done:   make(chan struct{}),
		start:  time.Now(),
	}
	r.mu.Lock()
	r.started = append(r.started, p)
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.done:
		}
	}()
	return p, nil
}

// Processes returns every process started so far, in order.
func (r *Runner) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Process(nil), r.started...)
}

// Process is a scripted runner.Process.
type Process struct {
	Cmd runner.Command

	script Script
	start  time.Time

	mu          sync.Mutex
	input       strings.Builder
	inputClosed bool
	next        int

	killOnce sync.Once
	killed   chan struct{}
	doneOnce sync.Once
	done     chan struct{}
}

func (p *Process) WriteInput(b []byte) error {
	if p.script.BlockInput {
		select {
		case <-p.killed:
		case <-p.done:
		}
		return io.ErrClosedPipe
	}
	if p.script.WriteErr != nil {
		return p.script.WriteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputClosed {
		return io.ErrClosedPipe
	}
	p.input.Write(b)
	return nil
}

func (p *Process) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputClosed = true
	return nil
}

func (p *Process) ReadLine() (string, error) {
	p.mu.Lock()
	i := p.next
	p.next++
	p.mu.Unlock()

	if i < len(p.script.Lines) {
		if p.script.LineDelay > 0 {
			t := time.NewTimer(p.script.LineDelay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-p.killed:
				return "", io.EOF
			}
		}
		if p.Killed() {
			return "", io.EOF
		}
		return p.script.Lines[i], nil
	}

	if p.script.Block {
		<-p.killed
		return "", io.EOF
	}
	p.finish()
	if p.script.ReadErr != nil {
		return "", p.script.ReadErr
	}
	return "", io.EOF
}

func (p *Process) Wait() (*runner.Result, error) {
	select {
	case <-p.done:
	case <-p.killed:
	}
	p.finish()
	if p.script.WaitErr != nil {
		return nil, p.script.WaitErr
	}
	res := &runner.Result{ExitCode: p.script.ExitCode, Signaled: p.script.Signaled, Duration: time.Since(p.start)}
	if p.Killed() {
		res = &runner.Result{ExitCode: -1, Signaled: true, Duration: res.Duration}
	}
	return res, nil
}

func (p *Process) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (p *Process) Stderr() string {
	return p.script.Stderr
}

// Input returns everything written to stdin.
func (p *Process) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

// InputClosed reports whether CloseInput was called.
func (p *Process) InputClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputClosed
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

func (p *Process) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}
