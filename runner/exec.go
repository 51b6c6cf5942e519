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
	"time"

	"go.uber.org/zap"
)

// MaxStderrBytes caps the amount of stderr kept per process.
const MaxStderrBytes = 64 * 1024

// stderrGrace bounds how long Wait lets stderr drain after the process exits.
// Descendants that outlive the process may hold the pipe open indefinitely.
const stderrGrace = 250 * time.Millisecond

// Exec runs commands as local OS processes.
type Exec struct {
	Log *zap.SugaredLogger
}

func (e *Exec) Start(ctx context.Context, c Command) (Process, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.WD
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	// an *os.File keeps exec from copying stderr itself, so Wait only waits for the process
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	start := time.Now()
	err = cmd.Start()
	stderrW.Close()
	if err != nil {
		stderrR.Close()
		return nil, fmt.Errorf("starting %s: %w", c.Path, err)
	}
	log.Debugw("process started", "Path", c.Path, "Args", c.Args, "PID", cmd.Process.Pid)

	stderr := &cappedBuffer{limit: MaxStderrBytes}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		defer stderrR.Close()
		io.Copy(stderr, stderrR)
	}()

	p := &execProcess{
		log:        log,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     bufio.NewReader(stdout),
		stderr:     stderr,
		stderrDone: stderrDone,
		start:      start,
		exited:     make(chan struct{}),
	}

	// kill the process if the context is canceled
	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.exited:
		}
	}()

	return p, nil
}

type execProcess struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	stdin      io.WriteCloser
	stdout     *bufio.Reader
	stderr     *cappedBuffer
	stderrDone chan struct{}
	start      time.Time

	closeInputOnce sync.Once
	closeInputErr  error

	waitOnce sync.Once
	result   *Result
	waitErr  error
	exited   chan struct{}
}

func (p *execProcess) WriteInput(b []byte) error {
	_, err := p.stdin.Write(b)
	return err
}

func (p *execProcess) CloseInput() error {
	p.closeInputOnce.Do(func() {
		p.closeInputErr = p.stdin.Close()
	})
	return p.closeInputErr
}

func (p *execProcess) ReadLine() (string, error) {
	line, err := p.stdout.ReadString('\n')
	if err == io.EOF && line != "" {
		// hand out the unterminated last line now, EOF on the next call
		return line, nil
	}
	if err != nil && errors.Is(err, os.ErrClosed) {
		return line, io.EOF
	}
	return line, err
}

func (p *execProcess) Wait() (*Result, error) {
	p.waitOnce.Do(func() {
		defer close(p.exited)
		err := p.cmd.Wait()
		res := &Result{Duration: time.Since(p.start)}
		select {
		case <-p.stderrDone:
		case <-time.After(stderrGrace):
			p.log.Debugw("stderr still open after exit", "PID", p.cmd.Process.Pid)
		}
		if p.cmd.ProcessState != nil {
			res.ExitCode = p.cmd.ProcessState.ExitCode()
			res.Signaled = res.ExitCode == -1
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.log.Debugf("unexpected wait error: %s", err)
			p.waitErr = fmt.Errorf("waiting for process: %w", err)
		}
		p.result = res
		p.log.Debugw("process exited", "PID", p.cmd.Process.Pid, "ExitCode", res.ExitCode, "Signaled", res.Signaled)
	})
	return p.result, p.waitErr
}

func (p *execProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := killProcessGroup(p.cmd.Process)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Stderr() string {
	return p.stderr.String()
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
