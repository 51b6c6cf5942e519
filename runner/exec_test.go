package runner

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sh(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func newExec() *Exec {
	return &Exec{Log: zap.NewNop().Sugar()}
}

func readAll(t *testing.T, p Process) []string {
	t.Helper()
	var lines []string
	for {
		line, err := p.ReadLine()
		if err == io.EOF {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestExecStreamsLines(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`echo one; echo two`))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())

	assert.Equal(t, []string{"one\n", "two\n"}, readAll(t, p))

	res, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 0, *res.Code())
}

func TestExecUnterminatedLastLine(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`printf 'a\nb'`))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())

	assert.Equal(t, []string{"a\n", "b"}, readAll(t, p))
	_, err = p.Wait()
	require.NoError(t, err)
}

func TestExecEchoesInput(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`cat`))
	require.NoError(t, err)

	require.NoError(t, p.WriteInput([]byte("hello\nworld\n")))
	require.NoError(t, p.CloseInput())
	require.NoError(t, p.CloseInput(), "closing twice is a no-op")

	assert.Equal(t, []string{"hello\n", "world\n"}, readAll(t, p))
	_, err = p.Wait()
	require.NoError(t, err)
}

func TestExecExitCodeAndStderr(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`echo oops >&2; exit 3`))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())

	assert.Empty(t, readAll(t, p))
	res, err := p.Wait()
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 3, *res.Code())
	assert.Equal(t, "oops\n", p.Stderr())
}

func TestExecKill(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`echo started; exec sleep 30`))
	require.NoError(t, err)

	line, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "started\n", line)

	require.NoError(t, p.Kill())
	res, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, res.Signaled)
	assert.Nil(t, res.Code())

	require.NoError(t, p.Kill(), "killing an exited process is a no-op")
}

// waitWithin fails the test if p does not exit within d.
func waitWithin(t *testing.T, p Process, d time.Duration) *Result {
	t.Helper()
	type waited struct {
		res *Result
		err error
	}
	ch := make(chan waited, 1)
	go func() {
		res, err := p.Wait()
		ch <- waited{res: res, err: err}
	}()
	select {
	case w := <-ch:
		require.NoError(t, w.err)
		return w.res
	case <-time.After(d):
		t.Fatalf("process did not exit within %s", d)
		return nil
	}
}

func TestExecKillReachesDescendants(t *testing.T) {
	// the backgrounded sleep inherits stdout and stderr and would outlive a plain kill
	p, err := newExec().Start(context.Background(), sh(`sleep 30 & echo started; sleep 30`))
	require.NoError(t, err)

	line, err := p.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "started\n", line)

	require.NoError(t, p.Kill())
	res := waitWithin(t, p, 5*time.Second)
	assert.True(t, res.Signaled)

	_, err = p.ReadLine()
	assert.Equal(t, io.EOF, err)
}

func TestExecWaitDoesNotWaitForInheritedStderr(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`echo bye >&2; sleep 5 >/dev/null & exit 4`))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())

	res := waitWithin(t, p, 5*time.Second)
	assert.Equal(t, 4, *res.Code())
	assert.Equal(t, "bye\n", p.Stderr())
}

func TestExecContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := newExec().Start(ctx, sh(`exec sleep 30`))
	require.NoError(t, err)

	start := time.Now()
	cancel()
	assert.Empty(t, readAll(t, p))
	res, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, res.Signaled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecStartFailure(t *testing.T) {
	_, err := newExec().Start(context.Background(), Command{Path: "/nonexistent/definitely-not-here"})
	require.Error(t, err)
}

func TestExecStderrIsCapped(t *testing.T) {
	p, err := newExec().Start(context.Background(), sh(`head -c 200000 /dev/zero | tr '\0' x >&2`))
	require.NoError(t, err)
	require.NoError(t, p.CloseInput())
	readAll(t, p)
	_, err = p.Wait()
	require.NoError(t, err)
	assert.Len(t, p.Stderr(), MaxStderrBytes)
}

func TestCollect(t *testing.T) {
	out, err := Collect(context.Background(), newExec(), sh(`echo v1.2.3; echo warn >&2`))
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", out.Stdout)
	assert.Equal(t, "warn\n", out.Stderr)
	assert.True(t, out.Result.Success())
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", b.String())
	b.Write([]byte(strings.Repeat("z", 10)))
	assert.Equal(t, "abcde", b.String())
}
