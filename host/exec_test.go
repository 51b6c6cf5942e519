package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/nativehost/protocol"
	"github.com/guseggert/nativehost/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTool writes an executable shell script standing in for fabric.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fabric-ai")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func newExecHarness(t *testing.T, script string) *harness {
	return newHarness(t, context.Background(), nil,
		WithRunner(&runner.Exec{Log: log.Named(t.Name())}),
		WithResolver(staticPath(writeTool(t, script))),
	)
}

func TestExecStreamOutput(t *testing.T) {
	h := newExecHarness(t, "cat\necho done\n")

	id := uuid.New()
	h.send(id, protocol.ProcessContent{Content: "one\ntwo"})
	assert.Equal(t, protocol.Content{Content: "one\n"}, h.next().Payload)
	assert.Equal(t, protocol.Content{Content: "twodone\n"}, h.next().Payload)
	assert.Equal(t, protocol.Done{ExitCode: protocol.Ptr(0)}, h.next().Payload)
	assert.Empty(t, h.finish())
}

func TestExecCancelWrapperWithDescendants(t *testing.T) {
	// a wrapper that leaves a descendant holding stdout and stderr
	h := newExecHarness(t, "sleep 30 &\necho first\nsleep 30\n")

	id := uuid.New()
	h.send(id, protocol.ProcessContent{Content: "x"})
	assert.Equal(t, protocol.Response{ID: id, Payload: protocol.Content{Content: "first\n"}}, h.next())

	start := time.Now()
	h.send(uuid.New(), protocol.CancelProcess{TargetRequestID: id})
	assert.Equal(t, protocol.Response{ID: id, Payload: protocol.Done{Cancelled: true}}, h.next())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, h.host.Registry().Contains(id))

	assert.Empty(t, h.finish())
}
