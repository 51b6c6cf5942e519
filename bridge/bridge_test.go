package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guseggert/nativehost/host"
	"github.com/guseggert/nativehost/protocol"
	"github.com/guseggert/nativehost/runner"
	"github.com/guseggert/nativehost/runner/runnertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

func newHost() *host.Host {
	r := &runnertest.Runner{Script: func(cmd runner.Command) (runnertest.Script, error) {
		if cmd.Args[0] == "--version" {
			return runnertest.Lines(0, "v1.2.3\n"), nil
		}
		return runnertest.Lines(0, "line1\n", "line2\n"), nil
	}}
	return host.New(
		host.WithLogger(log.Named("host")),
		host.WithRunner(r),
		host.WithResolver(host.ResolverFunc(func(*string) (string, error) { return "/usr/bin/fabric-ai", nil })),
	)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestBridgeRoundTrip(t *testing.T) {
	s := &Server{Log: log.Named("bridge"), Host: newHost()}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := Dial(ctx, log, wsURL(srv), srv.Client())
	require.NoError(t, err)
	defer conn.Close()

	pong, err := conn.Ping(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong{
		ResolvedPath: protocol.Ptr("/usr/bin/fabric-ai"),
		Version:      protocol.Ptr("v1.2.3"),
		Valid:        true,
	}, pong)

	var lines []string
	done, err := conn.Process(ctx, nil, protocol.ProcessContent{Content: "hello"}, func(s string) {
		lines = append(lines, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line1\n", "line2\n"}, lines)
	assert.Equal(t, 0, *done.ExitCode)
}

func TestHealthz(t *testing.T) {
	s := &Server{Host: newHost()}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, healthResponse{Status: "ok", InFlight: 0}, health)
}

func TestServeStopsOnContextDone(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Log: log, Host: newHost()}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
