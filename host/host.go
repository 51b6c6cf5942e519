// Package host serves the native messaging protocol over a pair of byte streams.
//
// Requests are read sequentially and each one is handled on its own goroutine, so a long
// running stream never blocks decoding of the requests behind it (in particular a cancel).
// Every response goes through a channel to a single writer goroutine which owns the output,
// so frames from concurrent handlers can never interleave.
//
// When the input reaches EOF, in-flight requests run to completion and their terminal
// responses are written before Serve returns. When the context is canceled, in-flight
// streams are killed and terminated with a cancelled done message.
package host

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/guseggert/nativehost/codec"
	"github.com/guseggert/nativehost/fabric"
	"github.com/guseggert/nativehost/protocol"
	"github.com/guseggert/nativehost/registry"
	"github.com/guseggert/nativehost/runner"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// Resolver resolves the executable for a request, honoring its optional path override.
type Resolver interface {
	Resolve(override *string) (string, error)
}

type ResolverFunc func(override *string) (string, error)

func (f ResolverFunc) Resolve(override *string) (string, error) { return f(override) }

type Host struct {
	log      *zap.SugaredLogger
	runner   runner.Runner
	resolver Resolver
	registry *registry.Registry
	codec    *codec.Codec
}

type Option func(h *Host)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Host) {
		h.log = l
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(h *Host) {
		h.log = h.log.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithRunner(r runner.Runner) Option {
	return func(h *Host) {
		h.runner = r
	}
}

func WithResolver(r Resolver) Option {
	return func(h *Host) {
		h.resolver = r
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(h *Host) {
		h.registry = r
	}
}

func WithCodec(c *codec.Codec) Option {
	return func(h *Host) {
		h.codec = c
	}
}

// New builds a Host. Without options it runs real processes and resolves fabric from PATH.
func New(opts ...Option) *Host {
	h := &Host{
		log:      zap.NewNop().Sugar(),
		resolver: &fabric.Resolver{},
		registry: registry.New(),
		codec:    codec.New(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.runner == nil {
		h.runner = &runner.Exec{Log: h.log.Named("runner")}
	}
	return h
}

// Registry returns the registry of in-flight streams.
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// Serve reads requests from r and writes responses to w until r is exhausted or ctx is done.
// It returns the first error writing to w, if any.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan protocol.Response)
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- h.writeResponses(w, out, cancel)
	}()

	handlers := &handlerGroup{}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readRequests(ctx, r, handlers, out)
	}()

	select {
	case <-readDone:
		h.log.Debug("input closed, waiting for in-flight requests")
	case <-ctx.Done():
		h.log.Debugw("shutting down", "InFlight", h.registry.Len())
	}
	handlers.closeAndWait()
	close(out)
	return <-writeErr
}

func (h *Host) readRequests(ctx context.Context, r io.Reader, handlers *handlerGroup, out chan<- protocol.Response) {
	fr := codec.NewReader(r, h.codec)
	for {
		var req protocol.Request
		err := fr.Read(&req)
		if err == io.EOF {
			return
		}
		if err != nil {
			var tooLarge *codec.MessageTooLargeError
			var deserErr *codec.DeserializeError
			if errors.As(err, &tooLarge) || errors.As(err, &deserErr) {
				h.log.Warnf("dropping malformed request: %s", err)
				continue
			}
			h.log.Debugf("reading requests: %s", err)
			return
		}
		if ctx.Err() != nil {
			h.log.Debugw("dropping request after shutdown", "ID", req.ID, "Type", req.Payload.RequestType())
			return
		}

		h.log.Debugw("received request", "ID", req.ID, "Type", req.Payload.RequestType())

		// cancels are handled inline so that they take effect in arrival order
		if c, ok := req.Payload.(protocol.CancelProcess); ok {
			found := h.registry.Cancel(c.TargetRequestID)
			h.log.Debugw("cancel requested", "Target", c.TargetRequestID, "Found", found)
			continue
		}

		send := func(resp protocol.Response) { out <- resp }
		if !handlers.Go(func() { h.handle(ctx, req, send) }) {
			return
		}
	}
}

// writeResponses is the only writer of w. After a write failure it keeps draining out
// so that handlers never block, and cancels the remaining work.
func (h *Host) writeResponses(w io.Writer, out <-chan protocol.Response, cancel context.CancelFunc) error {
	fw := codec.NewWriter(w, h.codec)
	var firstErr error
	for resp := range out {
		if firstErr != nil {
			continue
		}
		err := fw.Write(resp)
		if err == nil {
			continue
		}
		var tooLarge *codec.MessageTooLargeError
		var serErr *codec.SerializeError
		if errors.As(err, &tooLarge) || errors.As(err, &serErr) {
			h.log.Warnw("dropping unencodable response", "ID", resp.ID, "Type", resp.Payload.ResponseType(), "Error", err)
			continue
		}
		h.log.Warnf("writing response, canceling in-flight requests: %s", err)
		firstErr = err
		cancel()
	}
	return firstErr
}

// handlerGroup tracks request handlers. Once closed it refuses new ones.
type handlerGroup struct {
	mut    sync.Mutex
	closed bool
	group  errgroup.Group
}

func (g *handlerGroup) Go(f func()) bool {
	g.mut.Lock()
	defer g.mut.Unlock()
	if g.closed {
		return false
	}
	g.group.Go(func() error {
		f()
		return nil
	})
	return true
}

func (g *handlerGroup) closeAndWait() {
	g.mut.Lock()
	g.closed = true
	g.mut.Unlock()
	g.group.Wait()
}
