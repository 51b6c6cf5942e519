// Package client speaks the native messaging protocol from the parent's side.
// Many requests can be in flight on one connection; responses are routed back to their caller by id.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/nativehost/codec"
	"github.com/guseggert/nativehost/protocol"
	"go.uber.org/zap"
)

// ErrClosed is returned for calls that were still waiting when the connection ended.
var ErrClosed = errors.New("connection closed")

// RemoteError is a native.error response.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// UnexpectedResponseError is returned when the host answers with the wrong response type.
type UnexpectedResponseError struct {
	Response protocol.Response
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response type %q", e.Response.Payload.ResponseType())
}

const callBuffer = 64

type Client struct {
	log *zap.SugaredLogger

	writeMut sync.Mutex
	fw       *codec.Writer

	mut     sync.Mutex
	pending map[uuid.UUID]chan protocol.Response
	err     error
	done    chan struct{}
}

// New starts reading responses from r. Requests are written to w.
// A nil codec uses the default limits.
func New(log *zap.SugaredLogger, r io.Reader, w io.Writer, c *codec.Codec) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cl := &Client{
		log:     log,
		fw:      codec.NewWriter(w, c),
		pending: map[uuid.UUID]chan protocol.Response{},
		done:    make(chan struct{}),
	}
	go cl.readResponses(codec.NewReader(r, c))
	return cl
}

// Done is closed once the response stream has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the response stream ended, nil for a clean EOF.
func (c *Client) Err() error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.err
}

func (c *Client) readResponses(fr *codec.Reader) {
	var err error
	defer func() {
		c.mut.Lock()
		if err != io.EOF {
			c.err = err
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		// closed under mut so that Send never registers after pending is drained
		close(c.done)
		c.mut.Unlock()
	}()

	for {
		var resp protocol.Response
		err = fr.Read(&resp)
		if err != nil {
			var deserErr *codec.DeserializeError
			var tooLarge *codec.MessageTooLargeError
			if errors.As(err, &deserErr) || errors.As(err, &tooLarge) {
				c.log.Warnf("dropping malformed response: %s", err)
				continue
			}
			c.log.Debugw("response stream ended", "Error", err)
			return
		}

		c.mut.Lock()
		ch, ok := c.pending[resp.ID]
		if ok && resp.Final() {
			delete(c.pending, resp.ID)
		}
		c.mut.Unlock()
		if !ok {
			c.log.Debugw("dropping response for unknown request", "ID", resp.ID, "Type", resp.Payload.ResponseType())
			continue
		}
		ch <- resp
		if resp.Final() {
			close(ch)
		}
	}
}

// Call is one in-flight request.
type Call struct {
	ID uuid.UUID
	// Responses yields every response for the request and is closed after the final one,
	// or when the connection ends. It must be drained.
	Responses <-chan protocol.Response
}

// Send writes a request and returns the call that will receive its responses.
func (c *Client) Send(path *string, payload protocol.RequestPayload) (*Call, error) {
	id := uuid.New()
	ch := make(chan protocol.Response, callBuffer)

	c.mut.Lock()
	select {
	case <-c.done:
		c.mut.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mut.Unlock()

	if err := c.write(protocol.Request{ID: id, Path: path, Payload: payload}); err != nil {
		c.mut.Lock()
		delete(c.pending, id)
		c.mut.Unlock()
		return nil, fmt.Errorf("sending %s: %w", payload.RequestType(), err)
	}
	return &Call{ID: id, Responses: ch}, nil
}

// Cancel asks the host to stop the stream started by target. The host does not reply.
func (c *Client) Cancel(target uuid.UUID) error {
	return c.write(protocol.Request{ID: uuid.New(), Payload: protocol.CancelProcess{TargetRequestID: target}})
}

func (c *Client) write(req protocol.Request) error {
	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	return c.fw.Write(req)
}

// final waits for the terminal response of call, passing content responses to onContent.
func (c *Client) final(ctx context.Context, call *Call, onContent func(string)) (protocol.Response, error) {
	for {
		select {
		case resp, ok := <-call.Responses:
			if !ok {
				if err := c.Err(); err != nil {
					return protocol.Response{}, fmt.Errorf("%w: %s", ErrClosed, err)
				}
				return protocol.Response{}, ErrClosed
			}
			switch p := resp.Payload.(type) {
			case protocol.Content:
				if onContent != nil {
					onContent(p.Content)
				}
				continue
			case protocol.Error:
				return resp, &RemoteError{Message: p.Message}
			}
			return resp, nil
		case <-ctx.Done():
			go drain(call.Responses)
			return protocol.Response{}, ctx.Err()
		}
	}
}

func drain(ch <-chan protocol.Response) {
	for range ch {
	}
}

func (c *Client) Ping(ctx context.Context, path *string) (protocol.Pong, error) {
	resp, err := c.roundTrip(ctx, path, protocol.Ping{})
	if err != nil {
		return protocol.Pong{}, err
	}
	pong, ok := resp.Payload.(protocol.Pong)
	if !ok {
		return protocol.Pong{}, &UnexpectedResponseError{Response: resp}
	}
	return pong, nil
}

func (c *Client) ListPatterns(ctx context.Context, path *string) ([]string, error) {
	resp, err := c.roundTrip(ctx, path, protocol.ListPatterns{})
	if err != nil {
		return nil, err
	}
	l, ok := resp.Payload.(protocol.PatternsList)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp}
	}
	return l.Patterns, nil
}

func (c *Client) ListContexts(ctx context.Context, path *string) ([]string, error) {
	resp, err := c.roundTrip(ctx, path, protocol.ListContexts{})
	if err != nil {
		return nil, err
	}
	l, ok := resp.Payload.(protocol.ContextsList)
	if !ok {
		return nil, &UnexpectedResponseError{Response: resp}
	}
	return l.Contexts, nil
}

func (c *Client) roundTrip(ctx context.Context, path *string, payload protocol.RequestPayload) (protocol.Response, error) {
	call, err := c.Send(path, payload)
	if err != nil {
		return protocol.Response{}, err
	}
	return c.final(ctx, call, nil)
}

// Process streams req through the host, calling onContent for every line.
// If ctx is done first, the stream is cancelled on the host and the cancelled Done is returned
// along with ctx's error.
func (c *Client) Process(ctx context.Context, path *string, req protocol.ProcessContent, onContent func(string)) (protocol.Done, error) {
	call, err := c.Send(path, req)
	if err != nil {
		return protocol.Done{}, err
	}

	resp, err := c.final(ctx, call, onContent)
	if ctx.Err() != nil && err == ctx.Err() {
		if cerr := c.Cancel(call.ID); cerr != nil {
			c.log.Debugf("sending cancel: %s", cerr)
		}
		return protocol.Done{Cancelled: true}, err
	}
	if err != nil {
		return protocol.Done{}, err
	}
	done, ok := resp.Payload.(protocol.Done)
	if !ok {
		return protocol.Done{}, &UnexpectedResponseError{Response: resp}
	}
	return done, nil
}
