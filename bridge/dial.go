package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/guseggert/nativehost/client"
	"github.com/guseggert/nativehost/codec"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Conn is a protocol client connected to a bridge.
type Conn struct {
	*client.Client

	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Dial connects to the bridge's WebSocket endpoint, e.g. ws://127.0.0.1:8080/ws.
func Dial(ctx context.Context, log *zap.SugaredLogger, url string, httpClient *http.Client) (*Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugw("dialing bridge", "URL", url)
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("establishing WebSocket conn to bridge: %w", err)
	}
	ws.SetReadLimit(int64(codec.DefaultMaxMessageSize) + 4)

	// the conn outlives the dial context
	connCtx, cancel := context.WithCancel(context.Background())
	netConn := websocket.NetConn(connCtx, ws, websocket.MessageBinary)
	return &Conn{
		Client: client.New(log.Named("client"), netConn, netConn, nil),
		ws:     ws,
		cancel: cancel,
	}, nil
}

// Close closes the connection. The host finishes in-flight requests but their responses are lost.
func (c *Conn) Close() error {
	defer c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
