// Package bridge serves the native messaging protocol over WebSocket connections.
//
// Each binary WebSocket message stream carries exactly the bytes the host would read from stdin
// and write to stdout, so a development page or script can drive the host without a browser
// extension. Every connection gets its own Serve loop on a shared Host.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/guseggert/nativehost/codec"
	"github.com/guseggert/nativehost/host"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Server struct {
	Log  *zap.SugaredLogger
	Host *host.Host
	// MaxMessageSize bounds a single frame; it must match the host's codec.
	MaxMessageSize int
	// OriginPatterns lists the browser origins allowed to connect. Non-browser clients send no Origin.
	OriginPatterns []string

	httpServer *http.Server
}

func (s *Server) log() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

// Handler returns the bridge's HTTP routes.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/ws", s.serveWS)
	router.GET("/healthz", s.healthz)
	return router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done. Connections are closed when ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		s.httpServer.Close()
	}()

	s.log().Infow("bridge listening", "Addr", l.Addr().String())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) maxMessageSize() int {
	if s.MaxMessageSize > 0 {
		return s.MaxMessageSize
	}
	return codec.DefaultMaxMessageSize
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.OriginPatterns,
	})
	if err != nil {
		s.log().Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(int64(s.maxMessageSize()) + 4)
	log := s.log().With("Remote", r.RemoteAddr)
	log.Debug("accepted WebSocket conn")

	ctx := r.Context()
	conn := websocket.NetConn(ctx, wsConn, websocket.MessageBinary)
	err = s.Host.Serve(ctx, conn, conn)
	if err != nil {
		log.Debugf("serving conn: %s", err)
		wsConn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	log.Debug("WebSocket conn finished")
	wsConn.Close(websocket.StatusNormalClosure, "")
}

type healthResponse struct {
	Status   string `json:"status"`
	InFlight int    `json:"inFlight"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	b, err := json.Marshal(healthResponse{Status: "ok", InFlight: s.Host.Registry().Len()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
