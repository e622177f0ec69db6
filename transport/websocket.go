package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 20
)

// WS frames messages over a websocket connection.
type WS struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial opens a websocket client connection to a running server.
func Dial(ctx context.Context, url string) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &WS{conn: conn}, nil
}

// ReadMessage reads and decodes the next websocket frame.
func (w *WS) ReadMessage() (protocol.Message, error) {
	var msg protocol.Message
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// WriteMessage encodes msg into one text frame. Safe for concurrent use.
func (w *WS) WriteMessage(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the websocket connection.
func (w *WS) Close() error { return w.conn.Close() }

// Server accepts websocket connections and serves each one against the
// protocol dispatcher.
type Server struct {
	dispatcher *protocol.Dispatcher
	upgrader   websocket.Upgrader
	log        zerolog.Logger
	srv        *http.Server
}

// NewServer creates a websocket server over the dispatcher. The handler is
// mounted at /ws.
func NewServer(addr string, d *protocol.Dispatcher, log zerolog.Logger) *Server {
	s := &Server{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The device has no origin policy of its own.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ws := &WS{conn: conn}
	defer ws.Close()
	if err := Serve(r.Context(), s.dispatcher, ws, s.log); err != nil && r.Context().Err() == nil {
		s.log.Debug().Err(err).Msg("websocket session ended")
	}
}

// ListenAndServe blocks serving connections until ctx is cancelled. Idle
// session eviction runs alongside the accept loop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	hkCtx, stopHousekeeping := context.WithCancel(ctx)
	defer stopHousekeeping()
	go s.dispatcher.RunHousekeeping(hkCtx, 0)

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()

	s.log.Info().Str("addr", s.srv.Addr).Msg("websocket server listening")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
