package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
)

// connSender writes dispatcher replies back to a connection and remembers
// the session id assigned by the welcome, so transport loss can be reported
// against the right session.
type connSender struct {
	conn protocol.Conn

	mu  sync.Mutex
	sid string
}

func (s *connSender) Send(msg protocol.Message) error {
	if msg.Type == protocol.TypeWelcome {
		var welcome protocol.WelcomePayload
		if err := msg.DecodePayload(&welcome); err == nil {
			s.mu.Lock()
			s.sid = welcome.SessionID
			s.mu.Unlock()
		}
	}
	return s.conn.WriteMessage(msg)
}

func (s *connSender) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// Serve pumps messages from conn into the dispatcher until the stream ends
// or ctx is cancelled. Transport loss closes the session it carried without
// touching other sessions.
func Serve(ctx context.Context, d *protocol.Dispatcher, conn protocol.Conn, log zerolog.Logger) error {
	sender := &connSender{conn: conn}
	defer func() {
		if sid := sender.sessionID(); sid != "" {
			d.DropTransport(sid)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			log.Debug().Err(err).Msg("connection read ended")
			return err
		}
		d.Dispatch(ctx, sender, msg)
	}
}
