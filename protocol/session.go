package protocol

import (
	"sync"
	"time"
)

// SessionState is the lifecycle position of a session.
type SessionState int

const (
	StateNew SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Sender delivers an envelope to the session's transport.
type Sender interface {
	Send(msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(msg Message) error

// Send calls the underlying function.
func (f SenderFunc) Send(msg Message) error { return f(msg) }

// Session is one logical conversation between a client and the engine. The
// dispatcher owns the session table; the subscription table holds only the
// session id.
type Session struct {
	ID         string
	ClientName string
	CreatedAt  time.Time

	sender Sender
	state  SessionState

	mu           sync.Mutex
	lastActivity time.Time
	inflight     map[string]struct{} // operation ids currently executing
	cancelled    bool
}

func newSession(id, clientName string, sender Sender, now time.Time) *Session {
	return &Session{
		ID:           id,
		ClientName:   clientName,
		CreatedAt:    now,
		lastActivity: now,
		sender:       sender,
		state:        StateNew,
		inflight:     make(map[string]struct{}),
	}
}

// State returns the session's lifecycle position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState moves the session through New → Active → Closing → Closed.
// Backward transitions are ignored.
func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.state {
		s.state = next
	}
}

// touch records activity for idle eviction.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastSeen returns the time of the session's most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Cancel raises the client-requested cancel flag checked by composite
// steps.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Cancelled reports the client-requested cancel flag.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// beginOperation tracks an in-flight operation id.
func (s *Session) beginOperation(opID string) {
	s.mu.Lock()
	s.inflight[opID] = struct{}{}
	s.mu.Unlock()
}

// endOperation removes a completed operation. When the session is Closing
// and nothing is left in flight it becomes Closed.
func (s *Session) endOperation(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, opID)
	if s.state == StateClosing && len(s.inflight) == 0 {
		s.state = StateClosed
	}
}

// InFlight returns the number of operations currently executing.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// send delivers a message through the session's transport.
func (s *Session) send(msg Message) error {
	msg.SessionID = s.ID
	return s.sender.Send(msg)
}
