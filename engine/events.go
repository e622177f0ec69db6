package engine

import "github.com/MCP-Dev-Studio/autostudio-embedded/content"

// Event is a notification produced during tool execution. The dispatcher
// tags it with the invoking session and operation so the protocol layer can
// route it to subscribers.
type Event struct {
	Type        string
	Payload     *content.Content
	SessionID   string
	OperationID string
}

// EventSink receives events emitted during tool execution.
type EventSink interface {
	Emit(evt Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(evt Event)

// Emit calls the underlying function.
func (f EventSinkFunc) Emit(evt Event) { f(evt) }
