// Package engine implements the tool dispatch core: the descriptor registry,
// per-invocation execution contexts with template substitution, the composite
// executor and the dispatcher that ties them together.
//
// Information Hiding:
// - Registry storage and ordering hidden behind methods
// - Template scanning and variable resolution internalized
// - Composite step interpretation hidden from callers
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// Origin records how a tool entered the registry.
type Origin int

const (
	OriginBuiltin Origin = iota
	OriginDynamic
)

// String returns the wire name of the origin.
func (o Origin) String() string {
	if o == OriginDynamic {
		return "dynamic"
	}
	return "builtin"
}

// ImplKind tags the implementation variant of a descriptor.
type ImplKind int

const (
	ImplNative ImplKind = iota
	ImplComposite
	ImplScript   // reserved
	ImplBytecode // reserved
)

// String returns the wire name of the implementation kind.
func (k ImplKind) String() string {
	switch k {
	case ImplNative:
		return "native"
	case ImplComposite:
		return "composite"
	case ImplScript:
		return "script"
	default:
		return "bytecode"
	}
}

// Call carries per-invocation identity into native handlers and the
// composite executor: which session and operation the work belongs to, where
// emitted events go, and the client-requested cancel check.
type Call struct {
	SessionID   string
	OperationID string
	Events      EventSink
	Cancelled   func() bool
}

// Emit sends an event tagged with the call's session and operation. Safe to
// call with a nil sink.
func (c *Call) Emit(eventType string, payload *content.Content) {
	if c == nil || c.Events == nil {
		return
	}
	c.Events.Emit(Event{
		Type:        eventType,
		Payload:     payload,
		SessionID:   c.SessionID,
		OperationID: c.OperationID,
	})
}

// cancelled reports the client-requested cancel flag.
func (c *Call) cancelled() bool {
	return c != nil && c.Cancelled != nil && c.Cancelled()
}

// NativeFunc is the signature of a built-in tool implementation. Handlers
// close over their own collaborators; the engine passes only the invocation
// scope and the read-only parameters.
type NativeFunc func(ctx context.Context, call *Call, params *content.Content) ToolResult

// Implementation is the tagged union of tool bodies. Exactly one arm is set
// according to Kind; Script and Bytecode are reserved and dispatch to
// StatusUnsupported.
type Implementation struct {
	Kind      ImplKind
	Native    NativeFunc
	Composite *CompositeBody
	Script    string
	Lang      string
	Bytecode  []byte
}

// Descriptor is the registry's stored record for one tool.
type Descriptor struct {
	Name           string
	Description    string
	Schema         *content.Content // JSON object; nil accepts any params
	Implementation Implementation
	Persistent     bool
	Origin         Origin
}

// Step is one entry of a composite body: either a tool invocation with a
// params template, or a notification pseudo-step.
type Step struct {
	Tool      string           // target tool name; empty for notification steps
	Params    *content.Content // params template, placeholders in string positions
	Store     string           // capture the step result under this variable
	Condition string           // boolean-valued template gating the step
	Event     string           // notification pseudo-step: event type to emit
}

// IsNotification reports whether the step emits an event instead of
// invoking a tool.
func (s *Step) IsNotification() bool {
	return s.Event != ""
}

// CompositeBody is the declarative body of a composite tool: steps executed
// in order plus an optional result template rendered in the final context.
type CompositeBody struct {
	Steps  []Step
	Result *content.Content
}

// stepJSON is the wire shape of a step inside a dynamic tool definition.
type stepJSON struct {
	Tool         string           `json:"tool,omitempty"`
	Params       *content.Content `json:"params,omitempty"`
	Store        string           `json:"store,omitempty"`
	Condition    string           `json:"condition,omitempty"`
	Notification string           `json:"notification,omitempty"`
}

type bodyJSON struct {
	Steps  []stepJSON       `json:"steps"`
	Result *content.Content `json:"result,omitempty"`
}

// MarshalJSON emits the wire shape used by system.defineTool and the
// persistence records.
func (b *CompositeBody) MarshalJSON() ([]byte, error) {
	out := bodyJSON{Steps: make([]stepJSON, 0, len(b.Steps)), Result: b.Result}
	for _, s := range b.Steps {
		out.Steps = append(out.Steps, stepJSON{
			Tool:         s.Tool,
			Params:       s.Params,
			Store:        s.Store,
			Condition:    s.Condition,
			Notification: s.Event,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire shape, rejecting steps that name neither a
// tool nor a notification event.
func (b *CompositeBody) UnmarshalJSON(data []byte) error {
	var in bodyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("composite body: %w", err)
	}
	steps := make([]Step, 0, len(in.Steps))
	for i, s := range in.Steps {
		if s.Tool == "" && s.Notification == "" {
			return fmt.Errorf("composite body: step %d names neither tool nor notification", i)
		}
		if s.Tool != "" && s.Notification != "" {
			return fmt.Errorf("composite body: step %d names both tool and notification", i)
		}
		steps = append(steps, Step{
			Tool:      s.Tool,
			Params:    s.Params,
			Store:     s.Store,
			Condition: s.Condition,
			Event:     s.Notification,
		})
	}
	b.Steps = steps
	b.Result = in.Result
	return nil
}

// validName reports whether a tool name is acceptable: non-empty printable
// ASCII without whitespace.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}
