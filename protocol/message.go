// Package protocol implements the session layer of the control framework:
// the message envelope, per-session state, the event subscription table and
// the dispatcher that routes inbound messages to the tool engine and
// delivers results and events back out.
//
// Information Hiding:
// - Envelope field layout hidden behind typed payloads
// - Session bookkeeping and eviction internal
// - Subscription fanout order encapsulated
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType names a message kind on the wire.
type MessageType string

// Message kinds handled by the dispatcher.
const (
	TypeHello            MessageType = "hello"
	TypeWelcome          MessageType = "welcome"
	TypeContentRequest   MessageType = "content_request"
	TypeContentResponse  MessageType = "content_response"
	TypeToolInvoke       MessageType = "tool_invoke"
	TypeToolResult       MessageType = "tool_result"
	TypeEventSubscribe   MessageType = "event_subscribe"
	TypeEventData        MessageType = "event_data"
	TypeEventUnsubscribe MessageType = "event_unsubscribe"
	TypeResourceGet      MessageType = "resource_get"
	TypeResourceSet      MessageType = "resource_set"
	TypeResourceData     MessageType = "resource_data"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeGoodbye          MessageType = "goodbye"
	TypeError            MessageType = "error"
)

// Message is the wire envelope. Kind-specific fields travel in Payload;
// unknown envelope fields are ignored by json.Unmarshal.
type Message struct {
	Type        MessageType     `json:"type"`
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with an encoded payload.
func NewMessage(t MessageType, id string, payload any) (Message, error) {
	msg := Message{Type: t, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: encode %s payload: %w", t, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (m Message) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("protocol: %s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("protocol: decode %s payload: %w", m.Type, err)
	}
	return nil
}

// HelloPayload opens a session.
type HelloPayload struct {
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version,omitempty"`
}

// WelcomePayload acknowledges a hello and assigns the session id.
type WelcomePayload struct {
	SessionID  string `json:"session_id"`
	Server     string `json:"server"`
	Version    string `json:"version"`
	OpenAccess bool   `json:"open_access"`
}

// ToolInvokePayload requests execution of a named tool.
type ToolInvokePayload struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolResultPayload carries the outcome of a tool invocation.
// Success always equals (Status == "success").
type ToolResultPayload struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EventSubscribePayload subscribes or unsubscribes an event type.
type EventSubscribePayload struct {
	Event string `json:"event"`
}

// EventDataPayload delivers one event to a subscriber.
type EventDataPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ResourcePayload addresses a named device resource. Binary values travel
// base64-encoded under data with the media type alongside.
type ResourcePayload struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value,omitempty"`
	Data      string          `json:"data,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
}

// ErrorPayload reports a protocol-level failure to the originating session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Protocol error codes.
const (
	ErrCodeMalformed      = "malformed_message"
	ErrCodeUnknownType    = "unknown_type"
	ErrCodeUnknownSession = "unknown_session"
	ErrCodeNotActive      = "session_not_active"
)
