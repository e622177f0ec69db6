package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// Conn is a framed message transport. The transport package provides stdio
// and websocket implementations.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(msg Message) error
	Close() error
}

// Client errors.
var (
	ErrNoSession    = errors.New("protocol: no session, call Hello first")
	ErrClientClosed = errors.New("protocol: client closed")
)

// Client is a synchronous client for the session protocol. One request is
// in flight at a time; event_data frames that arrive while waiting for a
// reply are buffered and exposed through Events.
type Client struct {
	conn Conn

	mu        sync.Mutex
	sessionID string
	events    []EventDataPayload
	closed    bool
}

// NewClient wraps an established transport connection.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

// SessionID returns the id assigned by the welcome message.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Hello opens a session and records the assigned session id.
func (c *Client) Hello(ctx context.Context, clientName, clientVersion string) (WelcomePayload, error) {
	var welcome WelcomePayload
	msg, err := NewMessage(TypeHello, uuid.NewString(), HelloPayload{
		ClientName:    clientName,
		ClientVersion: clientVersion,
	})
	if err != nil {
		return welcome, err
	}
	reply, err := c.roundTrip(ctx, msg, TypeWelcome)
	if err != nil {
		return welcome, err
	}
	if err := reply.DecodePayload(&welcome); err != nil {
		return welcome, fmt.Errorf("decode welcome: %w", err)
	}
	c.mu.Lock()
	c.sessionID = welcome.SessionID
	c.mu.Unlock()
	return welcome, nil
}

// InvokeTool runs a tool on the device and returns its result payload.
func (c *Client) InvokeTool(ctx context.Context, tool string, params *content.Content) (ToolResultPayload, error) {
	var result ToolResultPayload
	sid := c.SessionID()
	if sid == "" {
		return result, ErrNoSession
	}

	var raw json.RawMessage
	if params != nil {
		encoded, err := params.Serialize()
		if err != nil {
			return result, fmt.Errorf("encode params: %w", err)
		}
		raw = encoded
	}
	payload, err := json.Marshal(ToolInvokePayload{Tool: tool, Params: raw})
	if err != nil {
		return result, err
	}
	msg := Message{
		Type:      TypeToolInvoke,
		ID:        uuid.NewString(),
		SessionID: sid,
		Payload:   payload,
	}
	reply, err := c.roundTrip(ctx, msg, TypeToolResult)
	if err != nil {
		return result, err
	}
	if err := reply.DecodePayload(&result); err != nil {
		return result, fmt.Errorf("decode tool result: %w", err)
	}
	return result, nil
}

// Subscribe registers interest in an event type. The server sends no ack;
// the request is fire-and-forget.
func (c *Client) Subscribe(eventType string) error {
	return c.sendSubscription(TypeEventSubscribe, eventType)
}

// Unsubscribe removes interest in an event type.
func (c *Client) Unsubscribe(eventType string) error {
	return c.sendSubscription(TypeEventUnsubscribe, eventType)
}

func (c *Client) sendSubscription(t MessageType, eventType string) error {
	sid := c.SessionID()
	if sid == "" {
		return ErrNoSession
	}
	msg, err := NewMessage(t, uuid.NewString(), EventSubscribePayload{Event: eventType})
	if err != nil {
		return err
	}
	msg.SessionID = sid
	return c.conn.WriteMessage(msg)
}

// GetResource reads a named device resource.
func (c *Client) GetResource(ctx context.Context, name string) (ResourcePayload, error) {
	var resource ResourcePayload
	sid := c.SessionID()
	if sid == "" {
		return resource, ErrNoSession
	}
	msg, err := NewMessage(TypeResourceGet, uuid.NewString(), ResourcePayload{Name: name})
	if err != nil {
		return resource, err
	}
	msg.SessionID = sid
	reply, err := c.roundTrip(ctx, msg, TypeResourceData)
	if err != nil {
		return resource, err
	}
	if err := reply.DecodePayload(&resource); err != nil {
		return resource, fmt.Errorf("decode resource: %w", err)
	}
	return resource, nil
}

// Events drains the buffered event_data frames received so far.
func (c *Client) Events() []EventDataPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

// Close says goodbye and tears down the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sid := c.sessionID
	c.mu.Unlock()

	if sid != "" {
		goodbye := Message{Type: TypeGoodbye, ID: uuid.NewString(), SessionID: sid}
		_ = c.conn.WriteMessage(goodbye)
	}
	return c.conn.Close()
}

// roundTrip sends msg and reads until a frame with the matching id and
// wanted type arrives. Event frames seen along the way are buffered.
func (c *Client) roundTrip(ctx context.Context, msg Message, want MessageType) (Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClientClosed
	}
	c.mu.Unlock()

	if err := c.conn.WriteMessage(msg); err != nil {
		return Message{}, fmt.Errorf("write %s: %w", msg.Type, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		reply, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, fmt.Errorf("read reply: %w", err)
		}
		switch reply.Type {
		case TypeEventData:
			var evt EventDataPayload
			if err := reply.DecodePayload(&evt); err == nil {
				c.mu.Lock()
				c.events = append(c.events, evt)
				c.mu.Unlock()
			}
			continue
		case TypeError:
			if reply.ID == msg.ID {
				var pe ErrorPayload
				if err := reply.DecodePayload(&pe); err != nil {
					return Message{}, fmt.Errorf("protocol error: %s", string(reply.Payload))
				}
				return Message{}, fmt.Errorf("protocol error %s: %s", pe.Code, pe.Message)
			}
			continue
		case want:
			if reply.ID == msg.ID {
				return reply, nil
			}
		}
	}
}
