// Package llm abstracts the chat providers the controller bridge can run on.
//
// Information Hiding:
// - API client initialization and authentication per provider
// - Request/response format conversion
// - Provider-specific error handling
package llm

import (
	"context"
	"encoding/json"
)

// Provider is a chat model that can request tool invocations. The controller
// bridge drives it in a loop: chat, run the requested tools on the device,
// feed the results back.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// ChatWithTools sends a chat completion request with tool definitions.
	// The model may respond with tool calls in Response.ToolCalls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error)
}

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages with tool calls
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a device tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Response is one completion from a provider.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message carrying tool calls.
func AssistantMessage(content string, calls []ToolCall) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content, ToolCalls: calls}
}

// ToolResultMessage creates a tool result message for a prior tool call.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
