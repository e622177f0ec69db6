// Package controller closes the loop between a chat model and a device.
//
// Information Hiding:
// - Conversation state and iteration bookkeeping
// - Tool list discovery and schema conversion
// - Result truncation before feeding output back to the model
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/internal/llmjson"
	"github.com/MCP-Dev-Studio/autostudio-embedded/llm"
	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
)

const (
	defaultMaxIterations = 10
	maxResultChars       = 4096
)

const systemPrompt = `You control an embedded device through a set of tools.
Call tools to inspect and drive the device; use system.listTools to discover
what is available and system.defineTool to compose new tools from existing
ones. Report what you did when the task is complete.`

// Bridge runs a chat provider against a device session.
type Bridge struct {
	provider      llm.Provider
	client        *protocol.Client
	maxIterations int
	log           zerolog.Logger
}

// Config tunes the bridge. Zero values pick the defaults.
type Config struct {
	MaxIterations int
	Logger        zerolog.Logger
}

// NewBridge wires a provider to an open protocol client. The client must
// have completed its hello exchange.
func NewBridge(provider llm.Provider, client *protocol.Client, cfg Config) *Bridge {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Bridge{
		provider:      provider,
		client:        client,
		maxIterations: cfg.MaxIterations,
		log:           cfg.Logger,
	}
}

// Run executes one task against the device and returns the model's final
// text answer.
func (b *Bridge) Run(ctx context.Context, task string) (string, error) {
	tools, err := b.discoverTools(ctx)
	if err != nil {
		return "", fmt.Errorf("discover tools: %w", err)
	}
	b.log.Info().Int("tools", len(tools)).Str("model", b.provider.Model()).Msg("bridge started")

	deviceInfo, err := b.client.InvokeTool(ctx, "system.getDeviceInfo", nil)
	if err != nil {
		return "", fmt.Errorf("device info: %w", err)
	}

	messages := []llm.ChatMessage{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(fmt.Sprintf("Device description:\n%s\n\nTask: %s", deviceInfo.Result, task)),
	}

	for i := 0; i < b.maxIterations; i++ {
		response, err := b.provider.ChatWithTools(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("chat iteration %d: %w", i+1, err)
		}
		if len(response.ToolCalls) == 0 {
			return response.Content, nil
		}

		messages = append(messages, llm.AssistantMessage(response.Content, response.ToolCalls))
		for _, call := range response.ToolCalls {
			result := b.invokeOnDevice(ctx, call)
			messages = append(messages, llm.ToolResultMessage(call.ID, result))
		}
	}

	return "", fmt.Errorf("no final answer after %d iterations", b.maxIterations)
}

// invokeOnDevice runs one requested tool call and renders its outcome for
// the model. Device-side failures become text, not bridge errors, so the
// model can react to them.
func (b *Bridge) invokeOnDevice(ctx context.Context, call llm.ToolCall) string {
	start := time.Now()

	var params *content.Content
	if len(call.Arguments) > 0 {
		raw := call.Arguments
		if !json.Valid(raw) {
			// Some providers fence or annotate the arguments.
			span, err := llmjson.Extract(string(raw))
			if err != nil {
				return fmt.Sprintf(`{"success":false,"error":"bad arguments: %v"}`, err)
			}
			raw = json.RawMessage(span)
		}
		parsed, err := content.NewJSON(raw)
		if err != nil {
			return fmt.Sprintf(`{"success":false,"error":"bad arguments: %v"}`, err)
		}
		params = parsed
	}

	result, err := b.client.InvokeTool(ctx, call.Name, params)
	b.log.Debug().
		Str("tool", call.Name).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("tool invoked")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}

	rendered, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return truncate(string(rendered), maxResultChars)
}

// discoverTools converts the device's tool list into provider definitions.
func (b *Bridge) discoverTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	listed, err := b.client.InvokeTool(ctx, "system.listTools", nil)
	if err != nil {
		return nil, err
	}
	if !listed.Success {
		return nil, fmt.Errorf("system.listTools: %s", listed.Error)
	}

	var payload struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Schema      map[string]any `json:"schema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(listed.Result, &payload); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}

	definitions := make([]llm.ToolDefinition, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		schema := t.Schema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		definitions = append(definitions, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return definitions, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
