// Package tools provides the reserved system built-ins and the simulated
// device tools.
//
// Information Hiding:
// - Built-in execution details hidden behind engine.NativeFunc
// - Schemas declared next to the implementation they guard
// - The persistence adapter and device reporter are constructor arguments
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/device"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
	"github.com/MCP-Dev-Studio/autostudio-embedded/persist"
)

// Delay limits: requests are rounded to whole milliseconds and capped.
const (
	DelayResolution = time.Millisecond
	MaxDelay        = 60 * time.Second
)

// Deps carries the collaborators the built-ins close over.
type Deps struct {
	Reporter device.Reporter
	Adapter  *persist.Adapter // nil disables persistence for defineTool
	Log      zerolog.Logger
}

// RegisterBuiltins installs the reserved system.* tools into the registry.
func RegisterBuiltins(registry *engine.Registry, deps Deps) error {
	builtins := []*engine.Descriptor{
		pingTool(),
		deviceInfoTool(deps.Reporter),
		listToolsTool(registry),
		delayTool(),
		defineToolTool(registry, deps),
		removeToolTool(registry, deps),
	}
	for _, d := range builtins {
		if err := registry.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return nil
}

func mustSchema(raw string) *content.Content {
	schema, err := content.NewJSON([]byte(raw))
	if err != nil {
		panic("tools: bad builtin schema: " + err.Error())
	}
	return schema
}

func native(name, description string, schema *content.Content, fn engine.NativeFunc) *engine.Descriptor {
	return &engine.Descriptor{
		Name:           name,
		Description:    description,
		Schema:         schema,
		Origin:         engine.OriginBuiltin,
		Implementation: engine.Implementation{Kind: engine.ImplNative, Native: fn},
	}
}

// pingTool answers a liveness probe.
func pingTool() *engine.Descriptor {
	return native("system.ping", "Check that the device is alive", nil,
		func(_ context.Context, _ *engine.Call, _ *content.Content) engine.ToolResult {
			out := content.NewObject()
			out.AddBool("pong", true)
			out.AddString("time", time.Now().UTC().Format(time.RFC3339))
			return engine.SuccessResult(out)
		})
}

// deviceInfoTool reports the device self-description.
func deviceInfoTool(reporter device.Reporter) *engine.Descriptor {
	return native("system.getDeviceInfo", "Describe the device hardware and capabilities", nil,
		func(_ context.Context, _ *engine.Call, _ *content.Content) engine.ToolResult {
			if reporter == nil {
				return engine.FailureResult(engine.StatusInternalError, "no device reporter")
			}
			data, err := json.Marshal(reporter.Report())
			if err != nil {
				return engine.FailureResult(engine.StatusInternalError, err.Error())
			}
			info, err := content.NewJSON(data)
			if err != nil {
				return engine.FailureResult(engine.StatusInternalError, err.Error())
			}
			return engine.SuccessResult(info)
		})
}

// listToolsTool enumerates registered tools in registration order.
func listToolsTool(registry *engine.Registry) *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"prefix": {"type": "string"}
		}
	}`)
	return native("system.listTools", "List registered tools, optionally filtered by name prefix", schema,
		func(_ context.Context, _ *engine.Call, params *content.Content) engine.ToolResult {
			prefix, _ := params.GetString("prefix")

			list := content.NewArray()
			for _, name := range registry.List(prefix) {
				desc, err := registry.Lookup(name)
				if err != nil {
					continue
				}
				entry := content.NewObject()
				entry.AddString("name", desc.Name)
				entry.AddString("description", desc.Description)
				entry.AddString("origin", desc.Origin.String())
				entry.AddString("implementation", desc.Implementation.Kind.String())
				entry.AddBool("persistent", desc.Persistent)
				if desc.Schema != nil {
					entry.AddObject("schema", desc.Schema)
				}
				list.AddObject("", entry)
			}
			out := content.NewObject()
			out.AddObject("tools", list)
			out.AddNumber("count", float64(registry.Len()))
			return engine.SuccessResult(out)
		})
}

// delayTool pauses for a requested number of milliseconds. The pause honors
// both the invocation deadline and a client cancel.
func delayTool() *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"milliseconds": {"type": "number", "minimum": 0}
		},
		"required": ["milliseconds"]
	}`)
	return native("system.delay", "Wait for a number of milliseconds", schema,
		func(ctx context.Context, call *engine.Call, params *content.Content) engine.ToolResult {
			ms, ok := params.GetNumber("milliseconds")
			if !ok || ms < 0 {
				return engine.FailureResult(engine.StatusInvalidParams, "milliseconds must be a non-negative number")
			}
			wait := time.Duration(ms) * DelayResolution
			if wait > MaxDelay {
				wait = MaxDelay
			}

			deadline := time.NewTimer(wait)
			defer deadline.Stop()
			poll := time.NewTicker(10 * time.Millisecond)
			defer poll.Stop()

			start := time.Now()
			for {
				select {
				case <-ctx.Done():
					return engine.FailureResult(engine.StatusTimeout, ctx.Err().Error())
				case <-deadline.C:
					out := content.NewObject()
					out.AddNumber("waited_ms", float64(time.Since(start)/DelayResolution))
					return engine.SuccessResult(out)
				case <-poll.C:
					if call != nil && call.Cancelled != nil && call.Cancelled() {
						out := content.NewObject()
						out.AddBool("cancelled", true)
						return engine.SuccessResult(out)
					}
				}
			}
		})
}

// defineToolTool registers a composite tool at runtime. Registration and
// persistence are atomic: a failure on either side leaves no trace.
func defineToolTool(registry *engine.Registry, deps Deps) *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"implementationType": {"type": "string"},
			"implementation": {"type": "object"},
			"schema": {"type": "object"},
			"persistent": {"type": "boolean"}
		},
		"required": ["name", "implementation"]
	}`)
	return native("system.defineTool", "Define a composite tool from existing tools", schema,
		func(ctx context.Context, _ *engine.Call, params *content.Content) engine.ToolResult {
			name, _ := params.GetString("name")
			description, _ := params.GetString("description")
			persistent, _ := params.GetBool("persistent")

			if implType, ok := params.GetString("implementationType"); ok && implType != "composite" {
				return engine.FailureResult(engine.StatusUnsupported, "implementationType "+implType+" is reserved")
			}

			implObj, ok := params.GetObject("implementation")
			if !ok {
				return engine.FailureResult(engine.StatusInvalidParams, "implementation must be an object")
			}
			implRaw, err := implObj.Serialize()
			if err != nil {
				return engine.FailureResult(engine.StatusInvalidParams, err.Error())
			}
			var body engine.CompositeBody
			if err := json.Unmarshal(implRaw, &body); err != nil {
				return engine.FailureResult(engine.StatusInvalidParams, "implementation: "+err.Error())
			}

			toolSchema, _ := params.GetObject("schema")

			desc := &engine.Descriptor{
				Name:        name,
				Description: description,
				Schema:      toolSchema,
				Origin:      engine.OriginDynamic,
				Persistent:  persistent,
				Implementation: engine.Implementation{
					Kind:      engine.ImplComposite,
					Composite: &body,
				},
			}
			if err := registry.Register(desc); err != nil {
				switch {
				case errors.Is(err, engine.ErrDuplicateName):
					return engine.FailureResult(engine.StatusInvalidParams, "tool already registered: "+name)
				case errors.Is(err, engine.ErrCapacityExceeded):
					return engine.FailureResult(engine.StatusInternalError, err.Error())
				default:
					return engine.FailureResult(engine.StatusInvalidParams, err.Error())
				}
			}

			if persistent && deps.Adapter != nil {
				if err := deps.Adapter.Save(ctx, name); err != nil {
					// Keep registration and storage in lockstep.
					_ = registry.Unregister(name)
					deps.Log.Error().Str("tool", name).Err(err).Msg("persist failed, registration rolled back")
					return engine.FailureResult(engine.StatusInternalError, "persist: "+err.Error())
				}
			}

			out := content.NewObject()
			out.AddString("name", name)
			out.AddBool("persistent", persistent && deps.Adapter != nil)
			return engine.SuccessResult(out)
		})
}

// removeToolTool unregisters a dynamic tool and deletes its stored record.
func removeToolTool(registry *engine.Registry, deps Deps) *engine.Descriptor {
	schema := mustSchema(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"}
		},
		"required": ["name"]
	}`)
	return native("system.removeTool", "Remove a dynamically defined tool", schema,
		func(ctx context.Context, _ *engine.Call, params *content.Content) engine.ToolResult {
			name, _ := params.GetString("name")
			if err := registry.Unregister(name); err != nil {
				switch {
				case errors.Is(err, engine.ErrNotFound):
					return engine.FailureResult(engine.StatusNotFound, "no such tool: "+name)
				case errors.Is(err, engine.ErrBuiltinProtected):
					return engine.FailureResult(engine.StatusInvalidParams, "built-in tools cannot be removed")
				default:
					return engine.FailureResult(engine.StatusInternalError, err.Error())
				}
			}
			if deps.Adapter != nil {
				if err := deps.Adapter.Remove(ctx, name); err != nil && !errors.Is(err, persist.ErrNotFound) {
					deps.Log.Warn().Str("tool", name).Err(err).Msg("stored record removal failed")
				}
			}
			out := content.NewObject()
			out.AddString("name", name)
			return engine.SuccessResult(out)
		})
}
