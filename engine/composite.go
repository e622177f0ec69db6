package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// runComposite interprets a composite body: a fresh child context is seeded
// from the parameter fields, then steps run in declaration order with
// short-circuit on the first non-success result.
func (d *Dispatcher) runComposite(ctx context.Context, call *Call, body *CompositeBody, params *content.Content, depth int) ToolResult {
	frame := NewContext(nil, d.maxVars)
	if params != nil && params.IsObject() {
		obj := params.Value().(map[string]any)
		for k, v := range obj {
			if err := frame.Set(k, VariableFromJSON(v)); err != nil {
				return FailureResult(StatusInternalError, err.Error())
			}
		}
	}

	last := SuccessResult(nil)
	for _, step := range body.Steps {
		// Cancellation check point at step entry.
		if call.cancelled() {
			marker := content.NewObject()
			_ = marker.AddBool("cancelled", true)
			return SuccessResult(marker)
		}
		if err := ctx.Err(); err != nil {
			return FailureResult(StatusTimeout, "deadline exceeded before step "+step.label())
		}

		if step.Condition != "" {
			rendered, err := frame.Substitute([]byte(step.Condition))
			// An unresolved condition variable reads as falsy: skip the step.
			if err != nil || !truthy(rendered) {
				continue
			}
		}

		if step.IsNotification() {
			payload, err := renderParams(frame, step.Params)
			if err != nil {
				return invalidParamsFrom(err)
			}
			call.Emit(step.Event, payload)
			continue
		}

		rendered, err := renderParams(frame, step.Params)
		if err != nil {
			return invalidParamsFrom(err)
		}

		res := d.invoke(ctx, call, step.Tool, rendered, depth+1)
		if step.Store != "" {
			// Capture before the short-circuit so prior stores stay visible
			// to whoever inspects the failed run.
			_ = frame.StoreResult(step.Store, res)
		}
		if !res.Success() {
			return res
		}
		last = res
	}

	if body.Result != nil {
		rendered, err := renderParams(frame, body.Result)
		if err != nil {
			return invalidParamsFrom(err)
		}
		return SuccessResult(rendered)
	}
	return last
}

// label names a step for diagnostics.
func (s *Step) label() string {
	if s.IsNotification() {
		return "notification:" + s.Event
	}
	return s.Tool
}

// invalidParamsFrom maps a rendering failure onto a tool result.
func invalidParamsFrom(err error) ToolResult {
	var unresolved *UnresolvedVariableError
	if errors.As(err, &unresolved) {
		return FailureResult(StatusInvalidParams, unresolved.Error())
	}
	return FailureResult(StatusInternalError, err.Error())
}

// truthy implements the condition gate: empty, "0" and "false" (any case)
// are falsy, everything else passes.
func truthy(rendered []byte) bool {
	s := strings.TrimSpace(string(rendered))
	if s == "" || s == "0" {
		return false
	}
	return !strings.EqualFold(s, "false")
}

// renderParams renders a params template into a concrete Content. String
// leaves undergo placeholder substitution; a string that is exactly one
// placeholder substitutes the variable's typed value so numbers and objects
// survive as numbers and objects.
func renderParams(frame *Context, template *content.Content) (*content.Content, error) {
	if template == nil {
		return content.NewObject(), nil
	}
	if template.Kind() != content.KindJSON {
		return template, nil
	}
	rendered, err := renderValue(frame, template.Value())
	if err != nil {
		return nil, err
	}
	return content.FromValue(rendered), nil
}

func renderValue(frame *Context, v any) (any, error) {
	switch t := v.(type) {
	case string:
		return renderString(frame, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := renderValue(frame, e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := renderValue(frame, e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return t, nil
	}
}

func renderString(frame *Context, s string) (any, error) {
	if name, ok := wholePlaceholder(s); ok {
		if v, found := frame.ResolveValue(name); found {
			return v, nil
		}
	}
	b, err := frame.Substitute([]byte(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// wholePlaceholder reports whether s is exactly "{{ident}}" with no default.
func wholePlaceholder(s string) (string, bool) {
	if len(s) < 5 || !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	for i := 0; i < len(inner); i++ {
		if !isIdentByte(inner[i]) {
			return "", false
		}
	}
	return inner, inner != ""
}
