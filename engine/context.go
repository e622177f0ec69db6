package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// Context errors.
var (
	ErrTooManyVariables = errors.New("engine: variable cap exceeded")
	ErrVarNotFound      = errors.New("engine: variable not found")
)

// DefaultMaxVariables bounds a context frame when no cap is given.
const DefaultMaxVariables = 64

// VarKind tags the variant held by a Variable.
type VarKind int

const (
	VarBool VarKind = iota
	VarInt
	VarFloat
	VarString
	VarContent
	VarResult
)

// Variable is a tagged value stored in an execution context.
type Variable struct {
	kind VarKind
	b    bool
	i    int64
	f    float64
	s    string
	c    *content.Content
	r    ToolResult
}

// BoolVar creates a boolean variable.
func BoolVar(v bool) Variable { return Variable{kind: VarBool, b: v} }

// IntVar creates an integer variable.
func IntVar(v int64) Variable { return Variable{kind: VarInt, i: v} }

// FloatVar creates a floating-point variable.
func FloatVar(v float64) Variable { return Variable{kind: VarFloat, f: v} }

// StringVar creates a string variable.
func StringVar(v string) Variable { return Variable{kind: VarString, s: v} }

// ContentVar creates a variable holding a Content payload.
func ContentVar(v *content.Content) Variable { return Variable{kind: VarContent, c: v} }

// ResultVar creates a variable holding a captured tool result.
func ResultVar(v ToolResult) Variable { return Variable{kind: VarResult, r: v} }

// Kind returns the variable's variant tag.
func (v Variable) Kind() VarKind { return v.kind }

// Render returns the template-substitution text of the variable. Contents
// and results render as their serialized JSON.
func (v Variable) Render() string {
	switch v.kind {
	case VarBool:
		if v.b {
			return "true"
		}
		return "false"
	case VarInt:
		return fmt.Sprintf("%d", v.i)
	case VarFloat:
		return content.FormatNumber(v.f)
	case VarString:
		return v.s
	case VarContent:
		return string(v.c.Bytes())
	case VarResult:
		return string(v.r.ResultContent().Bytes())
	default:
		return ""
	}
}

// contentView returns the variable as a Content for dotted descent, or nil
// when the variable has no structured form.
func (v Variable) contentView() *content.Content {
	switch v.kind {
	case VarContent:
		return v.c
	case VarResult:
		return v.r.ResultContent()
	default:
		return nil
	}
}

// VariableFromJSON converts a decoded JSON field value into a Variable.
func VariableFromJSON(v any) Variable {
	switch t := v.(type) {
	case bool:
		return BoolVar(t)
	case string:
		return StringVar(t)
	case float64:
		if t == float64(int64(t)) {
			return IntVar(int64(t))
		}
		return FloatVar(t)
	case nil:
		return StringVar("")
	default:
		return ContentVar(content.FromValue(t))
	}
}

// Context is a per-invocation variable scope. Lookups walk the parent chain;
// writes always land in the current frame. The parent reference is
// non-owning: a child never outlives the invocation that created it.
type Context struct {
	parent *Context
	vars   map[string]Variable
	order  []string
	max    int
}

// NewContext creates a context frame chained to parent (may be nil).
// Non-positive caps fall back to DefaultMaxVariables.
func NewContext(parent *Context, maxVars int) *Context {
	if maxVars <= 0 {
		maxVars = DefaultMaxVariables
	}
	return &Context{
		parent: parent,
		vars:   make(map[string]Variable),
		max:    maxVars,
	}
}

// Set binds name to v in the current frame, shadowing any parent binding.
func (c *Context) Set(name string, v Variable) error {
	if _, exists := c.vars[name]; !exists {
		if len(c.vars) >= c.max {
			return ErrTooManyVariables
		}
		c.order = append(c.order, name)
	}
	c.vars[name] = v
	return nil
}

// Get looks name up in this frame and then up the parent chain.
func (c *Context) Get(name string) (Variable, bool) {
	for frame := c; frame != nil; frame = frame.parent {
		if v, ok := frame.vars[name]; ok {
			return v, true
		}
	}
	return Variable{}, false
}

// StoreResult captures a tool result under name in the current frame.
// Duplicate names overwrite.
func (c *Context) StoreResult(name string, r ToolResult) error {
	return c.Set(name, ResultVar(r))
}

// Names returns the variable names of the current frame in insertion order.
func (c *Context) Names() []string {
	return append([]string(nil), c.order...)
}

// Resolve evaluates a possibly dotted path against the context. The first
// segment is a variable; the rest descend JSON object fields of Contents or
// captured results. Returns the rendered text and a found flag.
func (c *Context) Resolve(path string) (string, bool) {
	segments := strings.Split(path, ".")

	// Longest-prefix variable match first: tool names are dot-separated, so
	// a stored result may itself be bound under "device.read".
	for cut := len(segments); cut >= 1; cut-- {
		name := strings.Join(segments[:cut], ".")
		v, ok := c.Get(name)
		if !ok {
			continue
		}
		rest := segments[cut:]
		if len(rest) == 0 {
			return v.Render(), true
		}
		leaf, ok := descend(v.contentView(), rest)
		if !ok {
			return "", false
		}
		return renderLeaf(leaf), true
	}
	return "", false
}

// ResolveValue evaluates a dotted path like Resolve but preserves the JSON
// type of the leaf: booleans stay booleans, numbers stay numbers, objects
// stay value trees.
func (c *Context) ResolveValue(path string) (any, bool) {
	segments := strings.Split(path, ".")
	for cut := len(segments); cut >= 1; cut-- {
		name := strings.Join(segments[:cut], ".")
		v, ok := c.Get(name)
		if !ok {
			continue
		}
		rest := segments[cut:]
		if len(rest) == 0 {
			return v.jsonValue(), true
		}
		return descend(v.contentView(), rest)
	}
	return nil, false
}

// jsonValue returns the variable as a JSON value tree.
func (v Variable) jsonValue() any {
	switch v.kind {
	case VarBool:
		return v.b
	case VarInt:
		return float64(v.i)
	case VarFloat:
		return v.f
	case VarString:
		return v.s
	case VarContent:
		return v.c.Value()
	case VarResult:
		return v.r.ResultContent().Value()
	default:
		return nil
	}
}

// descend walks object fields of a JSON Content and returns the leaf value.
func descend(cur *content.Content, fields []string) (any, bool) {
	if cur == nil {
		return nil, false
	}
	node := cur.Value()
	for _, field := range fields {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[field]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// renderLeaf renders a JSON value for substitution: strings raw, scalars in
// JSON literal form, objects and arrays serialized.
func renderLeaf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return content.FormatNumber(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return string(content.FromValue(t).Bytes())
	}
}
