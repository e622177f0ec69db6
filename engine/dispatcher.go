package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/schema"
)

// DefaultMaxDepth bounds composite recursion.
const DefaultMaxDepth = 8

// DispatcherConfig tunes a Dispatcher. Zero values pick the defaults.
type DispatcherConfig struct {
	MaxDepth     int
	MaxVariables int
	Sink         EventSink
	Logger       zerolog.Logger
}

// Dispatcher is the single entry point for executing a named tool with
// Content parameters. It resolves the descriptor, validates parameters
// against the tool schema and dispatches to the native or composite
// implementation.
type Dispatcher struct {
	registry *Registry
	sink     EventSink
	maxDepth int
	maxVars  int
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxVariables <= 0 {
		cfg.MaxVariables = DefaultMaxVariables
	}
	return &Dispatcher{
		registry: registry,
		sink:     cfg.Sink,
		maxDepth: cfg.MaxDepth,
		maxVars:  cfg.MaxVariables,
		log:      cfg.Logger,
	}
}

// Registry returns the registry this dispatcher executes against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke executes the named tool for the given call. Deadlines come in on
// ctx; the client-requested cancel flag on call. A nil call is treated as an
// anonymous invocation.
func (d *Dispatcher) Invoke(ctx context.Context, call *Call, tool string, params *content.Content) ToolResult {
	if call == nil {
		call = &Call{}
	}
	if call.Events == nil {
		call.Events = d.sink
	}
	res := d.invoke(ctx, call, tool, params, 0)
	d.log.Debug().
		Str("tool", tool).
		Str("status", res.Status.String()).
		Str("session", call.SessionID).
		Msg("tool invoked")
	return res
}

// invoke is the recursive dispatch path shared with the composite executor.
// Any panic escaping a native handler is converted to an internal error at
// this boundary.
func (d *Dispatcher) invoke(ctx context.Context, call *Call, tool string, params *content.Content, depth int) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", tool).Interface("panic", r).Msg("tool panicked")
			res = FailureResult(StatusInternalError, fmt.Sprintf("tool %s: %v", tool, r))
		}
	}()

	desc, err := d.registry.Lookup(tool)
	if err != nil {
		return FailureResult(StatusNotFound, fmt.Sprintf("unknown tool: %s", tool))
	}

	if desc.Schema != nil {
		if err := schema.Validate(params, desc.Schema); err != nil {
			return FailureResult(StatusSchemaError, err.Error())
		}
	}

	switch desc.Implementation.Kind {
	case ImplNative:
		fn := desc.Implementation.Native
		if fn == nil {
			return FailureResult(StatusInternalError, fmt.Sprintf("tool %s has no native binding", tool))
		}
		return fn(ctx, call, params)
	case ImplComposite:
		if desc.Implementation.Composite == nil {
			return FailureResult(StatusInternalError, fmt.Sprintf("tool %s has no composite body", tool))
		}
		if depth >= d.maxDepth {
			return FailureResult(StatusInternalError, "depth")
		}
		return d.runComposite(ctx, call, desc.Implementation.Composite, params, depth)
	default:
		// Script and Bytecode are reserved implementation kinds.
		return FailureResult(StatusUnsupported, fmt.Sprintf("tool %s: %s implementations are not supported", tool, desc.Implementation.Kind))
	}
}
