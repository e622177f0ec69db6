// Command execution for CLI commands.
//
// Information Hiding:
// - Device wiring (registry, store, transports) hidden
// - Controller bridge setup hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/config"
	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/controller"
	"github.com/MCP-Dev-Studio/autostudio-embedded/device"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
	"github.com/MCP-Dev-Studio/autostudio-embedded/kv"
	"github.com/MCP-Dev-Studio/autostudio-embedded/llm"
	"github.com/MCP-Dev-Studio/autostudio-embedded/persist"
	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
	"github.com/MCP-Dev-Studio/autostudio-embedded/tools"
	"github.com/MCP-Dev-Studio/autostudio-embedded/transport"
)

// version is reported in the protocol hello.
const version = "0.3.0"

// Options holds options shared by the client-side commands.
type Options struct {
	Provider string
	Addr     string
	MaxIter  int
	Verbose  bool
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		Addr:    "127.0.0.1:8137",
		MaxIter: 10,
	}
}

// ServeOptions holds device server options.
type ServeOptions struct {
	Stdio     bool
	Simulated bool
	Profile   string
	Verbose   bool
}

// Serve runs the device side: tool registry, built-in tools, persisted tool
// records and a transport accepting controller connections. It blocks until
// the context is cancelled or the transport closes.
func Serve(ctx context.Context, opts ServeOptions) error {
	settings, err := config.New("")
	if err != nil {
		return err
	}

	log := newLogger(settings.Server.LogLevel, opts.Verbose)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(settings.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := engine.NewRegistry(settings.Engine.RegistryCapacity)
	adapter := persist.NewAdapter(store, registry, log)

	reporter, err := newReporter(settings.Server.Name, opts.Profile)
	if err != nil {
		return err
	}

	deps := tools.Deps{Reporter: reporter, Adapter: adapter, Log: log}
	if err := tools.RegisterBuiltins(registry, deps); err != nil {
		return fmt.Errorf("register built-in tools: %w", err)
	}
	if opts.Simulated {
		if err := tools.NewSimulated().RegisterTools(registry); err != nil {
			return fmt.Errorf("register simulated device tools: %w", err)
		}
	}

	loaded, err := adapter.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load persisted tools: %w", err)
	}
	if loaded > 0 {
		log.Info().Int("count", loaded).Msg("restored persisted tools")
	}

	dispatcher := protocol.NewDispatcher(registry, protocol.NewMemoryResources(), protocol.Config{
		ServerName:    settings.Server.Name,
		ServerVersion: version,
		OpenAccess:    settings.Server.OpenAccess,
		MaxDepth:      settings.Engine.MaxDepth,
		MaxVariables:  settings.Engine.MaxVariables,
		InvokeTimeout: settings.Server.InvokeTimeout,
		IdleTimeout:   settings.Server.IdleTimeout,
		Logger:        log,
	})

	if opts.Stdio {
		// Frames own stdout; logs already go to stderr.
		conn := transport.NewLine(os.Stdin, os.Stdout)
		defer conn.Close()
		go dispatcher.RunHousekeeping(ctx, 0)
		log.Info().Msg("serving on stdio")
		return transport.Serve(ctx, dispatcher, conn, log)
	}

	srv := transport.NewServer(settings.Server.ListenAddr, dispatcher, log)
	return srv.ListenAndServe(ctx)
}

// RunTask connects to a device, hands the task to the LLM controller bridge
// and prints the final answer.
func RunTask(ctx context.Context, task string, opts Options) error {
	if opts.Provider == "" {
		return fmt.Errorf("--provider is required for this command")
	}

	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}

	log := newLogger(settings.Server.LogLevel, opts.Verbose)

	provider, err := llm.FromEnv(settings.LLM)
	if err != nil {
		return err
	}

	client, err := connect(ctx, opts.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	bridge := controller.NewBridge(provider, client, controller.Config{
		MaxIterations: opts.MaxIter,
		Logger:        log,
	})

	fmt.Printf("Running task against device at %s...\n\n", opts.Addr)

	answer, err := bridge.Run(ctx, task)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", answer)
	return nil
}

// toolEntry mirrors one entry of the system.listTools result.
type toolEntry struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Origin         string          `json:"origin"`
	Implementation string          `json:"implementation"`
	Persistent     bool            `json:"persistent"`
	Schema         json.RawMessage `json:"schema,omitempty"`
}

// ListTools connects to a device and prints its tool inventory.
func ListTools(ctx context.Context, prefix string, opts Options) error {
	client, err := connect(ctx, opts.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	var params *content.Content
	if prefix != "" {
		params = content.NewObject()
		if err := params.AddString("prefix", prefix); err != nil {
			return err
		}
	}

	result, err := client.InvokeTool(ctx, "system.listTools", params)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("system.listTools: %s", result.Error)
	}

	var listing struct {
		Tools []toolEntry `json:"tools"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(result.Result, &listing); err != nil {
		return fmt.Errorf("decode tool listing: %w", err)
	}

	fmt.Println("Available tools:")
	fmt.Println()
	for _, entry := range listing.Tools {
		fmt.Printf("  %s [%s/%s]\n", entry.Name, entry.Origin, entry.Implementation)
		if entry.Description != "" {
			fmt.Printf("    %s\n", entry.Description)
		}
		if entry.Persistent {
			fmt.Printf("    persistent\n")
		}
		if opts.Verbose && len(entry.Schema) > 0 {
			fmt.Printf("    Schema: %s\n", string(entry.Schema))
		}
		fmt.Println()
	}
	fmt.Printf("%d tools registered\n", listing.Count)
	return nil
}

// Invoke calls a single tool on a connected device with raw JSON parameters
// and prints the result payload. Events emitted by the call are printed
// after the result.
func Invoke(ctx context.Context, tool, paramsJSON string, opts Options) error {
	client, err := connect(ctx, opts.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	var params *content.Content
	if paramsJSON != "" {
		parsed, err := content.NewJSON([]byte(paramsJSON))
		if err != nil {
			return fmt.Errorf("parse tool parameters: %w", err)
		}
		params = parsed
	}

	result, err := client.InvokeTool(ctx, tool, params)
	if err != nil {
		return err
	}

	if !result.Success {
		fmt.Fprintf(os.Stderr, "%s: %s\n", result.Status, result.Error)
		return fmt.Errorf("tool %s failed", tool)
	}
	if len(result.Result) > 0 {
		fmt.Printf("%s\n", string(result.Result))
	}
	for _, evt := range client.Events() {
		fmt.Printf("event %s: %s\n", evt.Event, string(evt.Data))
	}
	return nil
}

// Helper functions

// connect dials the device over websocket and opens a session.
func connect(ctx context.Context, addr string) (*protocol.Client, error) {
	conn, err := transport.Dial(ctx, wsURL(addr))
	if err != nil {
		return nil, fmt.Errorf("dial device at %s: %w", addr, err)
	}

	client := protocol.NewClient(conn)
	if _, err := client.Hello(ctx, "autostudio-cli", version); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	return client, nil
}

func wsURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}

func openStore(cfg config.StoreConfig) (kv.Store, error) {
	if cfg.Path == "" {
		return kv.NewMemory(), nil
	}
	store, err := kv.OpenSqlite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open tool store %s: %w", cfg.Path, err)
	}
	return store, nil
}

func newReporter(name, profilePath string) (device.Reporter, error) {
	if profilePath == "" {
		return device.NewHostReporter(name), nil
	}
	reporter, err := device.NewProfileReporter(profilePath)
	if err != nil {
		return nil, fmt.Errorf("load device profile %s: %w", profilePath, err)
	}
	return reporter, nil
}

func newLogger(level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
