package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/device"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
	"github.com/MCP-Dev-Studio/autostudio-embedded/kv"
	"github.com/MCP-Dev-Studio/autostudio-embedded/persist"
)

func newFixture(t *testing.T) (*engine.Registry, *engine.Dispatcher, *persist.Adapter, kv.Store) {
	t.Helper()
	registry := engine.NewRegistry(0)
	store := kv.NewMemory()
	adapter := persist.NewAdapter(store, registry, zerolog.Nop())
	deps := Deps{
		Reporter: device.NewStaticReporter(device.Info{
			Device:    device.Identity{Name: "fixture", Model: "sim"},
			Processor: device.Processor{Architecture: "riscv32", Cores: 1},
		}),
		Adapter: adapter,
		Log:     zerolog.Nop(),
	}
	if err := RegisterBuiltins(registry, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	dispatcher := engine.NewDispatcher(registry, engine.DispatcherConfig{})
	return registry, dispatcher, adapter, store
}

func invoke(t *testing.T, d *engine.Dispatcher, tool, params string) engine.ToolResult {
	t.Helper()
	doc, err := content.NewJSON([]byte(params))
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	return d.Invoke(context.Background(), nil, tool, doc)
}

func TestPing(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.ping", `{}`)
	if !res.Success() {
		t.Fatalf("ping failed: %+v", res)
	}
	if pong, ok := res.Result.GetBool("pong"); !ok || !pong {
		t.Errorf("pong missing from %s", res.Result.Bytes())
	}
}

func TestGetDeviceInfo(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.getDeviceInfo", `{}`)
	if !res.Success() {
		t.Fatalf("getDeviceInfo failed: %+v", res)
	}
	ident, ok := res.Result.GetObject("device")
	if !ok {
		t.Fatalf("no device block in %s", res.Result.Bytes())
	}
	if name, _ := ident.GetString("name"); name != "fixture" {
		t.Errorf("device name = %q", name)
	}
	proc, ok := res.Result.GetObject("processor")
	if !ok {
		t.Fatalf("no processor block")
	}
	if arch, _ := proc.GetString("architecture"); arch != "riscv32" {
		t.Errorf("architecture = %q", arch)
	}
}

func TestListToolsIncludesBuiltins(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.listTools", `{"prefix": "system."}`)
	if !res.Success() {
		t.Fatalf("listTools failed: %+v", res)
	}
	list, ok := res.Result.GetArray("tools")
	if !ok {
		t.Fatalf("no tools array in %s", res.Result.Bytes())
	}
	n, _ := list.Len()
	if n != 6 {
		t.Errorf("len = %d, want 6 built-ins", n)
	}
	first, err := list.Index(0)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if name, _ := first.GetString("name"); name != "system.ping" {
		t.Errorf("first tool = %q, want registration order", name)
	}
}

func TestDelayWaitsRoughlyTheRequestedTime(t *testing.T) {
	_, d, _, _ := newFixture(t)

	start := time.Now()
	res := invoke(t, d, "system.delay", `{"milliseconds": 30}`)
	elapsed := time.Since(start)
	if !res.Success() {
		t.Fatalf("delay failed: %+v", res)
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("returned after %v, want at least ~30ms", elapsed)
	}
}

func TestDelayRejectsMissingMilliseconds(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.delay", `{}`)
	if res.Success() || res.Status != engine.StatusSchemaError {
		t.Errorf("result = %+v, want schema error", res)
	}
}

func TestDelayHonorsDeadline(t *testing.T) {
	_, d, _, _ := newFixture(t)

	doc, err := content.NewJSON([]byte(`{"milliseconds": 5000}`))
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := d.Invoke(ctx, nil, "system.delay", doc)
	if time.Since(start) > time.Second {
		t.Fatalf("delay ignored the deadline")
	}
	if res.Status != engine.StatusTimeout {
		t.Errorf("status = %v, want timeout", res.Status)
	}
}

const blinkDefinition = `{
	"name": "ledBlink",
	"description": "Blink a pin once",
	"implementationType": "composite",
	"implementation": {
		"steps": [
			{"tool": "device.setPin", "params": {"pin": "{{pin}}", "state": true}},
			{"tool": "system.delay", "params": {"milliseconds": 1}},
			{"tool": "device.setPin", "params": {"pin": "{{pin}}", "state": false}}
		]
	},
	"schema": {
		"type": "object",
		"properties": {"pin": {"type": "number"}},
		"required": ["pin"]
	},
	"persistent": true
}`

func TestDefineToolRegistersAndPersists(t *testing.T) {
	registry, d, _, store := newFixture(t)
	sim := NewSimulated()
	if err := sim.RegisterTools(registry); err != nil {
		t.Fatalf("simulated tools: %v", err)
	}

	res := invoke(t, d, "system.defineTool", blinkDefinition)
	if !res.Success() {
		t.Fatalf("defineTool failed: %+v", res)
	}

	desc, err := registry.Lookup("ledBlink")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if desc.Origin != engine.OriginDynamic || !desc.Persistent {
		t.Errorf("descriptor = %+v", desc)
	}
	if _, err := store.Get(context.Background(), persist.KeyPrefix+"ledBlink"); err != nil {
		t.Errorf("no stored record: %v", err)
	}

	run := invoke(t, d, "ledBlink", `{"pin": 5}`)
	if !run.Success() {
		t.Fatalf("ledBlink failed: %+v", run)
	}
	if sim.PinState(5) {
		t.Errorf("pin 5 left high after blink")
	}
}

func TestDefineToolDuplicateNamePersistsNothing(t *testing.T) {
	_, d, _, store := newFixture(t)

	res := invoke(t, d, "system.defineTool", `{
		"name": "system.ping",
		"implementation": {"steps": []},
		"persistent": true
	}`)
	if res.Success() || res.Status != engine.StatusInvalidParams {
		t.Fatalf("result = %+v, want invalid_params", res)
	}
	if keys, err := store.Keys(context.Background(), persist.KeyPrefix); err != nil || len(keys) != 0 {
		t.Errorf("store not empty after failed define: %v %v", keys, err)
	}
}

func TestDefineToolRejectsReservedImplementationType(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.defineTool", `{
		"name": "scripted",
		"implementationType": "script",
		"implementation": {"steps": []}
	}`)
	if res.Success() || res.Status != engine.StatusUnsupported {
		t.Errorf("result = %+v, want unsupported", res)
	}
}

func TestRemoveTool(t *testing.T) {
	registry, d, _, store := newFixture(t)

	if res := invoke(t, d, "system.defineTool", `{
		"name": "throwaway",
		"implementation": {"steps": []},
		"persistent": true
	}`); !res.Success() {
		t.Fatalf("defineTool failed: %+v", res)
	}

	res := invoke(t, d, "system.removeTool", `{"name": "throwaway"}`)
	if !res.Success() {
		t.Fatalf("removeTool failed: %+v", res)
	}
	if registry.Has("throwaway") {
		t.Errorf("tool still registered")
	}
	if keys, _ := store.Keys(context.Background(), persist.KeyPrefix); len(keys) != 0 {
		t.Errorf("stored record survived removal: %v", keys)
	}

	again := invoke(t, d, "system.removeTool", `{"name": "throwaway"}`)
	if again.Status != engine.StatusNotFound {
		t.Errorf("second removal = %+v, want not_found", again)
	}
}

func TestRemoveToolProtectsBuiltins(t *testing.T) {
	_, d, _, _ := newFixture(t)

	res := invoke(t, d, "system.removeTool", `{"name": "system.ping"}`)
	if res.Success() || res.Status != engine.StatusInvalidParams {
		t.Errorf("result = %+v, want invalid_params", res)
	}
	if !strings.Contains(res.Message, "built-in") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestSimulatedSensorRead(t *testing.T) {
	registry, d, _, _ := newFixture(t)
	sim := NewSimulated()
	if err := sim.RegisterTools(registry); err != nil {
		t.Fatalf("simulated tools: %v", err)
	}
	sim.SetSensor("temperature", 30.0)

	res := invoke(t, d, "device.readSensor", `{"sensor": "temperature"}`)
	if !res.Success() {
		t.Fatalf("readSensor failed: %+v", res)
	}
	if v, ok := res.Result.GetNumber("value"); !ok || v < 30.0 || v > 30.1 {
		t.Errorf("value = %v", v)
	}

	bad := invoke(t, d, "device.readSensor", `{"sensor": "pressure"}`)
	if bad.Status != engine.StatusSchemaError {
		t.Errorf("unknown sensor = %+v, want schema enum rejection", bad)
	}
}
