package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

func TestDispatcherUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Invoke(context.Background(), nil, "no.such.tool", content.NewObject())
	if res.Status != StatusNotFound {
		t.Errorf("expected not_found, got %v", res.Status)
	}
}

func TestDispatcherSchemaGate(t *testing.T) {
	_, reg := newTestDispatcher(t)
	d := NewDispatcher(reg, DispatcherConfig{})

	schemaDoc := stepParams(t, `{"properties": {"pin": {"type": "number"}}, "required": ["pin"]}`)
	err := reg.Register(&Descriptor{
		Name:           "device.ledOn",
		Schema:         schemaDoc,
		Implementation: Implementation{Kind: ImplNative, Native: nopNative},
		Origin:         OriginBuiltin,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := d.Invoke(context.Background(), nil, "device.ledOn", content.NewObject())
	if res.Status != StatusSchemaError {
		t.Fatalf("expected schema_error, got %v", res.Status)
	}
	if !strings.Contains(res.Message, "pin") {
		t.Errorf("message should identify the offending key: %q", res.Message)
	}

	// A validating payload never produces a schema error.
	res = d.Invoke(context.Background(), nil, "device.ledOn", stepParams(t, `{"pin": 5}`))
	if res.Status == StatusSchemaError {
		t.Errorf("validating payload produced schema_error: %s", res.Message)
	}
}

func TestDispatcherPanicRecovery(t *testing.T) {
	d, reg := newTestDispatcher(t)
	registerNative(t, reg, "explosive", func(ctx context.Context, call *Call, params *content.Content) ToolResult {
		panic("wires crossed")
	})

	res := d.Invoke(context.Background(), nil, "explosive", content.NewObject())
	if res.Status != StatusInternalError {
		t.Fatalf("expected internal_error, got %v", res.Status)
	}
	if !strings.Contains(res.Message, "wires crossed") {
		t.Errorf("panic detail lost: %q", res.Message)
	}
}

func TestDispatcherReservedImplementations(t *testing.T) {
	d, reg := newTestDispatcher(t)
	if err := reg.Register(&Descriptor{
		Name:           "scripted",
		Implementation: Implementation{Kind: ImplScript, Script: "print()", Lang: "lua"},
		Origin:         OriginDynamic,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(&Descriptor{
		Name:           "compiled",
		Implementation: Implementation{Kind: ImplBytecode, Bytecode: []byte{0x01}},
		Origin:         OriginDynamic,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, name := range []string{"scripted", "compiled"} {
		res := d.Invoke(context.Background(), nil, name, content.NewObject())
		if res.Status != StatusUnsupported {
			t.Errorf("tool %s: expected unsupported, got %v", name, res.Status)
		}
	}
}

func TestToolResultWireShape(t *testing.T) {
	res := FailureResult(StatusNotFound, "unknown tool: x")
	b, err := res.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"success":false`, `"status":"not_found"`, `"error":"unknown tool: x"`} {
		if !strings.Contains(s, want) {
			t.Errorf("wire result missing %s: %s", want, s)
		}
	}

	ok := SuccessResult(nil)
	b, _ = ok.MarshalJSON()
	if !strings.Contains(string(b), `"success":true`) || !strings.Contains(string(b), `"status":"success"`) {
		t.Errorf("success wire shape wrong: %s", b)
	}
}

func TestCompositeBodyJSONRoundTrip(t *testing.T) {
	body := &CompositeBody{Steps: []Step{
		{Tool: "device.ledOn", Params: stepParams(t, `{"pin": "{{pin}}"}`), Store: "on"},
		{Event: "status", Params: stepParams(t, `{"phase": "blinking"}`)},
		{Tool: "device.ledOff", Condition: "{{cleanup|true}}"},
	}}

	b, err := body.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored CompositeBody
	if err := restored.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(restored.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(restored.Steps))
	}
	if restored.Steps[0].Tool != "device.ledOn" || restored.Steps[0].Store != "on" {
		t.Errorf("step 0 mismatch: %+v", restored.Steps[0])
	}
	if !restored.Steps[1].IsNotification() || restored.Steps[1].Event != "status" {
		t.Errorf("step 1 should be a notification: %+v", restored.Steps[1])
	}
	if restored.Steps[2].Condition != "{{cleanup|true}}" {
		t.Errorf("step 2 condition lost: %+v", restored.Steps[2])
	}
}

func TestCompositeBodyRejectsAmbiguousStep(t *testing.T) {
	var body CompositeBody
	if err := body.UnmarshalJSON([]byte(`{"steps": [{}]}`)); err == nil {
		t.Error("expected error for step naming neither tool nor notification")
	}
	if err := body.UnmarshalJSON([]byte(`{"steps": [{"tool": "a", "notification": "b"}]}`)); err == nil {
		t.Error("expected error for step naming both tool and notification")
	}
}
