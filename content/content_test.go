package content

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewJSONParsesObject(t *testing.T) {
	c, err := NewJSON([]byte(`{"pin": 5, "label": "led", "on": true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Kind() != KindJSON {
		t.Errorf("expected JSON kind, got %v", c.Kind())
	}
	if !c.IsObject() {
		t.Error("expected object")
	}

	pin, ok := c.GetNumber("pin")
	if !ok || pin != 5 {
		t.Errorf("expected pin 5, got %v (found=%v)", pin, ok)
	}
	label, ok := c.GetString("label")
	if !ok || label != "led" {
		t.Errorf("expected label 'led', got %q (found=%v)", label, ok)
	}
	on, ok := c.GetBool("on")
	if !ok || !on {
		t.Errorf("expected on=true, got %v (found=%v)", on, ok)
	}
}

func TestNewJSONMalformed(t *testing.T) {
	cases := []string{`{`, `{"a": }`, `{"a":1} trailing`, ``}
	for _, in := range cases {
		if _, err := NewJSON([]byte(in)); !errors.Is(err, ErrMalformedJSON) {
			if err == nil {
				t.Errorf("input %q: expected malformed JSON error, got nil", in)
			}
		}
	}
}

func TestNewTextRejectsInvalidUTF8(t *testing.T) {
	if _, err := New(KindText, []byte{0xff, 0xfe}, ""); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestObjectBuilder(t *testing.T) {
	obj := NewObject()
	if err := obj.AddString("name", "sensor"); err != nil {
		t.Fatalf("AddString failed: %v", err)
	}
	if err := obj.AddNumber("value", 23.5); err != nil {
		t.Fatalf("AddNumber failed: %v", err)
	}
	if err := obj.AddBool("ok", true); err != nil {
		t.Fatalf("AddBool failed: %v", err)
	}

	nested := NewObject()
	_ = nested.AddNumber("x", 1)
	if err := obj.AddObject("pos", nested); err != nil {
		t.Fatalf("AddObject failed: %v", err)
	}

	got, ok := obj.GetObject("pos")
	if !ok {
		t.Fatal("expected nested object")
	}
	if x, ok := got.GetNumber("x"); !ok || x != 1 {
		t.Errorf("expected pos.x == 1, got %v", x)
	}
}

func TestAddOnScalarFails(t *testing.T) {
	c := NewText("hello")
	if err := c.AddString("k", "v"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}

	scalar, err := NewJSON([]byte(`42`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := scalar.AddString("k", "v"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind on JSON scalar, got %v", err)
	}
}

func TestGetNotFoundLeavesOutUntouched(t *testing.T) {
	c, _ := NewJSON([]byte(`{"a": 1}`))
	if s, ok := c.GetString("missing"); ok || s != "" {
		t.Errorf("expected not-found, got %q found=%v", s, ok)
	}
	// Type mismatch is also not-found.
	if s, ok := c.GetString("a"); ok || s != "" {
		t.Errorf("expected not-found for wrong type, got %q found=%v", s, ok)
	}
}

func TestArrayOperations(t *testing.T) {
	arr := NewArray()
	_ = arr.AddString("", "first")
	_ = arr.AddNumber("", 2)

	n, ok := arr.Len()
	if !ok || n != 2 {
		t.Fatalf("expected len 2, got %d (ok=%v)", n, ok)
	}

	item, err := arr.Index(0)
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if string(item.Bytes()) != `"first"` {
		t.Errorf("expected \"first\", got %s", item.Bytes())
	}

	if _, err := arr.Index(5); !errors.Is(err, ErrIndexRange) {
		t.Errorf("expected ErrIndexRange, got %v", err)
	}
	if _, ok := NewText("x").Len(); ok {
		t.Error("Len on text should report not-ok")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	original, err := NewJSON([]byte(`{"a":[1,2,3],"b":{"c":"d"},"e":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored, err := Deserialize(KindJSON, data, original.MediaType())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	b1, _ := json.Marshal(original.Value())
	b2, _ := json.Marshal(restored.Value())
	if string(b1) != string(b2) {
		t.Errorf("round-trip mismatch: %s vs %s", b1, b2)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xff}
	c, err := New(KindBinary, payload, "application/octet-stream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	restored, err := Deserialize(KindBinary, data, c.MediaType())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if string(restored.Bytes()) != string(payload) {
		t.Error("binary round-trip mismatch")
	}
}

func TestMarshalJSONEmitsRawValue(t *testing.T) {
	c, _ := NewJSON([]byte(`{"a":1}`))
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `{"a":1}` {
		t.Errorf("expected raw object, got %s", b)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c, _ := NewJSON([]byte(`{"a":{"b":1}}`))
	clone := c.Clone()
	if err := clone.AddString("added", "yes"); err != nil {
		t.Fatalf("AddString failed: %v", err)
	}
	if _, ok := c.GetString("added"); ok {
		t.Error("mutating clone leaked into original")
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{5, "5"},
		{23.5, "23.5"},
		{0, "0"},
		{-3, "-3"},
	}
	for _, tc := range cases {
		if got := FormatNumber(tc.in); got != tc.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
