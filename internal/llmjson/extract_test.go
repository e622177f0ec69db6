package llmjson

import "testing"

func TestExtractPureJSON(t *testing.T) {
	got, err := Extract(`{"pin": 7, "state": true}`)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != `{"pin": 7, "state": true}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractFencedJSON(t *testing.T) {
	got, err := Extract("```json\n{\"pin\": 7}\n```")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != `{"pin": 7}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractEmbeddedJSON(t *testing.T) {
	got, err := Extract(`Setting the pin now: {"pin": 7} as requested.`)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != `{"pin": 7}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractNoJSON(t *testing.T) {
	if _, err := Extract("no structured content here"); err == nil {
		t.Error("expected error for text without JSON")
	}
}

func TestUnmarshal(t *testing.T) {
	var args struct {
		Pin int `json:"pin"`
	}
	if err := Unmarshal("```\n{\"pin\": 13}\n```", &args); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if args.Pin != 13 {
		t.Errorf("pin = %d, want 13", args.Pin)
	}
}
