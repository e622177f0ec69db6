package engine

import (
	"errors"
	"testing"
)

func newFrame(t *testing.T, vars map[string]Variable) *Context {
	t.Helper()
	c := NewContext(nil, 32)
	for k, v := range vars {
		if err := c.Set(k, v); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}
	return c
}

func TestSubstituteNoPlaceholdersRoundTrip(t *testing.T) {
	c := newFrame(t, nil)
	cases := []string{
		"",
		"plain text",
		`{"json": "object"}`,
		"single { brace and }} closers",
		"{ {not a placeholder} }",
	}
	for _, in := range cases {
		out, err := c.Substitute([]byte(in))
		if err != nil {
			t.Errorf("input %q: unexpected error %v", in, err)
			continue
		}
		if string(out) != in {
			t.Errorf("input %q: round-trip mismatch, got %q", in, out)
		}
	}
}

func TestSubstituteBasic(t *testing.T) {
	c := newFrame(t, map[string]Variable{
		"pin":  IntVar(5),
		"name": StringVar("led"),
	})

	out, err := c.Substitute([]byte(`set {{name}} on pin {{pin}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "set led on pin 5" {
		t.Errorf("got %q", out)
	}
}

func TestSubstituteDefault(t *testing.T) {
	c := newFrame(t, map[string]Variable{"present": StringVar("yes")})

	cases := []struct {
		in   string
		want string
	}{
		{"{{present|fallback}}", "yes"},
		{"{{missing|fallback}}", "fallback"},
		{"{{missing|}}", ""},
		{"{{missing|500}}", "500"},
	}
	for _, tc := range cases {
		out, err := c.Substitute([]byte(tc.in))
		if err != nil {
			t.Errorf("input %q: unexpected error %v", tc.in, err)
			continue
		}
		if string(out) != tc.want {
			t.Errorf("input %q: expected %q, got %q", tc.in, tc.want, out)
		}
	}
}

func TestSubstituteUnresolved(t *testing.T) {
	c := newFrame(t, nil)
	_, err := c.Substitute([]byte("value: {{pin}}"))

	var unresolved *UnresolvedVariableError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedVariableError, got %v", err)
	}
	if unresolved.Name != "pin" {
		t.Errorf("expected name 'pin', got %q", unresolved.Name)
	}
}

func TestSubstituteSinglePass(t *testing.T) {
	// Substituted content containing placeholder syntax is not re-expanded.
	c := newFrame(t, map[string]Variable{
		"outer": StringVar("{{inner}}"),
		"inner": StringVar("should not appear"),
	})

	out, err := c.Substitute([]byte("{{outer}}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "{{inner}}" {
		t.Errorf("expected single-pass result '{{inner}}', got %q", out)
	}
}

func TestSubstituteMalformedPlaceholderVerbatim(t *testing.T) {
	c := newFrame(t, map[string]Variable{"a": StringVar("x")})
	cases := []string{
		"{{",          // unterminated
		"{{a",         // unterminated after ident
		"{{ a }}",     // spaces are not identifier bytes
		"{{}}",        // empty identifier
		"{{a|def",     // unterminated default
	}
	for _, in := range cases {
		out, err := c.Substitute([]byte(in))
		if err != nil {
			t.Errorf("input %q: unexpected error %v", in, err)
			continue
		}
		if string(out) != in {
			t.Errorf("input %q: expected verbatim copy, got %q", in, out)
		}
	}
}

func TestSubstituteDottedPlaceholder(t *testing.T) {
	payload := mustObject(t, `{"value": 42}`)
	c := newFrame(t, map[string]Variable{"sensor": ContentVar(payload)})

	out, err := c.Substitute([]byte("reading={{sensor.value}}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "reading=42" {
		t.Errorf("got %q", out)
	}

	_, err = c.Substitute([]byte("{{sensor.missing}}"))
	var unresolved *UnresolvedVariableError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedVariableError for failed dotted lookup, got %v", err)
	}
}
