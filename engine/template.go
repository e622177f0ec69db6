package engine

import (
	"bytes"
	"fmt"
)

// UnresolvedVariableError reports a placeholder naming a variable absent from
// the context with no default.
type UnresolvedVariableError struct {
	Name string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("unresolved variable: %s", e.Name)
}

// Substitute performs single-pass placeholder replacement over template.
// A placeholder is "{{" followed by an identifier (letters, digits, '_',
// '.' for nested lookup), optionally '|' and a raw default literal, closed
// by "}}". A lone '{' is copied verbatim. Substituted text is never
// re-scanned.
func (c *Context) Substitute(template []byte) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(template) {
		if template[i] != '{' || i+1 >= len(template) || template[i+1] != '{' {
			out.WriteByte(template[i])
			i++
			continue
		}

		name, def, hasDefault, end, ok := scanPlaceholder(template, i+2)
		if !ok {
			// Not a well-formed placeholder: copy the brace and move on.
			out.WriteByte(template[i])
			i++
			continue
		}

		value, found := c.Resolve(name)
		if !found {
			if !hasDefault {
				return nil, &UnresolvedVariableError{Name: name}
			}
			value = def
		}
		out.WriteString(value)
		i = end
	}
	return out.Bytes(), nil
}

// scanPlaceholder parses an identifier and optional default starting right
// after "{{". Returns the position past the closing "}}".
func scanPlaceholder(t []byte, start int) (name, def string, hasDefault bool, end int, ok bool) {
	i := start
	for i < len(t) && isIdentByte(t[i]) {
		i++
	}
	if i == start {
		return "", "", false, 0, false
	}
	name = string(t[start:i])

	if i < len(t) && t[i] == '|' {
		hasDefault = true
		i++
		defStart := i
		for i+1 < len(t) && !(t[i] == '}' && t[i+1] == '}') {
			i++
		}
		if i+1 >= len(t) {
			return "", "", false, 0, false
		}
		def = string(t[defStart:i])
	}

	if i+1 >= len(t) || t[i] != '}' || t[i+1] != '}' {
		return "", "", false, 0, false
	}
	return name, def, hasDefault, i + 2, true
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
