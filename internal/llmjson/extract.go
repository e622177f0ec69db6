// Package llmjson recovers JSON objects from model output.
//
// Providers occasionally wrap tool arguments in markdown fences or prepend
// commentary. The bridge feeds such text through Extract before giving up
// on a tool call.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the JSON object embedded in s. It strips markdown code
// fences, then tries the whole string, then the span from the first '{' to
// the last '}'. Only objects are handled, not bare arrays.
func Extract(s string) (string, error) {
	s = stripFences(s)

	if json.Valid([]byte(s)) {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		span := s[start : end+1]
		if json.Valid([]byte(span)) {
			return span, nil
		}
	}

	preview := s
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no JSON object in %q", preview)
}

// Unmarshal extracts the JSON object in s and decodes it into v.
func Unmarshal(s string, v any) error {
	span, err := Extract(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return fmt.Errorf("decode extracted JSON: %w", err)
	}
	return nil
}

// stripFences removes a leading ```json or ``` fence and a trailing ```.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}
