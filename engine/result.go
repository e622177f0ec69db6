package engine

import (
	"encoding/json"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// Status classifies the outcome of a tool invocation.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidParams
	StatusNotFound
	StatusSchemaError
	StatusTimeout
	StatusInternalError
	StatusUnsupported
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidParams:
		return "invalid_params"
	case StatusNotFound:
		return "not_found"
	case StatusSchemaError:
		return "schema_error"
	case StatusTimeout:
		return "timeout"
	case StatusInternalError:
		return "internal_error"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "internal_error"
	}
}

// StatusFromString parses a wire status name.
func StatusFromString(s string) Status {
	switch s {
	case "success":
		return StatusSuccess
	case "invalid_params":
		return StatusInvalidParams
	case "not_found":
		return StatusNotFound
	case "schema_error":
		return StatusSchemaError
	case "timeout":
		return StatusTimeout
	case "unsupported":
		return StatusUnsupported
	default:
		return StatusInternalError
	}
}

// ToolResult is the outcome of a tool invocation. Result is always a JSON
// Content; a nil Result reads as an empty object.
type ToolResult struct {
	Status  Status
	Result  *content.Content
	Message string
}

// Success reports whether the invocation completed with StatusSuccess.
func (r ToolResult) Success() bool {
	return r.Status == StatusSuccess
}

// ResultContent returns the result payload, substituting an empty JSON
// object when none was produced.
func (r ToolResult) ResultContent() *content.Content {
	if r.Result == nil {
		return content.NewObject()
	}
	return r.Result
}

// MarshalJSON emits the wire result shape:
// {"success": bool, "status": "...", "result": {...}, "error": "..."}.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Success bool             `json:"success"`
		Status  string           `json:"status"`
		Result  *content.Content `json:"result"`
		Error   string           `json:"error,omitempty"`
	}{
		Success: r.Success(),
		Status:  r.Status.String(),
		Result:  r.ResultContent(),
		Error:   r.Message,
	}
	return json.Marshal(out)
}

// SuccessResult creates a successful result carrying the given payload.
func SuccessResult(result *content.Content) ToolResult {
	return ToolResult{Status: StatusSuccess, Result: result}
}

// FailureResult creates a failed result with the given status and message.
func FailureResult(status Status, message string) ToolResult {
	return ToolResult{Status: status, Message: message}
}
