// Package schema validates tool parameter payloads against the JSON Schema
// subset carried by tool descriptors (properties, required, per-property
// type, enum).
//
// Information Hiding:
// - The underlying validation engine (gojsonschema) is not exposed
// - Result mapping onto the framework's error taxonomy is internal
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
)

// MissingRequiredError reports a required key absent from the parameters.
type MissingRequiredError struct {
	Key string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Key)
}

// TypeMismatchError reports a parameter whose JSON type does not match the
// schema's declared type.
type TypeMismatchError struct {
	Key      string
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %s: expected %s, got %s", e.Key, e.Expected, e.Got)
}

// NotInEnumError reports a parameter value outside the schema's enum.
type NotInEnumError struct {
	Key string
}

func (e *NotInEnumError) Error() string {
	return fmt.Sprintf("parameter %s: value not in enum", e.Key)
}

// MalformedSchemaError reports a schema document the validator cannot compile.
type MalformedSchemaError struct {
	Reason string
}

func (e *MalformedSchemaError) Error() string {
	return fmt.Sprintf("malformed schema: %s", e.Reason)
}

// Validate checks params against schema and returns nil on success or the
// error for the first offending key. A nil or empty schema accepts anything.
// Numbers accept integer and floating literals; enum matching is exact and
// case-sensitive for strings; nested objects are only descended into when
// the schema declares nested properties.
func Validate(params, schema *content.Content) error {
	if schema == nil || !schema.IsObject() {
		return nil
	}
	if len(schema.Keys()) == 0 {
		return nil
	}

	schemaBytes, err := schema.Serialize()
	if err != nil {
		return &MalformedSchemaError{Reason: err.Error()}
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		return &MalformedSchemaError{Reason: err.Error()}
	}

	doc := params
	if doc == nil {
		doc = content.NewObject()
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc.Value()))
	if err != nil {
		return &MalformedSchemaError{Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	return mapResultError(result.Errors()[0])
}

// mapResultError translates a gojsonschema result error into the framework
// taxonomy, keyed by the offending property.
func mapResultError(re gojsonschema.ResultError) error {
	key := offendingKey(re)
	switch re.Type() {
	case "required":
		if prop, ok := re.Details()["property"].(string); ok {
			key = prop
		}
		return &MissingRequiredError{Key: key}
	case "invalid_type":
		expected, _ := re.Details()["expected"].(string)
		got, _ := re.Details()["given"].(string)
		return &TypeMismatchError{Key: key, Expected: expected, Got: got}
	case "enum":
		return &NotInEnumError{Key: key}
	default:
		return &TypeMismatchError{Key: key, Expected: re.Type(), Got: re.Description()}
	}
}

// offendingKey derives the parameter name from the result's field path. The
// path is dotted for nested properties; "(root)" marks the document itself.
func offendingKey(re gojsonschema.ResultError) string {
	field := re.Field()
	if field == "" || field == gojsonschema.STRING_CONTEXT_ROOT {
		return "(root)"
	}
	return strings.TrimPrefix(field, gojsonschema.STRING_CONTEXT_ROOT+".")
}
