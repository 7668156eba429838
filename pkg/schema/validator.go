package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates data against a schema
type Validator interface {
	// Validate validates data against the schema
	// Returns an error if validation fails
	Validate(data interface{}) error

	// JSONSchema returns the JSON Schema representation of this validator
	// This is used when sending schemas to AI providers
	JSONSchema() map[string]interface{}
}

// Schema represents a validation schema
// Can be implemented as JSON Schema or Go struct-based schema
type Schema interface {
	// Validator returns the validator for this schema
	Validator() Validator
}

// JSONSchemaValidator validates using JSON Schema (draft 2020-12, via
// santhosh-tekuri/jsonschema). The schema is compiled lazily on first
// Validate call and cached.
type JSONSchemaValidator struct {
	schema   map[string]interface{}
	compiled *jsonschema.Schema
}

// NewJSONSchema creates a new JSON Schema validator
func NewJSONSchema(schema map[string]interface{}) *JSONSchemaValidator {
	return &JSONSchemaValidator{schema: schema}
}

// Validate validates data against the JSON Schema. data may be a
// map[string]interface{}, a json.RawMessage, or anything json.Marshal
// accepts; it is normalized to the generic representation the
// jsonschema package expects before evaluation.
func (v *JSONSchemaValidator) Validate(data interface{}) error {
	compiled, err := v.compile()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	inst, err := toJSONInstance(data)
	if err != nil {
		return fmt.Errorf("decode instance: %w", err)
	}

	if err := compiled.Validate(inst); err != nil {
		return err
	}
	return nil
}

func (v *JSONSchemaValidator) compile() (*jsonschema.Schema, error) {
	if v.compiled != nil {
		return v.compiled, nil
	}
	if v.schema == nil {
		v.schema = map[string]interface{}{}
	}

	raw, err := json.Marshal(v.schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	const resourceURL = "chatforge://tool-schema"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, err
	}
	v.compiled = compiled
	return compiled, nil
}

// toJSONInstance round-trips data through encoding/json so maps, structs,
// and raw bytes all arrive as the plain map[string]interface{}/[]interface{}
// shape jsonschema.Validate expects.
func toJSONInstance(data interface{}) (interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// JSONSchema returns the JSON Schema
func (v *JSONSchemaValidator) JSONSchema() map[string]interface{} {
	return v.schema
}

// StructValidator validates using Go struct tags
type StructValidator struct {
	targetType reflect.Type
}

// NewStructSchema creates a new struct-based schema validator
func NewStructSchema(targetType reflect.Type) *StructValidator {
	return &StructValidator{targetType: targetType}
}

// Validate checks data against the struct's field set: every exported
// field without a `json:",omitempty"` tag must be present and non-zero
// in data. This package intentionally does not depend on
// go-playground/validator: that library only ever entered the example
// corpus as an indirect dependency of the gin web framework, and gin
// itself is not wired into this service (see DESIGN.md). Tool argument
// validation, the one place this service validates untrusted input, is
// JSON-Schema-shaped per the tool registry's contract and goes through
// JSONSchemaValidator instead; StructValidator exists only for the rare
// internal case of validating a typed Go config struct decoded from JSON.
func (v *StructValidator) Validate(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("struct validator requires an object-shaped instance: %w", err)
	}

	t := v.targetType
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("struct validator target must be a struct, got %s", t.Kind())
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		name, opts := parseJSONTag(tag, field.Name)
		if name == "-" {
			continue
		}
		if opts.omitempty {
			continue
		}
		if _, ok := decoded[name]; !ok {
			return fmt.Errorf("required field %q missing", name)
		}
	}
	return nil
}

type jsonTagOptions struct {
	omitempty bool
}

func parseJSONTag(tag, fieldName string) (string, jsonTagOptions) {
	if tag == "" {
		return fieldName, jsonTagOptions{}
	}
	parts := bytes.Split([]byte(tag), []byte(","))
	name := string(parts[0])
	if name == "" {
		name = fieldName
	}
	opts := jsonTagOptions{}
	for _, p := range parts[1:] {
		if string(p) == "omitempty" {
			opts.omitempty = true
		}
	}
	return name, opts
}

// JSONSchema generates a minimal JSON Schema describing the struct's
// required fields, derived from its json tags.
func (v *StructValidator) JSONSchema() map[string]interface{} {
	t := v.targetType
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	props := map[string]interface{}{}
	var required []string
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, opts := parseJSONTag(field.Tag.Get("json"), field.Name)
			if name == "-" {
				continue
			}
			props[name] = map[string]interface{}{"type": jsonSchemaType(field.Type)}
			if !opts.omitempty {
				required = append(required, name)
			}
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// SimpleJSONSchema is a simple implementation of Schema
type SimpleJSONSchema struct {
	validator *JSONSchemaValidator
}

// NewSimpleJSONSchema creates a simple JSON Schema
func NewSimpleJSONSchema(schema map[string]interface{}) *SimpleJSONSchema {
	return &SimpleJSONSchema{
		validator: NewJSONSchema(schema),
	}
}

// Validator returns the validator
func (s *SimpleJSONSchema) Validator() Validator {
	return s.validator
}

// SimpleStructSchema is a simple implementation of Schema using structs
type SimpleStructSchema struct {
	validator *StructValidator
}

// NewSimpleStructSchema creates a simple struct schema
func NewSimpleStructSchema(targetType reflect.Type) *SimpleStructSchema {
	return &SimpleStructSchema{
		validator: NewStructSchema(targetType),
	}
}

// Validator returns the validator
func (s *SimpleStructSchema) Validator() Validator {
	return s.validator
}
