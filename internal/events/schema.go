package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownEventType = errors.New("unknown event type")

// FieldError names one offending payload field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SchemaValidationError enumerates every field that failed validation.
type SchemaValidationError struct {
	EventType string
	Fields    []FieldError
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.EventType, strings.Join(parts, "; "))
}

type kind int

const (
	kindString kind = iota
	kindBool
)

type field struct {
	name     string
	kind     kind
	required bool
	nonEmpty bool
	literal  *bool
}

func requiredString(name string) field {
	return field{name: name, kind: kindString, required: true, nonEmpty: true}
}

func optionalString(name string) field {
	return field{name: name, kind: kindString}
}

func literalBool(name string, v bool) field {
	return field{name: name, kind: kindBool, required: true, literal: &v}
}

// Schema checks one event type's payload shape and decodes it into its
// typed payload struct. Unknown fields are tolerated.
type Schema struct {
	EventType string
	fields    []field
	decode    func(raw json.RawMessage) (any, error)
}

func newSchema[P any](eventType string, fields ...field) Schema {
	return Schema{
		EventType: eventType,
		fields:    fields,
		decode: func(raw json.RawMessage) (any, error) {
			var p P
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}

func (s Schema) Validate(raw json.RawMessage) (any, error) {
	var obj map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &obj) != nil {
		return nil, &SchemaValidationError{
			EventType: s.EventType,
			Fields:    []FieldError{{Field: "payload", Reason: "must be an object"}},
		}
	}

	var failures []FieldError
	for _, f := range s.fields {
		if reason := f.check(obj); reason != "" {
			failures = append(failures, FieldError{Field: f.name, Reason: reason})
		}
	}
	if len(failures) > 0 {
		return nil, &SchemaValidationError{EventType: s.EventType, Fields: failures}
	}

	payload, err := s.decode(raw)
	if err != nil {
		return nil, &SchemaValidationError{
			EventType: s.EventType,
			Fields:    []FieldError{{Field: "payload", Reason: err.Error()}},
		}
	}
	return payload, nil
}

func (f field) check(obj map[string]json.RawMessage) string {
	v, ok := obj[f.name]
	if !ok || isNull(v) {
		if f.required {
			return "is required"
		}
		return ""
	}

	switch f.kind {
	case kindString:
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "must be a string"
		}
		if f.nonEmpty && strings.TrimSpace(s) == "" {
			return "must not be empty"
		}
	case kindBool:
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "must be a boolean"
		}
		if f.literal != nil && b != *f.literal {
			return fmt.Sprintf("must be %t", *f.literal)
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Registry maps event types to their schemas. It is built once and read-only
// afterwards.
type Registry struct {
	schemas map[string]Schema
}

func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{schemas: make(map[string]Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.EventType] = s
	}
	return r
}

func (r *Registry) Lookup(eventType string) (Schema, bool) {
	s, ok := r.schemas[eventType]
	return s, ok
}

func (r *Registry) Validate(eventType string, raw json.RawMessage) (any, error) {
	s, ok := r.Lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return s.Validate(raw)
}

func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode validates raw against eventType and returns the typed payload.
func Decode[P any](r *Registry, eventType string, raw json.RawMessage) (P, error) {
	var zero P
	v, err := r.Validate(eventType, raw)
	if err != nil {
		return zero, err
	}
	p, ok := v.(P)
	if !ok {
		return zero, fmt.Errorf("%s decodes to %T, not %T", eventType, v, zero)
	}
	return p, nil
}
