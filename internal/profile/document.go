// Package profile loads the personal profile document that grounds every
// persona answer. A Document is loaded once at boot and never mutated.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty     = errors.New("profile document is empty")
	ErrNotObject = errors.New("profile document must be a JSON object")
	ErrNotFound  = errors.New("profile not found")
)

// Document is an immutable, opaque profile record. Its canonical form is the
// compact JSON serialization embedded into prompts.
type Document struct {
	compact string
	fields  map[string]any
}

// Parse validates a JSON object and keeps its compact serialization in source key order.
func Parse(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, ErrEmpty
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Document{}, ErrNotObject
		}
		return Document{}, fmt.Errorf("decode profile: %w", err)
	}
	if fields == nil {
		return Document{}, ErrNotObject
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return Document{}, fmt.Errorf("compact profile: %w", err)
	}
	return Document{compact: buf.String(), fields: fields}, nil
}

// FromMap builds a Document from already-decoded fields, e.g. a YAML source.
// Keys are serialized in sorted order.
func FromMap(fields map[string]any) (Document, error) {
	if len(fields) == 0 {
		return Document{}, ErrEmpty
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode profile: %w", err)
	}
	return Parse(data)
}

// JSON returns the compact serialization.
func (d Document) JSON() string {
	return d.compact
}

func (d Document) IsZero() bool {
	return d.compact == ""
}

// Name returns the owner's display name from the usual profile shapes:
// a top-level "name", or "name" nested under a personal-info section.
func (d Document) Name() string {
	if name := stringField(d.fields, "name"); name != "" {
		return name
	}
	for _, section := range []string{"personalInfo", "personal_info", "basics", "contact"} {
		nested, ok := d.fields[section].(map[string]any)
		if !ok {
			continue
		}
		if name := stringField(nested, "name"); name != "" {
			return name
		}
	}
	return ""
}

// Field returns a top-level value. Maps and slices are shared with the
// document and must not be modified.
func (d Document) Field(key string) (any, bool) {
	v, ok := d.fields[key]
	return v, ok
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
