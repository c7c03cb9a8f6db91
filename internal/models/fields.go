// Package models maps Metabase API payloads into typed records. Each record
// has one constructor reading fields one by one: required fields must be
// present, optional fields fall back to the documented default.
package models

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// FieldError reports a required field missing from a payload.
type FieldError struct {
	Record string
	Field  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("models: %s: missing required field %q", e.Record, e.Field)
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func requiredInt(r gjson.Result, record, field string) (int, error) {
	v := r.Get(field)
	if !present(v) || v.Type != gjson.Number {
		return 0, &FieldError{Record: record, Field: field}
	}
	return int(v.Int()), nil
}

func requiredString(r gjson.Result, record, field string) (string, error) {
	v := r.Get(field)
	if !present(v) {
		return "", &FieldError{Record: record, Field: field}
	}
	return v.String(), nil
}

// optString returns the field as a string, or def when absent or null.
func optString(r gjson.Result, field, def string) string {
	v := r.Get(field)
	if !present(v) {
		return def
	}
	return v.String()
}

// optInt returns the field as an int, or def when absent, null or not a number.
func optInt(r gjson.Result, field string, def int) int {
	v := r.Get(field)
	if !present(v) || v.Type != gjson.Number {
		return def
	}
	return int(v.Int())
}

// optIntPtr returns nil when the field is absent, null or not a number.
func optIntPtr(r gjson.Result, field string) *int {
	v := r.Get(field)
	if !present(v) || v.Type != gjson.Number {
		return nil
	}
	n := int(v.Int())
	return &n
}

// truthy mirrors the loose notion of an "attached" payload: absent, null,
// false, empty strings, empty objects and empty arrays are all falsy.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		if r.IsObject() {
			return len(r.Map()) > 0
		}
		return len(r.Array()) > 0
	}
	return r.Exists()
}

// Items returns the elements of a list payload. Metabase answers some list
// endpoints with a bare array and others with {"data": [...]}; both are
// accepted. Anything else yields nil.
func Items(data []byte) []gjson.Result {
	root := gjson.ParseBytes(data)
	if root.IsArray() {
		return root.Array()
	}
	if root.IsObject() {
		if d := root.Get("data"); d.IsArray() {
			return d.Array()
		}
	}
	return nil
}

func parseRoot(data []byte, record string) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("models: %s: invalid JSON payload", record)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, fmt.Errorf("models: %s: payload is not an object", record)
	}
	return root, nil
}
