package tools

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"
)

// RequiredInt reads an integer argument. Numbers and numeric strings are
// accepted.
func RequiredInt(req mcp.CallToolRequest, key string) (int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
	return n, nil
}

// OptionalInt reads an integer argument that may be absent or null.
func OptionalInt(req mcp.CallToolRequest, key string) (*int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return nil, fmt.Errorf("argument %q must be an integer", key)
	}
	return &n, nil
}

// IntOr reads an integer argument, returning def when it is absent.
func IntOr(req mcp.CallToolRequest, key string, def int) (int, error) {
	n, err := OptionalInt(req, key)
	if err != nil || n == nil {
		return def, err
	}
	return *n, nil
}

// RequiredString reads a non-empty string argument.
func RequiredString(req mcp.CallToolRequest, key string) (string, error) {
	s := strings.TrimSpace(req.GetString(key, ""))
	if s == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return req.GetString(key, ""), nil
}

// OptionalString reads a string argument and reports whether it was supplied.
func OptionalString(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return "", false
	}
	return cast.ToString(v), true
}

// ObjectArg reads an argument holding a JSON object, given either as an
// object or as its JSON text. An absent or empty argument yields nil.
func ObjectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %v", key, v)
	}
	return m, nil
}
