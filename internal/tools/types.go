// Package tools holds the tool catalog: schemas, permissions, the registry
// that maps names to handlers, and the loader for command-backed tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Permission is a capability a tool needs before it may run.
type Permission string

const (
	PermRead    Permission = "read"
	PermWrite   Permission = "write"
	PermDelete  Permission = "delete"
	PermNetwork Permission = "network"
	PermSystem  Permission = "system"
)

// DefaultPermissions is granted when a caller does not specify any.
var DefaultPermissions = []Permission{PermRead, PermWrite}

// ErrInvalidPermission is returned for tokens outside the permission set.
var ErrInvalidPermission = errors.New("invalid permission")

// ParsePermission translates an external token into a Permission.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case PermRead, PermWrite, PermDelete, PermNetwork, PermSystem:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
}

// ParsePermissions translates a list of tokens. It fails on the first
// unrecognized token. A nil input yields a nil result.
func ParsePermissions(tokens []string) ([]Permission, error) {
	if tokens == nil {
		return nil, nil
	}
	perms := make([]Permission, 0, len(tokens))
	for _, tok := range tokens {
		p, err := ParsePermission(tok)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// Parameter describes one argument a tool accepts.
type Parameter struct {
	Name        string `json:"name" toml:"name" yaml:"name"`
	Type        string `json:"type" toml:"type" yaml:"type"`
	Description string `json:"description" toml:"description" yaml:"description"`
	Required    bool   `json:"required" toml:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" toml:"default" yaml:"default"`
}

// Schema is the declared metadata of a tool.
type Schema struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  []Parameter  `json:"parameters"`
	Returns     string       `json:"returns"`
	Permissions []Permission `json:"permissions"`
	Examples    []string     `json:"examples,omitempty"`
}

// Requires reports the first permission in the schema that allowed lacks.
func (s Schema) Requires(allowed []Permission) (Permission, bool) {
	for _, need := range s.Permissions {
		granted := false
		for _, have := range allowed {
			if have == need {
				granted = true
				break
			}
		}
		if !granted {
			return need, true
		}
	}
	return "", false
}

// Handler is the callable body of a tool.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool binds a schema to its handler.
type Tool struct {
	Schema  Schema
	Handler Handler
}

// NewTool builds a tool from a schema and handler.
func NewTool(schema Schema, handler Handler) *Tool {
	return &Tool{Schema: schema, Handler: handler}
}

// Name returns the registered name of the tool.
func (t *Tool) Name() string { return t.Schema.Name }

// Call invokes the handler.
func (t *Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}

// StringArg returns args[key] as a string, or def when absent or empty.
func StringArg(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if s == "" {
		return def
	}
	return s
}

// IntArg returns args[key] as an int. JSON numbers arrive as float64.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// FloatArg returns args[key] as a float64.
func FloatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
