package tools

import (
	"errors"
	"fmt"
	"sync"
)

// DuplicateToolError is returned when a name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// Registry maps tool names to tools. It is populated at startup and read
// concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool under its schema name. The registry is unchanged
// when an error is returned.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Schema.Name == "" {
		return errors.New("register tool: empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", t.Schema.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Schema.Name]; exists {
		return &DuplicateToolError{Name: t.Schema.Name}
	}
	r.tools[t.Schema.Name] = t
	r.order = append(r.order, t.Schema.Name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListNames returns every registered name in registration order.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// AllSchemas returns the schema of every tool in registration order.
func (r *Registry) AllSchemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema)
	}
	return schemas
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
