package tools

import (
	"context"
	"sync"
)

// Scratchpad carries values between the steps of a single plan execution.
// Steps in a plan do not pass outputs to each other through their
// arguments, so tools that build on an earlier step read from here.
type Scratchpad struct {
	mu     sync.Mutex
	values map[string]any
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{values: make(map[string]any)}
}

// Set stores a value.
func (s *Scratchpad) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Get returns a stored value.
func (s *Scratchpad) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// String returns a stored string, or "".
func (s *Scratchpad) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

type scratchpadKey struct{}

// WithScratchpad returns a context carrying sp.
func WithScratchpad(ctx context.Context, sp *Scratchpad) context.Context {
	return context.WithValue(ctx, scratchpadKey{}, sp)
}

// ScratchpadFrom returns the scratchpad in ctx. When there is none, a fresh
// detached one is returned so tools can be called outside an execution.
func ScratchpadFrom(ctx context.Context) *Scratchpad {
	if sp, ok := ctx.Value(scratchpadKey{}).(*Scratchpad); ok && sp != nil {
		return sp
	}
	return NewScratchpad()
}
