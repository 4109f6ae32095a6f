package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func echoTool(name string, perms ...Permission) *Tool {
	return NewTool(Schema{Name: name, Description: "echo", Permissions: perms},
		func(_ context.Context, args map[string]any) (any, error) { return args, nil })
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("embedder", PermRead)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Get("embedder")
	if !ok {
		t.Fatal("expected embedder to be registered")
	}
	if got != tool {
		t.Error("Get returned a different tool")
	}

	again, _ := r.Get("embedder")
	if again != got {
		t.Error("repeated Get should return the same tool")
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing tool to be absent")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	first := echoTool("vector_db", PermRead)
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		err := r.Register(echoTool("vector_db", PermWrite))
		var dup *DuplicateToolError
		if !errors.As(err, &dup) {
			t.Fatalf("attempt %d: expected DuplicateToolError, got %v", i, err)
		}
		if dup.Name != "vector_db" {
			t.Errorf("dup.Name = %q, want vector_db", dup.Name)
		}
	}

	got, _ := r.Get("vector_db")
	if got != first {
		t.Error("duplicate registration replaced the original tool")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil tool")
	}
	if err := r.Register(&Tool{Schema: Schema{Name: "x"}}); err == nil {
		t.Error("expected error for nil handler")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestListNamesOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"embedder", "vector_db", "llm_summarizer", "chat_model"}
	for _, n := range names {
		if err := r.Register(echoTool(n, PermRead)); err != nil {
			t.Fatal(err)
		}
	}

	got := r.ListNames()
	if len(got) != len(names) {
		t.Fatalf("ListNames() len = %d, want %d", len(got), len(names))
	}
	for i := range names {
		if got[i] != names[i] {
			t.Errorf("ListNames()[%d] = %q, want %q", i, got[i], names[i])
		}
	}

	schemas := r.AllSchemas()
	if len(schemas) != len(names) || schemas[2].Name != "llm_summarizer" {
		t.Errorf("AllSchemas() = %+v", schemas)
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRegistry()
	if tool, ok := r.Get("nope"); ok || tool != nil {
		t.Errorf("Get(nope) = %v, %v", tool, ok)
	}
}

func TestConcurrentRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(echoTool(fmt.Sprintf("tool-%d", i%10), PermRead))
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Get(fmt.Sprintf("tool-%d", i%10))
		}(i)
	}
	wg.Wait()

	if r.Len() != 10 {
		t.Errorf("Len() = %d, want 10", r.Len())
	}
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		in      []string
		want    []Permission
		wantErr bool
	}{
		{in: []string{"read", "write"}, want: []Permission{PermRead, PermWrite}},
		{in: []string{" DELETE "}, want: []Permission{PermDelete}},
		{in: []string{"network", "system"}, want: []Permission{PermNetwork, PermSystem}},
		{in: []string{}, want: []Permission{}},
		{in: []string{"read", "admin"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParsePermissions(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPermission) {
				t.Errorf("ParsePermissions(%v) error = %v, want ErrInvalidPermission", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePermissions(%v) error = %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParsePermissions(%v) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParsePermissions(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}

	if got, err := ParsePermissions(nil); got != nil || err != nil {
		t.Errorf("ParsePermissions(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestSchemaRequires(t *testing.T) {
	s := Schema{Name: "db_deleter", Permissions: []Permission{PermRead, PermDelete, PermSystem}}

	missing, ok := s.Requires([]Permission{PermRead, PermWrite})
	if !ok || missing != PermDelete {
		t.Errorf("Requires = %q, %v; want delete, true", missing, ok)
	}

	if _, ok := s.Requires([]Permission{PermRead, PermDelete, PermSystem}); ok {
		t.Error("expected all permissions satisfied")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{"s": "hi", "n": float64(3), "f": 2, "empty": ""}
	if got := StringArg(args, "s", "x"); got != "hi" {
		t.Errorf("StringArg = %q", got)
	}
	if got := StringArg(args, "empty", "def"); got != "def" {
		t.Errorf("StringArg(empty) = %q, want def", got)
	}
	if got := StringArg(args, "n", ""); got != "3" {
		t.Errorf("StringArg(n) = %q, want 3", got)
	}
	if got := IntArg(args, "n", 0); got != 3 {
		t.Errorf("IntArg = %d, want 3", got)
	}
	if got := FloatArg(args, "f", 0); got != 2 {
		t.Errorf("FloatArg = %v, want 2", got)
	}
}

func TestScratchpadContext(t *testing.T) {
	sp := NewScratchpad()
	ctx := WithScratchpad(context.Background(), sp)
	ScratchpadFrom(ctx).Set("query", "resume")
	if got := sp.String("query"); got != "resume" {
		t.Errorf("scratchpad query = %q, want resume", got)
	}

	detached := ScratchpadFrom(context.Background())
	if _, ok := detached.Get("query"); ok {
		t.Error("detached scratchpad should be empty")
	}
}
