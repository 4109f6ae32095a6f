package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/opera-os/opera/internal/tools"
)

// fileTools operate inside a single workspace directory. Paths are resolved
// through os.Root, so ".." and symlinks cannot escape it.
type fileTools struct {
	root string
}

const maxReadBytes = 1 << 20

func (f *fileTools) catalog() []*tools.Tool {
	return []*tools.Tool{
		tools.NewTool(schema("read_file", "Read contents of a file in the workspace", "file contents", readOnly,
			param("path", "string", "path relative to the workspace", true)), f.read),
		tools.NewTool(schema("list_files", "List files in a workspace directory", "file names", readOnly,
			param("directory", "string", "directory relative to the workspace", false)), f.list),
		tools.NewTool(schema("write_file", "Write content to a file in the workspace", "confirmation message", writeOnly,
			param("path", "string", "path relative to the workspace", true),
			param("content", "string", "content to write", true)), f.write),
	}
}

func (f *fileTools) open() (*os.Root, error) {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return nil, err
	}
	return os.OpenRoot(f.root)
}

func (f *fileTools) read(_ context.Context, args map[string]any) (any, error) {
	path := tools.StringArg(args, "path", "")
	if path == "" {
		return nil, errors.New("read_file: path is required")
	}
	root, err := f.open()
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	defer root.Close()

	info, err := root.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("read_file: %s is %d bytes, limit is %d", path, info.Size(), maxReadBytes)
	}
	data, err := root.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

func (f *fileTools) list(_ context.Context, args map[string]any) (any, error) {
	dir := tools.StringArg(args, "directory", ".")
	root, err := f.open()
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	defer root.Close()

	d, err := root.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	defer d.Close()
	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fileTools) write(_ context.Context, args map[string]any) (any, error) {
	path := tools.StringArg(args, "path", "")
	if path == "" {
		return nil, errors.New("write_file: path is required")
	}
	content := tools.StringArg(args, "content", "")

	root, err := f.open()
	if err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	defer root.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("write_file: %w", err)
		}
	}
	if err := root.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}
