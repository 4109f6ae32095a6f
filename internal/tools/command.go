package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const defaultCommandTimeout = 30 * time.Second

// Manifest declares a tool backed by an external command. It is read from
// tool.toml or tool.yaml in the tool's directory.
type Manifest struct {
	Name        string      `toml:"name" yaml:"name"`
	Description string      `toml:"description" yaml:"description"`
	Command     string      `toml:"command" yaml:"command"`
	Args        []string    `toml:"args" yaml:"args"`
	Env         []string    `toml:"env" yaml:"env"`
	Parameters  []Parameter `toml:"parameters" yaml:"parameters"`
	Returns     string      `toml:"returns" yaml:"returns"`
	Permissions []string    `toml:"permissions" yaml:"permissions"`
	Examples    []string    `toml:"examples" yaml:"examples"`
	TimeoutSecs int         `toml:"timeout_secs" yaml:"timeout_secs"`
}

// ParseManifestTOML decodes a TOML manifest.
func ParseManifestTOML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse TOML: %w", err)
	}
	return &m, m.validate()
}

// ParseManifestYAML decodes a YAML manifest.
func ParseManifestYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &m, m.validate()
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return errors.New("manifest: name is required")
	}
	if m.Command == "" {
		return fmt.Errorf("manifest %q: command is required", m.Name)
	}
	if _, err := ParsePermissions(m.Permissions); err != nil {
		return fmt.Errorf("manifest %q: %w", m.Name, err)
	}
	return nil
}

// CommandTool runs a manifest's command as a subprocess.
type CommandTool struct {
	Manifest Manifest
	Dir      string
	Timeout  time.Duration
	logger   *slog.Logger
}

// Tool wraps the command as a registry tool.
func (c *CommandTool) Tool() *Tool {
	perms, _ := ParsePermissions(c.Manifest.Permissions)
	return NewTool(Schema{
		Name:        c.Manifest.Name,
		Description: c.Manifest.Description,
		Parameters:  c.Manifest.Parameters,
		Returns:     c.Manifest.Returns,
		Permissions: perms,
		Examples:    c.Manifest.Examples,
	}, c.Run)
}

// Run executes the command. Arguments named "$key" in the manifest are
// substituted from args and every arg is also exported as TOOL_ARG_<KEY>.
// A non-zero exit becomes an error carrying stderr.
func (c *CommandTool) Run(ctx context.Context, args map[string]any) (any, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, p := range c.Manifest.Parameters {
		if _, ok := args[p.Name]; !ok {
			if p.Required && p.Default == nil {
				return nil, fmt.Errorf("missing required argument %q", p.Name)
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
		}
	}

	cmdArgs := make([]string, len(c.Manifest.Args))
	for i, arg := range c.Manifest.Args {
		if strings.HasPrefix(arg, "$") {
			cmdArgs[i] = StringArg(args, arg[1:], "")
		} else {
			cmdArgs[i] = arg
		}
	}

	c.logger.Debug("executing command tool", "tool", c.Manifest.Name, "command", c.Manifest.Command, "args", cmdArgs)

	cmd := exec.CommandContext(ctx, c.Manifest.Command, cmdArgs...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	for _, envDef := range c.Manifest.Env {
		cmd.Env = append(cmd.Env, os.ExpandEnv(envDef))
	}
	for k, v := range args {
		cmd.Env = append(cmd.Env, fmt.Sprintf("TOOL_ARG_%s=%v", strings.ToUpper(k), v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("run %s: %s", c.Manifest.Command, msg)
	}

	return strings.TrimRight(stdout.String(), "\n"), nil
}

// Loader discovers command tools under a directory. Each subdirectory
// holding a tool.toml or tool.yaml is one tool.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	return &Loader{dir: dir, logger: logger.With("component", "tool-loader")}
}

// LoadAll reads every manifest under the directory. Broken manifests are
// logged and skipped. A missing directory yields no tools.
func (l *Loader) LoadAll() ([]*CommandTool, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("tools directory does not exist, skipping", "dir", l.dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read tools dir: %w", err)
	}

	var loaded []*CommandTool
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.dir, entry.Name())
		ct, err := l.load(dir)
		if err != nil {
			l.logger.Warn("failed to load command tool", "dir", dir, "error", err)
			continue
		}
		loaded = append(loaded, ct)
	}
	return loaded, nil
}

func (l *Loader) load(dir string) (*CommandTool, error) {
	var (
		m   *Manifest
		err error
	)
	if data, rerr := os.ReadFile(filepath.Join(dir, "tool.toml")); rerr == nil {
		m, err = ParseManifestTOML(data)
	} else if data, rerr := os.ReadFile(filepath.Join(dir, "tool.yaml")); rerr == nil {
		m, err = ParseManifestYAML(data)
	} else {
		return nil, errors.New("no tool.toml or tool.yaml")
	}
	if err != nil {
		return nil, err
	}

	timeout := defaultCommandTimeout
	if m.TimeoutSecs > 0 {
		timeout = time.Duration(m.TimeoutSecs) * time.Second
	}
	m.Command = expandHome(m.Command)

	return &CommandTool{Manifest: *m, Dir: dir, Timeout: timeout, logger: l.logger}, nil
}

// RegisterAll loads every command tool and registers it. Tools whose name is
// already taken are skipped with a warning. It returns how many registered.
func (l *Loader) RegisterAll(reg *Registry) (int, error) {
	loaded, err := l.LoadAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ct := range loaded {
		if err := reg.Register(ct.Tool()); err != nil {
			var dup *DuplicateToolError
			if errors.As(err, &dup) {
				l.logger.Warn("command tool name already registered, skipping", "tool", dup.Name, "dir", ct.Dir)
				continue
			}
			return n, err
		}
		l.logger.Info("registered command tool", "tool", ct.Manifest.Name, "permissions", ct.Manifest.Permissions)
		n++
	}
	return n, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
