package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opera-os/opera/internal/tools"
)

// Config holds all Opera configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Completion backend settings
	Models ModelsConfig `json:"models"`

	// Plan execution defaults
	Execution ExecutionConfig `json:"execution"`

	// Command tool discovery
	Tools ToolsConfig `json:"tools"`

	// Memory store
	Memory MemoryConfig `json:"memory"`

	// Execution event publishing
	Events EventsConfig `json:"events"`

	// Scheduled pipeline runs
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// API authentication
	Auth AuthConfig `json:"auth"`
}

type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// ModelsConfig selects and configures the completion backend.
type ModelsConfig struct {
	// "openai", "local", "auto" or "none"
	Provider       string       `json:"provider"`
	TimeoutSeconds int          `json:"timeoutSeconds"`
	OpenAI         OpenAIConfig `json:"openai"`
	Local          LocalConfig  `json:"local"`
}

type OpenAIConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model"`
}

// LocalConfig points at an Ollama server.
type LocalConfig struct {
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

type ExecutionConfig struct {
	DefaultPermissions []string `json:"defaultPermissions"`
}

type ToolsConfig struct {
	Dir string `json:"dir"`
	// Workspace confines the file tools. Empty disables them.
	Workspace string `json:"workspace"`
	// FetchTimeoutSeconds bounds fetch_url requests.
	FetchTimeoutSeconds int `json:"fetchTimeoutSeconds"`
}

type MemoryConfig struct {
	DBPath        string `json:"dbPath"`
	EmbeddingDims int    `json:"embeddingDims"`
}

type EventsConfig struct {
	MQTT MQTTConfig `json:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Port        int    `json:"port"`
	Host        string `json:"host"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix"`
	ClientID    string `json:"clientId,omitempty"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled"`
	Jobs    []SchedulerJobConfig `json:"jobs"`
}

// SchedulerJobConfig defines a pipeline run on a schedule
type SchedulerJobConfig struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Schedule    ScheduleConfig `json:"schedule"`
	Input       string         `json:"input"`
	Permissions []string       `json:"permissions,omitempty"`
	Enabled     bool           `json:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty"`
}

type AuthConfig struct {
	JWTSecret       string `json:"jwtSecret,omitempty"`
	TokenTTLMinutes int    `json:"tokenTtlMinutes"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8000,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Models: ModelsConfig{
			Provider:       "auto",
			TimeoutSeconds: 30,
			OpenAI:         OpenAIConfig{Model: "gpt-4o-mini"},
			Local: LocalConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.2",
			},
		},
		Execution: ExecutionConfig{
			DefaultPermissions: []string{"read", "write"},
		},
		Tools: ToolsConfig{
			Dir:                 "./tools",
			Workspace:           "./data/workspace",
			FetchTimeoutSeconds: 15,
		},
		Memory: MemoryConfig{
			EmbeddingDims: 256,
		},
		Events: EventsConfig{
			MQTT: MQTTConfig{
				Port:        1883,
				Host:        "localhost",
				TopicPrefix: "opera",
			},
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 60,
		},
	}
}

// Load reads config from a JSON file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Models.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Models.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Models.OpenAI.BaseURL = v
	}
	if v := os.Getenv("USE_LOCAL_MODEL"); v != "" {
		if local, err := strconv.ParseBool(v); err == nil {
			if local {
				c.Models.Provider = "local"
			} else {
				c.Models.Provider = "openai"
			}
		}
	}
	if v := os.Getenv("LOCAL_MODEL_NAME"); v != "" {
		c.Models.Local.Model = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Models.Local.BaseURL = v
	}
	if v := os.Getenv("OPERA_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("OPERA_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("API_HOST"); v != "" {
		c.Server.Host = v
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Models.Provider {
	case "openai", "local", "auto", "none":
	default:
		return fmt.Errorf("config: unknown models.provider %q", c.Models.Provider)
	}
	if _, err := tools.ParsePermissions(c.Execution.DefaultPermissions); err != nil {
		return fmt.Errorf("config: execution.defaultPermissions: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	ids := make(map[string]bool)
	for _, job := range c.Scheduler.Jobs {
		if job.ID == "" {
			return errors.New("config: scheduler job without id")
		}
		if ids[job.ID] {
			return fmt.Errorf("config: duplicate scheduler job id %q", job.ID)
		}
		ids[job.ID] = true
		if _, err := tools.ParsePermissions(job.Permissions); err != nil {
			return fmt.Errorf("config: scheduler job %q: %w", job.ID, err)
		}
	}
	return nil
}

// DefaultPermissions returns the parsed execution defaults.
func (c *Config) DefaultPermissions() []tools.Permission {
	perms, err := tools.ParsePermissions(c.Execution.DefaultPermissions)
	if err != nil || perms == nil {
		return tools.DefaultPermissions
	}
	return perms
}

// MemoryDBPath resolves the memory database location.
func (c *Config) MemoryDBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(c.Server.DataDir, "memory.db")
}

// Addr returns the listen address for the API server.
func (c *Config) Addr() string {
	host := strings.TrimSpace(c.Server.Host)
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
