// Package config provides configuration loading for the control plane.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Nats     NatsConfig     `koanf:"nats"`
	Stream   StreamConfig   `koanf:"stream"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Policy   PolicyConfig   `koanf:"policy"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig configures the two HTTP listeners.
type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"`
	InternalPort    int           `koanf:"internal_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

// NatsConfig configures the event bus. With Embedded set, an in-process
// server is started and URL is ignored.
type NatsConfig struct {
	Embedded bool   `koanf:"embedded"`
	URL      string `koanf:"url"`
	StoreDir string `koanf:"store_dir"`
}

// StreamConfig configures fan-out and replay behavior.
type StreamConfig struct {
	ReplayLimit  int           `koanf:"replay_limit"`
	ReplayMaxAge time.Duration `koanf:"replay_max_age"`
	Heartbeat    time.Duration `koanf:"heartbeat"`
	ConnBuffer   int           `koanf:"conn_buffer"`
}

// WorkflowConfig configures lifecycle ceilings, tool deadlines, and the
// directory agent worktrees are checked out under.
type WorkflowConfig struct {
	MaxPlanRevisions int           `koanf:"max_plan_revisions"`
	MaxReviewRounds  int           `koanf:"max_review_rounds"`
	ToolTimeout      time.Duration `koanf:"tool_timeout"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	WorktreeRoot     string        `koanf:"worktree_root"`
}

// PolicyConfig configures the operator-supplied rego rule.
type PolicyConfig struct {
	RegoPath string `koanf:"rego_path"`
	Watch    bool   `koanf:"watch"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

const envPrefix = "CONDUCTOR_"

// Load reads configuration with the precedence env > yaml file > defaults.
// The file path comes from the argument or CONDUCTOR_CONFIG; a missing file
// is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv(envPrefix + "CONFIG")
	}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment overrides: CONDUCTOR_SERVER_HTTP_PORT -> server.http_port.
	// Split on the first underscore after the prefix (section.field pattern).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.InternalPort <= 0 || c.Server.InternalPort > 65535 {
		return fmt.Errorf("invalid server.internal_port: %d", c.Server.InternalPort)
	}
	if c.Server.HTTPPort == c.Server.InternalPort {
		return fmt.Errorf("server.http_port and server.internal_port must differ")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Stream.ReplayLimit <= 0 {
		return fmt.Errorf("invalid stream.replay_limit: %d", c.Stream.ReplayLimit)
	}
	if c.Stream.ReplayMaxAge <= 0 {
		return fmt.Errorf("invalid stream.replay_max_age: %s", c.Stream.ReplayMaxAge)
	}
	if c.Stream.ConnBuffer <= 0 {
		return fmt.Errorf("invalid stream.conn_buffer: %d", c.Stream.ConnBuffer)
	}
	if c.Workflow.MaxPlanRevisions <= 0 || c.Workflow.MaxReviewRounds <= 0 {
		return fmt.Errorf("workflow ceilings must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	return nil
}

var defaultsYAML = []byte(`
server:
  http_port: 8080
  internal_port: 9090
  shutdown_timeout: 10s
database:
  dsn: conductor.db
nats:
  embedded: true
  url: nats://127.0.0.1:4222
  store_dir: ""
stream:
  replay_limit: 100
  replay_max_age: 5m
  heartbeat: 30s
  conn_buffer: 64
workflow:
  max_plan_revisions: 3
  max_review_rounds: 3
  tool_timeout: 60s
  sweep_interval: 1s
  worktree_root: worktrees
policy:
  rego_path: ""
  watch: false
log:
  level: info
  format: json
`)
