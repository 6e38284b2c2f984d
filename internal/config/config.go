package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Projects  ProjectsConfig  `yaml:"projects"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Store     StoreConfig     `yaml:"store"`
	Logstream LogstreamConfig `yaml:"logstream"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Events    EventsConfig    `yaml:"events"`
	Schedules []Schedule      `yaml:"schedules,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout,omitempty"`
	WriteTimeout    string `yaml:"write_timeout,omitempty"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// ProjectsConfig locates and manages the firmware project tree
type ProjectsConfig struct {
	Root  string `yaml:"root"`
	Watch bool   `yaml:"watch"`
}

// ToolchainConfig describes the external build tool invocation
type ToolchainConfig struct {
	Program       string   `yaml:"program"`
	DefaultTarget string   `yaml:"default_target,omitempty"`
	GracePeriod   string   `yaml:"grace_period,omitempty"`
	ExtraEnv      []string `yaml:"extra_env,omitempty"` // KEY=VALUE pairs appended to the process env
}

// StoreConfig configures the durable unit store
type StoreConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit,omitempty"`
}

// LogstreamConfig tunes the live log fan-out
type LogstreamConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer,omitempty"`
}

// MetricsConfig toggles Prometheus metrics exposure
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EventsConfig configures the optional NATS lifecycle publisher
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Schedule declares a recurring build operation
type Schedule struct {
	Name    string `yaml:"name"`
	Project string `yaml:"project"`
	Op      string `yaml:"op"`
	Target  string `yaml:"target,omitempty"`
	Every   string `yaml:"every"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env before expansion so ${VAR} references resolve
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment variables from .env")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8733"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		// Streaming endpoints hold the response open; zero disables the write deadline
		c.Server.WriteTimeout = "0"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "30s"
	}
	if c.Projects.Root == "" {
		c.Projects.Root = "./projects"
	}
	if c.Toolchain.Program == "" {
		c.Toolchain.Program = "idf.py"
	}
	if c.Toolchain.GracePeriod == "" {
		c.Toolchain.GracePeriod = "5s"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./fwforge.db"
	}
	if c.Store.HistoryLimit <= 0 {
		c.Store.HistoryLimit = 200
	}
	if c.Logstream.SubscriberBuffer <= 0 {
		c.Logstream.SubscriberBuffer = 256
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "fwforge.units"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later as confusing runtime failures.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("invalid server.read_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("invalid server.write_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid server.shutdown_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Toolchain.GracePeriod); err != nil {
		return fmt.Errorf("invalid toolchain.grace_period: %w", err)
	}
	for i, s := range c.Schedules {
		if s.Project == "" {
			return fmt.Errorf("schedule %d: project is required", i)
		}
		if s.Op == "" {
			return fmt.Errorf("schedule %d: op is required", i)
		}
		if _, err := time.ParseDuration(s.Every); err != nil {
			return fmt.Errorf("schedule %d: invalid every: %w", i, err)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %q (want text or json)", c.Logging.Format)
	}
	return nil
}

// Duration accessors. Values are validated at load time, so parse errors
// here fall back to the zero duration.

func (s *ServerConfig) ReadTimeoutDuration() time.Duration  { return parseDuration(s.ReadTimeout) }
func (s *ServerConfig) WriteTimeoutDuration() time.Duration { return parseDuration(s.WriteTimeout) }
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(s.ShutdownTimeout)
}

func (t *ToolchainConfig) GracePeriodDuration() time.Duration { return parseDuration(t.GracePeriod) }

func (s *Schedule) Interval() time.Duration { return parseDuration(s.Every) }

func parseDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
