package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds federator process configuration. Values are resolved in
// priority order: explicit options, environment variables, optional YAML
// file, defaults.
type Config struct {
	// ServiceName identifies the process in logs and traces
	ServiceName string `yaml:"service_name"`

	// Port for the ingress HTTP server
	Port int `yaml:"port"`

	// RedisURL enables the Redis-backed source registry when set.
	// Empty means the in-memory registry.
	RedisURL string `yaml:"redis_url"`

	// SourceHosts overrides the default manifest hosts, keyed by source id
	SourceHosts map[string]string `yaml:"source_hosts"`

	// LLM holds language model client configuration
	LLM LLMConfig `yaml:"llm"`

	// Telemetry enables OTel trace export
	TelemetryEnabled bool `yaml:"telemetry_enabled"`
}

// LLMConfig configures the planner's LLM client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Option configures a Config
type Option func(*Config)

// WithPort sets the ingress port
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithRedisURL enables the Redis registry
func WithRedisURL(url string) Option {
	return func(c *Config) {
		c.RedisURL = url
	}
}

// WithSourceHost overrides a single source host
func WithSourceHost(sourceID, host string) Option {
	return func(c *Config) {
		if c.SourceHosts == nil {
			c.SourceHosts = make(map[string]string)
		}
		c.SourceHosts[sourceID] = host
	}
}

// WithLLM sets the LLM client configuration
func WithLLM(cfg LLMConfig) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithTelemetry toggles OTel trace export
func WithTelemetry(enabled bool) Option {
	return func(c *Config) {
		c.TelemetryEnabled = enabled
	}
}

// NewConfig builds a Config from defaults, an optional YAML file
// (FEDERATOR_CONFIG_FILE), environment variables, then explicit options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		ServiceName: "federator",
		Port:        8000,
		LLM: LLMConfig{
			Model: "gemini-2.5-flash",
		},
	}

	if path := os.Getenv("FEDERATOR_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvironment()

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, &FederationError{Op: "config.New", Kind: "config",
			Message: fmt.Sprintf("port %d out of range", cfg.Port), Err: ErrInvalidConfiguration}
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &FederationError{Op: "config.Load", Kind: "config", ID: path, Err: err}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &FederationError{Op: "config.Load", Kind: "config", ID: path, Err: fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)}
	}
	return nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("FEDERATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("FEDERATOR_TELEMETRY"); v != "" {
		c.TelemetryEnabled = v == "true" || v == "1"
	}

	// FEDERATOR_SOURCE_<ID>=<host> overrides individual manifests,
	// e.g. FEDERATOR_SOURCE_SQL_CUSTOMERS=http://sql:8001
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "FEDERATOR_SOURCE_") {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		id := strings.ToLower(strings.TrimPrefix(parts[0], "FEDERATOR_SOURCE_"))
		if c.SourceHosts == nil {
			c.SourceHosts = make(map[string]string)
		}
		c.SourceHosts[id] = parts[1]
	}
}

// Manifests returns the default manifests with any configured host
// overrides applied.
func (c *Config) Manifests() []*Manifest {
	out := make([]*Manifest, 0, len(DefaultManifests))
	for _, m := range DefaultManifests {
		cp := *m
		if host, ok := c.SourceHosts[m.ID]; ok {
			cp.Host = host
		}
		out = append(out, &cp)
	}
	return out
}
