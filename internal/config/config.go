// ABOUTME: Configuration loading and parsing for coven-concierge
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-concierge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	VSAgent   VSAgentConfig   `yaml:"vs_agent"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	AgentPack AgentPackConfig `yaml:"agent_pack"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Memory    MemoryConfig    `yaml:"memory"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Stats     StatsConfig     `yaml:"stats"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the webhook listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // public HTTPS for the VS Agent to reach the webhooks
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds webhook authentication configuration. An empty secret
// leaves the webhooks open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// VSAgentConfig holds the VS Agent channel configuration
type VSAgentConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AdminURL       string        `yaml:"admin_url"`
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// MatrixConfig holds Matrix channel configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms"`
}

// AgentPackConfig locates the agent pack and holds service-level fallbacks
// for values the pack may omit.
type AgentPackConfig struct {
	Path                   string `yaml:"path"`
	CredentialDefinitionID string `yaml:"credential_definition_id"`
	AgentPrompt            string `yaml:"agent_prompt"`
}

// LLMConfig holds LLM provider configuration. Zero values defer to the agent pack.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// RAGConfig holds retrieval configuration. Zero values defer to the agent pack.
type RAGConfig struct {
	DocsPath     string `yaml:"docs_path"`
	IndexPath    string `yaml:"index_path"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
}

// MemoryConfig holds conversation memory configuration. Zero values defer to the agent pack.
type MemoryConfig struct {
	Backend  string        `yaml:"backend"`
	Window   int           `yaml:"window"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// DispatchConfig tunes per-connection event processing
type DispatchConfig struct {
	MaxPending  int           `yaml:"max_pending"`
	DedupeSize  int           `yaml:"dedupe_size"`
	IdleTimeout time.Duration `yaml:"-"`
	DedupeTTL   time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
	DedupeTTLRaw   string `yaml:"dedupe_ttl"`
}

// StatsConfig tunes the stat event spool
type StatsConfig struct {
	Buffer int `yaml:"buffer"`
}

// ToolsConfig configures the tools the model may call
type ToolsConfig struct {
	Statistics StatisticsToolConfig `yaml:"statistics"`
}

// StatisticsToolConfig configures the statistics tool. Nil flags and an
// empty endpoint defer to the agent pack.
type StatisticsToolConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	RequiresAuth *bool  `yaml:"requires_auth"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default values applied by Load.
const (
	DefaultHTTPAddr        = ":3000"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultStatsBuffer     = 256
)

// DefaultPath returns the configuration file location.
// Priority: COVEN_CONCIERGE_CONFIG > XDG_CONFIG_HOME/coven/concierge.yaml > ~/.config/coven/concierge.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_CONCIERGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "concierge.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "concierge.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.VSAgent.RequestTimeout == 0 {
		c.VSAgent.RequestTimeout = DefaultRequestTimeout
	}
	if c.Stats.Buffer == 0 {
		c.Stats.Buffer = DefaultStatsBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Memory.Backend = strings.ToLower(c.Memory.Backend)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.VSAgent.Enabled && !c.Matrix.Enabled {
		return fmt.Errorf("at least one channel must be enabled (vs_agent or matrix)")
	}

	if c.VSAgent.Enabled {
		if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
		if err := validateHTTPURL("vs_agent.admin_url", c.VSAgent.AdminURL); err != nil {
			return err
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.homeserver, matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.LLM.Provider {
	case "", "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.provider must be openai, anthropic or ollama, got %q", c.LLM.Provider)
	}

	switch c.Memory.Backend {
	case "", "memory":
	case "redis":
		if c.Memory.RedisURL == "" {
			return fmt.Errorf("memory.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("memory.backend must be memory or redis, got %q", c.Memory.Backend)
	}
	if c.Memory.Window < 0 {
		return fmt.Errorf("memory.window must not be negative")
	}

	if c.RAG.ChunkSize < 0 || c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("rag.chunk_size and rag.chunk_overlap must not be negative")
	}
	if c.RAG.ChunkSize > 0 && c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be smaller than rag.chunk_size")
	}

	if ep := c.Tools.Statistics.Endpoint; ep != "" {
		if err := validateHTTPURL("tools.statistics.endpoint", ep); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"vs_agent.request_timeout", cfg.VSAgent.RequestTimeoutRaw, &cfg.VSAgent.RequestTimeout},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"memory.ttl", cfg.Memory.TTLRaw, &cfg.Memory.TTL},
		{"dispatch.idle_timeout", cfg.Dispatch.IdleTimeoutRaw, &cfg.Dispatch.IdleTimeout},
		{"dispatch.dedupe_ttl", cfg.Dispatch.DedupeTTLRaw, &cfg.Dispatch.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
