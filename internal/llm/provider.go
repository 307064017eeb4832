// ABOUTME: LLM provider abstraction: one answer from a system prompt, history, user prompt, and tools
// ABOUTME: New picks OpenAI, Anthropic, or Ollama (through its OpenAI-compatible endpoint) from config

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOllamaModel    = "llama3"
	DefaultOllamaEndpoint = "http://localhost:11434"
	DefaultMaxTokens      = 1024
	DefaultTimeout        = 60 * time.Second

	// MaxToolRounds bounds the tool calls of one Generate. The round after
	// the last one runs with tool use disabled so the model must answer.
	MaxToolRounds = 4
)

var (
	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("llm returned empty content")
	// ErrMissingAPIKey is returned when a hosted provider has no key.
	ErrMissingAPIKey = errors.New("llm api key not set")
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn sent as conversation history.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	System  string
	History []Message
	Prompt  string
	Tools   []Tool
}

// Tool is a function the model may call while answering.
type Tool struct {
	Name        string
	Description string
	// Properties is the JSON schema "properties" object of the arguments.
	Properties map[string]any
	Required   []string
	Call       func(ctx context.Context, args json.RawMessage) (string, error)
}

// schema returns the full JSON schema of the tool arguments.
func (t Tool) schema() map[string]any {
	props := t.Properties
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(t.Required) > 0 {
		s["required"] = t.Required
	}
	return s
}

// callTool runs the named tool. Failures go back to the model as the result
// text with isError set.
func callTool(ctx context.Context, tools []Tool, name string, args json.RawMessage) (out string, isError bool) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	for _, t := range tools {
		if t.Name != name || t.Call == nil {
			continue
		}
		out, err := t.Call(ctx, args)
		if err != nil {
			return fmt.Sprintf("Tool %s failed: %v", name, err), true
		}
		return out, false
	}
	return fmt.Sprintf("Unknown tool %q.", name), true
}

// Provider generates one answer for a request.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// New creates the provider named in cfg.
func New(cfg Config) (Provider, error) {
	cfg = cfg.withDefaults()

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		return NewOpenAI(ProviderOpenAI, cfg), nil
	case ProviderOllama:
		if cfg.Model == "" {
			cfg.Model = DefaultOllamaModel
		}
		cfg.BaseURL = ollamaBaseURL(cfg.BaseURL)
		if cfg.APIKey == "" {
			cfg.APIKey = "ollama"
		}
		return NewOpenAI(ProviderOllama, cfg), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
		}
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropicModel
		}
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// ollamaBaseURL maps an Ollama endpoint to its OpenAI-compatible API root.
func ollamaBaseURL(endpoint string) string {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	endpoint = strings.TrimSuffix(endpoint, "/api/generate")
	if !strings.HasSuffix(endpoint, "/v1") {
		endpoint += "/v1"
	}
	return endpoint + "/"
}
