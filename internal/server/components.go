// ABOUTME: Merges file configuration with agent pack sections into component configs
// ABOUTME: Precedence is config file, then agent pack, then environment, then built-in defaults

package server

import (
	"os"
	"strconv"
	"strings"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/chatbot"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/llm"
	"github.com/2389/coven-concierge/internal/memory"
	"github.com/2389/coven-concierge/internal/rag"
)

// llmConfig builds the provider config. API keys and the Ollama endpoint fall
// back to the conventional environment variables when the file leaves them empty.
func llmConfig(cfg config.LLMConfig, pack agentpack.LLMSection) llm.Config {
	out := llm.Config{
		Provider:    strings.ToLower(firstNonEmpty(cfg.Provider, pack.Provider, llm.ProviderOpenAI)),
		Model:       firstNonEmpty(cfg.Model, pack.Model),
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout,
	}
	if out.Temperature == 0 {
		out.Temperature = pack.Temperature.Float(0)
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = pack.MaxTokens.Int(0)
	}

	switch out.Provider {
	case llm.ProviderOpenAI:
		out.APIKey = firstNonEmpty(out.APIKey, os.Getenv("OPENAI_API_KEY"))
	case llm.ProviderAnthropic:
		out.APIKey = firstNonEmpty(out.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	case llm.ProviderOllama:
		out.BaseURL = firstNonEmpty(out.BaseURL, os.Getenv("OLLAMA_ENDPOINT"))
		out.Model = firstNonEmpty(out.Model, os.Getenv("OLLAMA_MODEL"))
	}
	return out
}

func memoryConfig(cfg config.MemoryConfig, pack agentpack.MemorySection) memory.Config {
	out := memory.Config{
		Backend:  firstNonEmpty(cfg.Backend, pack.Backend, memory.KindMemory),
		Window:   cfg.Window,
		RedisURL: firstNonEmpty(cfg.RedisURL, pack.RedisURL),
		TTL:      cfg.TTL,
	}
	if out.Window == 0 {
		out.Window = pack.Window.Int(memory.DefaultWindow)
	}
	if out.Window <= 0 {
		out.Window = memory.DefaultWindow
	}
	if out.TTL == 0 {
		out.TTL = memory.DefaultTTL
	}
	return out
}

// ragConfig returns the index config and the documents directory to load.
func ragConfig(cfg config.RAGConfig, pack agentpack.RAGSection) (rag.Config, string) {
	out := rag.Config{
		IndexPath:    cfg.IndexPath,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		TopK:         cfg.TopK,
	}
	if out.ChunkSize == 0 {
		out.ChunkSize = pack.ChunkSize.Int(rag.DefaultChunkSize)
	}
	if out.ChunkOverlap == 0 {
		out.ChunkOverlap = pack.ChunkOverlap.Int(rag.DefaultChunkOverlap)
	}
	if out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = 0
	}
	return out, firstNonEmpty(cfg.DocsPath, pack.DocsPath)
}

// statisticsConfig builds the statistics tool config. The tool is enabled and
// requires authentication unless something says otherwise.
func statisticsConfig(cfg config.StatisticsToolConfig, pack agentpack.StatisticsToolSection) chatbot.StatisticsConfig {
	return chatbot.StatisticsConfig{
		Enabled:          firstBool(cfg.Enabled, pack.Enabled, envBool("STATISTICS_TOOL_ENABLED"), true),
		RequiresAuth:     firstBool(cfg.RequiresAuth, pack.RequiresAuth, envBool("STATISTICS_REQUIRE_AUTH"), true),
		Endpoint:         firstNonEmpty(cfg.Endpoint, pack.Endpoint, os.Getenv("STATISTICS_API_URL")),
		DefaultStatClass: pack.DefaultStatClass,
		DefaultStatEnums: pack.DefaultStatEnums,
	}
}

// detectorLanguages lists the pack languages plus the built-in tables.
func detectorLanguages(pack *agentpack.Manifest) []string {
	langs := []string{"en", "es", "fr"}
	for code := range pack.Languages {
		langs = append(langs, code)
	}
	return langs
}

func firstBool(file *bool, pack agentpack.Flag, env *bool, def bool) bool {
	if file != nil {
		return *file
	}
	if pack.Set {
		return pack.Value
	}
	if env != nil {
		return *env
	}
	return def
}

func envBool(name string) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
