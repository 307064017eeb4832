// ABOUTME: Answer generator combining conversation memory, retrieval, tools, and an LLM provider
// ABOUTME: Turns are appended to memory only after the provider answers successfully

package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/llm"
	"github.com/2389/coven-concierge/internal/memory"
	"github.com/2389/coven-concierge/internal/store"
)

// NoDocumentsContext stands in for retrieval context when nothing matched.
const NoDocumentsContext = "No relevant documents were found in the knowledge base for this query."

const contextSeparator = "\n---\n"

// Retriever finds knowledge snippets relevant to a query.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string) ([]string, error)
}

// Content is the part of the content resolver used to build prompts.
type Content interface {
	ResolveLanguage(requested string) string
	GetString(lang, key string) string
	GetSystemPrompt(lang string) string
	BuildPrompt(in agentpack.PromptInput) string
}

// Deps are the generator's collaborators. Only Provider and Content are required.
type Deps struct {
	Provider   llm.Provider
	Content    Content
	Memory     memory.Backend
	Retriever  Retriever
	Detector   LanguageDetector
	Stats      StatCounter
	Statistics StatisticsConfig
	Logger     *slog.Logger
}

// Generator answers free text for the dialog orchestrator.
type Generator struct {
	provider   llm.Provider
	memory     memory.Backend
	retriever  Retriever
	content    Content
	detector   LanguageDetector
	stats      StatCounter
	statistics StatisticsConfig
	logger     *slog.Logger
}

// New creates a Generator.
func New(deps Deps) *Generator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider:   deps.Provider,
		memory:     deps.Memory,
		retriever:  deps.Retriever,
		content:    deps.Content,
		detector:   deps.Detector,
		stats:      deps.Stats,
		statistics: deps.Statistics.withDefaults(),
		logger:     logger.With("component", "chatbot"),
	}
}

// Generate produces an answer to userInput in the session's language. A
// session without a language gets one detected from the input.
func (g *Generator) Generate(ctx context.Context, userInput string, session *store.Session) (string, error) {
	connID := session.ConnectionID
	userLang := g.userLanguage(session.Lang, userInput)
	lang := g.content.ResolveLanguage(userLang)

	history := g.history(ctx, connID)
	prompt := g.content.BuildPrompt(agentpack.PromptInput{
		Lang:     lang,
		Context:  g.retrieve(ctx, userInput),
		Question: userInput,
		UserName: session.UserName,
	})

	answer, err := g.provider.Generate(ctx, llm.Request{
		System:  systemPrompt(g.content.GetSystemPrompt(lang), userLang),
		History: history,
		Prompt:  prompt,
		Tools:   g.tools(session, lang),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.provider.Name(), err)
	}

	g.remember(ctx, connID, userInput, answer)
	return answer, nil
}

func (g *Generator) userLanguage(sessionLang, userInput string) string {
	if strings.TrimSpace(sessionLang) != "" || g.detector == nil {
		return sessionLang
	}
	detected, ok := g.detector.Detect(userInput)
	if !ok {
		return sessionLang
	}
	g.logger.Debug("detected user language", "lang", detected)
	return detected
}

func (g *Generator) history(ctx context.Context, connID string) []llm.Message {
	if g.memory == nil {
		return nil
	}
	turns, err := g.memory.GetHistory(ctx, connID)
	if err != nil {
		g.logger.Warn("failed to load conversation history", "connection_id", connID, "error", err)
		return nil
	}

	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return msgs
}

func (g *Generator) retrieve(ctx context.Context, query string) string {
	if g.retriever == nil {
		return NoDocumentsContext
	}
	snippets, err := g.retriever.RetrieveContext(ctx, query)
	if err != nil {
		g.logger.Warn("context retrieval failed", "error", err)
		return NoDocumentsContext
	}
	if len(snippets) == 0 {
		return NoDocumentsContext
	}
	return strings.Join(snippets, contextSeparator)
}

func (g *Generator) remember(ctx context.Context, connID, question, answer string) {
	if g.memory == nil {
		return
	}
	if err := g.memory.AddMessage(ctx, connID, memory.RoleUser, question); err != nil {
		g.logger.Warn("failed to store user turn", "connection_id", connID, "error", err)
		return
	}
	if err := g.memory.AddMessage(ctx, connID, memory.RoleAssistant, answer); err != nil {
		g.logger.Warn("failed to store assistant turn", "connection_id", connID, "error", err)
	}
}

// systemPrompt appends a language instruction for sessions not in English.
func systemPrompt(base, sessionLang string) string {
	lang := strings.ToLower(strings.TrimSpace(sessionLang))
	if lang == "" || lang == "en" || strings.HasPrefix(lang, "en-") || strings.HasPrefix(lang, "en_") {
		return base
	}
	hint := "Always respond in " + lang + ", unless told otherwise."
	if strings.TrimSpace(base) == "" {
		return hint
	}
	return base + " " + hint
}
