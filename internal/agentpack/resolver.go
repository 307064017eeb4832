// ABOUTME: Content resolver over an agent pack with language fallback chains
// ABOUTME: Read-only after construction and safe for concurrent use

package agentpack

import (
	"errors"
	"log/slog"
	"strings"
)

// Options supplies service-level fallbacks for values a pack may omit.
type Options struct {
	CredentialDefinitionID string
	AgentPrompt            string
}

// WelcomeFlow controls the greeting sent on profile events.
type WelcomeFlow struct {
	Enabled       bool
	SendOnProfile bool
	TemplateKey   string
}

// AuthFlow controls the credential-proof exchange.
type AuthFlow struct {
	Enabled                bool
	CredentialDefinitionID string
}

// PromptInput is what BuildPrompt needs to assemble a model prompt.
type PromptInput struct {
	Lang     string
	Context  string
	Question string
	UserName string
}

// Resolver answers language-keyed content lookups.
type Resolver struct {
	pack    *Manifest
	builtin bool
	opts    Options
}

// New builds a resolver. A nil pack means built-in defaults only.
func New(pack *Manifest, opts Options) *Resolver {
	builtin := pack == nil
	if pack == nil {
		pack = &Manifest{}
	}
	return &Resolver{pack: pack, builtin: builtin, opts: opts}
}

// Load builds a resolver from the pack at path. A missing pack is not an error:
// it is logged and the built-in defaults are used. A pack that exists but fails to
// parse or validate is an error.
func Load(path string, opts Options) (*Resolver, error) {
	logger := slog.Default().With("component", "agentpack")

	if path == "" {
		logger.Warn("no agent pack configured, using built-in content")
		return New(nil, opts), nil
	}

	m, err := LoadManifest(path)
	if err != nil {
		if errors.Is(err, ErrNoManifest) {
			logger.Warn("agent pack not found, using built-in content", "path", path)
			return New(nil, opts), nil
		}
		return nil, err
	}

	logger.Info("agent pack loaded",
		"path", path,
		"id", m.Metadata.ID,
		"languages", len(m.Languages),
		"menu_items", len(m.Flows.Menu.Items))
	return New(m, opts), nil
}

// Manifest returns the underlying pack.
func (r *Resolver) Manifest() *Manifest {
	return r.pack
}

// DefaultLanguage is the pack's configured default, or the baseline.
func (r *Resolver) DefaultLanguage() string {
	if l := normalizeLanguage(r.pack.Metadata.DefaultLanguage); l != "" {
		return l
	}
	return BaselineLanguage
}

// normalizeLanguage lowercases and strips any region subtag ("pt-BR" -> "pt").
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

// hasLanguage reports whether lang has a pack block or a full built-in string
// table. Welcome-only built-ins count only when no pack is loaded.
func (r *Resolver) hasLanguage(lang string) bool {
	if lang == "" {
		return false
	}
	if _, ok := r.pack.Languages[lang]; ok {
		return true
	}
	if _, ok := defaultTranslations[lang]; ok {
		return true
	}
	if !r.builtin {
		return false
	}
	_, ok := defaultWelcomeMessages[lang]
	return ok
}

// ResolveLanguage maps a requested language to one with content: the requested
// language itself, then the pack default, then the baseline.
func (r *Resolver) ResolveLanguage(requested string) string {
	if l := normalizeLanguage(requested); r.hasLanguage(l) {
		return l
	}
	if l := r.DefaultLanguage(); r.hasLanguage(l) {
		return l
	}
	return BaselineLanguage
}

func (r *Resolver) block(lang string) (LanguageBlock, bool) {
	b, ok := r.pack.Languages[lang]
	return b, ok
}

// table merges the pack strings for lang over the built-in table for lang.
func (r *Resolver) table(lang string) map[string]string {
	out := make(map[string]string)
	for k, v := range defaultTranslations[lang] {
		out[k] = v
	}
	if b, ok := r.block(lang); ok {
		for k, v := range b.Strings {
			out[k] = v
		}
	}
	return out
}

// GetString looks key up in the resolved language, then the baseline language,
// and finally returns the key itself. It never fails.
func (r *Resolver) GetString(lang, key string) string {
	if s, ok := r.table(r.ResolveLanguage(lang))[key]; ok {
		return s
	}
	if s, ok := r.table(BaselineLanguage)[key]; ok {
		return s
	}
	return key
}

// GetWelcomeMessage returns the welcome text for the language using the
// configured template key.
func (r *Resolver) GetWelcomeMessage(lang string) string {
	return r.GetTemplate(lang, r.GetWelcomeFlowConfig().TemplateKey)
}

// GetTemplate returns a named language-block template. The welcome key also
// accepts greetingMessage. Unknown keys fall back to the built-in welcome text.
func (r *Resolver) GetTemplate(lang, templateKey string) string {
	langKey := r.ResolveLanguage(lang)
	if b, ok := r.block(langKey); ok {
		if v := b.Templates[templateKey]; strings.TrimSpace(v) != "" {
			return v
		}
		if templateKey == DefaultWelcomeTemplateKey {
			if v := b.Templates["greetingMessage"]; strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	if msg, ok := defaultWelcomeMessages[langKey]; ok {
		return msg
	}
	return defaultWelcomeMessages[BaselineLanguage]
}

// GetSystemPrompt returns the language block prompt, then the pack agent
// prompt, then the service-level prompt.
func (r *Resolver) GetSystemPrompt(lang string) string {
	if b, ok := r.block(r.ResolveLanguage(lang)); ok && b.SystemPrompt != "" {
		return b.SystemPrompt
	}
	if p := r.pack.LLM.AgentPrompt; strings.TrimSpace(p) != "" {
		return p
	}
	return r.opts.AgentPrompt
}

// BuildPrompt assembles the user-turn prompt. Languages without a pack system
// prompt use the built-in context/question template.
func (r *Resolver) BuildPrompt(in PromptInput) string {
	langKey := r.ResolveLanguage(in.Lang)

	b, ok := r.block(langKey)
	if !ok || b.SystemPrompt == "" {
		prompt := defaultPrompt(langKey, in.Context, in.Question)
		if in.UserName != "" {
			prompt = "Current user name: " + in.UserName + "\n\n" + prompt
		}
		return prompt
	}

	parts := []string{b.SystemPrompt}
	if in.UserName != "" {
		parts = append(parts, "Current user name: "+in.UserName)
	}
	parts = append(parts, "Context:", in.Context, "Question:", in.Question)

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// GetMenuItems returns a copy of the configured menu, or the default
// authenticate/logout pair.
func (r *Resolver) GetMenuItems() []MenuItem {
	items := r.pack.Flows.Menu.Items
	if len(items) == 0 {
		return defaultMenu()
	}
	out := make([]MenuItem, len(items))
	copy(out, items)
	return out
}

// MenuLabel resolves the display title for an item.
func (r *Resolver) MenuLabel(lang string, item MenuItem) string {
	if item.Label != "" {
		return item.Label
	}
	key := item.LabelKey
	if key == "" {
		key = item.ID
	}
	return r.GetString(lang, key)
}

// GetWelcomeFlowConfig applies defaults to the welcome flow.
func (r *Resolver) GetWelcomeFlowConfig() WelcomeFlow {
	w := r.pack.Flows.Welcome
	key := w.TemplateKey
	if key == "" {
		key = DefaultWelcomeTemplateKey
	}
	return WelcomeFlow{
		Enabled:       w.Enabled.Or(true),
		SendOnProfile: w.SendOnProfile.Or(true),
		TemplateKey:   key,
	}
}

// GetAuthFlowConfig applies defaults to the authentication flow. The
// credential definition falls back to the service configuration.
func (r *Resolver) GetAuthFlowConfig() AuthFlow {
	a := r.pack.Flows.Authentication
	credDef := a.CredentialDefinitionID
	if credDef == "" {
		credDef = r.opts.CredentialDefinitionID
	}
	return AuthFlow{
		Enabled:                a.Enabled.Or(true),
		CredentialDefinitionID: credDef,
	}
}

// MemoryConfig returns the pack memory section.
func (r *Resolver) MemoryConfig() MemorySection {
	return r.pack.Memory
}

// LLMConfig returns the pack llm section.
func (r *Resolver) LLMConfig() LLMSection {
	return r.pack.LLM
}

// RAGConfig returns the pack rag section.
func (r *Resolver) RAGConfig() RAGSection {
	return r.pack.RAG
}

// ToolsConfig returns the pack tools section.
func (r *Resolver) ToolsConfig() ToolsSection {
	return r.pack.Tools
}
