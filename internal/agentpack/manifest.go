// ABOUTME: Agent pack manifest types decoded from yaml, json, or toml
// ABOUTME: Flag and Number accept the loose string forms operators write by hand

package agentpack

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Manifest is a decoded agent pack.
type Manifest struct {
	Metadata  Metadata                 `json:"metadata"`
	Languages map[string]LanguageBlock `json:"languages"`
	LLM       LLMSection               `json:"llm"`
	RAG       RAGSection               `json:"rag"`
	Memory    MemorySection            `json:"memory"`
	Flows     Flows                    `json:"flows"`
	Tools     ToolsSection             `json:"tools"`
}

// Metadata identifies the pack.
type Metadata struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	Description     string   `json:"description"`
	DefaultLanguage string   `json:"defaultLanguage"`
	Tags            []string `json:"tags"`
}

// LanguageBlock holds the localized content for one language.
// Any top-level string field is addressable as a template by its key.
type LanguageBlock struct {
	SystemPrompt string
	Strings      map[string]string
	Templates    map[string]string
}

// UnmarshalJSON splits known fields from free-form template strings.
func (b *LanguageBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.Templates = make(map[string]string)
	for k, v := range raw {
		switch k {
		case "strings":
			if err := json.Unmarshal(v, &b.Strings); err != nil {
				return err
			}
		default:
			var s string
			if json.Unmarshal(v, &s) != nil {
				continue
			}
			if k == "systemPrompt" {
				b.SystemPrompt = s
			}
			b.Templates[k] = s
		}
	}
	return nil
}

// LLMSection overrides provider settings.
type LLMSection struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Temperature Number `json:"temperature"`
	MaxTokens   Number `json:"maxTokens"`
	AgentPrompt string `json:"agentPrompt"`
}

// RAGSection overrides retrieval settings.
type RAGSection struct {
	DocsPath     string `json:"docsPath"`
	ChunkSize    Number `json:"chunkSize"`
	ChunkOverlap Number `json:"chunkOverlap"`
}

// MemorySection overrides conversation memory settings.
type MemorySection struct {
	Backend  string `json:"backend"`
	Window   Number `json:"window"`
	RedisURL string `json:"redisUrl"`
}

// ToolsSection configures the tools offered to the model.
type ToolsSection struct {
	Bundled BundledTools `json:"bundled"`
}

type BundledTools struct {
	StatisticsFetcher StatisticsToolSection `json:"statisticsFetcher"`
}

// StatisticsToolSection configures the statistics tool. Without an endpoint
// the tool reads the service's own KPI events.
type StatisticsToolSection struct {
	Enabled          Flag       `json:"enabled"`
	Endpoint         string     `json:"endpoint"`
	RequiresAuth     Flag       `json:"requiresAuth"`
	DefaultStatClass string     `json:"defaultStatClass"`
	DefaultStatEnums []StatEnum `json:"defaultStatEnums"`
}

// StatEnum is one enum filter forwarded to a statistics endpoint.
type StatEnum struct {
	Index       int    `json:"index"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Flows configures the welcome, authentication, and menu flows.
type Flows struct {
	Welcome        WelcomeSection `json:"welcome"`
	Authentication AuthSection    `json:"authentication"`
	Menu           MenuSection    `json:"menu"`
}

type WelcomeSection struct {
	Enabled       Flag   `json:"enabled"`
	SendOnProfile Flag   `json:"sendOnProfile"`
	TemplateKey   string `json:"templateKey"`
}

type AuthSection struct {
	Enabled                Flag   `json:"enabled"`
	CredentialDefinitionID string `json:"credentialDefinitionId"`
}

type MenuSection struct {
	Items []MenuItem `json:"items"`
}

// Visibility controls when a menu item is shown.
type Visibility string

const (
	VisibleAlways          Visibility = "always"
	VisibleAuthenticated   Visibility = "authenticated"
	VisibleUnauthenticated Visibility = "unauthenticated"
)

// Matches reports whether an item with this visibility is shown to a user
// with the given authentication status. Empty means always.
func (v Visibility) Matches(authenticated bool) bool {
	switch v {
	case "", VisibleAlways:
		return true
	case VisibleAuthenticated:
		return authenticated
	case VisibleUnauthenticated:
		return !authenticated
	}
	return false
}

// Menu actions understood by the dialog.
const (
	ActionAuthenticate = "authenticate"
	ActionLogout       = "logout"
)

// MenuItem is one selectable entry of the contextual menu.
type MenuItem struct {
	ID          string     `json:"id"`
	LabelKey    string     `json:"labelKey"`
	Label       string     `json:"label,omitempty"`
	Action      string     `json:"action,omitempty"`
	VisibleWhen Visibility `json:"visibleWhen,omitempty"`
}

// Flag is an optional boolean. It accepts JSON booleans and the strings
// true/1/yes and false/0/no. Anything else leaves it unset.
type Flag struct {
	Value bool
	Set   bool
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		f.Value, f.Set = t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			f.Value, f.Set = true, true
		case "false", "0", "no":
			f.Value, f.Set = false, true
		}
	}
	return nil
}

// Or returns the flag value, or def when unset.
func (f Flag) Or(def bool) bool {
	if !f.Set {
		return def
	}
	return f.Value
}

// Number is an optional numeric value that may be written as a string.
type Number struct {
	Value float64
	Set   bool
}

func (n *Number) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		n.Value, n.Set = t, true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			n.Value, n.Set = parsed, true
		}
	}
	return nil
}

// Int returns the value truncated to an int, or def when unset.
func (n Number) Int(def int) int {
	if !n.Set {
		return def
	}
	return int(n.Value)
}

// Float returns the value, or def when unset.
func (n Number) Float(def float64) float64 {
	if !n.Set {
		return def
	}
	return n.Value
}
