// ABOUTME: Interfaces the orchestrator consumes and the menu it emits
// ABOUTME: Implemented by the channel gateways, the chatbot, the stats sink, and the content resolver

package dialog

import (
	"context"
	"errors"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/store"
)

// Menu is a rendered contextual menu.
type Menu struct {
	Title   string
	Options []MenuOption
}

// MenuOption is one selectable entry.
type MenuOption struct {
	ID    string
	Title string
}

// Gateway delivers outbound messages to a channel.
type Gateway interface {
	SendText(ctx context.Context, connectionID, text string) error
	SendMenuUpdate(ctx context.Context, connectionID string, menu Menu) error
	SendProofRequest(ctx context.Context, connectionID, credentialDefinitionID string) error
}

// ErrProofUnsupported is returned by gateways whose channel has no way to
// submit a credential proof.
var ErrProofUnsupported = errors.New("channel does not support proof requests")

// ProofCapability is implemented by gateways that know whether a connection's
// channel can complete a proof exchange. Gateways without it are assumed able to.
type ProofCapability interface {
	SupportsProofs(connectionID string) bool
}

// AnswerGenerator produces a reply to free text. It may block on a network call.
type AnswerGenerator interface {
	Generate(ctx context.Context, userInput string, session *store.Session) (string, error)
}

// Memory is the part of conversation memory the dialog touches.
type Memory interface {
	Clear(ctx context.Context, connectionID string) error
}

// StatSink records KPI events. Implementations must not block.
type StatSink interface {
	RecordEvent(kpi, connectionID string)
}

// Content is the read-only content lookup.
type Content interface {
	ResolveLanguage(requested string) string
	GetString(lang, key string) string
	GetWelcomeMessage(lang string) string
	GetMenuItems() []agentpack.MenuItem
	MenuLabel(lang string, item agentpack.MenuItem) string
	GetWelcomeFlowConfig() agentpack.WelcomeFlow
	GetAuthFlowConfig() agentpack.AuthFlow
}

type noopStats struct{}

func (noopStats) RecordEvent(string, string) {}
