// ABOUTME: Dialog orchestrator: the per-connection session state machine
// ABOUTME: Every event ends with a menu refresh and a persisted session, even when handling fails

package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/store"
)

// ErrMissingCredentialDefinition is returned when the user asks to authenticate
// but no credential definition is configured.
var ErrMissingCredentialDefinition = errors.New("missing config: credential definition id")

// ErrMissingConnection is returned for events without a connection ID.
var ErrMissingConnection = errors.New("event has no connection id")

// KPIUserConnected is recorded for every opened connection.
const KPIUserConnected = "user_connected"

// KeyAuthError prefixes the error code of a failed proof. It has no built-in
// translation so the raw key shows unless a pack provides one.
const KeyAuthError = "AUTH_ERROR"

// ProofTypeVerifiableCredential is the only proof item type accepted.
const ProofTypeVerifiableCredential = "verifiable-credential"

const persistTimeout = 5 * time.Second

// Deps are the orchestrator's collaborators. Memory and Stats are optional.
type Deps struct {
	Store     store.SessionStore
	Content   Content
	Gateway   Gateway
	Generator AnswerGenerator
	Memory    Memory
	Stats     StatSink
	Logger    *slog.Logger
}

// Orchestrator drives the dialog state machine. Callers must serialize
// Handle per connection ID; different connections may be handled concurrently.
type Orchestrator struct {
	store     store.SessionStore
	content   Content
	gateway   Gateway
	generator AnswerGenerator
	memory    Memory
	stats     StatSink
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := deps.Stats
	if stats == nil {
		stats = noopStats{}
	}
	return &Orchestrator{
		store:     deps.Store,
		content:   deps.Content,
		gateway:   deps.Gateway,
		generator: deps.Generator,
		memory:    deps.Memory,
		stats:     stats,
		logger:    logger.With("component", "dialog"),
	}
}

// Handle processes one inbound event to completion. Handler failures are
// reported to the user as a localized error and returned for logging; the
// menu refresh and persistence run regardless.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) error {
	if ev == nil {
		return nil
	}
	connID := ev.Connection()
	if connID == "" {
		return ErrMissingConnection
	}

	session, err := o.store.GetOrCreateSession(ctx, connID, store.StateChat)
	if err != nil {
		lang := o.content.ResolveLanguage("")
		if sendErr := o.gateway.SendText(ctx, connID, o.content.GetString(lang, agentpack.KeyErrorMessages)); sendErr != nil {
			o.logger.Warn("failed to send error message", "connection_id", connID, "error", sendErr)
		}
		return fmt.Errorf("loading session: %w", err)
	}
	from := session.State

	handleErr := o.dispatch(ctx, session, ev)
	if handleErr != nil {
		o.logger.Error("event handling failed",
			"connection_id", connID,
			"event", fmt.Sprintf("%T", ev),
			"state", session.State,
			"error", handleErr)
		if err := o.sendText(ctx, session, o.text(session, agentpack.KeyErrorMessages)); err != nil {
			o.logger.Warn("failed to send error message", "connection_id", connID, "error", err)
		}
	}

	// The channel has already closed the connection, so there is no one to
	// receive a menu; the purge is still persisted below.
	if _, closing := ev.(ConnectionCloseEvent); !closing {
		if err := o.sendMenu(ctx, session); err != nil {
			o.logger.Warn("failed to send contextual menu", "connection_id", connID, "error", err)
		}
	}

	if err := o.persist(session); err != nil {
		handleErr = errors.Join(handleErr, err)
	}

	if from != session.State {
		o.logger.Info("session transition", "connection_id", connID, "from", from, "to", session.State)
	}
	return handleErr
}

func (o *Orchestrator) dispatch(ctx context.Context, session *store.Session, ev Event) error {
	switch e := ev.(type) {
	case ConnectionOpenEvent:
		o.stats.RecordEvent(KPIUserConnected, session.ConnectionID)
		return nil
	case ConnectionCloseEvent:
		session.Purge()
		return nil
	case ProfileEvent:
		return o.handleProfile(ctx, session, e)
	case MenuSelectEvent:
		o.resume(session)
		return o.handleMenuSelect(ctx, session, e)
	case TextEvent:
		o.resume(session)
		return o.handleText(ctx, session, e)
	case ProofSubmitEvent:
		return o.handleProofSubmit(ctx, session, e)
	default:
		o.logger.Debug("ignoring unrecognized event", "connection_id", session.ConnectionID, "event", fmt.Sprintf("%#v", ev))
		return nil
	}
}

// resume brings a purged session back into chat when the user talks again.
func (o *Orchestrator) resume(session *store.Session) {
	if session.State == store.StateStart {
		session.State = store.StateChat
	}
}

func (o *Orchestrator) handleProfile(ctx context.Context, session *store.Session, e ProfileEvent) error {
	if e.PreferredLanguage != "" {
		session.Lang = e.PreferredLanguage
	}

	wf := o.content.GetWelcomeFlowConfig()
	if !wf.Enabled || !wf.SendOnProfile {
		return nil
	}
	lang := o.content.ResolveLanguage(session.Lang)
	return o.sendText(ctx, session, o.content.GetWelcomeMessage(lang))
}

func (o *Orchestrator) handleMenuSelect(ctx context.Context, session *store.Session, e MenuSelectEvent) error {
	switch session.State {
	case store.StateChat:
	case store.StateAuth:
		return o.sendText(ctx, session, o.text(session, agentpack.KeyWaitingCredential))
	default:
		return nil
	}

	action := o.menuAction(e.SelectionID)
	switch action {
	case agentpack.ActionAuthenticate:
		return o.startAuthentication(ctx, session)
	case agentpack.ActionLogout:
		return o.logout(ctx, session)
	case "":
		o.logger.Warn("invalid or missing menu selection", "connection_id", session.ConnectionID, "selection_id", e.SelectionID)
		return nil
	default:
		o.logger.Info("menu action has no handler", "connection_id", session.ConnectionID, "action", action)
		return nil
	}
}

func (o *Orchestrator) menuAction(selectionID string) string {
	if selectionID == "" {
		return ""
	}
	for _, item := range o.content.GetMenuItems() {
		if item.ID == selectionID {
			return item.Action
		}
	}
	return ""
}

func (o *Orchestrator) startAuthentication(ctx context.Context, session *store.Session) error {
	af := o.content.GetAuthFlowConfig()
	if !af.Enabled {
		o.logger.Info("authentication flow disabled, ignoring selection", "connection_id", session.ConnectionID)
		return nil
	}
	if af.CredentialDefinitionID == "" {
		return ErrMissingCredentialDefinition
	}

	if !o.supportsProofs(session.ConnectionID) {
		return fmt.Errorf("sending proof request: %w", ErrProofUnsupported)
	}
	if err := o.gateway.SendProofRequest(ctx, session.ConnectionID, af.CredentialDefinitionID); err != nil {
		return fmt.Errorf("sending proof request: %w", err)
	}
	session.State = store.StateAuth
	o.logger.Debug("proof request sent", "connection_id", session.ConnectionID)

	return o.sendText(ctx, session, o.text(session, agentpack.KeyAuthProcessStarted))
}

func (o *Orchestrator) logout(ctx context.Context, session *store.Session) error {
	session.IsAuthenticated = false
	session.UserName = ""
	if err := o.persist(session); err != nil {
		return err
	}

	session.Purge()
	if err := o.persist(session); err != nil {
		return err
	}

	if o.memory != nil {
		if err := o.memory.Clear(ctx, session.ConnectionID); err != nil {
			return fmt.Errorf("clearing conversation memory: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) handleText(ctx context.Context, session *store.Session, e TextEvent) error {
	switch session.State {
	case store.StateChat:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return nil
		}
		answer, err := o.generator.Generate(ctx, text, session.Clone())
		if err != nil {
			return fmt.Errorf("generating answer: %w", err)
		}
		return o.sendText(ctx, session, answer)
	case store.StateAuth:
		return o.sendText(ctx, session, o.text(session, agentpack.KeyWaitingCredential))
	default:
		return nil
	}
}

func (o *Orchestrator) handleProofSubmit(ctx context.Context, session *store.Session, e ProofSubmitEvent) error {
	if session.State != store.StateAuth {
		o.logger.Debug("ignoring proof outside authentication", "connection_id", session.ConnectionID, "state", session.State)
		return nil
	}

	if len(e.Items) == 0 {
		return o.sendText(ctx, session, o.text(session, agentpack.KeyWaitingCredential))
	}
	item := e.Items[0]

	if item.ErrorCode != "" {
		o.logger.Warn("proof submission failed", "connection_id", session.ConnectionID, "error_code", item.ErrorCode)
		return o.sendText(ctx, session, o.text(session, KeyAuthError)+": "+item.ErrorCode)
	}
	if item.Type != "" && item.Type != ProofTypeVerifiableCredential {
		return o.sendText(ctx, session, o.text(session, agentpack.KeyWaitingCredential))
	}

	session.IsAuthenticated = true
	if len(item.Claims) > 0 {
		session.UserName = userName(item.Claims)
	}
	session.State = store.StateChat
	if err := o.persist(session); err != nil {
		return err
	}
	o.logger.Info("user authenticated", "connection_id", session.ConnectionID)

	msg := o.text(session, agentpack.KeyAuthSuccess)
	if session.UserName != "" {
		msg = strings.ReplaceAll(o.text(session, agentpack.KeyAuthSuccessName), "{name}", session.UserName)
	}
	return o.sendText(ctx, session, msg)
}

// userName joins the firstName and lastName claims, skipping empty parts.
func userName(claims []Claim) string {
	var first, last string
	for _, c := range claims {
		switch c.Name {
		case "firstName":
			first = strings.TrimSpace(c.Value)
		case "lastName":
			last = strings.TrimSpace(c.Value)
		}
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{first, last} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// ContextualMenu computes the menu for the session's current state.
func (o *Orchestrator) ContextualMenu(session *store.Session) Menu {
	lang := o.content.ResolveLanguage(session.Lang)
	authEnabled := o.content.GetAuthFlowConfig().Enabled && o.supportsProofs(session.ConnectionID)

	var options []MenuOption
	for _, item := range o.content.GetMenuItems() {
		if !item.VisibleWhen.Matches(session.IsAuthenticated) {
			continue
		}
		if item.Action == agentpack.ActionAuthenticate && !authEnabled {
			continue
		}
		options = append(options, MenuOption{ID: item.ID, Title: o.content.MenuLabel(lang, item)})
	}

	title := o.content.GetString(lang, agentpack.KeyRootTitle)
	if session.IsAuthenticated && session.UserName != "" {
		title = title + " " + session.UserName + "!"
	}
	return Menu{Title: title, Options: options}
}

func (o *Orchestrator) supportsProofs(connectionID string) bool {
	if pc, ok := o.gateway.(ProofCapability); ok {
		return pc.SupportsProofs(connectionID)
	}
	return true
}

func (o *Orchestrator) sendMenu(ctx context.Context, session *store.Session) error {
	return o.gateway.SendMenuUpdate(ctx, session.ConnectionID, o.ContextualMenu(session))
}

func (o *Orchestrator) sendText(ctx context.Context, session *store.Session, text string) error {
	if err := o.gateway.SendText(ctx, session.ConnectionID, text); err != nil {
		return fmt.Errorf("sending text: %w", err)
	}
	return nil
}

func (o *Orchestrator) text(session *store.Session, key string) string {
	return o.content.GetString(o.content.ResolveLanguage(session.Lang), key)
}

// persist saves with its own timeout so a cancelled request still records the transition.
func (o *Orchestrator) persist(session *store.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := o.store.SaveSession(ctx, session); err != nil {
		o.logger.Error("failed to persist session", "connection_id", session.ConnectionID, "error", err)
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}
