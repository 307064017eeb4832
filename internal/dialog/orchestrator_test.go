// ABOUTME: Tests for the dialog state machine against fake gateway and generator
// ABOUTME: Covers the transition table, menu computation, error conversion, and persistence guarantees

package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/memory"
	"github.com/2389/coven-concierge/internal/store"
)

type sentProof struct {
	connectionID string
	credDefID    string
}

type fakeGateway struct {
	mu     sync.Mutex
	texts  []string
	menus  []Menu
	proofs []sentProof

	textErr  error
	proofErr error
	menuErr  error
}

func (g *fakeGateway) SendText(ctx context.Context, connectionID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.textErr != nil {
		return g.textErr
	}
	g.texts = append(g.texts, text)
	return nil
}

func (g *fakeGateway) SendMenuUpdate(ctx context.Context, connectionID string, menu Menu) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.menuErr != nil {
		return g.menuErr
	}
	g.menus = append(g.menus, menu)
	return nil
}

func (g *fakeGateway) SendProofRequest(ctx context.Context, connectionID, credDefID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.proofErr != nil {
		return g.proofErr
	}
	g.proofs = append(g.proofs, sentProof{connectionID, credDefID})
	return nil
}

func (g *fakeGateway) lastMenu(t *testing.T) Menu {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.menus, "expected a menu update")
	return g.menus[len(g.menus)-1]
}

func (g *fakeGateway) lastText(t *testing.T) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.texts, "expected a text message")
	return g.texts[len(g.texts)-1]
}

type fakeGenerator struct {
	answer string
	err    error
	inputs []string
	seen   []*store.Session
}

func (f *fakeGenerator) Generate(ctx context.Context, userInput string, session *store.Session) (string, error) {
	f.inputs = append(f.inputs, userInput)
	f.seen = append(f.seen, session)
	return f.answer, f.err
}

type fakeStats struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeStats) RecordEvent(kpi, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kpi+":"+connectionID)
}

type harness struct {
	orch   *Orchestrator
	store  *store.MockStore
	gw     *fakeGateway
	gen    *fakeGenerator
	mem    *memory.InMemory
	stats  *fakeStats
	pack   *agentpack.Manifest
	credID string
}

func newHarness(t *testing.T, pack *agentpack.Manifest, credID string) *harness {
	t.Helper()
	mem, err := memory.NewInMemory(8)
	require.NoError(t, err)

	h := &harness{
		store:  store.NewMockStore(),
		gw:     &fakeGateway{},
		gen:    &fakeGenerator{answer: "42"},
		mem:    mem,
		stats:  &fakeStats{},
		pack:   pack,
		credID: credID,
	}
	h.orch = New(Deps{
		Store:     h.store,
		Content:   agentpack.New(pack, agentpack.Options{CredentialDefinitionID: credID}),
		Gateway:   h.gw,
		Generator: h.gen,
		Memory:    mem,
		Stats:     h.stats,
	})
	return h
}

func (h *harness) handle(t *testing.T, ev Event) error {
	t.Helper()
	return h.orch.Handle(context.Background(), ev)
}

func (h *harness) session(t *testing.T, id string) *store.Session {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func menuIDs(m Menu) []string {
	ids := make([]string, len(m.Options))
	for i, o := range m.Options {
		ids[i] = o.ID
	}
	return ids
}

func TestColdStart(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, ConnectionOpenEvent{ConnectionID: "c1"}))

	s := h.session(t, "c1")
	assert.Equal(t, store.StateChat, s.State)
	assert.False(t, s.IsAuthenticated)

	menu := h.gw.lastMenu(t)
	assert.Equal(t, []string{"authenticate"}, menuIDs(menu))
	assert.Equal(t, "Authenticate", menu.Options[0].Title)
	assert.Equal(t, "Welcome!", menu.Title)
	assert.Equal(t, []string{"user_connected:c1"}, h.stats.events)
}

func TestColdStart_AuthDisabledHidesAuthenticate(t *testing.T) {
	pack := &agentpack.Manifest{}
	pack.Flows.Authentication.Enabled = agentpack.Flag{Value: false, Set: true}
	h := newHarness(t, pack, "cred-def-1")

	require.NoError(t, h.handle(t, ConnectionOpenEvent{ConnectionID: "c1"}))
	assert.Empty(t, h.gw.lastMenu(t).Options)
}

func TestAuthHappyPath(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"}))

	require.Len(t, h.gw.proofs, 1)
	assert.Equal(t, sentProof{"c1", "cred-def-1"}, h.gw.proofs[0])
	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
	assert.Equal(t, "Authentication process has started. Please respond to the credential request.", h.gw.lastText(t))

	require.NoError(t, h.handle(t, ProofSubmitEvent{
		ConnectionID: "c1",
		Items: []ProofItem{{
			Type:   ProofTypeVerifiableCredential,
			Claims: []Claim{{Name: "firstName", Value: "Ana"}},
		}},
	}))

	s := h.session(t, "c1")
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, "Ana", s.UserName)
	assert.Equal(t, store.StateChat, s.State)
	assert.Equal(t, "Authentication successful. Welcome, Ana! you can now access all features.", h.gw.lastText(t))

	menu := h.gw.lastMenu(t)
	assert.Equal(t, "Welcome! Ana!", menu.Title)
	assert.Equal(t, []string{"logout"}, menuIDs(menu))
}

func TestProofSubmit_FullNameAndNoClaims(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	ctx := context.Background()

	require.NoError(t, h.store.SaveSession(ctx, &store.Session{ConnectionID: "c1", State: store.StateAuth}))
	require.NoError(t, h.handle(t, ProofSubmitEvent{
		ConnectionID: "c1",
		Items: []ProofItem{{Claims: []Claim{
			{Name: "lastName", Value: " Pérez "},
			{Name: "firstName", Value: ""},
			{Name: "email", Value: "x@y"},
		}}},
	}))
	assert.Equal(t, "Pérez", h.session(t, "c1").UserName)

	require.NoError(t, h.store.SaveSession(ctx, &store.Session{ConnectionID: "c2", State: store.StateAuth}))
	require.NoError(t, h.handle(t, ProofSubmitEvent{
		ConnectionID: "c2",
		Items:        []ProofItem{{Type: ProofTypeVerifiableCredential}},
	}))
	s := h.session(t, "c2")
	assert.True(t, s.IsAuthenticated)
	assert.Empty(t, s.UserName)
	assert.Equal(t, "Authentication completed successfully. You can now access all features.", h.gw.lastText(t))
	assert.Equal(t, "Welcome!", h.gw.lastMenu(t).Title)
}

func TestAuthFailure_Declined(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateAuth}))

	require.NoError(t, h.handle(t, ProofSubmitEvent{
		ConnectionID: "c1",
		Items:        []ProofItem{{Type: ProofTypeVerifiableCredential, ErrorCode: "DECLINED"}},
	}))

	s := h.session(t, "c1")
	assert.Equal(t, store.StateAuth, s.State)
	assert.False(t, s.IsAuthenticated)
	assert.Contains(t, h.gw.lastText(t), "DECLINED")
}

func TestProofSubmit_Malformed(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateAuth}))

	require.NoError(t, h.handle(t, ProofSubmitEvent{ConnectionID: "c1"}))
	assert.Equal(t, "Waiting for you to complete the credential process...", h.gw.lastText(t))

	require.NoError(t, h.handle(t, ProofSubmitEvent{ConnectionID: "c1", Items: []ProofItem{{Type: "something-else"}}}))
	assert.Equal(t, "Waiting for you to complete the credential process...", h.gw.lastText(t))
	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
	assert.False(t, h.session(t, "c1").IsAuthenticated)
}

func TestProofSubmit_OutsideAuthIsIgnored(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, ProofSubmitEvent{
		ConnectionID: "c1",
		Items:        []ProofItem{{Claims: []Claim{{Name: "firstName", Value: "Eve"}}}},
	}))

	s := h.session(t, "c1")
	assert.False(t, s.IsAuthenticated, "authentication is only reachable from the auth state")
	assert.Empty(t, s.UserName)
	assert.Empty(t, h.gw.texts)
	assert.Len(t, h.gw.menus, 1)
}

func TestTextInChat(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, TextEvent{ConnectionID: "c1", Text: "  what is this?  "}))

	assert.Equal(t, []string{"what is this?"}, h.gen.inputs)
	assert.Equal(t, "42", h.gw.lastText(t))
	assert.Equal(t, "c1", h.gen.seen[0].ConnectionID)
}

func TestEmptyTextInChat(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, TextEvent{ConnectionID: "c1", Text: "   "}))

	assert.Empty(t, h.gen.inputs)
	assert.Empty(t, h.gw.texts)
	assert.Len(t, h.gw.menus, 1, "the menu is refreshed even for a no-op")
}

func TestTextInAuth(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateAuth}))

	require.NoError(t, h.handle(t, TextEvent{ConnectionID: "c1", Text: "hello?"}))

	assert.Empty(t, h.gen.inputs, "text in auth is not a chat turn")
	assert.Equal(t, "Waiting for you to complete the credential process...", h.gw.lastText(t))
	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
}

func TestGeneratorFailure(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	h.gen.err = errors.New("upstream 503")

	err := h.handle(t, TextEvent{ConnectionID: "c1", Text: "hi"})
	require.Error(t, err)

	assert.Equal(t, "The service is not available at the moment. Please try again later.", h.gw.lastText(t))
	assert.Len(t, h.gw.menus, 1, "menu is sent after a failure")
	assert.Equal(t, 1, h.store.SaveCount(), "session is persisted after a failure")
	assert.Equal(t, store.StateChat, h.session(t, "c1").State)
}

func TestMissingCredentialDefinition(t *testing.T) {
	h := newHarness(t, nil, "")

	err := h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"})
	require.ErrorIs(t, err, ErrMissingCredentialDefinition)

	assert.Empty(t, h.gw.proofs)
	assert.Equal(t, store.StateChat, h.session(t, "c1").State)
	assert.Equal(t, "The service is not available at the moment. Please try again later.", h.gw.lastText(t))
	assert.Len(t, h.gw.menus, 1)
}

func TestProofRequestSendFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	h.gw.proofErr = errors.New("gateway down")

	err := h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"})
	require.Error(t, err)
	assert.Equal(t, store.StateChat, h.session(t, "c1").State)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	ctx := context.Background()

	require.NoError(t, h.store.SaveSession(ctx, &store.Session{
		ConnectionID:    "c1",
		State:           store.StateChat,
		Lang:            "es",
		IsAuthenticated: true,
		UserName:        "Ana",
	}))
	require.NoError(t, h.mem.AddMessage(ctx, "c1", memory.RoleUser, "hola"))

	require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "logout"}))

	s := h.session(t, "c1")
	assert.Equal(t, store.StateStart, s.State)
	assert.False(t, s.IsAuthenticated)
	assert.Empty(t, s.UserName)
	assert.Equal(t, "es", s.Lang, "language survives the purge")

	hist, err := h.mem.GetHistory(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, hist)

	menu := h.gw.lastMenu(t)
	assert.Equal(t, "¡Bienvenido!", menu.Title)
	assert.Equal(t, []string{"authenticate"}, menuIDs(menu))
	assert.Equal(t, "Autenticar", menu.Options[0].Title)
}

func TestConnectionClose_Idempotent(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	ctx := context.Background()

	require.NoError(t, h.store.SaveSession(ctx, &store.Session{
		ConnectionID:    "c1",
		State:           store.StateAuth,
		Lang:            "fr",
		IsAuthenticated: true,
		UserName:        "Léa",
	}))

	require.NoError(t, h.handle(t, ConnectionCloseEvent{ConnectionID: "c1"}))
	once := h.session(t, "c1")
	require.NoError(t, h.handle(t, ConnectionCloseEvent{ConnectionID: "c1"}))
	twice := h.session(t, "c1")

	assert.Equal(t, store.StateStart, once.State)
	assert.False(t, once.IsAuthenticated)
	assert.Empty(t, once.UserName)
	assert.Equal(t, "fr", once.Lang)

	assert.Equal(t, once.State, twice.State)
	assert.Equal(t, once.IsAuthenticated, twice.IsAuthenticated)
	assert.Equal(t, once.UserName, twice.UserName)
	assert.Equal(t, once.Lang, twice.Lang)

	assert.Empty(t, h.gw.menus, "closed connections get no menu")
}

func TestStartState_TextResumesChat(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateStart}))

	require.NoError(t, h.handle(t, TextEvent{ConnectionID: "c1", Text: "back again"}))

	assert.Equal(t, store.StateChat, h.session(t, "c1").State)
	assert.Equal(t, []string{"back again"}, h.gen.inputs)
}

func TestStartState_AuthenticateResumesChat(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateStart}))

	require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"}))

	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
	assert.Len(t, h.gw.proofs, 1)
}

func TestStartState_OpenAndProfileLeaveStateAlone(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateStart}))

	require.NoError(t, h.handle(t, ConnectionOpenEvent{ConnectionID: "c1"}))
	require.NoError(t, h.handle(t, ProfileEvent{ConnectionID: "c1", PreferredLanguage: "es"}))

	assert.Equal(t, store.StateStart, h.session(t, "c1").State)
}

func TestMenuSelectInAuth(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateAuth}))

	require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"}))

	assert.Empty(t, h.gw.proofs, "selections are only acted on in chat")
	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
	assert.Equal(t, "Waiting for you to complete the credential process...", h.gw.lastText(t))
}

func TestMenuSelect_UnknownOrUnhandled(t *testing.T) {
	pack := &agentpack.Manifest{}
	pack.Flows.Menu.Items = []agentpack.MenuItem{
		{ID: "help", LabelKey: "HELP", Action: "help"},
		{ID: "about", LabelKey: "ABOUT"},
	}
	h := newHarness(t, pack, "cred-def-1")

	for _, sel := range []string{"help", "about", "nope", ""} {
		require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: sel}))
	}

	assert.Equal(t, store.StateChat, h.session(t, "c1").State)
	assert.Empty(t, h.gw.texts)
	assert.Empty(t, h.gw.proofs)

	menu := h.gw.lastMenu(t)
	assert.Equal(t, []string{"help", "about"}, menuIDs(menu))
	assert.Equal(t, "HELP", menu.Options[0].Title, "missing translations degrade to the key")
}

func TestProfile_SetsLanguageAndWelcomes(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	require.NoError(t, h.handle(t, ProfileEvent{ConnectionID: "c1", PreferredLanguage: "es-AR"}))

	assert.Equal(t, "es-AR", h.session(t, "c1").Lang)
	assert.Contains(t, h.gw.lastText(t), "¡Hola!")
	assert.Equal(t, "¡Bienvenido!", h.gw.lastMenu(t).Title)
}

func TestProfile_EmptyLanguageKeepsExisting(t *testing.T) {
	pack := &agentpack.Manifest{}
	pack.Flows.Welcome.SendOnProfile = agentpack.Flag{Value: false, Set: true}
	h := newHarness(t, pack, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateChat, Lang: "fr"}))

	require.NoError(t, h.handle(t, ProfileEvent{ConnectionID: "c1"}))

	assert.Equal(t, "fr", h.session(t, "c1").Lang)
	assert.Empty(t, h.gw.texts, "welcome disabled on profile")
}

type prooflessGateway struct{ fakeGateway }

func (g *prooflessGateway) SupportsProofs(string) bool { return false }

func TestProoflessChannel_HidesAuthenticateAndStaysInChat(t *testing.T) {
	gw := &prooflessGateway{}
	st := store.NewMockStore()
	orch := New(Deps{
		Store:     st,
		Content:   agentpack.New(nil, agentpack.Options{CredentialDefinitionID: "cred-def-1"}),
		Gateway:   gw,
		Generator: &fakeGenerator{answer: "42"},
	})
	ctx := context.Background()

	require.NoError(t, orch.Handle(ctx, ConnectionOpenEvent{ConnectionID: "!room:example.org"}))
	assert.Empty(t, gw.lastMenu(t).Options, "authenticate is hidden")

	err := orch.Handle(ctx, MenuSelectEvent{ConnectionID: "!room:example.org", SelectionID: "authenticate"})
	require.ErrorIs(t, err, ErrProofUnsupported)
	assert.Empty(t, gw.proofs)
	assert.Equal(t, "The service is not available at the moment. Please try again later.", gw.lastText(t))

	s, err := st.GetSession(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, store.StateChat, s.State)

	require.NoError(t, orch.Handle(ctx, TextEvent{ConnectionID: "!room:example.org", Text: "hours?"}))
	assert.Equal(t, "42", gw.lastText(t))
}

func TestSessionLoadFailureStillReplies(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	h.store.LoadErr = errors.New("database is locked")

	err := h.handle(t, TextEvent{ConnectionID: "c1", Text: "hi"})
	assert.ErrorContains(t, err, "database is locked")
	assert.Equal(t, "The service is not available at the moment. Please try again later.", h.gw.lastText(t))
	assert.Empty(t, h.gen.inputs)
}

func TestUnknownEvent(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	require.NoError(t, h.store.SaveSession(context.Background(), &store.Session{ConnectionID: "c1", State: store.StateAuth}))

	require.NoError(t, h.handle(t, UnknownEvent{ConnectionID: "c1", Type: "call-offer"}))

	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
	assert.Empty(t, h.gw.texts)
	assert.Len(t, h.gw.menus, 1)
}

func TestHandle_NilAndMissingConnection(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	assert.NoError(t, h.orch.Handle(context.Background(), nil))
	assert.ErrorIs(t, h.handle(t, TextEvent{Text: "hi"}), ErrMissingConnection)
}

func TestMenuSendFailureStillPersists(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	h.gw.menuErr = errors.New("menu rejected")

	require.NoError(t, h.handle(t, MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"}))
	assert.Equal(t, store.StateAuth, h.session(t, "c1").State)
}

func TestPersistFailureIsReturned(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")
	_, err := h.store.GetOrCreateSession(context.Background(), "c1", store.StateChat)
	require.NoError(t, err)
	h.store.SaveErr = errors.New("disk full")

	err = h.handle(t, ConnectionOpenEvent{ConnectionID: "c1"})
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, h.gw.menus, 1)
}

func TestStateAlwaysValid(t *testing.T) {
	h := newHarness(t, nil, "cred-def-1")

	events := []Event{
		ConnectionOpenEvent{ConnectionID: "c1"},
		TextEvent{ConnectionID: "c1", Text: "hi"},
		MenuSelectEvent{ConnectionID: "c1", SelectionID: "authenticate"},
		TextEvent{ConnectionID: "c1", Text: "still there?"},
		ProofSubmitEvent{ConnectionID: "c1", Items: []ProofItem{{ErrorCode: "TIMEOUT"}}},
		ProofSubmitEvent{ConnectionID: "c1", Items: []ProofItem{{Claims: []Claim{{Name: "firstName", Value: "Bo"}}}}},
		MenuSelectEvent{ConnectionID: "c1", SelectionID: "logout"},
		ConnectionCloseEvent{ConnectionID: "c1"},
		TextEvent{ConnectionID: "c1", Text: "hello"},
	}
	want := []store.State{
		store.StateChat, store.StateChat, store.StateAuth, store.StateAuth, store.StateAuth,
		store.StateChat, store.StateStart, store.StateStart, store.StateChat,
	}

	for i, ev := range events {
		require.NoError(t, h.handle(t, ev))
		s := h.session(t, "c1")
		assert.True(t, s.State.Valid())
		assert.Equal(t, want[i], s.State, "after event %d (%T)", i, ev)
	}
}
