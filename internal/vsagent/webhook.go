// ABOUTME: Inbound VS Agent webhook endpoints routed with chi
// ABOUTME: Translates message and connection-state payloads into dialog events and queues them

package vsagent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/coven-concierge/internal/dialog"
	"github.com/2389/coven-concierge/internal/dispatch"
)

const maxBodyBytes = 1 << 20

// Submitter queues events for processing.
type Submitter interface {
	Submit(ev dialog.Event) error
}

// Handler serves the webhook endpoints.
type Handler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewHandler creates a webhook Handler.
func NewHandler(submitter Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		submitter: submitter,
		logger:    logger.With("component", "vsagent"),
	}
}

// Routes builds the webhook router. authn, when non-nil, guards every
// endpoint except /health.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		if authn != nil {
			r.Use(authn)
		}
		r.Post("/message-received", h.handleMessageReceived)
		r.Post("/connection-state-updated", h.handleConnectionState)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMessageReceived(w http.ResponseWriter, r *http.Request) {
	var payload messageReceived
	if !decode(w, r, &payload) {
		return
	}

	ev, ok := toEvent(payload.Message)
	if !ok {
		h.logger.Debug("ignoring message", "type", payload.Message.Type, "connection_id", payload.Message.ConnectionID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.submit(w, r, ev)
}

func (h *Handler) handleConnectionState(w http.ResponseWriter, r *http.Request) {
	var payload connectionStateUpdated
	if !decode(w, r, &payload) {
		return
	}

	var ev dialog.Event
	switch payload.State {
	case ConnectionStateCompleted:
		ev = dialog.ConnectionOpenEvent{ConnectionID: payload.ConnectionID}
	case ConnectionStateTerminated:
		ev = dialog.ConnectionCloseEvent{ConnectionID: payload.ConnectionID}
	default:
		h.logger.Debug("ignoring connection state", "state", payload.State, "connection_id", payload.ConnectionID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.submit(w, r, ev)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, ev dialog.Event) {
	err := h.submitter.Submit(ev)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, dispatch.ErrNoConnection):
		writeError(w, http.StatusBadRequest, "missing connectionId")
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrClosed):
		h.logger.Warn("event rejected",
			"connection_id", ev.Connection(),
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "busy")
	default:
		h.logger.Error("submitting event failed", "connection_id", ev.Connection(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// toEvent maps an inbound message to a dialog event. Receipts are dropped.
func toEvent(m inboundMessage) (dialog.Event, bool) {
	switch m.Type {
	case TypeText:
		return dialog.TextEvent{ConnectionID: m.ConnectionID, MessageID: m.ID, Text: m.Content}, true
	case TypeMedia:
		return dialog.TextEvent{ConnectionID: m.ConnectionID, MessageID: m.ID}, true
	case TypeContextualMenuSelect:
		return dialog.MenuSelectEvent{ConnectionID: m.ConnectionID, MessageID: m.ID, SelectionID: m.SelectionID}, true
	case TypeProfile:
		return dialog.ProfileEvent{ConnectionID: m.ConnectionID, MessageID: m.ID, PreferredLanguage: m.PreferredLanguage}, true
	case TypeIdentityProofSubmit:
		return dialog.ProofSubmitEvent{ConnectionID: m.ConnectionID, MessageID: m.ID, Items: proofItems(m.SubmittedProofItems)}, true
	case TypeReceipts:
		return nil, false
	default:
		return dialog.UnknownEvent{ConnectionID: m.ConnectionID, Type: m.Type}, true
	}
}

func proofItems(items []submittedProofItem) []dialog.ProofItem {
	out := make([]dialog.ProofItem, 0, len(items))
	for _, it := range items {
		claims := make([]dialog.Claim, 0, len(it.Claims))
		for _, c := range it.Claims {
			claims = append(claims, dialog.Claim{Name: c.Name, Value: claimValue(c.Value)})
		}
		out = append(out, dialog.ProofItem{ID: it.ID, Type: it.Type, ErrorCode: it.ErrorCode, Claims: claims})
	}
	return out
}

func claimValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
