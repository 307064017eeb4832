// ABOUTME: Direct HTTP endpoints next to the webhooks: ask a question and add a knowledge-base document
// ABOUTME: Both bypass the dialog state machine and share the webhook authentication

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-concierge/internal/store"
)

const maxAPIBodyBytes = 4 << 20

type askRequest struct {
	Question        string `json:"question"`
	UserInput       string `json:"userInput"`
	ConnectionID    string `json:"connectionId"`
	Lang            string `json:"lang"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	UserName        string `json:"userName"`
}

type addDocumentRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// handleAsk answers one question. A known connection answers with its stored
// session; otherwise the request fields describe the asker.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = strings.TrimSpace(req.UserInput)
	}
	if question == "" {
		writeAPIError(w, http.StatusBadRequest, "question is required")
		return
	}

	session, err := s.askSession(r, req)
	if err != nil {
		s.logger.Error("loading session for ask", "connection_id", req.ConnectionID, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	answer, err := s.generator.Generate(r.Context(), question, session)
	if err != nil {
		s.logger.Error("answering question", "connection_id", session.ConnectionID, "error", err)
		writeAPIError(w, http.StatusBadGateway, "could not generate an answer")
		return
	}
	writeAPIJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) askSession(r *http.Request, req askRequest) (*store.Session, error) {
	connID := strings.TrimSpace(req.ConnectionID)
	if connID == "" {
		connID = "api-" + uuid.NewString()
	}
	session, err := s.store.GetSession(r.Context(), connID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return &store.Session{
		ConnectionID:    connID,
		State:           store.StateChat,
		Lang:            req.Lang,
		IsAuthenticated: req.IsAuthenticated,
		UserName:        req.UserName,
	}, nil
}

// handleAddDocument indexes one document into the knowledge base.
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeAPIError(w, http.StatusBadRequest, "text is required")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	n, err := s.index.AddDocument(id, req.Text)
	if err != nil {
		s.logger.Error("adding document", "id", id, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "could not index document")
		return
	}
	s.logger.Info("document added", "id", id, "chunks", n)
	writeAPIJSON(w, http.StatusOK, map[string]any{"status": "ok", "chunks": n})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeAPIJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeAPIJSON(w, status, map[string]string{"error": message})
}
