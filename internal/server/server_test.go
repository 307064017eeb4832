// ABOUTME: End-to-end tests for the assembled server
// ABOUTME: Drives the webhook handler against fake VS Agent and LLM endpoints

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-concierge/internal/auth"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/store"
)

// fakeAgent records messages posted to the VS Agent admin API.
type fakeAgent struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (a *fakeAgent) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/message", r.URL.Path)
		var msg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.mu.Lock()
		a.msgs = append(a.msgs, msg)
		a.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (a *fakeAgent) ofType(msgType string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []map[string]any
	for _, m := range a.msgs {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func fakeLLM(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "llama3",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeAgent) {
	t.Helper()

	agent := &fakeAgent{}
	agentSrv := httptest.NewServer(agent.handler(t))
	t.Cleanup(agentSrv.Close)
	llmSrv := fakeLLM(t, "The office opens at nine.")

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "concierge.db")},
		VSAgent:  config.VSAgentConfig{Enabled: true, AdminURL: agentSrv.URL, RequestTimeout: 5 * time.Second},
		LLM:      config.LLMConfig{Provider: "ollama", BaseURL: llmSrv.URL},
		Stats:    config.StatsConfig{Buffer: 16},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, agent
}

func postJSON(t *testing.T, h http.Handler, path, body string, header ...string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestServer_ConnectionThenQuestion(t *testing.T) {
	s, agent := newTestServer(t, nil)
	h := s.Handler()
	require.NotNil(t, h)

	code := postJSON(t, h, "/connection-state-updated", `{"connectionId":"conn-1","state":"completed"}`)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		return len(agent.ofType("contextual-menu-update")) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	menu := agent.ofType("contextual-menu-update")[0]
	assert.Equal(t, "conn-1", menu["connectionId"])

	code = postJSON(t, h, "/message-received",
		`{"message":{"id":"m1","type":"text","connectionId":"conn-1","content":"When do you open?"}}`)
	require.Equal(t, http.StatusAccepted, code)

	require.Eventually(t, func() bool {
		for _, m := range agent.ofType("text") {
			if m["content"] == "The office opens at nine." {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	session, err := s.store.GetSession(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, store.StateChat, session.State)
}

func TestServer_ReadyAndHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	for _, path := range []string{"/health", "/health/ready"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServer_WebhookAuth(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
	})
	h := s.Handler()
	body := `{"connectionId":"conn-1","state":"completed"}`

	assert.Equal(t, http.StatusUnauthorized, postJSON(t, h, "/connection-state-updated", body))

	token, err := auth.NewJWTVerifier([]byte(secret), "").Generate("vs-agent", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted,
		postJSON(t, h, "/connection-state-updated", body, "Authorization", "Bearer "+token))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_FailsOnMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "concierge.db")},
		VSAgent:  config.VSAgentConfig{Enabled: true, AdminURL: "http://127.0.0.1:1"},
	}

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm provider")
}

func postJSONBody(t *testing.T, h http.Handler, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func TestServer_AskEndpoint(t *testing.T) {
	s, agent := newTestServer(t, nil)
	h := s.Handler()

	code, body := postJSONBody(t, h, "/chatbot/ask", `{"question":"When do you open?","connectionId":"api-1","lang":"es"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The office opens at nine.", body["answer"])
	assert.Empty(t, agent.ofType("text"), "direct answers are not sent through a channel")

	code, body = postJSONBody(t, h, "/chatbot/ask", `{"userInput":"When do you open?"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The office opens at nine.", body["answer"])

	code, body = postJSONBody(t, h, "/chatbot/ask", `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "question is required", body["error"])

	code, _ = postJSONBody(t, h, "/chatbot/ask", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_AddDocumentEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	code, body := postJSONBody(t, h, "/langchain-rag/add-doc", `{"id":"hours","text":"The reception desk opens at nine every weekday."}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["chunks"])

	snippets, err := s.index.RetrieveContext(context.Background(), "reception desk")
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Contains(t, snippets[0], "opens at nine")

	code, body = postJSONBody(t, h, "/langchain-rag/add-doc", `{"id":"empty","text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "text is required", body["error"])
}

func TestServer_APIEndpointsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	})
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, postJSON(t, h, "/chatbot/ask", `{"question":"hi"}`))
	assert.Equal(t, http.StatusUnauthorized, postJSON(t, h, "/langchain-rag/add-doc", `{"id":"a","text":"b"}`))
}

func TestServer_ReadyChecksRedisMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Memory = config.MemoryConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr()}
	})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0 stats dropped")

	mr.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "memory unavailable", rec.Body.String())
}
