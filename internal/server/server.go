// ABOUTME: Server assembles the concierge components and owns their lifecycle
// ABOUTME: Runs the VS Agent webhook listener and the Matrix bridge, then shuts down in dependency order

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"tailscale.com/tsnet"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/auth"
	"github.com/2389/coven-concierge/internal/chatbot"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/dialog"
	"github.com/2389/coven-concierge/internal/dispatch"
	"github.com/2389/coven-concierge/internal/llm"
	"github.com/2389/coven-concierge/internal/matrix"
	"github.com/2389/coven-concierge/internal/memory"
	"github.com/2389/coven-concierge/internal/rag"
	"github.com/2389/coven-concierge/internal/stats"
	"github.com/2389/coven-concierge/internal/store"
	"github.com/2389/coven-concierge/internal/vsagent"
)

// Server wires storage, content, memory, retrieval, the LLM, and the channels
// around a single dialog orchestrator.
type Server struct {
	config *config.Config
	logger *slog.Logger

	store        *store.SQLiteStore
	content      *agentpack.Resolver
	memory       memory.Backend
	index        *rag.Index
	provider     llm.Provider
	generator    *chatbot.Generator
	stats        *stats.Sink
	orchestrator *dialog.Orchestrator
	dispatcher   *dispatch.Dispatcher

	httpServer *http.Server
	tsnet      *tsnet.Server
	bridge     *matrix.Bridge
}

// New builds every component. Documents under the configured docs path are
// indexed before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{config: cfg, logger: logger.With("component", "server")}

	if err := s.init(ctx); err != nil {
		_ = s.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg := s.config
	logger := s.logger

	var err error
	s.store, err = store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	s.content, err = agentpack.Load(cfg.AgentPack.Path, agentpack.Options{
		CredentialDefinitionID: cfg.AgentPack.CredentialDefinitionID,
		AgentPrompt:            cfg.AgentPack.AgentPrompt,
	})
	if err != nil {
		return fmt.Errorf("loading agent pack: %w", err)
	}

	memCfg := memoryConfig(cfg.Memory, s.content.MemoryConfig())
	s.memory, err = memory.New(memCfg)
	if err != nil {
		return fmt.Errorf("initializing memory: %w", err)
	}
	logger.Info("conversation memory ready", "backend", memCfg.Backend, "window", memCfg.Window)

	ragCfg, docsPath := ragConfig(cfg.RAG, s.content.RAGConfig())
	s.index, err = rag.Open(ragCfg, logger)
	if err != nil {
		return fmt.Errorf("opening rag index: %w", err)
	}
	if docsPath != "" {
		n, err := s.index.LoadDirectory(ctx, docsPath)
		if err != nil {
			return fmt.Errorf("indexing documents: %w", err)
		}
		logger.Info("documents indexed", "path", docsPath, "chunks", n)
	}

	s.provider, err = llm.New(llmConfig(cfg.LLM, s.content.LLMConfig()))
	if err != nil {
		return fmt.Errorf("initializing llm provider: %w", err)
	}
	logger.Info("llm provider ready", "provider", s.provider.Name())

	statsCfg := statisticsConfig(cfg.Tools.Statistics, s.content.ToolsConfig().Bundled.StatisticsFetcher)
	s.generator = chatbot.New(chatbot.Deps{
		Provider:   s.provider,
		Content:    s.content,
		Memory:     s.memory,
		Retriever:  s.index,
		Detector:   chatbot.NewLinguaDetector(detectorLanguages(s.content.Manifest())...),
		Stats:      s.store,
		Statistics: statsCfg,
		Logger:     logger,
	})
	logger.Info("model tools ready", "statistics", statsCfg.Enabled, "statistics_requires_auth", statsCfg.RequiresAuth)
	s.stats = stats.NewSink(s.store, cfg.Stats.Buffer, logger)

	// The bridge needs the dispatcher and the orchestrator needs the bridge's
	// client, so the dispatcher resolves the orchestrator at call time.
	s.dispatcher = dispatch.New(dispatch.HandlerFunc(func(ctx context.Context, ev dialog.Event) error {
		return s.orchestrator.Handle(ctx, ev)
	}), dispatch.Config{
		MaxPending:  cfg.Dispatch.MaxPending,
		IdleTimeout: cfg.Dispatch.IdleTimeout,
		DedupeTTL:   cfg.Dispatch.DedupeTTL,
		DedupeSize:  cfg.Dispatch.DedupeSize,
	}, logger)

	router := &channelRouter{}
	if cfg.VSAgent.Enabled {
		httpClient := &http.Client{Timeout: cfg.VSAgent.RequestTimeout}
		router.vsagent = vsagent.NewClient(cfg.VSAgent.AdminURL, httpClient, logger)
		s.httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if cfg.Matrix.Enabled {
		s.bridge, err = matrix.NewBridge(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			AccessToken:  cfg.Matrix.AccessToken,
			AllowedRooms: cfg.Matrix.AllowedRooms,
		}, s.dispatcher, logger)
		if err != nil {
			return fmt.Errorf("creating matrix bridge: %w", err)
		}
		router.matrix = matrix.NewGateway(s.bridge.Client())
	}

	s.orchestrator = dialog.New(dialog.Deps{
		Store:     s.store,
		Content:   s.content,
		Gateway:   router,
		Generator: s.generator,
		Memory:    s.memory,
		Stats:     s.stats,
		Logger:    logger,
	})
	return nil
}

// routes mounts the VS Agent webhooks, the direct question and document
// endpoints, and a readiness check.
func (s *Server) routes() http.Handler {
	var authn func(http.Handler) http.Handler
	if s.config.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(s.config.Auth.JWTSecret), s.config.Auth.Issuer)
		authn = auth.Middleware(verifier, s.logger)
		s.logger.Info("webhook auth enabled")
	} else {
		s.logger.Warn("webhook auth disabled - no jwt_secret configured")
	}

	r := chi.NewRouter()
	r.Get("/health/ready", s.handleReady)
	r.Group(func(r chi.Router) {
		if authn != nil {
			r.Use(authn)
		}
		r.Post("/chatbot/ask", s.handleAsk)
		r.Post("/langchain-rag/add-doc", s.handleAddDocument)
	})
	r.Mount("/", vsagent.NewHandler(s.dispatcher, s.logger).Routes(authn))
	return r
}

// handleReady returns 200 once the store and any networked memory backend answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if p, ok := s.memory.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("memory backend unreachable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("memory unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d active connections, %d stats dropped)", s.dispatcher.Active(), s.stats.Dropped())
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handler returns the webhook HTTP handler, or nil when the VS Agent channel is disabled.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled or a channel fails, then shuts down.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.httpServer != nil {
		ln, err := s.listen(ctx)
		if err != nil {
			_ = s.gracefulShutdown()
			return err
		}
		go func() {
			s.logger.Info("webhook server listening", "addr", ln.Addr().String())
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	bridgeCtx, stopBridge := context.WithCancel(ctx)
	bridgeDone := make(chan struct{})
	if s.bridge != nil {
		go func() {
			defer close(bridgeDone)
			if err := s.bridge.Run(bridgeCtx); err != nil {
				errCh <- fmt.Errorf("matrix bridge: %w", err)
			}
		}()
	} else {
		close(bridgeDone)
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	stopBridge()
	<-bridgeDone

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.listenTailscale(ctx, s.config.Tailscale)
	}
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops intake, drains in-flight events, then releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if s.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	}
	if s.dispatcher != nil {
		errs = appendCloseError(errs, "dispatcher drain", s.dispatcher.Close(ctx))
	}
	if s.stats != nil {
		errs = appendCloseError(errs, "stats flush", s.stats.Close(ctx))
	}
	if s.tsnet != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnet.Close())
	}
	errs = append(errs, s.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// closeComponents releases storage-side resources; any of them may be nil after a failed New.
func (s *Server) closeComponents() []error {
	var errs []error
	if s.memory != nil {
		errs = appendCloseError(errs, "memory close", s.memory.Close())
		s.memory = nil
	}
	if s.index != nil {
		errs = appendCloseError(errs, "index close", s.index.Close())
		s.index = nil
	}
	if s.store != nil {
		errs = appendCloseError(errs, "store close", s.store.Close())
		s.store = nil
	}
	return errs
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
