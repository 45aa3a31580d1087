// Package gateway serves the chat pipeline over HTTP, server-sent events and
// websockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/pkg/clock"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/stream"
)

// Pipeline is the chat backend the gateway serves.
type Pipeline interface {
	ProcessMessage(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
	StreamMessage(ctx context.Context, req orchestrator.Request, sink stream.Sink) error
	Status() orchestrator.Status
	Reset(ctx context.Context, sessionID, actor string) (bool, error)
	ClearAll(ctx context.Context, actor string) int
	Catalog() orchestrator.Catalog
}

// Config holds server configuration.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
	Pipeline           Pipeline
	Clock              clock.Clock
	Logger             zerolog.Logger
}

// Server is the HTTP and websocket front of the pipeline.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	pipeline        Pipeline
	limiter         *RateLimiter
	clients         *ClientRegistry
	upgrader        websocket.Upgrader
	allowAnyOrigin  bool
	allowedOrigins  map[string]struct{}
	clock           clock.Clock
	logger          zerolog.Logger

	server   *http.Server
	listener net.Listener

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:8000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	s := &Server{
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		pipeline:        cfg.Pipeline,
		limiter:         NewRateLimiter(cfg.RateLimitPerMinute, cfg.Clock),
		clients:         NewClientRegistry(),
		allowedOrigins:  make(map[string]struct{}),
		clock:           cfg.Clock,
		logger:          cfg.Logger,
	}
	for _, origin := range cfg.CORSOrigins {
		if origin == "*" {
			s.allowAnyOrigin = true
		}
		s.allowedOrigins[origin] = struct{}{}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	observability.EnsureRegistered()
	return s, nil
}

// Handler returns the routed handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/stream/{session_id}", s.handleStream)
	mux.HandleFunc("GET /api/agents/status", s.handleStatus)
	mux.HandleFunc("POST /api/agents/reset/{session_id}", s.handleReset)
	mux.HandleFunc("POST /api/agents/reset", s.handleResetAll)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var h http.Handler = mux
	h = s.withInFlight(h)
	h = s.withRateLimit(h)
	h = s.withCORS(h)
	h = s.withRecovery(h)
	h = s.withObservability(h)
	h = s.withRequestID(h)
	return h
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop refuses new requests, waits for in-flight ones up to the shutdown
// timeout, closes websocket clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	defer s.limiter.Stop()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-timer.C:
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("Shutdown cancelled, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown gateway server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// ConnectedClients describes the open websocket connections.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Infos(s.clock.Now())
}
