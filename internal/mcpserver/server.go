// Package mcpserver serves each gateway's published agent tools over the
// Model Context Protocol. Both transports are exposed per gateway, keyed
// by the gateway API key in the URL:
//   - SSE transport under /gateways/{api_key}/sse (+ /message)
//   - Streamable HTTP under /gateways/{api_key}/mcp
//
// A tool call dispatches a task pair to the tool's source agent and blocks
// until the assistant task reaches a terminal status.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
)

// Tool sets are rebuilt from the store when a cached gateway server is
// older than this, so newly readied tools appear without a restart.
const refreshInterval = 30 * time.Second

// Config holds the gateway server configuration.
type Config struct {
	Port        int
	CallTimeout time.Duration // ceiling for one tool call
}

type gatewayEntry struct {
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
	builtAt    time.Time
}

// Server hosts the per-gateway MCP transports with lifecycle management.
type Server struct {
	cfg        Config
	store      store.Store
	dispatcher *dispatcher.Service

	mu         sync.Mutex
	gateways   map[string]*gatewayEntry // keyed by gateway id
	httpServer *http.Server
	running    bool

	pollInterval time.Duration
	logger       *logger.Logger
}

// New creates the gateway server.
func New(cfg Config, st store.Store, disp *dispatcher.Service, log *logger.Logger) *Server {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:          cfg,
		store:        st,
		dispatcher:   disp,
		gateways:     make(map[string]*gatewayEntry),
		pollInterval: 500 * time.Millisecond,
		logger:       log.WithFields(zap.String("component", "mcp-gateway")),
	}
}

// SetPollInterval shortens the task-completion poll for tests.
func (s *Server) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Handler returns the root HTTP handler. Exposed so tests can mount it
// without binding a port.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.route)
}

// Start begins serving and returns once the listener is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: s.Handler()}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("MCP gateway server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP gateway server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the server and its transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	entries := make([]*gatewayEntry, 0, len(s.gateways))
	for _, e := range s.gateways {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	if !running {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	for _, e := range entries {
		if err := e.sse.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE transport", zap.Error(err))
		}
		if err := e.streamable.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable transport", zap.Error(err))
		}
	}
	return nil
}

// Invalidate drops the cached transports for one gateway so the next
// request rebuilds its tool set. Called after tool metadata changes.
func (s *Server) Invalidate(gatewayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gateways, gatewayID)
}

// route resolves /gateways/{api_key}/{transport} to the gateway's MCP
// server, building it on first use.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/gateways/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	apiKey, suffix, ok := strings.Cut(rest, "/")
	if !ok || apiKey == "" {
		http.NotFound(w, r)
		return
	}

	gw, err := s.store.GetGatewayByAPIKey(r.Context(), apiKey)
	if err != nil {
		http.Error(w, "unknown gateway", http.StatusUnauthorized)
		return
	}

	entry, err := s.entryFor(r.Context(), gw)
	if err != nil {
		s.logger.Error("Failed to build gateway server",
			zap.String("gateway_id", gw.ID), zap.Error(err))
		http.Error(w, "gateway unavailable", http.StatusInternalServerError)
		return
	}

	switch suffix {
	case "sse":
		entry.sse.SSEHandler().ServeHTTP(w, r)
	case "message":
		entry.sse.MessageHandler().ServeHTTP(w, r)
	case "mcp":
		entry.streamable.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) entryFor(ctx context.Context, gw *store.Gateway) (*gatewayEntry, error) {
	s.mu.Lock()
	entry, ok := s.gateways[gw.ID]
	s.mu.Unlock()
	if ok && time.Since(entry.builtAt) < refreshInterval {
		return entry, nil
	}

	mcpServer, count, err := s.buildGatewayServer(ctx, gw)
	if err != nil {
		return nil, err
	}
	base := "/gateways/" + gw.APIKey

	entry = &gatewayEntry{
		sse:        server.NewSSEServer(mcpServer, server.WithStaticBasePath(base)),
		streamable: server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath(base+"/mcp")),
		builtAt:    time.Now(),
	}
	s.mu.Lock()
	s.gateways[gw.ID] = entry
	s.mu.Unlock()

	s.logger.Info("Gateway MCP server ready",
		zap.String("gateway_id", gw.ID),
		zap.String("project_id", gw.ProjectID),
		zap.Int("tools", count))
	return entry, nil
}
