// Package controlplane serves the local admin API of the gitmesh daemon:
// health, per-source sync status, manual sync triggers and cleanup of
// renamed-away conflict branches.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gitmesh/gitmesh/internal/git"
	"github.com/gitmesh/gitmesh/internal/sync"
	sloggin "github.com/samber/slog-gin"
)

// Config holds the control plane listen address and access token. An empty
// token disables authentication (the server only ever binds locally).
type Config struct {
	Addr  string
	Token string
	// LocalHost is this daemon's host id, needed to address same-host peers
	// by plain path.
	LocalHost string
}

// Server is the local control plane HTTP server.
type Server struct {
	config   Config
	registry *sync.Registry
	engine   *sync.Engine
	access   git.Access
	router   *gin.Engine
	server   *http.Server
}

// New creates the control plane server and registers its routes.
func New(config Config, registry *sync.Registry, engine *sync.Engine, access git.Access) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// NOTE middleware order is important
	router.Use(
		gin.Recovery(),
		sloggin.New(slog.Default()),
		CORS(),
	)

	s := &Server{
		config:   config,
		registry: registry,
		engine:   engine,
		access:   access,
		router:   router,
	}
	s.registerRoutes()
	return s
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Addr == "" {
		slog.Info("control plane disabled")
		<-ctx.Done()
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen on %s: %w", s.config.Addr, err)
	}

	s.server = &http.Server{Handler: s.router}
	slog.Info("control plane start", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("control plane serve", "error", err)
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("control plane stop")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control plane shutdown: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	v1.Use(TokenAuth(TokenAuthConfig{Token: s.config.Token}))
	v1.GET("/status", s.handleStatus)
	v1.POST("/sources/:name/sync", s.handleSyncSource)
	v1.DELETE("/sources/:name/peers/:host/branches/*branch", s.handleDeleteBranch)
}
