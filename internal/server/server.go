package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiqa/multiqa-gateway/internal/config"
	"github.com/multiqa/multiqa-gateway/internal/handlers"
	"github.com/multiqa/multiqa-gateway/internal/keystore"
	"github.com/multiqa/multiqa-gateway/internal/middleware"
	"github.com/multiqa/multiqa-gateway/internal/providers"
	"github.com/multiqa/multiqa-gateway/internal/upstream"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	keys     *keystore.Store
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, keys *keystore.Store, logger *slog.Logger) *Server {
	registry := providers.NewRegistry()
	registry.Initialize()
	applyOverrides(registry, configManager.Get())

	return &Server{
		config:   configManager,
		registry: registry,
		keys:     keys,
		logger:   logger,
	}
}

// applyOverrides merges config-file provider overrides into the built-in
// table. Unknown names are registered as new providers.
func applyOverrides(registry *providers.Registry, cfg *config.Config) {
	for _, o := range cfg.Providers {
		merged, err := registry.Resolve(o.Name)
		if err != nil {
			merged = providers.Config{Name: o.Name}
		}

		if o.DefaultModel != "" {
			merged.DefaultModel = o.DefaultModel
		}

		if o.DefaultSystem != "" {
			merged.DefaultSystem = o.DefaultSystem
		}

		if o.UpstreamURL != "" {
			merged.UpstreamURL = o.UpstreamURL
		}

		if o.DefaultKey != "" {
			merged.DefaultKey = o.DefaultKey
		}

		registry.Register(merged)
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr, "upstream", cfg.UpstreamURL)

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	cfg := s.config.Get()

	client := upstream.New(upstream.DefaultConfig(cfg.UpstreamURL))

	// Create handlers
	chatHandler := handlers.NewChatHandler(s.config, s.registry, s.keys, client, s.logger)
	keyHandler := handlers.NewKeyHandler(s.registry, s.keys, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)
	staticHandler := handlers.NewStaticHandler(cfg.WebDir, s.logger)

	// Setup middleware chains
	middlewareSet := middleware.NewMiddlewareSet(s.logger)

	// Apply middleware chains to routes
	mux.Handle("/api/{provider}/chat/completions", middlewareSet.APIChain().Handler(chatHandler))
	mux.Handle("/api/key", middlewareSet.APIChain().Handler(keyHandler))
	mux.Handle("/health", middlewareSet.APIChain().Handler(healthHandler))
	mux.Handle("/", middlewareSet.StaticChain().Handler(staticHandler))

	return mux
}
