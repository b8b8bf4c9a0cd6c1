// Package server provides the HTTP API for shiori.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/models"
)

// DocumentStore is the store surface served over HTTP.
type DocumentStore interface {
	Ingest(ctx context.Context, in models.IngestInput) (*models.IngestResult, error)
	Retrieve(ctx context.Context, q models.RetrieveQuery) ([]*models.RetrieveResult, error)
	Get(docID string) (*models.DocumentRecord, error)
	Stats() *models.StoreStats
}

// WatchService manages inbox directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the shiori API.
type Server struct {
	store  DocumentStore
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server

	watch         WatchService
	watchConfig   *config.Config
	watchConfigMu sync.Mutex
	configPath    string
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the inbox directory endpoints. When configPath is non-empty, directory
// changes are written back to the config file.
func WithWatch(watch WatchService, full *config.Config, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.watchConfig = full
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(store DocumentStore, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyAuth(s.config.APIKey, s.respondError))
		r.Post("/ingest", s.handleIngest)
		r.Post("/retrieve", s.handleRetrieve)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop yields a nil error.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.server.Addr), zap.Bool("auth", s.config.APIKey != ""))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
