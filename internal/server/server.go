// Package server wires the application components together and runs them.
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/catalog"
	"github.com/romfetch/romfetch/internal/config"
	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/library"
	"github.com/romfetch/romfetch/internal/queue"
	"github.com/romfetch/romfetch/internal/storage"
	"github.com/romfetch/romfetch/internal/timeline"
	"github.com/romfetch/romfetch/internal/transfer"
)

// Options holds additional server options not in config.
type Options struct {
	// Logger
	Logger zerolog.Logger

	// Catalog overrides the catalog client built from config (tests).
	Catalog catalog.Client

	// Transferer overrides the transfer backend built from config (tests).
	Transferer transfer.Transferer
}

// Server is the main application server.
type Server struct {
	cfg        config.Config
	logger     zerolog.Logger
	bus        *events.Bus
	catalog    catalog.Client
	manager    *queue.Manager
	httpServer *HTTPServer

	libraryController  *library.Controller
	timelineController *timeline.Controller
}

// New creates a new server with the given configuration.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	bus := events.New(
		events.WithLogger(logger.With().Str("component", "events").Logger()),
	)

	catalogClient := opts.Catalog
	if catalogClient == nil {
		catalogClient = catalog.NewRomM(
			cfg.Catalog,
			catalog.WithLogger(logger.With().Str("component", "catalog").Logger()),
		)
	}

	// Single capability probe; nothing downstream branches on the backend
	backend := storage.Detect(
		cfg.Library.Path,
		logger.With().Str("component", "storage").Logger(),
	)
	logger.Info().
		Str("path", cfg.Library.Path).
		Str("backend", backend.Name()).
		Msg("library storage ready")

	transferer := opts.Transferer
	if transferer == nil {
		headers := make(map[string]string)
		if cfg.Catalog.APIKey != "" {
			headers["X-Api-Key"] = cfg.Catalog.APIKey
		}

		var err error
		transferer, err = transfer.New(
			transfer.Backend(cfg.Download.TransferBackend),
			transfer.Options{BaseURL: cfg.Catalog.URL, Headers: headers},
			transfer.WithLogger(logger.With().Str("component", "transfer").Logger()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create transfer backend: %w", err)
		}
		logger.Info().Str("backend", transferer.Name()).Msg("transfer backend configured")
	}

	manager := queue.New(
		catalogClient,
		transferer,
		backend,
		bus,
		cfg.Library.StagingPath,
		queue.WithLogger(logger.With().Str("component", "queue").Logger()),
		queue.WithMaxConcurrent(cfg.Download.MaxConcurrent),
		queue.WithUnzip(cfg.Download.Unzip),
	)

	reconciler := library.NewReconciler(
		backend,
		library.WithLogger(logger.With().Str("component", "library").Logger()),
	)
	libraryController := library.NewController(
		bus,
		reconciler,
		library.WithControllerLogger(logger.With().Str("component", "library").Logger()),
	)

	recorder := timeline.NewRecorder(
		timeline.WithLogger(logger.With().Str("component", "timeline").Logger()),
	)
	timelineController := timeline.NewController(
		bus,
		recorder,
		timeline.WithControllerLogger(logger.With().Str("component", "timeline").Logger()),
	)

	httpServer := NewHTTPServer(
		manager,
		reconciler,
		catalogClient,
		backend,
		recorder,
		bus,
		WithHTTPLogger(logger.With().Str("component", "api").Logger()),
	)

	return &Server{
		cfg:                cfg,
		logger:             logger,
		bus:                bus,
		catalog:            catalogClient,
		manager:            manager,
		httpServer:         httpServer,
		libraryController:  libraryController,
		timelineController: timelineController,
	}, nil
}

// Bus returns the event bus (tests).
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Manager returns the queue manager (tests).
func (s *Server) Manager() *queue.Manager {
	return s.manager
}

// HTTP returns the HTTP API server (tests).
func (s *Server) HTTP() *HTTPServer {
	return s.httpServer
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen", s.cfg.Server.Listen).
		Str("library", s.cfg.Library.Path).
		Str("staging", s.cfg.Library.StagingPath).
		Msg("starting romfetch")

	if err := s.timelineController.Start(ctx); err != nil {
		return fmt.Errorf("failed to start timeline controller: %w", err)
	}
	if err := s.libraryController.Start(ctx); err != nil {
		return fmt.Errorf("failed to start library controller: %w", err)
	}
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	s.bus.Publish(events.Event{Type: events.SystemStarted})

	// A dead catalog is not fatal at startup; enqueues will surface errors
	if err := s.catalog.TestConnection(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("catalog connection test failed")
	} else {
		s.bus.Publish(events.Event{
			Type: events.CatalogConnected,
			Data: map[string]any{"url": s.catalog.Name()},
		})
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(s.cfg.Server.Listen); err != nil {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// PrepareShutdown prepares for graceful shutdown by suppressing expected errors.
// Call this before cancelling the main context.
func (s *Server) PrepareShutdown() {
	s.manager.PrepareShutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("http server shutdown error")
	}

	if err := s.manager.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("queue manager stop error")
	}

	if err := s.libraryController.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("library controller stop error")
	}
	if err := s.timelineController.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("timeline controller stop error")
	}

	if err := s.manager.Close(); err != nil {
		s.logger.Error().Err(err).Msg("transfer backend close error")
	}

	s.bus.Close()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
