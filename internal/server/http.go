package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/apitypes"
	"github.com/romfetch/romfetch/internal/catalog"
	"github.com/romfetch/romfetch/internal/config"
	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/library"
	"github.com/romfetch/romfetch/internal/queue"
	"github.com/romfetch/romfetch/internal/storage"
	"github.com/romfetch/romfetch/internal/timeline"
)

// defaultEventsLimit is the maximum number of timeline events to return.
const defaultEventsLimit = 100

const timeFormat = time.RFC3339

// HTTPServer is the HTTP API server: the UI contract over the queue,
// library, and catalog.
type HTTPServer struct {
	echo       *echo.Echo
	manager    *queue.Manager
	reconciler *library.Reconciler
	catalog    catalog.Client
	backend    storage.Backend
	recorder   timeline.Recorder
	bus        *events.Bus
	logger     zerolog.Logger
}

// HTTPOption is a functional option for configuring the HTTP server.
type HTTPOption func(*HTTPServer)

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger zerolog.Logger) HTTPOption {
	return func(s *HTTPServer) {
		s.logger = logger
	}
}

// NewHTTPServer creates a new HTTP API server.
func NewHTTPServer(
	manager *queue.Manager,
	reconciler *library.Reconciler,
	cat catalog.Client,
	backend storage.Backend,
	recorder timeline.Recorder,
	bus *events.Bus,
	opts ...HTTPOption,
) *HTTPServer {
	s := &HTTPServer{
		echo:       echo.New(),
		manager:    manager,
		reconciler: reconciler,
		catalog:    cat,
		backend:    backend,
		recorder:   recorder,
		bus:        bus,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *HTTPServer) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	// Recovery
	s.echo.Use(middleware.Recover())

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
}

func (s *HTTPServer) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", s.healthHandler)
	api.GET("/stats", s.statsHandler)

	// Queue views and commands
	api.GET("/queue", s.listQueueHandler)
	api.POST("/queue", s.enqueueHandler)
	api.POST("/queue/clear-completed", s.clearCompletedHandler)
	api.POST("/queue/clear-failed", s.clearFailedHandler)
	api.POST("/queue/:id/pause", s.pauseHandler)
	api.POST("/queue/:id/resume", s.resumeHandler)
	api.POST("/queue/:id/cancel", s.cancelHandler)
	api.POST("/queue/:id/retry", s.retryHandler)
	api.DELETE("/queue/:id", s.removeHandler)

	// Catalog
	api.GET("/platforms", s.platformsHandler)

	// Library presence
	api.POST("/library/check", s.libraryCheckHandler)
	api.POST("/library/refresh", s.libraryRefreshHandler)
	api.DELETE("/library/files", s.libraryDeleteHandler)

	// History and settings
	api.GET("/events", s.eventsHandler)
	api.GET("/speed-history", s.speedHistoryHandler)
	api.GET("/settings", s.getSettingsHandler)
	api.PUT("/settings", s.putSettingsHandler)
}

// Start starts the server.
func (s *HTTPServer) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ListenerAddr returns the bound listener address, or nil before Start.
func (s *HTTPServer) ListenerAddr() net.Addr {
	return s.echo.ListenerAddr()
}

// ServeHTTP implements http.Handler for testing.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// parseItemID validates and parses a queue item id path parameter.
func parseItemID(c echo.Context) (ulid.ULID, error) {
	idStr := c.Param("id")
	if idStr == "" {
		return ulid.ULID{}, echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	return id, nil
}

// commandError maps queue command errors onto HTTP responses. Validation
// errors (unknown item, impossible transition) are the only errors a queue
// command surfaces; download failures live on the items themselves.
func commandError(c echo.Context, err error) error {
	var notFound *queue.NotFoundError
	var invalid *queue.InvalidTransitionError
	var dup *queue.AlreadyQueuedError

	switch {
	case errors.As(err, &notFound):
		return c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: err.Error()})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusConflict, apitypes.ErrorResponse{Error: err.Error()})
	case errors.As(err, &dup):
		return c.JSON(http.StatusConflict, apitypes.ErrorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: err.Error()})
	}
}

// Handlers

func (s *HTTPServer) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.HealthResponse{
		Status: "ok",
	})
}

func (s *HTTPServer) statsHandler(c echo.Context) error {
	items := s.manager.Items()

	resp := apitypes.Stats{
		Total:       len(items),
		ByStatus:    make(map[string]int),
		BytesPerSec: s.manager.GetAggregateSpeed(),
	}

	for _, item := range items {
		resp.ByStatus[string(item.Status)]++
		switch {
		case item.Status.HoldsSlot():
			resp.ActiveTransfers++
		case item.Status == queue.StatusPending:
			resp.Pending++
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) listQueueHandler(c echo.Context) error {
	items := s.manager.Items()

	// Record total speed for the sparkline on each poll
	s.manager.RecordSpeed(s.manager.GetAggregateSpeed())

	resp := make([]apitypes.QueueItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, snapshotToAPIType(item))
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) enqueueHandler(c echo.Context) error {
	var req apitypes.EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request body"})
	}

	rom, file, err := s.resolveFile(c.Request().Context(), req.RomID, req.FileID)
	if err != nil {
		return c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: err.Error()})
	}

	id, err := s.manager.Enqueue(rom, file)
	if err != nil {
		return commandError(c, err)
	}

	return c.JSON(http.StatusCreated, apitypes.EnqueueResponse{ID: id.String()})
}

func (s *HTTPServer) pauseHandler(c echo.Context) error {
	id, err := parseItemID(c)
	if err != nil {
		return err
	}
	if err := s.manager.Pause(id); err != nil {
		return commandError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) resumeHandler(c echo.Context) error {
	id, err := parseItemID(c)
	if err != nil {
		return err
	}
	if err := s.manager.Resume(id); err != nil {
		return commandError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) cancelHandler(c echo.Context) error {
	id, err := parseItemID(c)
	if err != nil {
		return err
	}
	if err := s.manager.Cancel(id); err != nil {
		return commandError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) retryHandler(c echo.Context) error {
	id, err := parseItemID(c)
	if err != nil {
		return err
	}

	newID, err := s.manager.Retry(id)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusOK, apitypes.RetryResponse{ID: newID.String()})
}

func (s *HTTPServer) removeHandler(c echo.Context) error {
	id, err := parseItemID(c)
	if err != nil {
		return err
	}
	if err := s.manager.Remove(id); err != nil {
		return commandError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) clearCompletedHandler(c echo.Context) error {
	removed := s.manager.ClearCompleted()
	return c.JSON(http.StatusOK, apitypes.ClearResponse{Removed: removed})
}

func (s *HTTPServer) clearFailedHandler(c echo.Context) error {
	removed := s.manager.ClearFailed()
	return c.JSON(http.StatusOK, apitypes.ClearResponse{Removed: removed})
}

func (s *HTTPServer) platformsHandler(c echo.Context) error {
	platforms, err := s.catalog.ListPlatforms(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list platforms")
		return c.JSON(http.StatusBadGateway, apitypes.ErrorResponse{Error: "catalog unavailable"})
	}

	resp := make([]apitypes.Platform, 0, len(platforms))
	for _, p := range platforms {
		resp = append(resp, apitypes.Platform{
			ID:       p.ID,
			Slug:     p.Slug,
			Name:     p.Name,
			RomCount: p.RomCount,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) libraryCheckHandler(c echo.Context) error {
	return s.libraryPresence(c, false)
}

func (s *HTTPServer) libraryRefreshHandler(c echo.Context) error {
	return s.libraryPresence(c, true)
}

func (s *HTTPServer) libraryPresence(c echo.Context, refresh bool) error {
	var req apitypes.LibraryCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request body"})
	}

	rom, file, err := s.resolveFile(c.Request().Context(), req.RomID, req.FileID)
	if err != nil {
		return c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: err.Error()})
	}

	s.reconciler.MarkChecking(file.ID)

	var exists bool
	if refresh {
		exists, err = s.reconciler.Refresh(file, rom.PlatformSlug)
	} else {
		exists, err = s.reconciler.Check(file, rom.PlatformSlug)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("file", file.Name).Msg("existence check failed")
		return c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "existence check failed"})
	}

	return c.JSON(http.StatusOK, apitypes.LibraryCheckResponse{
		Exists:   exists,
		Checking: s.reconciler.IsChecking(file.ID),
		Queued:   s.manager.IsFileQueued(file.ID),
	})
}

func (s *HTTPServer) libraryDeleteHandler(c echo.Context) error {
	var req apitypes.LibraryDeleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request body"})
	}
	if req.Platform == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "platform and name are required"})
	}

	if err := s.backend.Remove(req.Platform, req.Name); err != nil {
		s.logger.Error().Err(err).Str("name", req.Name).Msg("failed to delete library file")
		return c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "delete failed"})
	}

	if req.FileID != 0 {
		s.reconciler.Reset(req.FileID)
	}

	s.bus.Publish(events.Event{
		Type: events.LibraryChanged,
		Data: map[string]any{"platform": req.Platform, "name": req.Name},
	})

	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) eventsHandler(c echo.Context) error {
	entries := s.recorder.GetAll()
	if len(entries) > defaultEventsLimit {
		entries = entries[:defaultEventsLimit]
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *HTTPServer) speedHistoryHandler(c echo.Context) error {
	history := s.manager.GetSpeedHistory()

	resp := make([]apitypes.SpeedSample, len(history))
	for i, sample := range history {
		resp[i] = apitypes.SpeedSample{
			Speed:     sample.Speed,
			Timestamp: sample.Timestamp,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getSettingsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.Settings{
		MaxConcurrent: s.manager.MaxConcurrent(),
		Unzip:         s.manager.Unzip(),
	})
}

func (s *HTTPServer) putSettingsHandler(c echo.Context) error {
	var req apitypes.Settings
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request body"})
	}

	if req.MaxConcurrent < config.MinConcurrent || req.MaxConcurrent > config.MaxConcurrent {
		return c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{
			Error: "max_concurrent must be between 1 and 5",
		})
	}

	s.manager.SetMaxConcurrent(req.MaxConcurrent)
	s.manager.SetUnzip(req.Unzip)

	return c.JSON(http.StatusOK, apitypes.Settings{
		MaxConcurrent: s.manager.MaxConcurrent(),
		Unzip:         s.manager.Unzip(),
	})
}

// resolveFile fetches a catalog entry and locates the requested file on it.
func (s *HTTPServer) resolveFile(ctx context.Context, romID, fileID int64) (*catalog.Rom, catalog.RomFile, error) {
	rom, err := s.catalog.GetRom(ctx, romID)
	if err != nil {
		return nil, catalog.RomFile{}, err
	}

	for _, file := range rom.Files {
		if file.ID == fileID {
			return rom, file, nil
		}
	}
	return nil, catalog.RomFile{}, errors.New("file not found on catalog entry")
}

// snapshotToAPIType converts a queue snapshot into its API representation.
func snapshotToAPIType(snap queue.Snapshot) apitypes.QueueItem {
	item := apitypes.QueueItem{
		ID:              snap.ID.String(),
		RomID:           snap.RomID,
		FileID:          snap.FileID,
		Name:            snap.Name,
		Platform:        snap.Platform,
		Status:          string(snap.Status),
		Progress:        snap.Progress,
		DownloadedBytes: snap.DownloadedBytes,
		TotalBytes:      snap.TotalBytes,
		BytesPerSec:     snap.BytesPerSec,
		RemainingSec:    snap.RemainingSec,
		Error:           snap.Error,
	}

	if !snap.EnqueuedAt.IsZero() {
		item.EnqueuedAt = snap.EnqueuedAt.Format(timeFormat)
	}
	if !snap.StartedAt.IsZero() {
		item.StartedAt = snap.StartedAt.Format(timeFormat)
	}
	if !snap.CompletedAt.IsZero() {
		item.CompletedAt = snap.CompletedAt.Format(timeFormat)
	}

	return item
}
