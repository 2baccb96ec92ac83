//go:build e2e

// Package e2e provides end-to-end testing infrastructure.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/apitypes"
	"github.com/romfetch/romfetch/internal/config"
	"github.com/romfetch/romfetch/internal/server"
	testutil "github.com/romfetch/romfetch/internal/testing"
)

// Test configuration constants.
const (
	startupTimeout        = 10 * time.Second
	serverShutdownTimeout = 10 * time.Second
	defaultHTTPTimeout    = 10 * time.Second
	pollInterval          = 10 * time.Millisecond
	maxConcurrent         = 2
)

// Harness runs the full application against a fake catalog server. Nothing
// is mocked below the catalog API: real HTTP transfers, real extraction,
// real file placement.
type Harness struct {
	t *testing.T

	// Catalog is the fake catalog API the server talks to.
	Catalog *testutil.CatalogServer

	// Server is the application under test.
	Server *server.Server

	// BaseURL is the address of the application's HTTP API.
	BaseURL string

	// File paths
	LibraryPath string
	StagingPath string

	client    *http.Client
	ctx       context.Context
	ctxCancel context.CancelFunc
	runDone   chan error
}

// Config configures the E2E test harness.
type Config struct {
	// Unzip controls archive extraction after download.
	Unzip bool

	// APIKey is forwarded to the catalog on every request when set.
	APIKey string

	// Logger for the application under test.
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults for E2E tests.
func DefaultConfig() Config {
	return Config{
		Unzip:  true,
		Logger: zerolog.Nop(),
	}
}

// NewHarness creates a new E2E test harness.
// Call Start() to bring up the catalog fake and the application server.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	return &Harness{
		t:      t,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Start brings up the fake catalog and the application server, and blocks
// until the API is reachable.
func (h *Harness) Start(ctx context.Context, cfg Config) {
	h.t.Helper()

	h.ctx, h.ctxCancel = context.WithCancel(ctx)

	tempDir := h.t.TempDir()
	h.LibraryPath = filepath.Join(tempDir, "library")
	h.StagingPath = filepath.Join(tempDir, "library", ".staging")

	h.Catalog = testutil.NewCatalogServer()

	appCfg := h.buildConfig(cfg)

	var err error
	h.Server, err = server.New(appCfg, server.Options{Logger: cfg.Logger})
	require.NoError(h.t, err, "failed to create server")

	h.runDone = make(chan error, 1)
	go func() {
		h.runDone <- h.Server.Run(h.ctx)
	}()

	// The listener address is only known once echo has bound the socket
	deadline := time.Now().Add(startupTimeout)
	for {
		if addr := h.Server.HTTP().ListenerAddr(); addr != nil {
			h.BaseURL = "http://" + addr.String()
			break
		}
		if time.Now().After(deadline) {
			h.t.Fatal("server never bound its listener")
		}
		time.Sleep(pollInterval)
	}
}

// buildConfig creates the application config for the test.
func (h *Harness) buildConfig(cfg Config) config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Listen: "127.0.0.1:0", // Random port
		},
		Catalog: config.CatalogConfig{
			URL:         h.Catalog.URL,
			APIKey:      cfg.APIKey,
			HTTPTimeout: defaultHTTPTimeout,
		},
		Library: config.LibraryConfig{
			Path:        h.LibraryPath,
			StagingPath: h.StagingPath,
		},
		Download: config.DownloadConfig{
			MaxConcurrent:   maxConcurrent,
			Unzip:           cfg.Unzip,
			TransferBackend: "http",
		},
	}
}

// Stop shuts down the application and the catalog fake.
func (h *Harness) Stop() {
	h.t.Helper()

	if h.Server != nil {
		h.Server.PrepareShutdown()
	}
	if h.ctxCancel != nil {
		h.ctxCancel()
	}
	if h.runDone != nil {
		select {
		case <-h.runDone:
		case <-time.After(serverShutdownTimeout):
			h.t.Error("Run did not return after context cancellation")
		}
	}

	if h.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		_ = h.Server.Shutdown(shutdownCtx)
	}

	if h.Catalog != nil {
		h.Catalog.Close()
	}
}

// DoJSON issues a request against the running API and decodes the response
// body into out when out is non-nil. Returns the HTTP status code.
func (h *Harness) DoJSON(method, path string, body, out any) int {
	h.t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(h.ctx, method, h.BaseURL+path, reqBody)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)

	if out != nil && len(data) > 0 {
		require.NoError(h.t, json.Unmarshal(data, out),
			"failed to decode %s %s response: %s", method, path, string(data))
	}
	return resp.StatusCode
}

// Enqueue submits a download over the API and returns the queue item id.
func (h *Harness) Enqueue(romID, fileID int64) string {
	h.t.Helper()

	var resp apitypes.EnqueueResponse
	code := h.DoJSON(http.MethodPost, "/api/queue",
		apitypes.EnqueueRequest{RomID: romID, FileID: fileID}, &resp)
	require.Equal(h.t, http.StatusCreated, code, "enqueue should succeed")
	return resp.ID
}

// WaitForStatus polls the queue listing until the item reaches the given
// status, and returns its final snapshot.
func (h *Harness) WaitForStatus(id, status string, timeout time.Duration) apitypes.QueueItem {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var items []apitypes.QueueItem
		h.DoJSON(http.MethodGet, "/api/queue", nil, &items)
		for _, item := range items {
			if item.ID == id && item.Status == status {
				return item
			}
		}
		time.Sleep(pollInterval)
	}

	h.t.Fatalf("timeout waiting for item %s to reach status %s", id, status)
	return apitypes.QueueItem{}
}

// LibraryFile returns the absolute path of a placed file.
func (h *Harness) LibraryFile(platform string, parts ...string) string {
	return filepath.Join(append([]string{h.LibraryPath, platform}, parts...)...)
}

// EventTypes returns the types of all recorded timeline events, newest first.
func (h *Harness) EventTypes() []string {
	h.t.Helper()

	var entries []struct {
		Type string `json:"type"`
	}
	code := h.DoJSON(http.MethodGet, "/api/events", nil, &entries)
	require.Equal(h.t, http.StatusOK, code)

	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.Type
	}
	return types
}
