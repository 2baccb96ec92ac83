package transfer

import (
	"context"
	"fmt"
	"io"
	"log" //nolint:depguard // needed to suppress rclone's internal error logging during shutdown
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/accounting"
	"github.com/rclone/rclone/fs/operations"
	"github.com/rs/zerolog"

	// Import backends we need.
	_ "github.com/rclone/rclone/backend/http"
	_ "github.com/rclone/rclone/backend/local"
)

// Default rclone configuration values.
const (
	rcloneDefaultParallelConnections = 4
	rcloneDefaultProgressInterval    = 500 * time.Millisecond
	rcloneBytesPerMB                 = 1 << 20
	// Don't split files if chunks would be under 10MB
	rcloneMinChunkSize = 10 * rcloneBytesPerMB
)

// rcloneGlobalsOnce ensures global rclone configuration is only set once.
// This prevents race conditions when multiple transferers are created concurrently.
//
//nolint:gochecknoglobals // sync primitives for thread-safe rclone initialization
var rcloneGlobalsOnce sync.Once

// rcloneNewFsMu serializes fs.NewFs calls to work around race conditions in rclone's
// config loading (github.com/rclone/rclone/issues/8666). This is only needed during filesystem creation.
//
//nolint:gochecknoglobals // sync primitives for thread-safe rclone initialization
var rcloneNewFsMu sync.Mutex

// rcloneTransferer implements Transferer using rclone's http backend.
// It is private and only exposed via the Transferer interface.
type rcloneTransferer struct {
	baseURL             string
	headers             map[string]string
	parallelConnections int
	logger              zerolog.Logger

	// Cached http filesystem rooted at the catalog base URL
	httpFs   fs.Fs
	httpOnce sync.Once
	httpErr  error
}

// setLogger implements configurable for shared options.
func (t *rcloneTransferer) setLogger(logger zerolog.Logger) {
	t.logger = logger
}

// NewRclone creates a new rclone transferer and returns it as Transferer.
func NewRclone(opts Options, options ...Option) Transferer {
	parallelConnections := opts.ParallelConnections
	if parallelConnections == 0 {
		parallelConnections = rcloneDefaultParallelConnections
	}

	t := &rcloneTransferer{
		baseURL:             strings.TrimSuffix(opts.BaseURL, "/"),
		headers:             opts.Headers,
		parallelConnections: parallelConnections,
		logger:              zerolog.Nop(),
	}

	for _, opt := range options {
		opt(t)
	}

	// Configure global rclone settings
	t.configureGlobals()

	return t
}

// configureGlobals sets up global rclone configuration.
// Uses sync.Once to ensure configuration happens only once, preventing race conditions
// when multiple transferers are created concurrently.
func (t *rcloneTransferer) configureGlobals() {
	rcloneGlobalsOnce.Do(func() {
		ci := fs.GetConfig(context.Background())

		// Concurrency is handled by the queue manager, not rclone
		ci.Transfers = 1
		ci.Checkers = 1
		ci.MultiThreadStreams = t.parallelConnections

		// Only use multi-thread downloads for files large enough that each chunk
		// is at least minChunkSize, and only when the server supports ranges
		ci.MultiThreadCutoff = fs.SizeSuffix(t.parallelConnections * rcloneMinChunkSize)
		ci.StreamingUploadCutoff = 0 // Always stream

		// Reduce verbosity
		ci.LogLevel = fs.LogLevelError
	})
}

// Name returns the name of the transfer backend.
func (t *rcloneTransferer) Name() string {
	return string(BackendRclone)
}

// PrepareShutdown suppresses rclone error logging during shutdown.
// Call this before cancelling contexts to avoid noisy "context canceled" errors.
func (t *rcloneTransferer) PrepareShutdown() {
	// Suppress standard library log output (used by rclone for some errors)
	log.SetOutput(io.Discard)

	// Set rclone log level to suppress error messages
	ci := fs.GetConfig(context.Background())
	ci.LogLevel = fs.LogLevelEmergency
}

// Close releases any resources held by the transferer.
func (t *rcloneTransferer) Close() error {
	if t.httpFs != nil {
		if shutdowner, ok := t.httpFs.(fs.Shutdowner); ok {
			_ = shutdowner.Shutdown(context.Background())
		}
	}
	return nil
}

// GetSpeed returns the current aggregate transfer speed from rclone's global stats.
func (t *rcloneTransferer) GetSpeed() int64 {
	stats, err := accounting.GlobalStats().RemoteStats(true)
	if err != nil {
		return 0
	}
	if speed, ok := stats["speed"].(float64); ok {
		return int64(speed)
	}
	return 0
}

// getHTTPFs returns a cached http filesystem or creates a new one.
func (t *rcloneTransferer) getHTTPFs(ctx context.Context) (fs.Fs, error) {
	t.httpOnce.Do(func() {
		t.httpFs, t.httpErr = t.createHTTPFs(ctx)
	})
	return t.httpFs, t.httpErr
}

// createHTTPFs creates an http filesystem rooted at the catalog base URL.
func (t *rcloneTransferer) createHTTPFs(ctx context.Context) (fs.Fs, error) {
	// Build connection string using rclone's backend connection string format.
	// Using fs.NewFs with a connection string ensures all defaults are applied properly.
	// Format: :http,option='value',option2='value2':path
	// no_head avoids a HEAD request per object: catalog servers answer GET only.
	headersOpt := ""
	if len(t.headers) > 0 {
		pairs := make([]string, 0, len(t.headers)*2)
		for k, v := range t.headers {
			pairs = append(pairs, k, v)
		}
		headersOpt = fmt.Sprintf(",headers='%s'", strings.Join(pairs, ","))
	}

	connStr := fmt.Sprintf(":http,url='%s'%s,no_head=true:/", t.baseURL, headersOpt)

	// Serialize fs.NewFs calls to work around race conditions in rclone's config loading
	rcloneNewFsMu.Lock()
	httpFs, err := fs.NewFs(ctx, connStr)
	rcloneNewFsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create http filesystem: %w", err)
	}

	t.logger.Info().
		Str("url", t.baseURL).
		Int("streams", t.parallelConnections).
		Msg("rclone http remote established")

	return httpFs, nil
}

// Transfer fetches a file from the catalog using rclone.
func (t *rcloneTransferer) Transfer(ctx context.Context, req Request, onProgress ProgressFunc) error {
	t.logger.Debug().
		Str("url", req.URL).
		Str("local", req.LocalPath).
		Int64("size", req.Size).
		Msg("starting rclone transfer")

	httpFs, err := t.getHTTPFs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get http filesystem: %w", err)
	}

	remotePath, err := t.remotePath(req.URL)
	if err != nil {
		return err
	}

	// Create local filesystem for destination directory
	localDir := filepath.Dir(req.LocalPath)
	if mkdirErr := os.MkdirAll(localDir, 0750); mkdirErr != nil {
		return fmt.Errorf("failed to create local directory: %w", mkdirErr)
	}

	// Serialize fs.NewFs calls to work around race conditions in rclone's config loading
	rcloneNewFsMu.Lock()
	localFs, err := fs.NewFs(ctx, localDir)
	rcloneNewFsMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create local filesystem: %w", err)
	}

	srcObj, err := httpFs.NewObject(ctx, remotePath)
	if err != nil {
		return &NetworkError{URL: req.URL, Err: err}
	}

	return t.copyWithProgress(ctx, localFs, srcObj, req, onProgress)
}

// remotePath converts a full download URL into a path relative to the
// catalog-rooted filesystem.
func (t *rcloneTransferer) remotePath(reqURL string) (string, error) {
	if !strings.HasPrefix(reqURL, t.baseURL) {
		return "", fmt.Errorf("url %q is outside the catalog base %q", reqURL, t.baseURL)
	}

	remotePath := strings.TrimPrefix(reqURL, t.baseURL)
	remotePath = strings.TrimPrefix(remotePath, "/")

	// The remote escapes object names itself
	if unescaped, err := url.PathUnescape(remotePath); err == nil {
		remotePath = unescaped
	}

	return remotePath, nil
}

// copyWithProgress copies a file and reports progress using per-transfer stats.
func (t *rcloneTransferer) copyWithProgress(
	ctx context.Context,
	dstFs fs.Fs,
	srcObj fs.Object,
	req Request,
	onProgress ProgressFunc,
) error {
	dstFileName := filepath.Base(req.LocalPath)

	// Create a unique stats group for this transfer to avoid conflicts with concurrent transfers
	// See: https://github.com/rclone/rclone/blob/master/fs/accounting/stats_groups.go
	groupName := fmt.Sprintf("transfer-%s-%d", dstFileName, time.Now().UnixNano())
	transferCtx := accounting.WithStatsGroup(ctx, groupName)
	stats := accounting.StatsGroup(transferCtx, groupName)

	total := srcObj.Size()
	if total < 0 {
		total = req.Size
	}

	// Start progress monitoring
	var wg sync.WaitGroup
	done := make(chan struct{})
	startTime := time.Now()

	if onProgress != nil {
		wg.Go(func() {
			t.monitorProgress(stats, total, onProgress, done)
		})
	}

	// Perform the copy with the transfer-specific context
	_, err := operations.Copy(transferCtx, dstFs, nil, dstFileName, srcObj)

	// Signal progress monitor to stop
	close(done)
	wg.Wait()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{URL: req.URL, Err: err}
	}

	// Calculate final speed
	elapsed := time.Since(startTime).Seconds()
	var speed int64
	if elapsed > 0 {
		speed = int64(float64(total) / elapsed)
	}

	// Send final progress update
	if onProgress != nil {
		onProgress(Progress{
			Transferred: total,
			Total:       total,
			BytesPerSec: speed,
		})
	}

	t.logger.Debug().
		Str("file", srcObj.Remote()).
		Int64("size", total).
		Float64("speed_mbps", float64(speed)/rcloneBytesPerMB).
		Msg("rclone transfer complete")

	return nil
}

// monitorProgress periodically reports transfer progress from the stats group.
func (t *rcloneTransferer) monitorProgress(
	stats *accounting.StatsInfo,
	total int64,
	onProgress ProgressFunc,
	done chan struct{},
) {
	ticker := time.NewTicker(rcloneDefaultProgressInterval)
	defer ticker.Stop()

	var lastBytes int64
	var lastTime time.Time

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			now := time.Now()
			bytes := stats.GetBytes()

			var speed int64
			if !lastTime.IsZero() && bytes > lastBytes {
				elapsed := now.Sub(lastTime).Seconds()
				if elapsed > 0 {
					speed = int64(float64(bytes-lastBytes) / elapsed)
				}
			}
			lastBytes = bytes
			lastTime = now

			onProgress(Progress{
				Transferred: bytes,
				Total:       total,
				BytesPerSec: speed,
			})
		}
	}
}
