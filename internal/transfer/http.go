package transfer

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Default http backend values.
const (
	httpCopyBufferSize   = 32 * 1024
	httpProgressInterval = 200 * time.Millisecond
)

// httpTransferer implements Transferer with the standard HTTP client.
// It is private and only exposed via the Transferer interface.
type httpTransferer struct {
	headers map[string]string
	client  *http.Client
	logger  zerolog.Logger

	// Per-transfer speeds, summed for GetSpeed
	speedsMu sync.Mutex
	speeds   map[int64]int64
	nextID   atomic.Int64

	shuttingDown atomic.Bool
}

// setLogger implements configurable for shared options.
func (t *httpTransferer) setLogger(logger zerolog.Logger) {
	t.logger = logger
}

// NewHTTP creates a new http transferer and returns it as Transferer.
// The client carries no overall timeout: transfers are bounded by their
// context, not by wall-clock limits that large files would trip.
func NewHTTP(opts Options, options ...Option) Transferer {
	t := &httpTransferer{
		headers: opts.Headers,
		client:  &http.Client{},
		logger:  zerolog.Nop(),
		speeds:  make(map[int64]int64),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Name returns the name of the transfer backend.
func (t *httpTransferer) Name() string {
	return string(BackendHTTP)
}

// GetSpeed returns the summed speed of all active transfers.
func (t *httpTransferer) GetSpeed() int64 {
	t.speedsMu.Lock()
	defer t.speedsMu.Unlock()

	var total int64
	for _, s := range t.speeds {
		total += s
	}
	return total
}

// PrepareShutdown suppresses transfer error logging during shutdown.
func (t *httpTransferer) PrepareShutdown() {
	t.shuttingDown.Store(true)
}

// Close releases any resources held by the transferer.
func (t *httpTransferer) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// Transfer streams the file at req.URL into req.LocalPath.
func (t *httpTransferer) Transfer(ctx context.Context, req Request, onProgress ProgressFunc) error {
	t.logger.Debug().
		Str("url", req.URL).
		Str("local", req.LocalPath).
		Int64("size", req.Size).
		Msg("starting http transfer")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return &NetworkError{URL: req.URL, Err: err}
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	// The response knows the size more reliably than the catalog does
	total := req.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(req.LocalPath), 0750); err != nil {
		return err
	}

	out, err := os.Create(req.LocalPath)
	if err != nil {
		return err
	}

	id := t.nextID.Add(1)
	defer t.clearSpeed(id)

	start := time.Now()
	written, copyErr := t.copyWithProgress(ctx, out, resp.Body, total, id, onProgress)

	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !t.shuttingDown.Load() {
			t.logger.Warn().Err(copyErr).Str("url", req.URL).Msg("http transfer failed")
		}
		return &NetworkError{URL: req.URL, Err: copyErr}
	}

	// Final progress update with the whole-transfer average speed
	elapsed := time.Since(start).Seconds()
	var speed int64
	if elapsed > 0 {
		speed = int64(float64(written) / elapsed)
	}
	if onProgress != nil {
		onProgress(Progress{Transferred: written, Total: total, BytesPerSec: speed})
	}

	t.logger.Debug().
		Str("url", req.URL).
		Int64("bytes", written).
		Int64("bps", speed).
		Msg("http transfer complete")

	return nil
}

// copyWithProgress copies src to dst, reporting throttled progress updates.
func (t *httpTransferer) copyWithProgress(
	ctx context.Context,
	dst io.Writer,
	src io.Reader,
	total int64,
	id int64,
	onProgress ProgressFunc,
) (int64, error) {
	buf := make([]byte, httpCopyBufferSize)

	var written int64
	var lastBytes int64
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
		}

		if elapsed := time.Since(lastReport); elapsed >= httpProgressInterval {
			speed := int64(float64(written-lastBytes) / elapsed.Seconds())
			lastReport = time.Now()
			lastBytes = written

			t.setSpeed(id, speed)
			if onProgress != nil {
				onProgress(Progress{Transferred: written, Total: total, BytesPerSec: speed})
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (t *httpTransferer) setSpeed(id, speed int64) {
	t.speedsMu.Lock()
	defer t.speedsMu.Unlock()
	t.speeds[id] = speed
}

func (t *httpTransferer) clearSpeed(id int64) {
	t.speedsMu.Lock()
	defer t.speedsMu.Unlock()
	delete(t.speeds, id)
}
