// Package transfer provides interfaces and implementations for file transfer backends.
package transfer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// configurable is implemented by all transferers to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
}

// Option is a functional option for configuring transferers.
type Option func(configurable)

// WithLogger sets the logger for any transferer.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}

// Backend represents a file transfer backend type.
type Backend string

const (
	// BackendHTTP streams files with the native HTTP client.
	BackendHTTP Backend = "http"
	// BackendRclone uses rclone's http backend for file transfers.
	BackendRclone Backend = "rclone"
)

// NetworkError indicates a transfer failed at the network level.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when the failure happened before a response arrived
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error: server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Options holds configuration for creating a Transferer.
type Options struct {
	// BaseURL is the catalog URL all request URLs live under. The rclone
	// backend mounts its remote here; the http backend does not need it.
	BaseURL string

	// Headers are added to every request, e.g. catalog auth.
	Headers map[string]string

	// ParallelConnections is the number of parallel streams per file
	// (rclone backend only, 0 = default).
	ParallelConnections int
}

// Request represents a single file transfer request.
type Request struct {
	// URL is the full download URL for the file
	URL string

	// LocalPath is the full path where the file should be saved locally
	LocalPath string

	// Size is the expected size in bytes, 0 when the catalog does not know it
	Size int64

	// Headers are added on top of the transferer's own headers.
	// The rclone backend applies its construction-time headers only.
	Headers map[string]string
}

// Progress represents the current progress of a transfer.
type Progress struct {
	// Transferred is the number of bytes transferred so far
	Transferred int64

	// Total is the total size in bytes, 0 when unknown
	Total int64

	// BytesPerSec is the current transfer speed
	BytesPerSec int64
}

// ProgressFunc is a callback function for progress updates.
type ProgressFunc func(Progress)

// Transferer is the interface for file transfer backends.
type Transferer interface {
	// Transfer fetches a file to a local path.
	// The onProgress callback is called periodically with transfer progress.
	// The transfer should be cancellable via context.
	Transfer(ctx context.Context, req Request, onProgress ProgressFunc) error

	// Name returns the name of the transfer backend.
	Name() string

	// GetSpeed returns the current aggregate transfer speed in bytes per second.
	// This is the total speed across all active transfers.
	GetSpeed() int64

	// PrepareShutdown is called before context cancellation to allow the backend
	// to suppress expected error messages during graceful shutdown.
	PrepareShutdown()

	// Close releases any resources held by the transferer.
	Close() error
}

// New creates a Transferer for the named backend. An empty backend selects
// the http backend.
func New(backend Backend, opts Options, options ...Option) (Transferer, error) {
	switch backend {
	case BackendHTTP, "":
		return NewHTTP(opts, options...), nil
	case BackendRclone:
		return NewRclone(opts, options...), nil
	default:
		return nil, fmt.Errorf("unknown transfer backend: %s", backend)
	}
}
