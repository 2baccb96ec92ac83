// Package library answers whether catalog files are already present in the
// local ROM library, caching the answer per file so the UI does not re-scan
// a platform directory on every render.
package library

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/catalog"
	"github.com/romfetch/romfetch/internal/fileutil"
	"github.com/romfetch/romfetch/internal/storage"
)

// Reconciler caches "is this file locally present" answers keyed by catalog
// file id. The cache lives for the process only; it is rebuilt per session
// and invalidated explicitly when files are deleted or downloads complete.
type Reconciler struct {
	backend storage.Backend
	logger  zerolog.Logger

	mu       sync.Mutex
	present  map[int64]bool
	checking map[int64]bool
}

// Option is a functional option for configuring the reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a new Reconciler backed by the given storage backend.
func NewReconciler(backend storage.Backend, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend:  backend,
		logger:   zerolog.Nop(),
		present:  make(map[int64]bool),
		checking: make(map[int64]bool),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Check lists dir and reports whether file is present there: any entry whose
// name, extension stripped, contains the file's base name counts as a match.
// The result is cached by file id and the in-flight flag is cleared.
// Concurrent checks for the same file are not deduplicated; callers should
// avoid issuing redundant checks.
func (r *Reconciler) Check(file catalog.RomFile, dir string) (bool, error) {
	entries, err := r.backend.List(dir)
	if err != nil {
		r.mu.Lock()
		delete(r.checking, file.ID)
		r.mu.Unlock()
		return false, err
	}

	base := fileutil.StripExt(file.Name)
	found := false
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if strings.Contains(fileutil.StripExt(entry.Name), base) {
			found = true
			break
		}
	}

	r.mu.Lock()
	r.present[file.ID] = found
	delete(r.checking, file.ID)
	r.mu.Unlock()

	r.logger.Debug().
		Int64("file_id", file.ID).
		Str("file", file.Name).
		Str("dir", dir).
		Bool("present", found).
		Msg("existence check")

	return found, nil
}

// Refresh re-checks a file, short-circuiting to true without listing when
// the cache already says the file is present. A file confirmed present is
// assumed to stay present until explicitly reset.
func (r *Reconciler) Refresh(file catalog.RomFile, dir string) (bool, error) {
	r.mu.Lock()
	if r.present[file.ID] {
		delete(r.checking, file.ID)
		r.mu.Unlock()
		return true, nil
	}
	r.mu.Unlock()

	return r.Check(file, dir)
}

// Reset clears cached state for the given files, e.g. after a deletion or a
// destination switch.
func (r *Reconciler) Reset(fileIDs ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range fileIDs {
		delete(r.present, id)
		delete(r.checking, id)
	}
}

// MarkPresent records a file as locally present without listing, used when a
// download for it just completed.
func (r *Reconciler) MarkPresent(fileID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present[fileID] = true
}

// IsPresent returns the cached answer for a file and whether one exists.
func (r *Reconciler) IsPresent(fileID int64) (present, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	present, cached = r.present[fileID]
	return present, cached
}

// MarkChecking flags a file as having a check in flight, so the UI can show
// a spinner for it.
func (r *Reconciler) MarkChecking(fileID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checking[fileID] = true
}

// IsChecking reports whether a check is in flight for a file.
func (r *Reconciler) IsChecking(fileID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checking[fileID]
}
