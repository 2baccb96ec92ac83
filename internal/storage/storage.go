// Package storage provides filesystem access to the ROM library.
//
// The library root is handed to exactly one Backend at startup. Detect probes
// whether the root supports a scoped handle (os.Root) and picks the scoped
// implementation when it does, so path traversal out of the library is
// impossible regardless of what file names the catalog or an archive supplies.
// Callers never branch on which backend they got.
package storage

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Entry describes a single file or directory in the library.
type Entry struct {
	// Name is the base name of the entry.
	Name string
	// Size is the file size in bytes, 0 for directories.
	Size int64
	// IsDir reports whether the entry is a directory.
	IsDir bool
}

// PermissionError indicates the library filesystem refused an operation.
type PermissionError struct {
	Op   string
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Backend is the narrow filesystem interface used by the download pipeline
// and the existence reconciler. Directory arguments are paths relative to the
// library root, e.g. a platform slug. ImportFile's src is the only absolute
// path: it points into the staging area outside the library.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// List returns the entries of dir. A missing dir is not an error and
	// returns an empty list.
	List(dir string) ([]Entry, error)

	// EnsureDir creates dir and any missing parents.
	EnsureDir(dir string) error

	// WriteFile streams r into dir/name, creating dir if needed.
	// It returns the number of bytes written.
	WriteFile(dir, name string, r io.Reader) (int64, error)

	// ImportFile moves the file at the absolute path src into dir/name.
	// Rename is attempted first, with a copy fallback for cross-device moves.
	ImportFile(src, dir, name string) error

	// Remove deletes dir/name. Removing a missing file is not an error.
	Remove(dir, name string) error

	// Exists reports whether dir/name exists.
	Exists(dir, name string) (bool, error)
}

// Detect probes base and returns the best available backend for it.
// The scoped backend is preferred; the plain backend is the fallback when a
// scoped handle cannot be established (base missing, or the platform lacks
// openat semantics).
func Detect(base string, logger zerolog.Logger) Backend {
	scoped, err := NewScoped(base)
	if err == nil {
		logger.Debug().Str("base", base).Str("backend", scoped.Name()).Msg("storage backend selected")
		return scoped
	}

	logger.Warn().Err(err).Str("base", base).Msg("scoped storage unavailable, using plain paths")
	return NewPlain(base)
}
