package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/romfetch/romfetch/internal/fileutil"
)

// plainBackend accesses the library with ordinary path operations. Relative
// paths are validated against the library root before use since no OS-level
// handle confines them.
type plainBackend struct {
	base string
}

// NewPlain returns a Backend that operates on plain paths under base.
func NewPlain(base string) Backend {
	return &plainBackend{base: base}
}

// Name returns the backend identifier.
func (b *plainBackend) Name() string {
	return "plain"
}

// List returns the entries of dir.
func (b *plainBackend) List(dir string) ([]Entry, error) {
	abs, err := b.abs(dir)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapErr("list", dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		e := Entry{Name: de.Name(), IsDir: de.IsDir()}
		if info, infoErr := de.Info(); infoErr == nil && !de.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// EnsureDir creates dir and any missing parents.
func (b *plainBackend) EnsureDir(dir string) error {
	abs, err := b.abs(dir)
	if err != nil {
		return err
	}
	return wrapErr("mkdir", dir, os.MkdirAll(abs, 0750))
}

// WriteFile streams r into dir/name, creating dir if needed.
func (b *plainBackend) WriteFile(dir, name string, r io.Reader) (int64, error) {
	if err := b.EnsureDir(dir); err != nil {
		return 0, err
	}

	abs, err := b.abs(dir, name)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return 0, wrapErr("write", abs, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return n, wrapErr("write", abs, err)
	}

	return n, nil
}

// ImportFile moves the file at src into dir/name. Rename is attempted first,
// with a copy fallback for cross-device moves.
func (b *plainBackend) ImportFile(src, dir, name string) error {
	if err := b.EnsureDir(dir); err != nil {
		return err
	}

	dst, err := b.abs(dir, name)
	if err != nil {
		return err
	}

	if renameErr := os.Rename(src, dst); renameErr != nil {
		if copyErr := fileutil.CopyFile(src, dst); copyErr != nil {
			return wrapErr("import", dst, copyErr)
		}
		_ = os.Remove(src)
	}

	return nil
}

// Remove deletes dir/name.
func (b *plainBackend) Remove(dir, name string) error {
	abs, err := b.abs(dir, name)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapErr("remove", abs, err)
	}
	return nil
}

// Exists reports whether dir/name exists.
func (b *plainBackend) Exists(dir, name string) (bool, error) {
	abs, err := b.abs(dir, name)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, wrapErr("stat", abs, err)
	}
	return true, nil
}

// abs joins the given library-relative parts onto the base directory,
// rejecting anything that would escape it.
func (b *plainBackend) abs(parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	if rel == "" || rel == "." {
		return b.base, nil
	}
	return fileutil.SafeJoin(b.base, rel)
}
