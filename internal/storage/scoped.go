package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// scopedBackend accesses the library through an os.Root handle. Every
// operation is resolved relative to the handle, so no combination of dir and
// name can reach outside the library root, symlinks included.
type scopedBackend struct {
	base string
	root *os.Root
}

// NewScoped opens a scoped handle on base and returns a Backend backed by it.
func NewScoped(base string) (Backend, error) {
	root, err := os.OpenRoot(base)
	if err != nil {
		return nil, err
	}

	return &scopedBackend{base: base, root: root}, nil
}

// Name returns the backend identifier.
func (b *scopedBackend) Name() string {
	return "scoped"
}

// List returns the entries of dir.
func (b *scopedBackend) List(dir string) ([]Entry, error) {
	f, err := b.root.Open(relPath(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapErr("list", dir, err)
	}
	defer f.Close()

	dirents, err := f.ReadDir(-1)
	if err != nil {
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
func (b *scopedBackend) EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return wrapErr("mkdir", dir, b.root.MkdirAll(dir, 0750))
}

// WriteFile streams r into dir/name through the scoped handle.
func (b *scopedBackend) WriteFile(dir, name string, r io.Reader) (int64, error) {
	if err := b.EnsureDir(dir); err != nil {
		return 0, err
	}

	target := relPath(filepath.Join(dir, name))
	f, err := b.root.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return 0, wrapErr("write", target, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return n, wrapErr("write", target, err)
	}

	return n, nil
}

// ImportFile moves the file at src into dir/name. A scoped handle cannot
// rename across its boundary, so the import streams the file through the
// handle and removes the source, matching how permission-scoped storage
// behaves on every platform that has it.
func (b *scopedBackend) ImportFile(src, dir, name string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return wrapErr("import", src, err)
	}
	defer srcFile.Close()

	if _, err := b.WriteFile(dir, name, srcFile); err != nil {
		return err
	}

	_ = os.Remove(src)
	return nil
}

// Remove deletes dir/name.
func (b *scopedBackend) Remove(dir, name string) error {
	err := b.root.Remove(relPath(filepath.Join(dir, name)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapErr("remove", filepath.Join(dir, name), err)
	}
	return nil
}

// Exists reports whether dir/name exists.
func (b *scopedBackend) Exists(dir, name string) (bool, error) {
	_, err := b.root.Stat(relPath(filepath.Join(dir, name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, wrapErr("stat", filepath.Join(dir, name), err)
	}
	return true, nil
}

// relPath normalizes a library-relative path for os.Root, which rejects the
// empty string.
func relPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// wrapErr converts permission failures into *PermissionError and leaves
// other errors untouched.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return &PermissionError{Op: op, Path: path, Err: err}
	}
	return err
}
