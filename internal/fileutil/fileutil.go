// Package fileutil provides common file and path utilities.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies a file from src to dst, creating parent directories as needed.
func CopyFile(src, dst string) (retErr error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := srcFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// SafeJoin joins path to base and guarantees the result stays inside base.
// path must be relative; traversal segments that would escape base are
// rejected. Used for archive member names and storage-relative paths, which
// come from untrusted input.
func SafeJoin(base, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("path must be relative: %q", path)
	}

	joined := filepath.Join(base, path)

	cleanBase := filepath.Clean(base)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %q", path)
	}

	return joined, nil
}

// StripExt returns name without its final extension. Names without an
// extension are returned unchanged.
func StripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
