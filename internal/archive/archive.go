// Package archive handles ZIP archives delivered by the catalog.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/romfetch/romfetch/internal/fileutil"
)

// ExtractionError indicates an archive could not be read or unpacked.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsArchive reports whether name looks like a ZIP archive.
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// Extract unpacks the archive at zipPath into destDir and returns the paths
// of the extracted files. Member names are validated against destDir so a
// hostile archive cannot write outside it. Cancellation is checked between
// entries.
func Extract(ctx context.Context, zipPath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, &ExtractionError{Archive: zipPath, Err: err}
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return nil, err
	}

	var extracted []string
	for _, member := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target, err := fileutil.SafeJoin(destDir, member.Name)
		if err != nil {
			return nil, &ExtractionError{Archive: zipPath, Err: err}
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return nil, err
			}
			continue
		}

		if err := extractMember(member, target); err != nil {
			return nil, &ExtractionError{Archive: zipPath, Err: err}
		}
		extracted = append(extracted, target)
	}

	return extracted, nil
}

func extractMember(member *zip.File, target string) (retErr error) {
	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	_, err = io.Copy(f, rc)
	return err
}
