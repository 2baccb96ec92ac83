package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/romfetch/romfetch/internal/archive"
	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/storage"
	"github.com/romfetch/romfetch/internal/transfer"
)

// workerHandle is the manager's grip on one admitted worker. The attempt ties
// the handle to a single admission generation, so a worker unwinding from a
// previous admission cannot cancel or unregister its successor.
type workerHandle struct {
	cancel  context.CancelFunc
	attempt uint64
}

// errStaleAttempt reports that the item has been re-admitted since this
// worker started; the stale worker unwinds without touching the item.
var errStaleAttempt = errors.New("item re-admitted since this attempt started")

// runWorker owns one admitted item from downloading through to completed or
// failed. The item's descriptive fields (rom, file, platform, unzip) are
// frozen while the worker runs; only the worker writes its progress fields.
// On pause or cancel the manager has already taken the status back, so the
// worker just cleans up and leaves. Staging is per attempt: a quick
// pause/resume re-admits the same item id while the old worker may still be
// draining, and its cleanup must not touch the new attempt's files.
func (m *Manager) runWorker(ctx context.Context, item *Item, attempt uint64) {
	defer m.wg.Done()

	id := item.ID()
	staging := filepath.Join(m.stagingPath, fmt.Sprintf("%s.%d", id, attempt))

	defer func() {
		m.mu.Lock()
		if h, ok := m.active[id]; ok && h.attempt == attempt {
			delete(m.active, id)
		}
		m.mu.Unlock()

		// Best-effort staging cleanup on every exit path
		if err := os.RemoveAll(staging); err != nil {
			m.logger.Warn().Err(err).Str("path", staging).Msg("failed to clean staging directory")
		}
	}()

	err := m.process(ctx, item, staging, attempt)
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		// Paused, cancelled, or shutting down: the manager owns the status
		m.logger.Debug().Str("id", id.String()).Msg("worker aborted")
		return
	}

	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) || errors.Is(err, errStaleAttempt) {
		// Lost a race with a concurrent pause or cancel between pipeline
		// stages; the command's transition wins.
		return
	}

	m.fail(item, err, attempt)
}

// process runs the transfer pipeline: fetch into staging, optionally extract,
// then place the resulting files into the platform directory.
func (m *Manager) process(ctx context.Context, item *Item, staging string, attempt uint64) error {
	url, headers := m.catalog.ResolveDownload(item.rom, item.file)
	artifact := filepath.Join(staging, item.file.Name)

	req := transfer.Request{
		URL:       url,
		LocalPath: artifact,
		Size:      item.file.Size,
		Headers:   headers,
	}

	err := m.transferer.Transfer(ctx, req, func(p transfer.Progress) {
		item.setProgress(attempt, p.Transferred, p.Total)
	})
	if err != nil {
		return err
	}

	if item.unzip && archive.IsArchive(item.file.Name) {
		return m.extractAndPlace(ctx, item, artifact, staging, attempt)
	}

	if err := m.advance(item, StatusMoving, events.DownloadMoving, attempt); err != nil {
		return err
	}
	if err := m.backend.ImportFile(artifact, item.platform, item.file.Name); err != nil {
		return &PlacementError{Name: item.file.Name, Err: err}
	}

	m.complete(item, attempt)
	return nil
}

// extractAndPlace unpacks the fetched archive in staging and imports every
// member file into the platform directory, preserving relative paths.
func (m *Manager) extractAndPlace(ctx context.Context, item *Item, artifact, staging string, attempt uint64) error {
	if err := m.advance(item, StatusExtracting, events.DownloadExtracting, attempt); err != nil {
		return err
	}

	extractDir := filepath.Join(staging, "extracted")
	extracted, err := archive.Extract(ctx, artifact, extractDir)
	if err != nil {
		return err
	}

	if err := m.advance(item, StatusMoving, events.DownloadMoving, attempt); err != nil {
		return err
	}

	for _, src := range extracted {
		rel, relErr := filepath.Rel(extractDir, src)
		if relErr != nil {
			return &PlacementError{Name: src, Err: relErr}
		}

		dir := filepath.Clean(filepath.Join(item.platform, filepath.Dir(rel)))
		if importErr := m.backend.ImportFile(src, dir, filepath.Base(rel)); importErr != nil {
			return &PlacementError{Name: rel, Err: importErr}
		}
	}

	m.logger.Debug().
		Str("id", item.ID().String()).
		Int("files", len(extracted)).
		Msg("archive extracted and placed")

	m.complete(item, attempt)
	return nil
}

// advance moves an item to the next pipeline stage and publishes the
// transition. A failure here means a pause or cancel got there first, or the
// item has since been re-admitted under a newer attempt.
func (m *Manager) advance(item *Item, to Status, eventType events.Type, attempt uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.currentAttempt() != attempt {
		return errStaleAttempt
	}
	if err := m.transitionLocked(item, to); err != nil {
		return err
	}

	m.publishItemLocked(eventType, item, nil)
	m.publishQueueLocked()
	return nil
}

// complete marks an item finished and frees its slot.
func (m *Manager) complete(item *Item, attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.currentAttempt() != attempt {
		return
	}
	if err := m.transitionLocked(item, StatusCompleted); err != nil {
		return
	}

	item.mu.Lock()
	if item.totalBytes > 0 {
		item.downloadedBytes = item.totalBytes
		item.progress = percentScale
	}
	item.remainingSec = 0
	item.bytesPerSec = 0
	item.mu.Unlock()

	m.logger.Info().
		Str("id", item.ID().String()).
		Str("file", item.file.Name).
		Str("platform", item.platform).
		Msg("download complete")

	m.publishItemLocked(events.DownloadCompleted, item, nil)
	m.tickLocked()
	m.publishQueueLocked()
}

// fail records an error on the item and frees its slot. Every failure is
// attached to the item; the queue performs no automatic retries.
func (m *Manager) fail(item *Item, cause error, attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.currentAttempt() != attempt {
		return
	}
	if err := m.transitionLocked(item, StatusFailed); err != nil {
		return
	}

	msg := failureMessage(cause)
	item.mu.Lock()
	item.errMsg = msg
	item.bytesPerSec = 0
	item.remainingSec = RemainingUnknown
	item.mu.Unlock()

	m.logger.Warn().
		Str("id", item.ID().String()).
		Str("file", item.file.Name).
		Str("error", msg).
		Msg("download failed")

	m.publishItemLocked(events.DownloadFailed, item, map[string]any{"error": msg})
	m.tickLocked()
	m.publishQueueLocked()
}

// failureMessage produces the human-readable error stored on the item. The
// typed errors from the pipeline stages already format themselves; anything
// else is reported as-is.
func failureMessage(err error) string {
	var permErr *storage.PermissionError
	var netErr *transfer.NetworkError
	var extractErr *archive.ExtractionError
	var placeErr *PlacementError

	switch {
	case errors.As(err, &permErr):
		return permErr.Error()
	case errors.As(err, &netErr):
		return netErr.Error()
	case errors.As(err, &extractErr):
		return extractErr.Error()
	case errors.As(err, &placeErr):
		return placeErr.Error()
	default:
		return err.Error()
	}
}
