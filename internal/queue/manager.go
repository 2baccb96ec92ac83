// Package queue implements the download queue: a bounded set of concurrent
// transfers with pause/resume/cancel/retry, per-item byte progress, and
// post-download extraction and placement into the library.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/catalog"
	"github.com/romfetch/romfetch/internal/config"
	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/storage"
	"github.com/romfetch/romfetch/internal/transfer"
)

// SpeedSample represents an aggregate speed measurement at a point in time.
type SpeedSample struct {
	Speed     int64 `json:"speed"`
	Timestamp int64 `json:"timestamp"`
}

// Max speed history samples (5 minutes at 3 second poll intervals).
const maxSpeedSamples = 100

// Manager is the single authoritative collection of download items for the
// process lifetime. Every command and every state transition runs under one
// mutex, so queue mutations are atomic with respect to each other; workers
// own only their item's progress fields while it holds a slot.
type Manager struct {
	catalog     catalog.Client
	transferer  transfer.Transferer
	backend     storage.Backend
	bus         *events.Bus
	stagingPath string
	logger      zerolog.Logger

	mu            sync.Mutex
	items         map[ulid.ULID]*Item
	order         []*Item // admission order; retried items move to the back
	maxConcurrent int
	unzip         bool
	active        map[ulid.ULID]workerHandle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	speedHistory   []SpeedSample
	speedHistoryMu sync.Mutex
}

// Option is a functional option for configuring the manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMaxConcurrent sets the concurrency cap, clamped to the configured range.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		m.maxConcurrent = clampConcurrent(n)
	}
}

// WithUnzip sets whether fetched archives are extracted after download.
func WithUnzip(unzip bool) Option {
	return func(m *Manager) {
		m.unzip = unzip
	}
}

// New creates a new queue Manager.
func New(
	cat catalog.Client,
	transferer transfer.Transferer,
	backend storage.Backend,
	bus *events.Bus,
	stagingPath string,
	opts ...Option,
) *Manager {
	m := &Manager{
		catalog:       cat,
		transferer:    transferer,
		backend:       backend,
		bus:           bus,
		stagingPath:   stagingPath,
		logger:        zerolog.Nop(),
		items:         make(map[ulid.ULID]*Item),
		maxConcurrent: config.DefaultMaxConcurrent,
		unzip:         true,
		active:        make(map[ulid.ULID]workerHandle),
		ctx:           context.Background(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start makes the manager ready to admit downloads. Worker contexts derive
// from ctx, so cancelling it (or calling Stop) aborts all active transfers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info().
		Int("max_concurrent", m.MaxConcurrent()).
		Bool("unzip", m.Unzip()).
		Msg("queue manager started")
	return nil
}

// Stop aborts all active workers and waits for them to finish. Items that
// were mid-transfer keep their last status; the queue is not persisted.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("queue manager stopped")
	return nil
}

// PrepareShutdown suppresses expected transfer errors during shutdown.
// Call this before cancelling contexts.
func (m *Manager) PrepareShutdown() {
	m.transferer.PrepareShutdown()
}

// Close releases the transfer backend's resources.
func (m *Manager) Close() error {
	return m.transferer.Close()
}

// Enqueue adds a download for one file of a catalog entry and returns the
// new item's id. It fails with AlreadyQueuedError when an item for the same
// file is already pending or actively transferring; the duplicate guard and
// the insert share one critical section, so a concurrent double enqueue
// cannot slip through. Paused, completed, failed, and cancelled items do not
// block a fresh enqueue.
func (m *Manager) Enqueue(rom *catalog.Rom, file catalog.RomFile) (ulid.ULID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.order {
		status := existing.Status()
		if existing.file.ID == file.ID && (status == StatusPending || status.HoldsSlot()) {
			return ulid.ULID{}, &AlreadyQueuedError{
				FileID:   file.ID,
				FileName: file.Name,
				ItemID:   existing.ID(),
			}
		}
	}

	item := newItem(rom, file, m.unzip)
	m.items[item.id] = item
	m.order = append(m.order, item)

	m.logger.Info().
		Str("id", item.id.String()).
		Str("file", file.Name).
		Str("platform", item.platform).
		Msg("download enqueued")

	m.publishItemLocked(events.DownloadEnqueued, item, nil)
	m.tickLocked()
	m.publishQueueLocked()

	return item.id, nil
}

// Pause aborts an in-flight transfer and parks the item. Valid only while
// downloading; no partial bytes are kept, a later resume restarts from zero.
func (m *Manager) Pause(id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return &NotFoundError{ItemID: id}
	}

	if err := m.transitionLocked(item, StatusPaused); err != nil {
		return err
	}

	m.cancelWorkerLocked(id)
	item.resetProgress()

	m.publishItemLocked(events.DownloadPaused, item, nil)
	m.tickLocked()
	m.publishQueueLocked()
	return nil
}

// Resume returns a paused item to the pending pool. It re-enters normal
// admission and may wait if all slots are busy.
func (m *Manager) Resume(id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return &NotFoundError{ItemID: id}
	}

	if err := m.transitionLocked(item, StatusPending); err != nil {
		return err
	}

	m.publishItemLocked(events.DownloadResumed, item, nil)
	m.tickLocked()
	m.publishQueueLocked()
	return nil
}

// Cancel aborts an item from any non-terminal state. Partially written
// staging files are cleaned up by the worker on its way out.
func (m *Manager) Cancel(id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return &NotFoundError{ItemID: id}
	}

	if err := m.transitionLocked(item, StatusCancelled); err != nil {
		return err
	}

	m.cancelWorkerLocked(id)

	m.publishItemLocked(events.DownloadCancelled, item, nil)
	m.tickLocked()
	m.publishQueueLocked()
	return nil
}

// Retry re-enqueues a failed or cancelled item. A fresh id is minted, all
// progress and error state is reset, and the item re-enters the FIFO at the
// back. The new id is returned.
func (m *Manager) Retry(id ulid.ULID) (ulid.ULID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return ulid.ULID{}, &NotFoundError{ItemID: id}
	}

	if err := m.transitionLocked(item, StatusPending); err != nil {
		return ulid.ULID{}, err
	}

	// New identity per retry attempt
	delete(m.items, id)
	item.mu.Lock()
	item.id = ulid.Make()
	item.mu.Unlock()
	m.items[item.ID()] = item
	item.resetProgress()

	// Move to the back of the FIFO
	for i, existing := range m.order {
		if existing == item {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append(m.order, item)

	m.logger.Info().
		Str("old_id", id.String()).
		Str("id", item.ID().String()).
		Str("file", item.file.Name).
		Msg("download retried")

	m.publishItemLocked(events.DownloadRetried, item, nil)
	m.tickLocked()
	m.publishQueueLocked()

	return item.ID(), nil
}

// Remove deletes an item from the queue regardless of state, cancelling it
// first if it is active.
func (m *Manager) Remove(id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return &NotFoundError{ItemID: id}
	}

	m.cancelWorkerLocked(id)
	m.removeLocked(item)

	m.publishItemLocked(events.DownloadRemoved, item, nil)
	m.tickLocked()
	m.publishQueueLocked()
	return nil
}

// ClearCompleted removes all completed items and returns how many were
// removed.
func (m *Manager) ClearCompleted() int {
	return m.clearByStatus("completed", func(s Status) bool {
		return s == StatusCompleted
	})
}

// ClearFailed removes all failed and cancelled items and returns how many
// were removed.
func (m *Manager) ClearFailed() int {
	return m.clearByStatus("failed", func(s Status) bool {
		return s == StatusFailed || s == StatusCancelled
	})
}

func (m *Manager) clearByStatus(scope string, match func(Status) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared []*Item
	for _, item := range m.order {
		if match(item.Status()) {
			cleared = append(cleared, item)
		}
	}
	for _, item := range cleared {
		m.removeLocked(item)
	}

	if len(cleared) > 0 {
		m.logger.Info().Int("count", len(cleared)).Str("scope", scope).Msg("queue cleared")
		m.bus.Publish(events.Event{
			Type: events.QueueCleared,
			Data: map[string]any{"scope": scope, "count": len(cleared)},
		})
		m.publishQueueLocked()
	}

	return len(cleared)
}

// Items returns snapshots of every item in admission order.
func (m *Manager) Items() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotsLocked()
}

// Get returns a snapshot of a single item.
func (m *Manager) Get(id ulid.ULID) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return Snapshot{}, false
	}
	return item.Snapshot(), true
}

// Active returns all items still in flight: pending, paused, or holding a
// transfer slot. Derived from the single source collection on every call.
func (m *Manager) Active() []Snapshot {
	return m.filter(func(s Status) bool { return s.IsActive() })
}

// Completed returns all completed items.
func (m *Manager) Completed() []Snapshot {
	return m.filter(func(s Status) bool { return s == StatusCompleted })
}

// Failed returns all failed and cancelled items.
func (m *Manager) Failed() []Snapshot {
	return m.filter(func(s Status) bool { return s == StatusFailed || s == StatusCancelled })
}

func (m *Manager) filter(match func(Status) bool) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Snapshot
	for _, item := range m.order {
		snap := item.Snapshot()
		if match(snap.Status) {
			result = append(result, snap)
		}
	}
	return result
}

// IsFileQueued reports whether a catalog file is pending or actively
// transferring. Callers use this before enqueueing to avoid the duplicate
// error path.
func (m *Manager) IsFileQueued(fileID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.order {
		status := item.Status()
		if item.file.ID == fileID && (status == StatusPending || status.HoldsSlot()) {
			return true
		}
	}
	return false
}

// SetMaxConcurrent changes the concurrency cap. The new cap applies from the
// next scheduler tick on; already-active transfers are never aborted even
// when the cap shrinks below the active count.
func (m *Manager) SetMaxConcurrent(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxConcurrent = clampConcurrent(n)
	m.tickLocked()
}

// MaxConcurrent returns the current concurrency cap.
func (m *Manager) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// SetUnzip changes whether archives are extracted. The flag is captured per
// item at admission time, so in-flight items keep the decision they started
// with.
func (m *Manager) SetUnzip(unzip bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unzip = unzip
}

// Unzip returns the current extraction flag.
func (m *Manager) Unzip() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unzip
}

// RecordSpeed adds an aggregate speed sample to the history (called by the
// API on each poll).
func (m *Manager) RecordSpeed(speed int64) {
	m.speedHistoryMu.Lock()
	defer m.speedHistoryMu.Unlock()

	m.speedHistory = append(m.speedHistory, SpeedSample{
		Speed:     speed,
		Timestamp: time.Now().Unix(),
	})
	if len(m.speedHistory) > maxSpeedSamples {
		m.speedHistory = m.speedHistory[len(m.speedHistory)-maxSpeedSamples:]
	}
}

// GetSpeedHistory returns the recorded speed samples for the sparkline.
func (m *Manager) GetSpeedHistory() []SpeedSample {
	m.speedHistoryMu.Lock()
	defer m.speedHistoryMu.Unlock()

	result := make([]SpeedSample, len(m.speedHistory))
	copy(result, m.speedHistory)
	return result
}

// GetAggregateSpeed returns the current total transfer speed from the
// transfer backend.
func (m *Manager) GetAggregateSpeed() int64 {
	return m.transferer.GetSpeed()
}

// tickLocked is the scheduler: while a slot is free and a pending item
// exists, admit the oldest pending item and hand it to a worker. It runs
// after every enqueue and every slot-freeing transition so no pending item
// can starve while a slot is open. Caller must hold m.mu.
func (m *Manager) tickLocked() {
	occupied := 0
	for _, item := range m.order {
		if item.Status().HoldsSlot() {
			occupied++
		}
	}

	for _, item := range m.order {
		if occupied >= m.maxConcurrent {
			return
		}
		if item.Status() != StatusPending {
			continue
		}
		m.admitLocked(item)
		occupied++
	}
}

// admitLocked promotes a pending item to downloading and starts its worker.
// Each admission bumps the item's attempt generation; a worker from an earlier
// generation that is still unwinding cannot touch this attempt's active entry,
// staging directory, or progress. Caller must hold m.mu.
func (m *Manager) admitLocked(item *Item) {
	// Capture the extraction flag at admission time
	item.mu.Lock()
	item.unzip = m.unzip
	item.attempt++
	attempt := item.attempt
	item.mu.Unlock()

	if err := m.transitionLocked(item, StatusDownloading); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.active[item.ID()] = workerHandle{cancel: cancel, attempt: attempt}

	m.wg.Add(1)
	go m.runWorker(ctx, item, attempt)

	m.logger.Debug().
		Str("id", item.ID().String()).
		Str("file", item.file.Name).
		Msg("download admitted")

	m.publishItemLocked(events.DownloadStarted, item, nil)
}

// transitionLocked moves an item to a new status if the state machine allows
// it, stamping start/completion times. Caller must hold m.mu.
func (m *Manager) transitionLocked(item *Item, to Status) error {
	item.mu.Lock()
	from := item.status
	if !CanTransition(from, to) {
		item.mu.Unlock()
		err := &InvalidTransitionError{ItemID: item.id, From: from, To: to}
		m.logger.Error().
			Str("id", item.id.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("invalid status transition requested")
		return err
	}

	item.status = to
	switch {
	case to == StatusDownloading:
		item.startedAt = time.Now()
	case to.IsTerminal():
		item.completedAt = time.Now()
	}
	item.mu.Unlock()

	m.logger.Debug().
		Str("id", item.ID().String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("status transition")
	return nil
}

// cancelWorkerLocked aborts an item's worker context if one is active.
// Caller must hold m.mu.
func (m *Manager) cancelWorkerLocked(id ulid.ULID) {
	if h, ok := m.active[id]; ok {
		h.cancel()
		delete(m.active, id)
	}
}

// removeLocked deletes an item from the collection and the FIFO.
// Caller must hold m.mu.
func (m *Manager) removeLocked(item *Item) {
	delete(m.items, item.ID())
	for i, existing := range m.order {
		if existing == item {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) snapshotsLocked() []Snapshot {
	result := make([]Snapshot, 0, len(m.order))
	for _, item := range m.order {
		result = append(result, item.Snapshot())
	}
	return result
}

// publishItemLocked publishes a per-item lifecycle event. Caller must hold
// m.mu. Publishing is non-blocking, so holding the lock here is safe.
func (m *Manager) publishItemLocked(t events.Type, item *Item, data map[string]any) {
	m.bus.Publish(events.Event{
		Type:    t,
		Subject: item.Snapshot(),
		Data:    data,
	})
}

// publishQueueLocked publishes the full queue snapshot so the UI and the
// reconciler see every mutation. Caller must hold m.mu.
func (m *Manager) publishQueueLocked() {
	m.bus.Publish(events.Event{
		Type:    events.QueueUpdated,
		Subject: m.snapshotsLocked(),
	})
}

func clampConcurrent(n int) int {
	if n < config.MinConcurrent {
		return config.MinConcurrent
	}
	if n > config.MaxConcurrent {
		return config.MaxConcurrent
	}
	return n
}
