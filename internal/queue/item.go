package queue

import (
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/romfetch/romfetch/internal/catalog"
)

// Speed smoothing and ETA constants.
const (
	// speedSmoothing is the EWMA weight given to the newest speed sample.
	speedSmoothing = 0.3

	// RemainingUnknown is the remaining-time sentinel for items whose ETA
	// cannot be estimated: total size unknown, no measurable speed yet, or a
	// projection too far out to be meaningful.
	RemainingUnknown int64 = -1

	// maxRemaining caps ETA projection. Anything beyond a day renders as
	// unknown rather than a useless huge number.
	maxRemaining = 24 * time.Hour

	percentScale = 100
)

// Item is a single queued download. Identity is a ULID minted at enqueue
// time; Retry mints a fresh one, so an id never refers to more than one
// attempt. Progress fields are written by the owning worker while the item
// holds a slot and read by everyone else through Snapshot.
type Item struct {
	id       ulid.ULID
	rom      *catalog.Rom
	file     catalog.RomFile
	platform string // library subdirectory, from the rom's platform slug
	unzip    bool   // captured at admission time

	mu              sync.RWMutex
	status          Status
	attempt         uint64 // admission generation, bumped each time the item takes a slot
	downloadedBytes int64
	totalBytes      int64
	progress        int   // 0-100
	bytesPerSec     int64 // smoothed
	remainingSec    int64
	errMsg          string
	enqueuedAt      time.Time
	startedAt       time.Time
	completedAt     time.Time
	lastSample      time.Time
	lastBytes       int64
}

// Snapshot is a point-in-time copy of an item, safe to hand to the API layer
// and the event bus.
type Snapshot struct {
	ID              ulid.ULID
	RomID           int64
	FileID          int64
	Name            string
	Platform        string
	Status          Status
	Progress        int
	DownloadedBytes int64
	TotalBytes      int64
	BytesPerSec     int64
	RemainingSec    int64
	Error           string
	EnqueuedAt      time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
}

func newItem(rom *catalog.Rom, file catalog.RomFile, unzip bool) *Item {
	return &Item{
		id:           ulid.Make(),
		rom:          rom,
		file:         file,
		platform:     rom.PlatformSlug,
		unzip:        unzip,
		status:       StatusPending,
		totalBytes:   file.Size,
		remainingSec: RemainingUnknown,
		enqueuedAt:   time.Now(),
	}
}

// ID returns the item's current identity.
func (it *Item) ID() ulid.ULID {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.id
}

// Status returns the item's current status.
func (it *Item) Status() Status {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.status
}

// Snapshot returns a point-in-time copy of the item.
func (it *Item) Snapshot() Snapshot {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return Snapshot{
		ID:              it.id,
		RomID:           it.rom.ID,
		FileID:          it.file.ID,
		Name:            it.file.Name,
		Platform:        it.platform,
		Status:          it.status,
		Progress:        it.progress,
		DownloadedBytes: it.downloadedBytes,
		TotalBytes:      it.totalBytes,
		BytesPerSec:     it.bytesPerSec,
		RemainingSec:    it.remainingSec,
		Error:           it.errMsg,
		EnqueuedAt:      it.enqueuedAt,
		StartedAt:       it.startedAt,
		CompletedAt:     it.completedAt,
	}
}

// currentAttempt returns the item's admission generation.
func (it *Item) currentAttempt() uint64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.attempt
}

// setProgress records a progress callback from the transfer backend. Speed is
// smoothed with an EWMA over wall-clock deltas; the first sample seeds the
// average. When the total size is unknown progress stays 0 and the item is
// indeterminate, which is an expected state rather than an error.
//
// A report can race a pause or cancel: the transfer loop may fire one last
// callback after the manager has reset the item, and a worker from a previous
// admission may still be draining. Reports are accepted only from the current
// attempt while the item holds a slot.
func (it *Item) setProgress(attempt uint64, transferred, total int64) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.attempt != attempt || !it.status.HoldsSlot() {
		return
	}

	now := time.Now()

	if total > 0 {
		it.totalBytes = total
	}
	if it.totalBytes > 0 && transferred > it.totalBytes {
		transferred = it.totalBytes
	}
	it.downloadedBytes = transferred

	if it.lastSample.IsZero() {
		it.lastSample = now
		it.lastBytes = transferred
	} else if elapsed := now.Sub(it.lastSample).Seconds(); elapsed > 0 {
		instant := float64(transferred-it.lastBytes) / elapsed
		if instant < 0 {
			instant = 0
		}
		if it.bytesPerSec == 0 {
			it.bytesPerSec = int64(instant)
		} else {
			it.bytesPerSec = int64(speedSmoothing*instant + (1-speedSmoothing)*float64(it.bytesPerSec))
		}
		it.lastSample = now
		it.lastBytes = transferred
	}

	if it.totalBytes > 0 {
		it.progress = int(math.Round(percentScale * float64(it.downloadedBytes) / float64(it.totalBytes)))
	} else {
		it.progress = 0
	}

	it.remainingSec = RemainingUnknown
	if it.totalBytes > 0 && it.bytesPerSec > 0 {
		remaining := float64(it.totalBytes-it.downloadedBytes) / float64(it.bytesPerSec)
		if remaining >= 0 && remaining <= maxRemaining.Seconds() {
			it.remainingSec = int64(remaining)
		}
	}
}

// resetProgress clears all byte-level progress. Used on pause (no partial
// resume), retry, and re-admission.
func (it *Item) resetProgress() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.downloadedBytes = 0
	it.totalBytes = it.file.Size
	it.progress = 0
	it.bytesPerSec = 0
	it.remainingSec = RemainingUnknown
	it.errMsg = ""
	it.startedAt = time.Time{}
	it.completedAt = time.Time{}
	it.lastSample = time.Time{}
	it.lastBytes = 0
}
