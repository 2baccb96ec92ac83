// Package events provides an in-process event bus for decoupled communication
// between the download queue, the existence reconciler, and the timeline.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type represents the type of event.
type Type string

// Event types for the download pipeline.
const (
	// SystemStarted indicates the daemon has started.
	SystemStarted Type = "system.started"
	// CatalogConnected indicates the catalog server answered a connection test.
	CatalogConnected Type = "catalog.connected"

	// QueueUpdated is published after every queue mutation and carries the
	// full item snapshot list as its Subject.
	QueueUpdated Type = "queue.updated"
	// QueueCleared indicates a bulk clear of completed or failed items.
	QueueCleared Type = "queue.cleared"

	// DownloadEnqueued indicates a new item entered the queue.
	DownloadEnqueued Type = "download.enqueued"
	// DownloadStarted indicates the scheduler admitted an item for transfer.
	DownloadStarted Type = "download.started"
	// DownloadExtracting indicates the fetched archive is being unpacked.
	DownloadExtracting Type = "download.extracting"
	// DownloadMoving indicates files are being placed into the library.
	DownloadMoving Type = "download.moving"
	// DownloadPaused indicates a user paused an item.
	DownloadPaused Type = "download.paused"
	// DownloadResumed indicates a paused item re-entered the queue.
	DownloadResumed Type = "download.resumed"
	// DownloadCompleted indicates an item finished and its files are placed.
	DownloadCompleted Type = "download.completed"
	// DownloadFailed indicates an item failed with an error.
	DownloadFailed Type = "download.failed"
	// DownloadCancelled indicates a user cancelled an item.
	DownloadCancelled Type = "download.cancelled"
	// DownloadRetried indicates a failed or cancelled item was re-enqueued.
	DownloadRetried Type = "download.retried"
	// DownloadRemoved indicates an item was removed from the queue.
	DownloadRemoved Type = "download.removed"

	// LibraryChanged indicates files were added to or removed from the
	// library outside the normal download flow.
	LibraryChanged Type = "library.changed"
)

// Event represents an event in the system.
// Subject is the primary entity the event is about: a queue.Snapshot for
// download.* events, a []queue.Snapshot for QueueUpdated, or nil.
// Data contains additional event-specific information not available on the Subject.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   any            `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is a channel that receives events.
type Subscription <-chan Event

// subscriberEntry tracks a subscriber and its filter.
type subscriberEntry struct {
	ch     chan Event
	types  map[Type]bool // nil means all events
	closed bool
}

// Bus is an in-process event bus that supports pub/sub.
type Bus struct {
	subscribers []*subscriberEntry
	mu          sync.RWMutex
	logger      zerolog.Logger
	bufferSize  int
}

// Option is a functional option for configuring the bus.
type Option func(*Bus)

// WithLogger sets the logger for the bus.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// Default buffer size for subscriber channels.
const defaultBufferSize = 100

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:     zerolog.Nop(),
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe creates a subscription for specific event types.
// If no types are provided, the subscription receives all events.
func (b *Bus) Subscribe(types ...Type) Subscription {
	ch := make(chan Event, b.bufferSize)

	entry := &subscriberEntry{
		ch: ch,
	}

	if len(types) > 0 {
		entry.types = make(map[Type]bool, len(types))
		for _, t := range types {
			entry.types[t] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, entry)
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.subscribers {
		if entry.ch == sub {
			if !entry.closed {
				close(entry.ch)
				entry.closed = true
			}
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.subscribers {
		if entry.closed {
			continue
		}

		if entry.types != nil && !entry.types[event.Type] {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case entry.ch <- event:
		default:
			b.logger.Warn().
				Str("type", string(event.Type)).
				Msg("event dropped - subscriber buffer full")
		}
	}

	b.logger.Debug().
		Str("type", string(event.Type)).
		Msg("event published")
}

// Close closes all subscriber channels and cleans up.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, entry := range b.subscribers {
		if !entry.closed {
			close(entry.ch)
			entry.closed = true
		}
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
