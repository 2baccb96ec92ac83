package timeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/queue"
)

// Controller records bus events to the timeline for history tracking.
// It communicates only via the event bus, with no direct dependencies on
// the queue manager or the HTTP layer.
//
// The Controller is responsible for:
// - Subscribing to download lifecycle events on the bus
// - Recording them to the timeline with a human-readable message.
type Controller struct {
	eventBus *events.Bus
	recorder Recorder
	logger   zerolog.Logger

	subscription events.Subscription
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// ControllerOption is a functional option for configuring the Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger for the controller.
func WithControllerLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a new timeline Controller.
func NewController(eventBus *events.Bus, recorder Recorder, opts ...ControllerOption) *Controller {
	c := &Controller{
		eventBus: eventBus,
		recorder: recorder,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins recording lifecycle events.
func (c *Controller) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Queue snapshots (queue.updated) are deliberately excluded: they fire on
	// every transition and would drown the timeline in duplicates.
	c.subscription = c.eventBus.Subscribe(
		events.SystemStarted,
		events.CatalogConnected,
		events.DownloadEnqueued,
		events.DownloadStarted,
		events.DownloadExtracting,
		events.DownloadMoving,
		events.DownloadPaused,
		events.DownloadResumed,
		events.DownloadCompleted,
		events.DownloadFailed,
		events.DownloadCancelled,
		events.DownloadRetried,
		events.DownloadRemoved,
		events.LibraryChanged,
	)

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info().Msg("timeline controller started")
	return nil
}

// Stop stops the controller and waits for it to finish.
func (c *Controller) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.subscription != nil {
		c.eventBus.Unsubscribe(c.subscription)
	}
	c.logger.Info().Msg("timeline controller stopped")
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.subscription:
			if !ok {
				return
			}
			c.recordEvent(event)
		}
	}
}

func (c *Controller) recordEvent(ev events.Event) {
	entry := Event{
		Type:      eventTypeFor(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   c.generateMessage(ev),
		Details:   ev.Data,
	}

	if snap, ok := ev.Subject.(queue.Snapshot); ok {
		entry.ItemID = snap.ID.String()
		entry.ItemName = snap.Name
		entry.Platform = snap.Platform
	}

	c.recorder.Record(entry)

	c.logger.Debug().
		Str("event_type", string(ev.Type)).
		Str("item_id", entry.ItemID).
		Msg("recorded event")
}

// eventTypeFor maps a bus event type to a timeline event type.
func eventTypeFor(t events.Type) EventType {
	switch t {
	case events.SystemStarted:
		return EventSystemStarted
	case events.CatalogConnected:
		return EventCatalogConnected
	case events.DownloadEnqueued:
		return EventEnqueued
	case events.DownloadStarted:
		return EventStarted
	case events.DownloadExtracting:
		return EventExtracting
	case events.DownloadMoving:
		return EventMoving
	case events.DownloadPaused:
		return EventPaused
	case events.DownloadResumed:
		return EventResumed
	case events.DownloadCompleted:
		return EventCompleted
	case events.DownloadFailed:
		return EventFailed
	case events.DownloadCancelled:
		return EventCancelled
	case events.DownloadRetried:
		return EventRetried
	case events.DownloadRemoved:
		return EventRemoved
	case events.LibraryChanged:
		return EventLibraryChanged
	default:
		return EventType(t)
	}
}

func (c *Controller) generateMessage(event events.Event) string {
	var name string
	if snap, ok := event.Subject.(queue.Snapshot); ok {
		name = snap.Name
	}

	switch event.Type {
	case events.SystemStarted:
		return "System started"
	case events.CatalogConnected:
		url, _ := event.Data["url"].(string)
		return fmt.Sprintf("Connected to catalog: %s", url)
	case events.DownloadEnqueued:
		return fmt.Sprintf("Queued: %s", name)
	case events.DownloadStarted:
		return fmt.Sprintf("Download started: %s", name)
	case events.DownloadExtracting:
		return fmt.Sprintf("Extracting: %s", name)
	case events.DownloadMoving:
		return fmt.Sprintf("Moving into library: %s", name)
	case events.DownloadPaused:
		return fmt.Sprintf("Paused: %s", name)
	case events.DownloadResumed:
		return fmt.Sprintf("Resumed: %s", name)
	case events.DownloadCompleted:
		return fmt.Sprintf("Download complete: %s", name)
	case events.DownloadFailed:
		return fmt.Sprintf("Download failed: %s", name)
	case events.DownloadCancelled:
		return fmt.Sprintf("Cancelled: %s", name)
	case events.DownloadRetried:
		return fmt.Sprintf("Retry queued: %s", name)
	case events.DownloadRemoved:
		return fmt.Sprintf("Removed: %s", name)
	case events.LibraryChanged:
		platform, _ := event.Data["platform"].(string)
		return fmt.Sprintf("Library updated: %s", platform)
	default:
		return fmt.Sprintf("Event: %s", event.Type)
	}
}
