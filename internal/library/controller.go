package library

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/queue"
)

// Controller keeps the reconciler's cache in step with the download queue.
// A completed download is the signal that its file is now locally present;
// there is no need to re-list the platform directory to learn that.
type Controller struct {
	eventBus   *events.Bus
	reconciler *Reconciler
	logger     zerolog.Logger

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

// NewController creates a new library Controller.
func NewController(eventBus *events.Bus, reconciler *Reconciler, opts ...ControllerOption) *Controller {
	c := &Controller{
		eventBus:   eventBus,
		reconciler: reconciler,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins watching download completions.
func (c *Controller) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.subscription = c.eventBus.Subscribe(events.DownloadCompleted)

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info().Msg("library controller started")
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
	c.logger.Info().Msg("library controller stopped")
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
			c.handleCompleted(event)
		}
	}
}

func (c *Controller) handleCompleted(event events.Event) {
	snap, ok := event.Subject.(queue.Snapshot)
	if !ok {
		c.logger.Warn().Str("type", string(event.Type)).Msg("completion event without item snapshot")
		return
	}

	c.reconciler.MarkPresent(snap.FileID)

	c.logger.Debug().
		Int64("file_id", snap.FileID).
		Str("file", snap.Name).
		Str("platform", snap.Platform).
		Msg("marked file present after download")
}
