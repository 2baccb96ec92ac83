package timeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romfetch/romfetch/internal/events"
	"github.com/romfetch/romfetch/internal/queue"
	"github.com/romfetch/romfetch/internal/timeline"
)

func TestController(t *testing.T) {
	t.Run("records lifecycle events", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		recorder := timeline.NewRecorder()

		c := timeline.NewController(bus, recorder, timeline.WithControllerLogger(zerolog.Nop()))
		err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		snap := queue.Snapshot{
			ID:       ulid.Make(),
			Name:     "Super Game (USA).zip",
			Platform: "gba",
		}

		bus.Publish(events.Event{
			Type: events.SystemStarted,
		})

		bus.Publish(events.Event{
			Type:    events.DownloadEnqueued,
			Subject: snap,
		})

		bus.Publish(events.Event{
			Type:    events.DownloadStarted,
			Subject: snap,
		})

		time.Sleep(100 * time.Millisecond)

		entries := recorder.GetAll()
		assert.Len(t, entries, 3)
	})

	t.Run("ignores queue snapshots", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		recorder := timeline.NewRecorder()

		c := timeline.NewController(bus, recorder, timeline.WithControllerLogger(zerolog.Nop()))
		err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		bus.Publish(events.Event{
			Type:    events.QueueUpdated,
			Subject: []queue.Snapshot{},
		})

		time.Sleep(100 * time.Millisecond)

		assert.Empty(t, recorder.GetAll())
	})

	t.Run("generates correct messages", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		recorder := timeline.NewRecorder()

		c := timeline.NewController(bus, recorder, timeline.WithControllerLogger(zerolog.Nop()))
		err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		snap := queue.Snapshot{
			ID:       ulid.Make(),
			Name:     "Super Game (USA).zip",
			Platform: "gba",
		}

		bus.Publish(events.Event{
			Type:    events.DownloadCompleted,
			Subject: snap,
		})

		time.Sleep(50 * time.Millisecond)

		entries := recorder.GetByItem(snap.ID.String())
		require.Len(t, entries, 1)
		assert.Equal(t, "Download complete: Super Game (USA).zip", entries[0].Message)
		assert.Equal(t, timeline.EventCompleted, entries[0].Type)
		assert.Equal(t, "gba", entries[0].Platform)
	})

	t.Run("records failure details", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		recorder := timeline.NewRecorder()

		c := timeline.NewController(bus, recorder, timeline.WithControllerLogger(zerolog.Nop()))
		err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		snap := queue.Snapshot{
			ID:       ulid.Make(),
			Name:     "Broken Game.zip",
			Platform: "snes",
		}

		bus.Publish(events.Event{
			Type:    events.DownloadFailed,
			Subject: snap,
			Data: map[string]any{
				"error": "network error: connection reset",
			},
		})

		time.Sleep(50 * time.Millisecond)

		entries := recorder.GetByItem(snap.ID.String())
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Message, "Download failed")
		assert.Equal(t, "network error: connection reset", entries[0].Details["error"])
	})
}
