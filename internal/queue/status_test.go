package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/romfetch/romfetch/internal/queue"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from queue.Status
		to   queue.Status
		want bool
	}{
		{"pending to downloading", queue.StatusPending, queue.StatusDownloading, true},
		{"pending to cancelled", queue.StatusPending, queue.StatusCancelled, true},
		{"pending to paused", queue.StatusPending, queue.StatusPaused, false},
		{"downloading to extracting", queue.StatusDownloading, queue.StatusExtracting, true},
		{"downloading to moving", queue.StatusDownloading, queue.StatusMoving, true},
		{"downloading to paused", queue.StatusDownloading, queue.StatusPaused, true},
		{"downloading to completed", queue.StatusDownloading, queue.StatusCompleted, false},
		{"extracting to moving", queue.StatusExtracting, queue.StatusMoving, true},
		{"extracting to paused", queue.StatusExtracting, queue.StatusPaused, false},
		{"moving to completed", queue.StatusMoving, queue.StatusCompleted, true},
		{"moving to paused", queue.StatusMoving, queue.StatusPaused, false},
		{"paused to pending", queue.StatusPaused, queue.StatusPending, true},
		{"paused to downloading", queue.StatusPaused, queue.StatusDownloading, false},
		{"failed to pending", queue.StatusFailed, queue.StatusPending, true},
		{"cancelled to pending", queue.StatusCancelled, queue.StatusPending, true},
		{"completed is terminal", queue.StatusCompleted, queue.StatusPending, false},
		{"completed to cancelled", queue.StatusCompleted, queue.StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queue.CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusHoldsSlot(t *testing.T) {
	holding := []queue.Status{queue.StatusDownloading, queue.StatusExtracting, queue.StatusMoving}
	for _, s := range holding {
		assert.True(t, s.HoldsSlot(), "%s should hold a slot", s)
	}

	idle := []queue.Status{
		queue.StatusPending, queue.StatusPaused,
		queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled,
	}
	for _, s := range idle {
		assert.False(t, s.HoldsSlot(), "%s should not hold a slot", s)
	}
}

func TestStatusIsActive(t *testing.T) {
	active := []queue.Status{
		queue.StatusPending, queue.StatusDownloading, queue.StatusExtracting,
		queue.StatusMoving, queue.StatusPaused,
	}
	for _, s := range active {
		assert.True(t, s.IsActive(), "%s should be active", s)
	}

	terminal := []queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled}
	for _, s := range terminal {
		assert.False(t, s.IsActive(), "%s should not be active", s)
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
}
