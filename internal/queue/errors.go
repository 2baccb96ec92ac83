package queue

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// AlreadyQueuedError indicates an enqueue attempt for a file that is already
// pending or actively transferring. The existing item is left untouched.
type AlreadyQueuedError struct {
	FileID   int64
	FileName string
	ItemID   ulid.ULID
}

func (e *AlreadyQueuedError) Error() string {
	return fmt.Sprintf("file already queued: %s", e.FileName)
}

// InvalidTransitionError indicates a command requested a state change the
// state machine does not allow. This is a usage error, not a download
// failure, and never mutates the item.
type InvalidTransitionError struct {
	ItemID ulid.ULID
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.ItemID, e.From, e.To)
}

// NotFoundError indicates a command referenced an item that is not in the
// queue.
type NotFoundError struct {
	ItemID ulid.ULID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("queue item not found: %s", e.ItemID)
}

// PlacementError indicates the final move into the library failed.
type PlacementError struct {
	Name string
	Err  error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("placement failed: %s: %v", e.Name, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}
