package queue

// Status represents the lifecycle state of a queue item.
type Status string

const (
	// StatusPending indicates the item is waiting for a free transfer slot.
	StatusPending Status = "pending"
	// StatusDownloading indicates the file is being fetched from the catalog.
	StatusDownloading Status = "downloading"
	// StatusExtracting indicates the fetched archive is being unpacked.
	StatusExtracting Status = "extracting"
	// StatusMoving indicates files are being placed into the library.
	StatusMoving Status = "moving"
	// StatusPaused indicates a user paused the item; no bytes are retained.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the item finished and its files are placed.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the item failed with an error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates a user cancelled the item.
	StatusCancelled Status = "cancelled"
)

// validTransitions is the item state machine. A requested transition not
// listed here is an InvalidTransitionError.
//
//nolint:gochecknoglobals // state machine lookup table
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusCancelled},
	StatusDownloading: {StatusExtracting, StatusMoving, StatusPaused, StatusFailed, StatusCancelled},
	StatusExtracting:  {StatusMoving, StatusFailed, StatusCancelled},
	StatusMoving:      {StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:      {StatusPending, StatusCancelled},
	StatusFailed:      {StatusPending},
	StatusCancelled:   {StatusPending},
	StatusCompleted:   {},
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether the status occupies a concurrency slot.
// Only items actually working (transferring, extracting, or placing files)
// count against the concurrency cap; pending and paused items do not.
func (s Status) HoldsSlot() bool {
	return s == StatusDownloading || s == StatusExtracting || s == StatusMoving
}

// IsActive reports whether the item is still in flight from the user's point
// of view: anything that is not completed, failed, or cancelled.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusPaused || s.HoldsSlot()
}

// IsTerminal reports whether the status is an end state. Terminal items stay
// in the queue until the user removes them, and can re-enter via Retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
