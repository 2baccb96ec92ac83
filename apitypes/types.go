// Package apitypes provides API response types for the romfetch HTTP API.
package apitypes

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Stats represents queue statistics.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status,omitempty"`
	ActiveTransfers int            `json:"active_transfers"`
	Pending         int            `json:"pending"`
	BytesPerSec     int64          `json:"bytes_per_sec"`
}

// QueueItem represents one download in the queue.
type QueueItem struct {
	ID       string `json:"id"`
	RomID    int64  `json:"rom_id"`
	FileID   int64  `json:"file_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Status   string `json:"status"`

	// Progress is an integer percentage, 0-100. It stays 0 when the total
	// size is unknown; RemainingSec is -1 whenever no ETA can be estimated.
	Progress        int   `json:"progress"`
	DownloadedBytes int64 `json:"downloaded_bytes"`
	TotalBytes      int64 `json:"total_bytes"`
	BytesPerSec     int64 `json:"bytes_per_sec"`
	RemainingSec    int64 `json:"remaining_sec"`

	Error string `json:"error,omitempty"`

	EnqueuedAt  string `json:"enqueued_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// EnqueueRequest asks for one catalog file to be downloaded.
type EnqueueRequest struct {
	RomID  int64 `json:"rom_id"`
	FileID int64 `json:"file_id"`
}

// EnqueueResponse carries the id of the newly created queue item.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// RetryResponse carries the fresh id minted for the retried item.
type RetryResponse struct {
	ID string `json:"id"`
}

// ClearResponse reports how many items a bulk clear removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// Platform represents a console platform from the catalog.
type Platform struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	RomCount int    `json:"rom_count"`
}

// LibraryCheckRequest asks whether a catalog file is already in the library.
type LibraryCheckRequest struct {
	RomID  int64 `json:"rom_id"`
	FileID int64 `json:"file_id"`
}

// LibraryCheckResponse reports local presence of a catalog file.
type LibraryCheckResponse struct {
	Exists   bool `json:"exists"`
	Checking bool `json:"checking"`
	Queued   bool `json:"queued"`
}

// LibraryDeleteRequest asks for a file to be removed from the library.
type LibraryDeleteRequest struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
	FileID   int64  `json:"file_id,omitempty"`
}

// Settings represents the runtime-adjustable download settings.
type Settings struct {
	MaxConcurrent int  `json:"max_concurrent"`
	Unzip         bool `json:"unzip"`
}

// SpeedSample represents an aggregate speed measurement at a point in time.
type SpeedSample struct {
	Speed     int64 `json:"speed"`
	Timestamp int64 `json:"timestamp"`
}
