package models

import "time"

// DownloadResult is the outcome of downloading one file URL.
// It is consumed immediately: logged by the orchestrator and recorded in the
// manifest, never held beyond the level that produced it.
type DownloadResult struct {
	URL          string         // Original file URL
	NormURL      string         // Normalized form (manifest key)
	LocalPath    string         // Target path on disk (set even on failure)
	BytesWritten int64          // Bytes streamed to disk (0 unless success)
	Status       DownloadStatus
	Err          error // Underlying cause for forbidden/failure states
}

// DownloadEntry stores the result of one file download in the manifest
type DownloadEntry struct {
	Status      string    `json:"status"`               // Terminal DownloadStatus value
	LocalPath   string    `json:"local_path,omitempty"` // Relative path under the download root (on success)
	Bytes       int64     `json:"bytes,omitempty"`      // Bytes written (on success)
	ErrorType   string    `json:"error_type,omitempty"` // Error category (on failure)
	CompletedAt time.Time `json:"completed_at"`         // Timestamp of the terminal state
}
