package storage

import "indexmirror/pkg/models"

// Manifest records the terminal state of every attempted file download.
// It is a crawl report, not a dedup structure: the in-memory ledger decides
// what gets scheduled, the manifest only records what happened.
type Manifest interface {
	// RecordDownload stores the terminal entry for a normalized file URL
	RecordDownload(normURL string, entry *models.DownloadEntry) error

	// GetDownload retrieves the entry for a normalized file URL.
	// Returns nil, nil when the URL was never attempted.
	GetDownload(normURL string) (*models.DownloadEntry, error)

	// Counts returns how many downloads ended in each terminal state
	Counts() (succeeded, failed, skipped int, err error)

	// WriteReport writes a human-readable report of all entries to filePath
	WriteReport(filePath, crawlID string) error

	// Close cleanly closes the underlying database
	Close() error
}
