package models

// DownloadStatus represents the terminal state of one file download
type DownloadStatus string

const (
	DownloadStatusUnset     DownloadStatus = ""          // Zero value = unset/unknown
	DownloadStatusSuccess   DownloadStatus = "success"   // File fetched and written to disk
	DownloadStatusForbidden DownloadStatus = "forbidden" // Server answered 403, nothing written
	DownloadStatusFailure   DownloadStatus = "failure"   // Transport or filesystem error
	DownloadStatusSkipped   DownloadStatus = "skipped"   // Local path collision guard fired
)

// String implements fmt.Stringer for logging
func (s DownloadStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal returns true for states a download can legitimately end in
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case DownloadStatusSuccess, DownloadStatusForbidden, DownloadStatusFailure, DownloadStatusSkipped:
		return true
	}
	return false
}

// SkipReason explains why a discovered link was never scheduled.
// These are classification outcomes, not errors.
type SkipReason string

const (
	SkipRootRelative   SkipReason = "root_relative"   // href starts with '/' (policy, see classifier)
	SkipOutOfScope     SkipReason = "out_of_scope"    // host does not match the crawl domain
	SkipAlreadyVisited SkipReason = "already_visited" // normalized URL already in the ledger
	SkipSuffixExcluded SkipReason = "suffix_excluded" // matched suffixes_to_ignore
	SkipPHPExcluded    SkipReason = "php_excluded"    // .php link with force_download_php disabled
	SkipRobots         SkipReason = "robots"          // disallowed by robots.txt (optional gate)
)
