package config

import (
	"fmt"
	"strings"
	"time"

	"indexmirror/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// UserAgent
	if c.UserAgent == "" {
		c.UserAgent = "indexmirror/1.0"
	}

	// DownloadWorkers
	if c.DownloadWorkers < 0 {
		return warnings, fmt.Errorf("%w: download_workers cannot be negative", utils.ErrConfigValidation)
	}
	if c.DownloadWorkers == 0 {
		c.DownloadWorkers = 10
	}

	// SuffixesToIgnore
	if len(c.SuffixesToIgnore) == 0 {
		c.SuffixesToIgnore = []string{".mp4", ".mov"}
	}
	for i, s := range c.SuffixesToIgnore {
		if s == "" {
			return warnings, fmt.Errorf("%w: suffixes_to_ignore contains an empty entry", utils.ErrConfigValidation)
		}
		if !strings.HasPrefix(s, ".") {
			warnings = append(warnings, fmt.Sprintf("suffix %q has no leading dot, assuming %q", s, "."+s))
			c.SuffixesToIgnore[i] = "." + s
		}
	}

	// Retry policy (index pages only)
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay < c.InitialRetryDelay {
		warnings = append(warnings, "max_retry_delay below initial_retry_delay, raising it")
		c.MaxRetryDelay = c.InitialRetryDelay
	}

	// DownloadChunkSize
	if c.DownloadChunkSize <= 0 {
		c.DownloadChunkSize = 8192
	}

	// ReportFilename
	if c.ReportFilename == "" {
		c.ReportFilename = "download_manifest.txt"
	}

	// HTTP client
	if c.HTTPClientSettings.Timeout <= 0 {
		warnings = append(warnings, "http timeout not set, defaulting to 30s")
		c.HTTPClientSettings.Timeout = 30 * time.Second
	}
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 100
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 10
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 15 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	return warnings, nil
}
