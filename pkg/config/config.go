package config

import "time"

// AppConfig holds the application configuration. All fields can come from an
// optional YAML file; CLI flags override the file values in main.
type AppConfig struct {
	UserAgent          string           `yaml:"user_agent,omitempty"`
	DownloadWorkers    int              `yaml:"download_workers,omitempty"`    // Concurrency cap for file downloads within one directory level
	SuffixesToIgnore   []string         `yaml:"suffixes_to_ignore,omitempty"`  // File suffixes excluded from download
	ForceDownloadPHP   bool             `yaml:"force_download_php,omitempty"`  // Treat .php links as downloadable files
	RespectRobots      bool             `yaml:"respect_robots,omitempty"`      // Gate index/file fetches on robots.txt
	MaxRetries         int              `yaml:"max_retries,omitempty"`         // Retry budget for index-page fetches (downloads are single attempt)
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	DownloadChunkSize  int              `yaml:"download_chunk_size,omitempty"` // Streaming copy buffer size in bytes
	StateDir           string           `yaml:"state_dir,omitempty"`           // Manifest DB directory; empty keeps the manifest in memory
	ReportFilename     string           `yaml:"report_filename,omitempty"`     // Manifest report filename written under the download root
	WriteTree          bool             `yaml:"write_tree,omitempty"`          // Write a directory tree report after the crawl
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}
