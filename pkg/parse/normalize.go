package parse

import (
	"net"
	"net/url"
	"strings"
)

// Normalize standardizes a URL for dedup and scope comparisons.
// It lowercases the scheme and host, removes default ports (80 for http, 443
// for https), and strips the fragment and query string. The path is kept
// verbatim: a trailing slash is the file-vs-directory signal on an index
// page, so unlike typical canonicalizers it must survive normalization.
// Does not modify the input *url.URL.
func Normalize(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" && normalized.Host != "" {
		normalized.Path = "/"
	}

	normalized.Fragment = ""    // Remove fragment
	normalized.RawQuery = ""    // Remove query string
	normalized.RawFragment = ""

	return normalized.String()
}

// ParseAndNormalize parses a URL string and normalizes it.
// Malformed input is not an error outcome of normalization itself: a string
// that parses to a degenerate URL (no scheme or host) still yields its
// normalized form, and the classifier treats such URLs as out of scope.
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", nil, err
	}
	return Normalize(parsed), parsed, nil
}
