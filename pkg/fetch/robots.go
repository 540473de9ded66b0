package fetch

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler fetches, parses and caches robots.txt data per host.
// The gate is optional; when disabled every URL is allowed. On any fetch or
// parse failure the handler fails open, matching common crawler behavior.
type RobotsHandler struct {
	fetcher *Fetcher
	enabled bool

	cache   map[string]*robotstxt.RobotsData // hostname -> parsed data (nil = fetch failed)
	cacheMu sync.Mutex

	log *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler. When enabled is false, Allowed
// always returns true without touching the network.
func NewRobotsHandler(fetcher *Fetcher, enabled bool, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher: fetcher,
		enabled: enabled,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log,
	}
}

// Allowed reports whether the configured user agent may fetch targetURL.
func (rh *RobotsHandler) Allowed(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	if !rh.enabled || targetURL == nil {
		return true
	}

	data := rh.robotsData(ctx, targetURL)
	if data == nil {
		return true // Fail open when robots.txt is unavailable
	}
	return data.TestAgent(targetURL.RequestURI(), userAgent)
}

// robotsData returns cached robots.txt data for the host, fetching on miss.
func (rh *RobotsHandler) robotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()

	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	scheme := targetURL.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: targetURL.Host, Path: "/robots.txt"}).String()
	hostLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL})
	hostLog.Info("Fetching robots.txt...")

	data = rh.fetchAndParse(ctx, robotsURL, hostLog)

	rh.cacheMu.Lock()
	rh.cache[host] = data // Cache failures as nil so they are not re-fetched
	rh.cacheMu.Unlock()
	return data
}

func (rh *RobotsHandler) fetchAndParse(ctx context.Context, robotsURL string, hostLog *logrus.Entry) *robotstxt.RobotsData {
	resp, err := rh.fetcher.Get(ctx, robotsURL)
	if err != nil {
		if resp != nil {
			drainAndClose(resp)
		}
		hostLog.Warnf("Fetching robots.txt failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		hostLog.Warnf("Reading robots.txt failed: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		hostLog.Warnf("Parsing robots.txt failed: %v", err)
		return nil
	}
	hostLog.Info("Fetched and parsed robots.txt")
	return data
}
