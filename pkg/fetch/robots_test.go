package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const robotsBody = "User-agent: *\nDisallow: /private/\n"

func robotsTestServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			io.WriteString(w, robotsBody)
			return
		}
		http.NotFound(w, r)
	}))
}

func newRobotsHandler(enabled bool) *RobotsHandler {
	fetcher := NewFetcher(http.DefaultClient, "indexmirror-test/1.0", 1, 1*time.Millisecond, 5*time.Millisecond, testLogEntry())
	return NewRobotsHandler(fetcher, enabled, testLogEntry())
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRobots_DisabledAllowsEverything(t *testing.T) {
	rh := newRobotsHandler(false)
	// No server behind this URL; a disabled handler must not touch the network.
	allowed := rh.Allowed(context.Background(), mustParseURL(t, "http://127.0.0.1:1/private/x"), "indexmirror-test/1.0")
	assert.True(t, allowed)
}

func TestRobots_DisallowedPath(t *testing.T) {
	var fetches atomic.Int32
	server := robotsTestServer(t, &fetches)
	defer server.Close()

	rh := newRobotsHandler(true)
	ctx := context.Background()

	assert.False(t, rh.Allowed(ctx, mustParseURL(t, server.URL+"/private/secret.txt"), "indexmirror-test/1.0"))
	assert.True(t, rh.Allowed(ctx, mustParseURL(t, server.URL+"/public/file.txt"), "indexmirror-test/1.0"))
}

func TestRobots_CachedPerHost(t *testing.T) {
	var fetches atomic.Int32
	server := robotsTestServer(t, &fetches)
	defer server.Close()

	rh := newRobotsHandler(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rh.Allowed(ctx, mustParseURL(t, server.URL+"/public/file.txt"), "indexmirror-test/1.0")
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestRobots_FailsOpenWhenUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	rh := newRobotsHandler(true)
	allowed := rh.Allowed(context.Background(), mustParseURL(t, server.URL+"/private/x"), "indexmirror-test/1.0")
	assert.True(t, allowed)
}
