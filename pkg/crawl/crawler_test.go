package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexmirror/pkg/fetch"
	"indexmirror/pkg/storage"
)

// indexPage renders a minimal directory-listing page for the given hrefs.
func indexPage(hrefs ...string) string {
	page := "<html><body><h1>Index of /</h1><ul>"
	for _, href := range hrefs {
		page += fmt.Sprintf(`<li><a href="%s">%s</a></li>`, href, href)
	}
	return page + "</ul></body></html>"
}

// newTestCrawler wires a crawler against the given test server with an
// in-memory manifest and robots disabled.
func newTestCrawler(t *testing.T, server *httptest.Server, workers int) (*Crawler, storage.Manifest) {
	t.Helper()
	log := testLogEntry()

	manifest, err := storage.NewBadgerManifest("", "test", log)
	require.NoError(t, err)
	t.Cleanup(func() { manifest.Close() })

	client := server.Client()
	fetcher := fetch.NewFetcher(client, "indexmirror-test", 1, time.Millisecond, 5*time.Millisecond, log)
	robots := fetch.NewRobotsHandler(fetcher, false, log)
	downloader := NewDownloader(client, "indexmirror-test", 8192, log)

	rootURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	target := NewTarget(rootURL, []string{".mp4", ".mov"}, false)

	return NewCrawler(target, NewLedger(), fetcher, downloader, robots, manifest,
		"indexmirror-test", workers, log), manifest
}

func TestCrawler_MirrorsTree(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, indexPage("file1.txt", "sub/", "video.mp4", "page.php", "/home"))
		case "/file1.txt":
			fmt.Fprint(w, "one")
		case "/sub/":
			fmt.Fprint(w, indexPage("file2.txt", "../"))
		case "/sub/file2.txt":
			fmt.Fprint(w, "two")
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler, manifest := newTestCrawler(t, server, 10)
	root := t.TempDir()

	err := crawler.Run(context.Background(), server.URL+"/", root)
	require.NoError(t, err)

	host, _ := url.Parse(server.URL)
	hostDir := filepath.Join(root, host.Hostname())

	one, err := os.ReadFile(filepath.Join(hostDir, "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(one))

	two, err := os.ReadFile(filepath.Join(hostDir, "sub", "file2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(two))

	for _, excluded := range []string{"video.mp4", "page.php", "home"} {
		_, err := os.Stat(filepath.Join(hostDir, excluded))
		assert.True(t, os.IsNotExist(err), "%s must not be downloaded", excluded)
	}

	succeeded, failed, skipped, err := manifest.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)
}

// The "../" back-link in /sub/ points at the root index; the ledger must
// stop the cycle. This test passing at all (rather than hanging) is the
// termination property.
func TestCrawler_TerminatesOnCircularLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, indexPage("a/"))
		case "/a/":
			fmt.Fprint(w, indexPage("b/", "../"))
		case "/a/b/":
			fmt.Fprint(w, indexPage("../../", "../"))
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler, _ := newTestCrawler(t, server, 10)
	err := crawler.Run(context.Background(), server.URL+"/", t.TempDir())
	require.NoError(t, err)
}

func TestCrawler_RootFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	crawler, _ := newTestCrawler(t, server, 10)
	err := crawler.Run(context.Background(), server.URL+"/", t.TempDir())
	assert.Error(t, err, "an unreachable root index is fatal")
}

// A sub-directory whose index cannot be fetched is logged and skipped; the
// rest of the crawl carries on.
func TestCrawler_BranchFetchFailureIsolated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, indexPage("broken/", "ok/"))
		case "/broken/":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/ok/":
			fmt.Fprint(w, indexPage("file.txt"))
		case "/ok/file.txt":
			fmt.Fprint(w, "payload")
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler, manifest := newTestCrawler(t, server, 10)
	root := t.TempDir()

	err := crawler.Run(context.Background(), server.URL+"/", root)
	require.NoError(t, err)

	host, _ := url.Parse(server.URL)
	payload, err := os.ReadFile(filepath.Join(root, host.Hostname(), "ok", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(payload))

	succeeded, _, _, err := manifest.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
}

// Per-file failures within a level never abort the batch.
func TestCrawler_FileFailureIsolated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, indexPage("locked.txt", "open.txt"))
		case "/locked.txt":
			http.Error(w, "forbidden", http.StatusForbidden)
		case "/open.txt":
			fmt.Fprint(w, "open")
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler, manifest := newTestCrawler(t, server, 10)
	root := t.TempDir()

	require.NoError(t, crawler.Run(context.Background(), server.URL+"/", root))

	host, _ := url.Parse(server.URL)
	_, err := os.Stat(filepath.Join(root, host.Hostname(), "locked.txt"))
	assert.True(t, os.IsNotExist(err), "403 must not produce a file")

	open, err := os.ReadFile(filepath.Join(root, host.Hostname(), "open.txt"))
	require.NoError(t, err)
	assert.Equal(t, "open", string(open))

	succeeded, failed, _, err := manifest.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

// No more than the configured cap of downloads may be in flight at once
// within one directory level.
func TestCrawler_ConcurrencyBound(t *testing.T) {
	const fileCount = 30
	const limit = 10

	var inFlight, maxInFlight atomic.Int64

	hrefs := make([]string, fileCount)
	for i := range hrefs {
		hrefs[i] = fmt.Sprintf("file%02d.bin.txt", i)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, indexPage(hrefs...))
			return
		}
		current := inFlight.Add(1)
		for {
			observed := maxInFlight.Load()
			if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, "x")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	crawler, manifest := newTestCrawler(t, server, limit)
	require.NoError(t, crawler.Run(context.Background(), server.URL+"/", t.TempDir()))

	succeeded, _, _, err := manifest.Counts()
	require.NoError(t, err)
	assert.Equal(t, fileCount, succeeded)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(limit),
		"observed %d concurrent downloads, cap is %d", maxInFlight.Load(), limit)
}

func TestCrawler_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, indexPage())
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	crawler, _ := newTestCrawler(t, server, 10)
	err := crawler.Run(ctx, server.URL+"/", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
