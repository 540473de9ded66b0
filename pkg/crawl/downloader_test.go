package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexmirror/pkg/models"
	"indexmirror/pkg/utils"
)

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name     string
		fileURL  string
		root     string
		expected string
	}{
		{
			name:     "SimplePath",
			fileURL:  "http://example.com/a/b.txt",
			root:     filepath.Join(string(filepath.Separator), "tmp", "out"),
			expected: filepath.Join(string(filepath.Separator), "tmp", "out", "example.com", "a", "b.txt"),
		},
		{
			name:     "RootFile",
			fileURL:  "http://example.com/top.txt",
			root:     "mirror",
			expected: filepath.Join("mirror", "example.com", "top.txt"),
		},
		{
			name:     "PortStrippedFromHostDir",
			fileURL:  "http://example.com:8080/f.txt",
			root:     "mirror",
			expected: filepath.Join("mirror", "example.com", "f.txt"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.fileURL)
			require.NoError(t, err)
			got, err := LocalPath(u, tt.root)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// Percent-encoded dot segments ("%2e%2e") pass base-URL resolution intact
// and decode to ".." in the URL path; the mapping must refuse them instead
// of letting filepath.Join collapse the path out of the download root.
func TestLocalPath_RejectsEscapingPath(t *testing.T) {
	u, err := url.Parse("http://example.com/depth1/%2e%2e/%2e%2e/%2e%2e/escaped.txt")
	require.NoError(t, err)
	require.Equal(t, "/depth1/../../../escaped.txt", u.Path)

	_, err = LocalPath(u, "mirror")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestDownload_EscapingPathFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("owned"))
	}))
	defer server.Close()

	base := t.TempDir()
	root := filepath.Join(base, "mirror")
	require.NoError(t, os.MkdirAll(root, 0755))

	d := NewDownloader(server.Client(), "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/depth1/%2e%2e/%2e%2e/%2e%2e/escaped.txt", root)

	assert.Equal(t, models.DownloadStatusFailure, result.Status)
	assert.ErrorIs(t, result.Err, utils.ErrFilesystem)
	assert.Empty(t, result.LocalPath)

	_, err := os.Stat(filepath.Join(base, "escaped.txt"))
	assert.True(t, os.IsNotExist(err), "nothing may be written outside the download root")
}

func TestDownload_Success(t *testing.T) {
	content := "file payload\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer server.Close()

	root := t.TempDir()
	d := NewDownloader(server.Client(), "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/pub/data.txt", root)

	require.Equal(t, models.DownloadStatusSuccess, result.Status, "err: %v", result.Err)
	assert.Equal(t, int64(len(content)), result.BytesWritten)

	written, err := os.ReadFile(result.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(written))

	// The path mirrors <root>/<hostname>/<url-path>.
	u, _ := url.Parse(server.URL)
	assert.Equal(t, filepath.Join(root, u.Hostname(), "pub", "data.txt"), result.LocalPath)
}

func TestDownload_ForbiddenWritesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	root := t.TempDir()
	d := NewDownloader(server.Client(), "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/secret.txt", root)

	assert.Equal(t, models.DownloadStatusForbidden, result.Status)
	_, err := os.Stat(result.LocalPath)
	assert.True(t, os.IsNotExist(err), "no file must be written on 403")
}

func TestDownload_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Refuse all connections

	d := NewDownloader(http.DefaultClient, "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/file.txt", t.TempDir())

	assert.Equal(t, models.DownloadStatusFailure, result.Status)
	assert.Error(t, result.Err)
}

func TestDownload_SkipsWhenLocalPathIsDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	root := t.TempDir()
	u, _ := url.Parse(server.URL)
	// Pre-create a directory exactly where the file would land.
	collision := filepath.Join(root, u.Hostname(), "data")
	require.NoError(t, os.MkdirAll(collision, 0755))

	d := NewDownloader(server.Client(), "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/data", root)

	assert.Equal(t, models.DownloadStatusSkipped, result.Status)
	info, err := os.Stat(collision)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "directory must survive the collision")
}

func TestDownload_NonForbiddenStatusStillStreamed(t *testing.T) {
	// Only 403 is special-cased; other statuses are mirrored as served.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not here"))
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), "indexmirror-test", 8192, testLogEntry())
	result := d.Download(context.Background(), server.URL+"/missing.txt", t.TempDir())

	require.Equal(t, models.DownloadStatusSuccess, result.Status)
	written, err := os.ReadFile(result.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "not here", string(written))
}
