package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"indexmirror/pkg/models"
	"indexmirror/pkg/parse"
	"indexmirror/pkg/utils"
)

// Downloader fetches one file URL and streams it onto local storage,
// mirroring the server's path structure. Downloads are single-attempt:
// a failure is reported to the caller, never retried, so one bad file
// cannot stall its siblings.
type Downloader struct {
	client    *http.Client
	userAgent string
	chunkSize int
	log       *logrus.Entry
}

// NewDownloader creates a Downloader around the shared HTTP client.
func NewDownloader(client *http.Client, userAgent string, chunkSize int, log *logrus.Entry) *Downloader {
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	return &Downloader{
		client:    client,
		userAgent: userAgent,
		chunkSize: chunkSize,
		log:       log,
	}
}

// LocalPath maps a file URL onto the mirrored filesystem path:
// <rootDownloadPath>/<hostname>/<url-path-with-leading-slash-stripped>.
// The mapping is a bijection over distinct (hostname, path) pairs, so
// concurrent downloads never collide on file creation.
// Dot segments can survive resolution when an index page links them
// percent-encoded ("%2e%2e/"); filepath.Join collapses them, so the joined
// path must be re-checked to still lie under the host directory.
func LocalPath(fileURL *url.URL, rootDownloadPath string) (string, error) {
	hostRoot := filepath.Join(rootDownloadPath, fileURL.Hostname())
	localPath := filepath.Join(hostRoot, strings.TrimPrefix(fileURL.Path, "/"))

	rel, err := filepath.Rel(hostRoot, localPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: URL path %q escapes the download root", utils.ErrFilesystem, fileURL.Path)
	}
	return localPath, nil
}

// Download fetches rawURL and writes it under rootDownloadPath.
// A 403 response is reported as forbidden without writing anything; any
// other status is streamed to disk as-is, matching how index servers serve
// their assets.
func (d *Downloader) Download(ctx context.Context, rawURL, rootDownloadPath string) models.DownloadResult {
	result := models.DownloadResult{URL: rawURL}

	normURL, parsed, err := parse.ParseAndNormalize(rawURL)
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, rawURL, err)
		return result
	}
	result.NormURL = normURL

	localPath, err := LocalPath(parsed, rootDownloadPath)
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = err
		return result
	}
	result.LocalPath = localPath

	if err := os.MkdirAll(filepath.Dir(result.LocalPath), 0755); err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = fmt.Errorf("%w: create directories for %s: %w", utils.ErrFilesystem, result.LocalPath, err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
		return result
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		result.Status = models.DownloadStatusForbidden
		result.Err = fmt.Errorf("%w: %s", utils.ErrForbidden, rawURL)
		return result
	}

	// Guard against a file URL and a directory URL sharing a path prefix:
	// if the computed path already exists as a directory, writing would
	// clobber mirrored content.
	if info, statErr := os.Stat(result.LocalPath); statErr == nil && info.IsDir() {
		d.log.Debugf("Local path %s exists as a directory, skipping write", result.LocalPath)
		result.Status = models.DownloadStatusSkipped
		return result
	}

	file, err := os.Create(result.LocalPath)
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, result.LocalPath, err)
		return result
	}
	defer file.Close()

	// Stream in fixed-size chunks so large files never sit in memory whole.
	buf := make([]byte, d.chunkSize)
	written, err := io.CopyBuffer(file, resp.Body, buf)
	result.BytesWritten = written
	if err != nil {
		result.Status = models.DownloadStatusFailure
		result.Err = fmt.Errorf("streaming %s to %s: %w", rawURL, result.LocalPath, err)
		return result
	}

	result.Status = models.DownloadStatusSuccess
	return result
}
