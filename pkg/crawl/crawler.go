package crawl

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"indexmirror/pkg/fetch"
	"indexmirror/pkg/models"
	"indexmirror/pkg/parse"
	"indexmirror/pkg/storage"
	"indexmirror/pkg/utils"
)

// Crawler drives the recursive mirror of one index server. Directories are
// expanded one at a time off an explicit FIFO queue (no call-stack
// recursion, so deep or cyclic trees cannot overflow the stack); the files
// of each directory level are downloaded concurrently up to a fixed cap,
// and the next directory is not expanded until the level has drained.
type Crawler struct {
	target     Target
	ledger     *Ledger
	fetcher    *fetch.Fetcher
	downloader *Downloader
	robots     *fetch.RobotsHandler
	manifest   storage.Manifest
	userAgent  string
	sem        *semaphore.Weighted
	log        *logrus.Entry
}

// NewCrawler wires the crawl components together. downloadWorkers caps
// in-flight downloads within one directory level.
func NewCrawler(
	target Target,
	ledger *Ledger,
	fetcher *fetch.Fetcher,
	downloader *Downloader,
	robots *fetch.RobotsHandler,
	manifest storage.Manifest,
	userAgent string,
	downloadWorkers int,
	log *logrus.Entry,
) *Crawler {
	if downloadWorkers <= 0 {
		downloadWorkers = 10
	}
	return &Crawler{
		target:     target,
		ledger:     ledger,
		fetcher:    fetcher,
		downloader: downloader,
		robots:     robots,
		manifest:   manifest,
		userAgent:  userAgent,
		sem:        semaphore.NewWeighted(int64(downloadWorkers)),
		log:        log,
	}
}

// expansion is the outcome of expanding one directory: either its
// classified links, or the fetch failure that made expansion impossible.
type expansion struct {
	classification Classification
	fetchErr       error
}

// Run mirrors the tree rooted at rootURL under rootDownloadPath.
// It returns an error only when the root index itself cannot be fetched or
// the context is cancelled; failures below the root are logged, recorded in
// the manifest, and skipped.
func (c *Crawler) Run(ctx context.Context, rootURL, rootDownloadPath string) error {
	rootNorm, parsedRoot, err := parse.ParseAndNormalize(rootURL)
	if err != nil || parsedRoot.Host == "" {
		return fmt.Errorf("%w: invalid root URL %q: %v", utils.ErrParsing, rootURL, err)
	}
	c.ledger.Add(rootNorm)

	// Pending directories, in discovery order.
	queue := []string{rootNorm}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			c.log.Warnf("Crawl cancelled with %d directories pending", len(queue))
			return ctx.Err()
		}

		dirURL := queue[0]
		queue = queue[1:]
		dirLog := c.log.WithField("dir", dirURL)

		exp := c.expandDir(ctx, dirURL)
		if exp.fetchErr != nil {
			if dirURL == rootNorm {
				return fmt.Errorf("fetching root index %s: %w", dirURL, exp.fetchErr)
			}
			dirLog.WithField("error_type", utils.CategorizeError(exp.fetchErr)).
				Errorf("Directory expansion failed, skipping branch: %v", exp.fetchErr)
			continue
		}

		cls := exp.classification
		dirLog.WithFields(logrus.Fields{
			"files":   len(cls.Files),
			"dirs":    len(cls.Dirs),
			"skipped": skipTotal(cls.Skipped),
		}).Info("Expanded directory")
		for reason, count := range cls.Skipped {
			dirLog.Debugf("Skipped %d link(s): %s", count, reason)
		}

		c.downloadLevel(ctx, cls.Files, rootDownloadPath)

		// Sub-directories are expanded sequentially, after every download
		// of this level has completed.
		queue = append(queue, cls.Dirs...)
	}

	c.log.Infof("Crawl finished: %d URLs discovered", c.ledger.Len())
	return nil
}

// expandDir fetches one index page and classifies its links.
func (c *Crawler) expandDir(ctx context.Context, dirURL string) expansion {
	parsed, err := url.Parse(dirURL)
	if err != nil {
		return expansion{fetchErr: fmt.Errorf("%w: %w", utils.ErrParsing, err)}
	}
	if !c.robots.Allowed(ctx, parsed, c.userAgent) {
		return expansion{fetchErr: fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, dirURL)}
	}

	resp, err := c.fetcher.Get(ctx, dirURL)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return expansion{fetchErr: err}
	}
	defer resp.Body.Close()

	// Resolve links against the final URL so redirected listings
	// (e.g. dir -> dir/) keep relative hrefs intact.
	baseURL := resp.Request.URL

	cls, err := Classify(baseURL, resp.Body, c.target, c.ledger, c.log)
	if err != nil {
		return expansion{fetchErr: fmt.Errorf("%w: %w", utils.ErrParsing, err)}
	}
	return expansion{classification: cls}
}

// downloadLevel dispatches one directory's files to the bounded worker pool
// and blocks until all of them reach a terminal state. One file's failure
// never aborts the batch.
func (c *Crawler) downloadLevel(ctx context.Context, files []string, rootDownloadPath string) {
	if len(files) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, fileURL := range files {
		if parsed, err := url.Parse(fileURL); err == nil && !c.robots.Allowed(ctx, parsed, c.userAgent) {
			c.log.WithField("url", fileURL).Infof("Skipping download: %s", models.SkipRobots)
			continue
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.log.Warnf("Stopped dispatching downloads: %v", err)
			break
		}
		wg.Add(1)
		go func(fileURL string) {
			defer wg.Done()
			defer c.sem.Release(1)
			c.downloadOne(ctx, fileURL, rootDownloadPath)
		}(fileURL)
	}
	wg.Wait()
}

// downloadOne runs a single download, logs the outcome and records it in
// the manifest.
func (c *Crawler) downloadOne(ctx context.Context, fileURL, rootDownloadPath string) {
	result := c.downloader.Download(ctx, fileURL, rootDownloadPath)
	resLog := c.log.WithFields(logrus.Fields{"url": fileURL, "status": result.Status})

	switch result.Status {
	case models.DownloadStatusSuccess:
		resLog.WithField("bytes", result.BytesWritten).Infof("Downloaded %s", fileURL)
	case models.DownloadStatusForbidden:
		resLog.Warnf("Access forbidden for %s", fileURL)
	case models.DownloadStatusSkipped:
		resLog.Infof("Skipped %s: local path is a directory", fileURL)
	default:
		resLog.WithField("error_type", utils.CategorizeError(result.Err)).
			Errorf("Download failed: %v", result.Err)
	}

	entry := &models.DownloadEntry{
		Status:      string(result.Status),
		CompletedAt: time.Now(),
	}
	if result.Status == models.DownloadStatusSuccess {
		entry.LocalPath = result.LocalPath
		entry.Bytes = result.BytesWritten
	} else if result.Err != nil {
		entry.ErrorType = utils.CategorizeError(result.Err)
	}

	normURL := result.NormURL
	if normURL == "" {
		normURL = fileURL
	}
	if err := c.manifest.RecordDownload(normURL, entry); err != nil {
		resLog.Errorf("Recording manifest entry failed: %v", err)
	}
}

func skipTotal(skipped map[models.SkipReason]int) int {
	total := 0
	for _, n := range skipped {
		total += n
	}
	return total
}
