package crawl

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"indexmirror/pkg/models"
	"indexmirror/pkg/parse"
)

// Target is the immutable crawl configuration threaded through every
// directory expansion.
type Target struct {
	Domain           string   // Netloc of the root URL; links whose host does not contain it are discarded
	SuffixesToIgnore []string // File suffixes excluded from download
	ForceDownloadPHP bool     // Treat .php links as static files instead of server-rendered pages
}

// NewTarget derives the crawl target from the root URL and policy knobs.
func NewTarget(rootURL *url.URL, suffixesToIgnore []string, forceDownloadPHP bool) Target {
	return Target{
		Domain:           strings.ToLower(rootURL.Host),
		SuffixesToIgnore: suffixesToIgnore,
		ForceDownloadPHP: forceDownloadPHP,
	}
}

// Classification is the result of inspecting one index page: the file URLs
// to download, the directory URLs to expand, and per-reason skip counts.
// All URLs are normalized.
type Classification struct {
	Files   []string
	Dirs    []string
	Skipped map[models.SkipReason]int
}

// Classify parses one index page and buckets every anchor link into file,
// directory, or skipped. It mutates the shared ledger: a link enters the
// ledger the moment it passes the scope check, which is what prevents
// duplicate scheduling and infinite recursion on sites with back-links.
func Classify(pageURL *url.URL, body io.Reader, target Target, ledger *Ledger, log *logrus.Entry) (Classification, error) {
	result := Classification{Skipped: make(map[models.SkipReason]int)}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return result, fmt.Errorf("parsing index page %s: %w", pageURL, err)
	}

	doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
		href, exists := element.Attr("href")
		if !exists || href == "" {
			return
		}

		// Root-relative links are out of scope by policy: on index servers
		// they point at site-wide resources (home page, robots.txt), not at
		// listing entries.
		if strings.HasPrefix(href, "/") {
			result.Skipped[models.SkipRootRelative]++
			log.Debugf("Skipping root-relative link: %s", href)
			return
		}

		resolved, parseErr := pageURL.Parse(href)
		if parseErr != nil {
			result.Skipped[models.SkipOutOfScope]++
			log.Debugf("Skipping unparseable href %q: %v", href, parseErr)
			return
		}
		normURL := parse.Normalize(resolved)

		// Scope: the resolved host must contain the root domain as a
		// substring. Degenerate URLs (mailto:, javascript:, empty host)
		// fail this check too.
		if !strings.Contains(strings.ToLower(resolved.Host), target.Domain) {
			result.Skipped[models.SkipOutOfScope]++
			return
		}

		// Claim the URL before classifying; false means another index page
		// already discovered it.
		if !ledger.Add(normURL) {
			result.Skipped[models.SkipAlreadyVisited]++
			return
		}

		if strings.HasSuffix(resolved.Path, "/") {
			result.Dirs = append(result.Dirs, normURL)
			return
		}

		for _, suffix := range target.SuffixesToIgnore {
			if strings.HasSuffix(normURL, suffix) {
				result.Skipped[models.SkipSuffixExcluded]++
				log.Debugf("Skipping %s: suffix %s excluded", normURL, suffix)
				return
			}
		}
		if strings.HasSuffix(normURL, ".php") && !target.ForceDownloadPHP {
			result.Skipped[models.SkipPHPExcluded]++
			log.Debugf("Skipping %s: .php links excluded by default", normURL)
			return
		}

		result.Files = append(result.Files, normURL)
	})

	return result, nil
}
