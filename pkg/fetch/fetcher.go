package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"indexmirror/pkg/utils"
)

// Fetcher performs HTTP GETs with retry logic for transient failures. It is
// used for index pages and robots.txt; file downloads go through the
// Downloader with a single attempt, matching the per-file failure-isolation
// contract.
type Fetcher struct {
	client            *http.Client
	userAgent         string
	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	log               *logrus.Entry
}

// NewFetcher creates a Fetcher around the shared HTTP client.
func NewFetcher(client *http.Client, userAgent string, maxRetries int, initialRetryDelay, maxRetryDelay time.Duration, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:            client,
		userAgent:         userAgent,
		maxRetries:        maxRetries,
		initialRetryDelay: initialRetryDelay,
		maxRetryDelay:     maxRetryDelay,
		log:               log,
	}
}

// Get fetches urlStr with retries on network errors, 5xx and 429 responses.
// 4xx responses (other than 429) are returned immediately with a wrapped
// sentinel error; the caller must close the response body whenever a
// non-nil response is returned.
func (f *Fetcher) Get(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error
	var resp *http.Response

	reqLog := f.log.WithField("url", urlStr)

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying request...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, lastErr = f.client.Do(req)

		// Network-level failure (DNS, TCP, TLS, timeout)
		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				drainAndClose(resp)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			drainAndClose(resp)
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Fetched")
			return resp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Warnf("Non-retryable status: %d", statusCode)
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.maxRetries+1, lastErr)
	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoff computes the exponential delay with +/-10% jitter for the given
// retry attempt (attempt >= 1).
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.initialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > f.maxRetryDelay {
		delay = f.maxRetryDelay
	}
	var jitter time.Duration
	if delay > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
	}
	final := delay + jitter
	if final < 0 {
		final = 0
	}
	return final
}

// drainAndClose releases a response body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
