package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	APIKey    string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// RequestsPerSecond seeds the adaptive limiter. Default: 5.
	RequestsPerSecond float64
	Quota             *QuotaTracker
	Client            *http.Client
	Metrics           *metrics.Metrics
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with retry, pacing and a
// request quota.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *AdaptiveLimiter
	quota   *QuotaTracker
	now     func() time.Time
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "campaignfin/1.0"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.MaxHintWait <= 0 {
		opts.Retry.MaxHintWait = 5 * time.Minute
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("fec", "download")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	quota := opts.Quota
	if quota == nil {
		quota = NewQuotaTracker(0, time.Hour)
	}
	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		limiter: NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond))),
		quota:   quota,
		now:     time.Now,
	}
}

// do sends one request under the retry budget. 429 and transient 5xx
// responses are retried; a 429 that outlasts the budget surfaces as
// model.ErrRateLimitExceeded. Non-retryable statuses are returned to the
// caller with the body open.
func (f *HTTPFetcher) do(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	lastStatus := 0
	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*http.Response, error) {
		if err := f.quota.Acquire(ctx); err != nil {
			return nil, err
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		for k, vs := range header {
			req.Header[k] = vs
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if f.opts.APIKey != "" {
			req.Header.Set("X-Api-Key", f.opts.APIKey)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		lastStatus = resp.StatusCode
		f.opts.Metrics.ObserveFetch(resp.StatusCode, f.quota.Remaining())

		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			f.limiter.OnSuccess()
			return resp, nil
		}

		drain(resp)
		hint, _ := resilience.ParseRetryHint(resp.Header, f.now())
		hint = min(hint, f.opts.Retry.MaxHintWait)
		if resp.StatusCode == http.StatusTooManyRequests {
			f.limiter.OnRateLimit()
			if hint > 0 {
				f.quota.Suspend(hint)
			}
		}
		return nil, &resilience.TransientError{
			Err:        eris.Errorf("http %d from %s", resp.StatusCode, rawURL),
			StatusCode: resp.StatusCode,
			RetryAfter: hint,
		}
	})
	if err != nil {
		var ex *resilience.ExhaustedError
		if errors.As(err, &ex) && lastStatus == http.StatusTooManyRequests {
			return nil, eris.Wrapf(model.ErrRateLimitExceeded, "fetcher: %s after %d attempts", rawURL, ex.Attempts)
		}
		return nil, eris.Wrapf(err, "fetcher: %s %s", method, rawURL)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// statusError maps a final non-200 response onto an error. 404 maps to
// model.ErrNotFound.
func statusError(resp *http.Response, op, rawURL string) error {
	drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return eris.Wrapf(model.ErrNotFound, "%s: %s", op, rawURL)
	}
	return eris.Errorf("%s: unexpected status %d from %s", op, resp.StatusCode, rawURL)
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "download", rawURL)
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to path. The file appears
// only once the body has been written in full.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return writeFile(path, body)
}

// writeFile copies r into path through a temporary sibling.
func writeFile(path string, r io.Reader) (int64, error) {
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "write file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "rename file")
	}
	return n, nil
}

// HeadETag performs a HEAD request and returns the ETag header value.
func (f *HTTPFetcher) HeadETag(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.do(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp, "head", rawURL)
	}
	return resp.Header.Get("ETag"), nil
}

// DownloadIfChanged fetches the URL only if the ETag has changed.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := f.do(ctx, http.MethodGet, rawURL, header)
	if err != nil {
		return nil, "", false, err
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		drain(resp)
		return nil, etag, false, nil
	case http.StatusOK:
		return resp.Body, resp.Header.Get("ETag"), true, nil
	default:
		return nil, "", false, statusError(resp, "download if changed", rawURL)
	}
}
