// Package upstream contains the resilient client for the public character
// API: paginated retrieval with exponential backoff, jitter, and
// server-directed retry delays, plus a lightweight reachability probe used
// by the health endpoint.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

const (
	// DefaultBaseURL is the public character API root.
	DefaultBaseURL = "https://rickandmortyapi.com/api"

	// DefaultMaxRetries bounds attempts per page request.
	DefaultMaxRetries = 5

	// DefaultRequestTimeout bounds each page request attempt.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultProbeTimeout bounds the reachability probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultBackoffStart and DefaultBackoffCap bound the exponential
	// backoff schedule between retries.
	DefaultBackoffStart = 500 * time.Millisecond
	DefaultBackoffCap   = 8 * time.Second

	// maxJitter is the random offset added to status-directed backoff so
	// throttled callers do not retry in lockstep.
	maxJitter = 250 * time.Millisecond

	// maxResponseSize caps how much of a page body is read (10MB).
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "rickmorty-sre-demo/1.0"
)

// Client is the upstream collaborator consumed by the ingest pipeline and
// the health endpoint.
type Client interface {
	// FetchAll retrieves the complete filtered character collection across
	// all pages. Transient failures are retried with backoff; exhausting
	// the retry budget returns an error wrapping ErrUnavailable.
	FetchAll(ctx context.Context) ([]store.Character, error)

	// Probe performs a single bounded-timeout GET against the API root and
	// reports reachability. Best-effort: never retried.
	Probe(ctx context.Context) bool
}

// HTTPClient is the default Client implementation.
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	requestTimeout time.Duration
	probeTimeout   time.Duration
	backoffStart   time.Duration
	backoffCap     time.Duration

	// sleep is swapped out by tests to observe retry delays.
	sleep func(ctx context.Context, d time.Duration) error

	// now feeds Retry-After HTTP-date conversion.
	now func() time.Time
}

var _ Client = (*HTTPClient)(nil)

// Option configures the HTTPClient.
type Option func(*HTTPClient)

// WithMaxRetries sets the per-page attempt budget.
func WithMaxRetries(n int) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRequestTimeout sets the per-attempt timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithProbeTimeout sets the reachability probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithBackoff sets the exponential backoff start value and cap.
func WithBackoff(start, cap time.Duration) Option {
	return func(c *HTTPClient) {
		if start > 0 {
			c.backoffStart = start
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

// NewHTTPClient creates a resilient upstream client. An empty baseURL falls
// back to the public API root.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &HTTPClient{
		baseURL:        baseURL,
		httpClient:     &http.Client{},
		maxRetries:     DefaultMaxRetries,
		requestTimeout: DefaultRequestTimeout,
		probeTimeout:   DefaultProbeTimeout,
		backoffStart:   DefaultBackoffStart,
		backoffCap:     DefaultBackoffCap,
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAll walks the paginated listing from page 1 until the cursor signals
// no further page, filtering and projecting each page as it arrives.
func (c *HTTPClient) FetchAll(ctx context.Context) ([]store.Character, error) {
	var characters []store.Character
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/character/?page=%d", c.baseURL, page)
		body, err := c.requestWithRetry(ctx, url)
		if err != nil {
			return nil, err
		}

		var pg characterPage
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("failed to decode page %d: %w", page, err)
		}

		characters = append(characters, filterCharacters(pg.Results)...)
		if !pg.hasNext() {
			break
		}
	}
	return characters, nil
}

// requestWithRetry issues a GET with up to maxRetries attempts. Throttling
// (429) and server errors sleep for the server-directed Retry-After delay
// when one is present, otherwise for the current backoff value plus jitter.
// Transport failures sleep for the bare backoff value. Any other HTTP error
// is terminal. Exhausting the budget surfaces ErrUnavailable.
func (c *HTTPClient) requestWithRetry(ctx context.Context, url string) ([]byte, error) {
	backoff := c.backoffStart

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, retryAfter, err := c.attempt(ctx, url)
		if err == nil {
			if attempt > 1 {
				slog.Info("Upstream request recovered after retries", "url", url, "attempt", attempt)
			}
			return body, nil
		}

		// The parent context going away is a caller decision, not an
		// upstream failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !httpErr.retryable() {
				return nil, err
			}
			delay := retryAfter
			if delay < 0 {
				//nolint:gosec // G404: jitter does not need cryptographic randomness
				delay = backoff + time.Duration(rand.Int63n(int64(maxJitter)))
			}
			slog.Warn("Upstream returned retryable status",
				"url", url, "status", httpErr.StatusCode, "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			backoff = minDuration(backoff*2, c.backoffCap)
			continue
		}

		// Transport-level failure: connection refused, timeout, protocol
		// error. Retry on the plain backoff schedule.
		slog.Warn("Upstream request failed",
			"url", url, "attempt", attempt, "delay", backoff, "error", err)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = minDuration(backoff*2, c.backoffCap)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnavailable, url)
}

// attempt performs a single bounded-timeout GET. retryAfter is the parsed
// Retry-After directive in case of a retryable status, or -1 when the
// header is absent or unparseable.
func (c *HTTPClient) attempt(ctx context.Context, url string) ([]byte, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		retryAfter := c.parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Status:     resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, -1, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, -1, fmt.Errorf("response exceeds maximum allowed size of %d bytes", maxResponseSize)
	}

	return body, -1, nil
}

// parseRetryAfter interprets a Retry-After header value. Both forms from
// RFC 9110 are supported: delay-seconds and an HTTP-date, the latter
// converted to seconds from now and floored at zero. Returns -1 when the
// value is absent or unparseable, signalling fallback to backoff.
func (c *HTTPClient) parseRetryAfter(value string) time.Duration {
	if value == "" {
		return -1
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return -1
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(c.now())
		if d < 0 {
			d = 0
		}
		return d
	}
	return -1
}

// Probe performs a single bounded-timeout GET against the API root. True
// only on HTTP 200; any error or other status reads as unreachable.
func (c *HTTPClient) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

// sleepContext sleeps for d unless the context is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
