// Package fetch pages upstream sources over HTTP with retry and backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
)

// Config tunes the fetcher.
type Config struct {
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64
	UserAgent     string
}

// Page is a raw upstream response.
type Page struct {
	StatusCode int
	Body       []byte
}

// SourceError is a non-retriable 4xx answer from the source.
type SourceError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// TransientError is returned once every retry of a network, timeout or 5xx failure is spent.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client fetches pages with bounded exponential backoff behind a rate limiter.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a client. Zero config values fall back to 10s timeout, three
// attempts and 500ms..10s backoff.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 3 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ecolex-harvester/1.0"
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		sleep:   sleepCtx,
	}
}

// FetchPage issues a GET for rawURL with params merged into its query.
func (c *Client) FetchPage(ctx context.Context, rawURL string, params url.Values) (*Page, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}
	res, body, err := c.do(ctx, http.MethodGet, target)
	if err != nil {
		return nil, err
	}
	return &Page{StatusCode: res.StatusCode, Body: body}, nil
}

// Download fetches a file body.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	page, err := c.FetchPage(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return page.Body, nil
}

// Size returns the Content-Length reported for rawURL, or -1 when the producer
// does not report one.
func (c *Client) Size(ctx context.Context, rawURL string) (int64, error) {
	res, _, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return -1, err
	}
	if res.ContentLength < 0 {
		return -1, nil
	}
	return res.ContentLength, nil
}

func (c *Client) do(ctx context.Context, method, target string) (*http.Response, []byte, error) {
	var lastErr error
	backoff := c.cfg.BaseBackoff

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		res, body, err := c.once(ctx, method, target)
		if err == nil {
			return res, body, nil
		}

		var se *SourceError
		if errors.As(err, &se) || ctx.Err() != nil {
			return nil, nil, err
		}
		lastErr = err

		if attempt == c.cfg.MaxAttempts {
			break
		}
		wait := backoff
		if ra := retryAfter(res); ra > 0 {
			wait = ra
		}
		if wait > c.cfg.MaxBackoff {
			wait = c.cfg.MaxBackoff
		}
		c.log.Warn("fetch failed, retrying",
			slog.String("url", target),
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, nil, err
		}
		backoff *= 2
	}

	return nil, nil, &TransientError{URL: target, Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// once performs a single request. A retriable failure returns a non-nil error
// and, when a response was received, the response for Retry-After inspection.
func (c *Client) once(ctx context.Context, method, target string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, &SourceError{URL: target, Body: err.Error()}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res, nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError,
		res.StatusCode == http.StatusRequestTimeout,
		res.StatusCode == http.StatusTooManyRequests:
		return res, nil, fmt.Errorf("status %s", res.Status)
	case res.StatusCode >= http.StatusBadRequest:
		return res, nil, &SourceError{URL: target, StatusCode: res.StatusCode, Body: snippet(body)}
	}
	return res, body, nil
}

func retryAfter(res *http.Response) time.Duration {
	if res == nil || res.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(res.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func withParams(rawURL string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &SourceError{URL: rawURL, Body: err.Error()}
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
