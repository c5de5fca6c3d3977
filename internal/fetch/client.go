// Package fetch loads manifests and keys over HTTP or from local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"hlsrecd/internal/logger"
	"hlsrecd/internal/metrics"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrStatus is matched by every StatusError.
	ErrStatus = errors.New("unexpected HTTP status")
	// ErrRedirectLoop is returned when a redirect chain revisits a URL or is
	// longer than allowed.
	ErrRedirectLoop = errors.New("redirect loop")
)

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code %d from %s", e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// retryable reports whether another attempt may succeed.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Options configures a Client.
type Options struct {
	// Timeout bounds a single attempt, redirects included.
	Timeout      time.Duration
	Retries      int
	RetryDelay   time.Duration
	MaxRedirects int
	UserAgent    string
	// Headers are sent with every request; per-call headers override them.
	Headers map[string]string
	// RateLimit is the request rate across the client in requests per
	// second. Zero disables pacing.
	RateLimit float64
	Burst     int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:      15 * time.Second,
		Retries:      3,
		RetryDelay:   500 * time.Millisecond,
		MaxRedirects: 10,
	}
}

// Client fetches manifest text and key bytes.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	opts       Options
	limiter    *rate.Limiter
}

// NewClient creates a new fetch client.
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultOptions().MaxRedirects
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: opts.Timeout,
	}
	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are followed by hand so the final URL is known and
			// loops can be reported.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log.With("component", "fetch"),
		opts:   opts,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// FetchText returns the body of u as text along with the URL it was
// finally served from.
func (c *Client) FetchText(ctx context.Context, u string, headers map[string]string) (string, string, error) {
	data, finalURL, err := c.Fetch(ctx, u, headers)
	if err != nil {
		return "", "", err
	}
	return string(data), finalURL, nil
}

// FetchKey returns raw key bytes.
func (c *Client) FetchKey(ctx context.Context, keyURL string, headers map[string]string) ([]byte, error) {
	data, _, err := c.Fetch(ctx, keyURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key: %w", err)
	}
	return data, nil
}

// Fetch loads u with retries. file: URLs and bare paths are read from disk.
func (c *Client) Fetch(ctx context.Context, u string, headers map[string]string) ([]byte, string, error) {
	if path, ok := localPath(u); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, u, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, "", fmt.Errorf("failed to wait for rate limiter: %w", err)
			}
		}

		start := time.Now()
		data, finalURL, err := c.get(ctx, u, headers)
		metrics.ObserveFetch(err, time.Since(start))
		if err == nil {
			return data, finalURL, nil
		}
		lastErr = err

		var se *StatusError
		if ctx.Err() != nil || errors.Is(err, ErrRedirectLoop) || errors.As(err, &se) && !se.retryable() {
			break
		}
		c.logger.Warnf("fetch attempt %d/%d for %s failed: %v", attempt, c.opts.Retries, u, err)
		if attempt < c.opts.Retries {
			select {
			case <-ctx.Done():
				return nil, "", fmt.Errorf("failed to fetch %s: %w", u, ctx.Err())
			case <-time.After(c.opts.RetryDelay):
			}
		}
	}
	return nil, "", fmt.Errorf("failed to fetch %s: %w", u, lastErr)
}

// get performs one attempt, following redirects.
func (c *Client) get(ctx context.Context, u string, headers map[string]string) ([]byte, string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	seen := map[string]struct{}{}
	current := u
	for hops := 0; ; hops++ {
		if _, ok := seen[current]; ok || hops > c.opts.MaxRedirects {
			return nil, "", fmt.Errorf("%w at %s", ErrRedirectLoop, current)
		}
		seen[current] = struct{}{}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create request for %s: %w", current, err)
		}
		c.setHeaders(req, headers)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch %s: %w", current, err)
		}

		if isRedirect(resp.StatusCode) {
			location, err := resp.Location()
			resp.Body.Close()
			if err != nil {
				return nil, "", fmt.Errorf("redirect location error: %w", err)
			}
			c.logger.Debugf("Redirected to: %s", location)
			current = location.String()
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, "", &StatusError{URL: current, Code: resp.StatusCode}
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read response body from %s: %w", current, err)
		}
		return data, current, nil
	}
}

func (c *Client) setHeaders(req *http.Request, headers map[string]string) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// localPath maps file: URLs and plain filesystem paths to a path.
func localPath(u string) (string, bool) {
	if strings.HasPrefix(u, "file:") {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Path == "" {
			return strings.TrimPrefix(strings.TrimPrefix(u, "file:"), "//"), true
		}
		return parsed.Path, true
	}
	if strings.Contains(u, "://") {
		return "", false
	}
	return u, true
}
