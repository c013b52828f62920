// Package fetch is the bounded-retry HTTP downloader shared by the
// crawler, the article saver and the media pipeline. Concurrency is
// bounded by the callers' queues; the client itself only pools
// keep-alive connections.
package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/openzim/mwoffliner/internal/logger"
	"github.com/openzim/mwoffliner/pkg/metrics"
)

const maxAttempts = 3

// Client downloads URLs with retry, gzip/deflate decoding and a
// persistent cookie session.
type Client struct {
	userAgent string
	base      *url.URL
	timeout   time.Duration
	transport *http.Transport
	http      *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// New builds a client. base is the wiki root (its port decides the
// scheme coerced onto scheme-less URLs), timeout the per-attempt base
// timeout multiplied by the attempt number.
func New(version, adminEmail string, base *url.URL, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		// Decoding is done by hand so deflate works too.
		DisableCompression: true,
	}
	return &Client{
		userAgent: fmt.Sprintf("MWOffliner/%s (%s)", version, adminEmail),
		base:      base,
		timeout:   timeout,
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		sleep: time.Sleep,
	}, nil
}

// Fetch downloads one URL. Transparent HTTP redirects are followed;
// the body is returned fully decoded. On exhaustion of the retry
// budget the body is nil and the error describes the last failure; the
// caller decides whether that is fatal (it never is for articles and
// media).
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	target := c.CoerceScheme(rawURL)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, headers, retryAfter, err := c.fetchOnce(ctx, target, attempt)
		if err == nil {
			metrics.FetchOK.Inc()
			return body, headers, nil
		}
		lastErr = err
		logger.Debug("fetch attempt failed",
			"url", target, "attempt", attempt, "error", err)
		if attempt < maxAttempts && retryAfter > 0 {
			c.sleep(retryAfter)
		}
		if ctx.Err() != nil {
			break
		}
	}
	metrics.FetchFailed.Inc()
	return nil, nil, fmt.Errorf("fetch %s: %w", target, lastErr)
}

// fetchOnce performs a single attempt. retryAfter is the pause before
// the next attempt: zero after an HTTP-level failure, 10s x attempt
// after a transport failure.
func (c *Client) fetchOnce(ctx context.Context, target string, attempt int) (body []byte, headers http.Header, retryAfter time.Duration, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout*time.Duration(attempt))
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("bad request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, time.Duration(attempt) * 10 * time.Second, fmt.Errorf("transport: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, nil, 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, time.Duration(attempt) * 10 * time.Second, fmt.Errorf("read body: %w", err)
	}

	decoded, err := decode(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, nil, 0, err
	}
	return decoded, resp.Header, 0, nil
}

// decode unwraps the response body per Content-Encoding. Identity,
// gzip and deflate are supported; anything else is an error.
func decode(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return out, nil
	case "deflate":
		// RFC-conformant servers send zlib-wrapped deflate, others raw.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer func() { _ = zr.Close() }()
			if out, err := io.ReadAll(zr); err == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer func() { _ = fr.Close() }()
		out, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// CoerceScheme fills in missing or unknown URL schemes from the base
// wiki: port 443 means https, everything else http. Protocol-relative
// URLs ("//host/path") are the common case in rendered wiki HTML.
func (c *Client) CoerceScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch u.Scheme {
	case "http", "https":
		return rawURL
	}
	scheme := "http"
	if c.base.Scheme == "https" || c.base.Port() == "443" {
		scheme = "https"
	}
	if u.Host == "" && !strings.HasPrefix(rawURL, "//") {
		// Host-less path: resolve against the base wiki.
		return c.base.ResolveReference(u).String()
	}
	u.Scheme = scheme
	return u.String()
}

// Close tears down the connection pools. Call once at end of run.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}
