// Package httpclient is the outbound HTTP client shared by the integrations.
// Every request waits on a token-bucket limiter before it is sent.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"daa-assistant/backend/pkg/logger"

	"golang.org/x/time/rate"
)

const userAgent = "DAA-Digital-Advanced-Assistant/1.0"

// Options configures a Client.
type Options struct {
	// Limit is the sustained request rate per second. Zero disables limiting.
	Limit float64
	// Burst is the maximum number of requests sent back to back.
	Burst int
	// Timeout bounds each request including reading the body.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{Limit: 5, Burst: 10, Timeout: 10 * time.Second}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Client wraps an *http.Client whose transport is rate limited.
type Client struct {
	http *http.Client
	log  *logger.Logger
}

func New(opts Options, log *logger.Logger) *Client {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Limit > 0 {
		limit = rate.Limit(opts.Limit)
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &limitedTransport{
				base:    http.DefaultTransport,
				limiter: rate.NewLimiter(limit, opts.Burst),
			},
		},
		log: log,
	}
}

// HTTPClient exposes the limited client for libraries that take one.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends req with the default user agent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("integration request failed", "method", req.Method, "host", req.URL.Host, "error", err.Error())
		return nil, err
	}
	c.log.Debug("integration request", "method", req.Method, "host", req.URL.Host, "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// GetJSON fetches rawURL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	copyHeader(req.Header, header)
	return c.doJSON(req, out)
}

// PostJSON sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, rawURL string, header http.Header, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	copyHeader(req.Header, header)
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

// PostForm sends form values and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, rawURL string, header http.Header, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	copyHeader(req.Header, header)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// Bearer returns a header carrying an Authorization bearer token.
func Bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.base.RoundTrip(req)
}
