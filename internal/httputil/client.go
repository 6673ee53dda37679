// Package httputil provides HTTP client utilities for calls to upstream
// provider APIs.
package httputil

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
)

// =============================================================================
// Provider Client
// =============================================================================

// Client is a JSON-over-HTTP client for upstream provider endpoints. Every
// request carries a fixed header set (typically the provider credential) and
// throttled or transiently failing calls are retried a bounded number of
// times.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	maxRetries int
	retryWait  time.Duration
}

// ClientConfig configures the provider client.
type ClientConfig struct {
	BaseURL    string
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

// NewClient creates a provider client. The base URL must be absolute.
func NewClient(cfg ClientConfig) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		maxRetries = 1
	}

	retryWait := cfg.RetryWait
	if retryWait == 0 {
		retryWait = 250 * time.Millisecond
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(parsed.String(), "/"),
		headers:    headers,
		maxRetries: maxRetries,
		retryWait:  retryWait,
	}, nil
}

// Do executes an HTTP request with a JSON-encoded body.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = encoded
	}
	return c.DoRaw(ctx, method, path, "application/json", payload)
}

// DoRaw executes an HTTP request with an arbitrary body. Requests that come
// back 429 or 5xx are retried up to the configured limit; the body is
// replayed from the buffered payload on each attempt.
func (c *Client) DoRaw(ctx context.Context, method, path, contentType string, payload []byte) (*http.Response, error) {
	endpoint := c.baseURL + path

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s %s: %w", method, path, err)
		}

		if !retryableStatus(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}

		drainAndClose(resp.Body)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryWait * time.Duration(attempt+1)):
		}
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}

// =============================================================================
// Responses
// =============================================================================

// UpstreamError captures a non-2xx provider response so callers can map the
// vendor status onto their own error space.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Transient reports whether the upstream failure was throttling or a server
// fault, i.e. worth surfacing as temporary unavailability.
func (e *UpstreamError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// DecodeResponse decodes a JSON response into target. Responses with status
// 400 and above become an *UpstreamError carrying a bounded copy of the
// vendor message.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, 64<<10)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &UpstreamError{Status: resp.StatusCode, Body: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
