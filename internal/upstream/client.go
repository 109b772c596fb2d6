// Package upstream implements the retrying streaming HTTP client for the
// aggregation API. Transient failures are retried with a short linear
// backoff; anything else is handed back to the caller with the response
// still open for streaming.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const DefaultURL = "https://openrouter.ai/api/v1/chat/completions"

// Config holds the client configuration. The delays are fields so tests can
// shrink them; production code uses DefaultConfig.
type Config struct {
	URL         string
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number between retries.
	// RateLimitDelay replaces it after a 429.
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
}

func DefaultConfig(url string) Config {
	if url == "" {
		url = DefaultURL
	}

	return Config{
		URL:            url,
		MaxAttempts:    3,
		BaseDelay:      700 * time.Millisecond,
		RateLimitDelay: 1400 * time.Millisecond,
	}
}

// retryableStatus lists upstream statuses worth another attempt. A retryable
// status on the final attempt is returned as-is instead.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// TransportError reports that every attempt failed at the connection level.
// The HTTP boundary maps it to a 504.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client posts chat-completion payloads and returns open streaming responses.
type Client struct {
	httpClient *http.Client
	config     Config
}

func New(config Config) *Client {
	return &Client{
		httpClient: newHTTPClient(),
		config:     config,
	}
}

// NewWithHTTPClient is used by tests to inject a transport double.
func NewWithHTTPClient(httpClient *http.Client, config Config) *Client {
	return &Client{
		httpClient: httpClient,
		config:     config,
	}
}

// Send posts the payload to url (the configured endpoint when url is empty)
// and returns the upstream response with its body unread, ready for
// streaming. Connection failures and retryable statuses are retried up to
// MaxAttempts with sequential, unjittered backoff; the response for any
// other status is returned as-is for the caller to inspect. Ownership of the
// returned response body passes to the caller.
func (c *Client) Send(ctx context.Context, url string, headers map[string]string, payload any) (*http.Response, error) {
	if url == "" {
		url = c.config.URL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	var lastErr error

	maxAttempts := c.config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := c.buildRequest(ctx, url, body, headers)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt >= maxAttempts {
				break
			}

			if err := c.wait(ctx, c.config.BaseDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}

			continue
		}

		if retryableStatus[resp.StatusCode] && attempt < maxAttempts {
			// Drain and close so the connection returns to the pool.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			delay := c.config.BaseDelay
			if resp.StatusCode == http.StatusTooManyRequests {
				delay = c.config.RateLimitDelay
			}

			if err := c.wait(ctx, delay*time.Duration(attempt)); err != nil {
				return nil, err
			}

			continue
		}

		return resp, nil
	}

	return nil, &TransportError{Attempts: maxAttempts, Err: lastErr}
}

func (c *Client) buildRequest(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// newHTTPClient builds the shared transport. Model responses stream for a
// long time, so there is no overall request timeout; the budgets are on
// connect and time-to-first-byte instead.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 120 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
