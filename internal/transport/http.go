package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 250 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPTransport implements Caller using HTTP JSON-RPC 2.0.
// It does not support subscriptions.
type HTTPTransport struct {
	endpoint    string
	client      *http.Client
	header      http.Header
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// HTTPOption configures HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.client.Timeout = d
	}
}

// WithMaxRetries sets how many times transport-level failures (network errors,
// 429, 5xx) are retried. RPC error objects are never retried.
func WithMaxRetries(n int) HTTPOption {
	return func(t *HTTPTransport) {
		t.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithHeader adds a header sent with every request (API keys and the like).
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// NewHTTPTransport creates a JSON-RPC transport for endpoint.
func NewHTTPTransport(endpoint string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		header:      make(http.Header),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Call performs a JSON-RPC call, retrying transport failures when configured.
func (t *HTTPTransport) Call(ctx context.Context, result any, method string, params ...any) error {
	body, err := json.Marshal(newRequest(t.requestID.Add(1), method, params))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := t.retryDelay
	var lastErr error

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * t.backoffMult)
			if delay > t.maxDelay {
				delay = t.maxDelay
			}
		}

		raw, err := t.post(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		var resp message
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		return decodeResult(resp.Result, result)
	}

	if t.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Subscribe always fails: plain HTTP has no push channel.
func (t *HTTPTransport) Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error) {
	return nil, ErrNotSupported
}
