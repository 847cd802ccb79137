// Package httputil provides the JSON HTTP client used for calls to external
// services.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrBodyTooLarge is returned when a response exceeds the read limit.
var ErrBodyTooLarge = errors.New("response body too large")

// MaxResponseBytes bounds every response body read by Client.
const MaxResponseBytes = 1 << 20

// Client sends JSON requests to a single base URL. Requests the server did
// not accept (429, 503) are retried with a linear backoff; other failures are
// returned as is, so a request is never repeated after the server may have
// acted on it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxRetries int
	backoff    time.Duration
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// Token is sent as a bearer token when set.
	Token      string
	MaxRetries int
	Backoff    time.Duration
}

// NewClient creates a client. Zero values select a 15s timeout, two retries
// and a 200ms backoff step.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 200 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PostJSON posts body encoded as JSON to path.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request body: %w", err)
	}
	return c.Do(ctx, http.MethodPost, path, payload)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Do sends payload to path and reads the whole response.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) (Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, method, path, payload)
		if err != nil {
			return Response{}, err
		}
		if !retryable(resp.StatusCode) || attempt >= c.maxRetries {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * c.backoff):
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) (Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := ReadAllWithLimit(resp.Body, MaxResponseBytes)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ReadAllWithLimit reads r completely, failing with ErrBodyTooLarge if it
// holds more than limit bytes.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
