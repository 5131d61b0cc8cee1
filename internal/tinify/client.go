// Package tinify implements the client for the remote compression
// service's HTTP API. The service accepts raw image bytes, stores the
// shrunk result and hands back a location to download or re-encode it
// from.
package tinify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinybatch/tinybatch/internal/imaging"
	"github.com/tinybatch/tinybatch/internal/logger"
)

const (
	shrinkPath = "/shrink"

	defaultTimeout = 30 * time.Second

	// The service allows ~8 requests per second per key before it
	// starts rejecting; stay under that client-side.
	defaultRateLimit = 8.0
	defaultRateBurst = 4
)

// APIError is a rejection returned by the service itself, as opposed to
// a transport failure.
type APIError struct {
	// Status is the HTTP status code of the rejection.
	Status int
	// Code is the service's short error identifier, e.g. "Unauthorized".
	Code string
	// Message is the service's human-readable explanation.
	Message string
}

// Error renders the rejection with its identifier and status.
func (e *APIError) Error() string {
	return fmt.Sprintf("service rejected request: %s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the service endpoint without a trailing slash.
	BaseURL string
	// APIKey authenticates every request.
	APIKey string
	// Timeout bounds each individual request. Zero means the default.
	// There are no retries: a timed-out file is reported as failed.
	Timeout time.Duration
	// Transport allows injecting a custom round tripper for tests.
	Transport http.RoundTripper
}

// Client talks to the compression service. It is safe for concurrent
// use; a shared token bucket throttles the whole batch.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Compile-time check that Client satisfies the dispatcher's collaborator.
var _ imaging.TransformService = (*Client)(nil)

// NewClient creates a Client for the given endpoint and key.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateBurst),
	}
}

// Compress submits src and returns the recompressed bytes in the same format.
func (c *Client) Compress(ctx context.Context, src []byte) ([]byte, error) {
	location, err := c.shrink(ctx, src)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, location)
}

// Convert submits src and returns bytes re-encoded into format.
func (c *Client) Convert(ctx context.Context, src []byte, format imaging.Format) ([]byte, error) {
	location, err := c.shrink(ctx, src)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"convert": map[string]string{"type": format.MIMEType()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode convert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, location, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// shrink uploads the source bytes and returns the result location.
func (c *Client) shrink(ctx context.Context, src []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+shrinkPath, bytes.NewReader(src))
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to submit image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", c.decodeError(resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("service returned %d without a result location", resp.StatusCode)
	}
	logger.Debug("Image submitted", "location", location)
	return location, nil
}

// download fetches the shrunk bytes from the result location.
func (c *Client) download(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// do authenticates the request and sends it through the rate limiter.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req.SetBasicAuth("api", c.apiKey)
	return c.httpClient.Do(req)
}

// decodeError turns a non-2xx response into an *APIError, falling back
// to the raw status when the body isn't the service's error shape.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		return apiErr
	}

	apiErr.Code = http.StatusText(resp.StatusCode)
	apiErr.Message = "unexpected response"
	return apiErr
}
