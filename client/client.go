// Package client implements the typed HTTP client for the ticket-desk API:
// the authentication endpoints consumed by the session core, and the ticket
// and user-management collaborators that ride on the authenticated pipeline.
package client

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

	"github.com/jmcleod/deskd"
)

const defaultTimeout = 30 * time.Second

// Client issues requests against the ticket-desk API. Pass a http.Client
// whose transport is the authenticated pipeline for bearer injection and
// 401 refresh-retry; a bare client sends unauthenticated.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Use this to install the
// transport pipeline.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is the error body shape the API uses: either a single message or
// a field-keyed validation map.
type apiError struct {
	Error  string              `json:"error"`
	Detail string              `json:"detail"`
	Errors map[string][]string `json:"errors"`
}

// message flattens the error body into a single human-readable string.
func (e apiError) message() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Detail != "" {
		return e.Detail
	}
	if msgs, ok := e.Errors["non_field_errors"]; ok && len(msgs) > 0 {
		return msgs[0]
	}
	for field, msgs := range e.Errors {
		if len(msgs) > 0 {
			return fmt.Sprintf("%s: %s", field, msgs[0])
		}
	}
	return ""
}

// newRequest builds a JSON request for the given API path. Bodies are
// buffered so the transport pipeline can replay the request after a token
// refresh.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	u, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes the request and returns the response. Transport-level failures
// (connection refused, DNS, timeouts) map to deskd.ErrNetworkUnreachable.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deskd.ErrNetworkUnreachable, err)
	}
	return resp, nil
}

// decodeJSON reads and closes the response body into out.
func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// readAPIError drains and closes the body, returning the parsed error
// payload. A body that does not parse yields an empty apiError.
func readAPIError(resp *http.Response) apiError {
	defer resp.Body.Close()
	var apiErr apiError
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}
	_ = json.Unmarshal(data, &apiErr)
	return apiErr
}

// drain discards and closes the response body so the connection can be
// reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
