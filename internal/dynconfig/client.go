// Package dynconfig fetches remotely served configuration records, such as
// the minimum supported kode version.
package dynconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kerrors "kode/internal/errors"
)

// DefaultTimeout bounds each fetch.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of a record is read.
const maxBody = 1 << 20

var (
	ErrNotFound       = fmt.Errorf("dynamic config record not found")
	ErrNetworkFailure = fmt.Errorf("dynamic config request failed")
)

// Client reads JSON records from <baseURL>/<key>.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "kode",
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches record key and decodes it into dst.
func (c *Client) Get(ctx context.Context, key string, dst any) error {
	if c.baseURL == "" {
		return fmt.Errorf("dynamic config: no base url configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return kerrors.New(kerrors.CodeNetworkFailure, key, fmt.Errorf("%w: %v", ErrNetworkFailure, err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode != http.StatusOK:
		return kerrors.New(kerrors.CodeNetworkFailure, key, fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(dst); err != nil {
		return kerrors.New(kerrors.CodeParseFailed, "decode "+key, err)
	}
	return nil
}
