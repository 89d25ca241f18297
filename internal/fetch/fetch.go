// Package fetch performs the outbound GETs of the engine: the remote
// identifier list and the per-identifier detail pages.
//
// Any HTTP status is returned as a Result; only transport failures (DNS,
// connect, timeout, body read, blocked URL) are errors. Callers decide what a
// non-200 status means.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Result contains the outcome of a fetch.
type Result struct {
	Body       []byte
	StatusCode int
	Elapsed    time.Duration
	Truncated  bool // body reached MaxBytes and was cut
}

// OK reports whether the response status was 200.
func (r *Result) OK() bool { return r != nil && r.StatusCode == http.StatusOK }

// Config configures the client.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect.
	// Default: ValidateURL.
	URLValidator func(string) error
	// Logger for debug output. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "aibadge/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client performs bounded HTTP GETs.
type Client struct {
	client *http.Client
	config Config
}

// New creates a Client that re-validates every redirect target.
func New(cfg Config) *Client {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Get retrieves url. The body is capped at MaxBytes.
func (c *Client) Get(ctx context.Context, url string) (*Result, error) {
	if err := c.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("fetch: URL blocked (SSRF): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	truncated := int64(len(body)) == c.config.MaxBytes
	if truncated {
		c.config.Logger.Debug("fetch: body truncated", "url", url, "max_bytes", c.config.MaxBytes)
	}

	return &Result{
		Body:       body,
		StatusCode: resp.StatusCode,
		Elapsed:    time.Since(start),
		Truncated:  truncated,
	}, nil
}
