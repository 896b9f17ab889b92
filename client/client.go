// Package client is a Go client for the nexuslog HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/query"
	"golang.org/x/time/rate"
)

// DefaultMetricsPath matches the server's default metrics.path.
const DefaultMetricsPath = "/oem-log/metrics"

// Options holds configuration for the client.
type Options struct {
	// Address is the server base URL, e.g. "http://localhost:8080".
	Address  string
	Username string
	Password string
	// MetricsPath overrides DefaultMetricsPath.
	MetricsPath string
	// RequestsPerSecond throttles outgoing calls. Zero means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to one nexuslog server. It is safe for concurrent use.
type Client struct {
	base        *url.URL
	username    string
	password    string
	metricsPath string
	limiter     *rate.Limiter
	http        *http.Client
	logger      *slog.Logger
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nexuslog: server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// New validates opts and returns a client. No request is made.
func New(opts Options) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.Address, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", opts.Address, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid address %q: scheme must be http or https", opts.Address)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = DefaultMetricsPath
	}

	c := &Client{
		base:        base,
		username:    opts.Username,
		password:    opts.Password,
		metricsPath: "/" + strings.Trim(opts.MetricsPath, "/"),
		http:        opts.HTTPClient,
		logger:      opts.Logger.With("component", "Client"),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Ingest sends records to the server and returns how many were accepted.
// Accepted records become searchable once the server has flushed them.
func (c *Client) Ingest(ctx context.Context, recs []core.CallRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(recs)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal records: %w", err)
	}
	var out struct {
		Accepted int `json:"accepted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/logs/ingest", body, &out); err != nil {
		return 0, err
	}
	c.logger.Debug("Ingested records", "count", out.Accepted)
	return out.Accepted, nil
}

// Search runs a search request. The server applies its default page size
// when req.PageSize is zero.
func (c *Client) Search(ctx context.Context, req query.Request) (query.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return query.Result{}, fmt.Errorf("failed to marshal search request: %w", err)
	}
	var res query.Result
	err = c.do(ctx, http.MethodPost, "/api/logs/search", body, &res)
	return res, err
}

// Metrics returns the server's formatted metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, c.metricsPath, nil, &out)
	return out, err
}

// ResetLatency clears the server's latency statistics.
func (c *Client) ResetLatency(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.metricsPath+"/reset-latency", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := *c.base
	u.Path = c.base.Path + path

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": ...} bodies and falls back to the raw text.
func errorMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
