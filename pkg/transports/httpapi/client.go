// Package httpapi implements provider.Client over the provider's HTTPS JSON
// API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/saaskit/kitdeploy/pkg/engine"
	"github.com/saaskit/kitdeploy/pkg/provider"
)

// Client talks to the remote resource API.
type Client struct {
	config  *Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ provider.Client = (*Client)(nil)

// New creates an API client.
func New(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		config: config,
		base:   base,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
	if config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
	}

	transport := c.http.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c.http.Transport = otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))

	return c, nil
}

// List returns one page of resources of kind.
func (c *Client) List(ctx context.Context, kind string, opts provider.ListOptions) (*provider.ListResponse, error) {
	q := url.Values{}
	size := c.config.PageSize
	if opts.PageSize > 0 {
		size = opts.PageSize
	}
	q.Set("pageSize", strconv.Itoa(size))
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}

	keys := make([]string, 0, len(opts.Tags))
	for k := range opts.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Add("tag", k+":"+opts.Tags[k])
	}

	var resp provider.ListResponse
	if err := c.do(ctx, http.MethodGet, c.path(kind), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get returns one resource. Absence is reported as a NOT_FOUND error.
func (c *Client) Get(ctx context.Context, kind, id string) (*provider.Resource, error) {
	var r provider.Resource
	if err := c.do(ctx, http.MethodGet, c.path(kind, id), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create creates a resource.
func (c *Client) Create(ctx context.Context, kind string, req provider.CreateRequest) (*provider.Resource, error) {
	var r provider.Resource
	if err := c.do(ctx, http.MethodPost, c.path(kind), nil, req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update patches the given attributes.
func (c *Client) Update(ctx context.Context, kind, id string, attrs map[string]interface{}) error {
	body := map[string]interface{}{"attributes": attrs}
	return c.do(ctx, http.MethodPatch, c.path(kind, id), nil, body, nil)
}

// Delete deletes a resource.
func (c *Client) Delete(ctx context.Context, kind, id string) error {
	return c.do(ctx, http.MethodDelete, c.path(kind, id), nil, nil, nil)
}

// Tag merges tags into the resource's tags.
func (c *Client) Tag(ctx context.Context, kind, id string, tags map[string]string) error {
	body := map[string]interface{}{"tags": tags}
	return c.do(ctx, http.MethodPut, c.path(kind, id, "tags"), nil, body, nil)
}

// Action invokes a named action such as pause or resume.
func (c *Client) Action(ctx context.Context, kind, id, action string) error {
	return c.do(ctx, http.MethodPost, c.path(kind, id, "actions", action), nil, nil, nil)
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, "v1")
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Region != "" {
		req.Header.Set("X-Region", c.config.Region)
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("API request")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return engine.NewTransientError("request failed", err).WithCode(engine.ErrCodeProviderFailed)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp, method, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.NewTransientError("failed to decode response", err).WithCode(engine.ErrCodeProviderFailed)
	}
	return nil
}
