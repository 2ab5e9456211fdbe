// Package bocha is a client for the Bocha web search API.
package bocha

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/persona-sim/internal/resilience"
)

const defaultEndpoint = "https://api.bocha.cn/v1/web-search"

// ErrMissingKey is returned when no API key is configured.
var ErrMissingKey = eris.New("bocha: api key is not configured")

// Client defines the Bocha search operations.
type Client interface {
	// Search returns the raw provider body wrapped as {"_meta": {...}, "data": body}.
	Search(ctx context.Context, req Request) (map[string]any, error)
}

// Request is one web search.
type Request struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	Freshness string `json:"freshness"`
	Summary   bool   `json:"summary"`
}

// Option configures the client.
type Option func(*httpClient)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout (30s by default).
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

type httpClient struct {
	apiKey   string
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a Bocha search client. An empty key is accepted here and
// reported by Search so a missing key degrades web search instead of startup.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(2), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, sr Request) (map[string]any, error) {
	if c.apiKey == "" {
		return nil, ErrMissingKey
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "bocha: rate limit wait")
		}
	}

	body, err := json.Marshal(sr)
	if err != nil {
		return nil, eris.Wrap(err, "bocha: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "bocha: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "bocha: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "bocha: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError("bocha", resp.StatusCode, string(respBody))
	}

	var data any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, eris.Wrap(err, "bocha: unmarshal response")
	}

	return map[string]any{
		"_meta": map[string]any{
			"query":     sr.Query,
			"count":     sr.Count,
			"freshness": sr.Freshness,
			"status":    resp.StatusCode,
		},
		"data": data,
	}, nil
}
