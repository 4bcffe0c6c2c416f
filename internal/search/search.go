// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/util"
)

// Searcher is the uniform tool contract used by the research loop.
type Searcher interface {
	// Search runs query with apiKey. The result is formatted observation
	// text, "" for no results, or text starting with ErrorPrefix.
	Search(ctx context.Context, query, apiKey string) string

	// Provider is the usage ledger key.
	Provider() string
}

// ErrorPrefix starts every failure observation.
const ErrorPrefix = "Error:"

// IsError reports whether an observation describes a failure.
func IsError(observation string) bool {
	return strings.HasPrefix(observation, ErrorPrefix)
}

const (
	// DefaultTimeout bounds one search request including retries.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps a decoded response body (2MB).
	MaxResponseSize = 2 * 1024 * 1024

	// DefaultMaxRetries is how many times a 429 is retried.
	DefaultMaxRetries = 3

	// DefaultInitialBackoff and DefaultMaxBackoff bound 429 backoff.
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second

	userAgent = "deepresearch/1.0"
)

// Result is one normalized search hit.
type Result struct {
	Title   string
	URL     string
	Content string
}

// HTTPError is a non-success response from a provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// errNoAPIKey is reported before any request is made.
var errNoAPIKey = errors.New("API key is not configured")

// =============================================================================
// SHARED HTTP CLIENT
// =============================================================================

// Option configures an adapter.
type Option func(*client)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(c *client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit paces outbound requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxRetries sets how many times HTTP 429 is retried.
func WithMaxRetries(n int) Option {
	return func(c *client) { c.maxRetries = n }
}

// WithBackoff sets the 429 backoff bounds.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(c *client) {
		c.initialBackoff = initial
		c.maxBackoff = maxDelay
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *client) { c.logger = logger }
}

// client holds the transport shared by both adapters.
type client struct {
	name           string // display name used in observation text
	provider       string
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sanitizer      *bluemonday.Policy
	logger         zerolog.Logger
}

func newClient(name, provider, baseURL string, opts []Option) client {
	c := client{
		name:           name,
		provider:       provider,
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		sanitizer:      bluemonday.StrictPolicy(),
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = c.logger.With().Str("component", "search").Str("provider", provider).Logger()
	return c
}

// errorText renders err as an observation.
func (c *client) errorText(err error) string {
	if errors.Is(err, errNoAPIKey) {
		return fmt.Sprintf("%s %s API key is not configured", ErrorPrefix, c.name)
	}
	return fmt.Sprintf("%s %s search failed: %v", ErrorPrefix, c.name, err)
}

// clean strips markup from provider content and collapses surrounding space.
// SECURITY: result text is model input and may be echoed to a browser
func (c *client) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

// post sends payload as JSON and decodes the response into out. HTTP 429 is
// retried with doubling backoff capped at maxBackoff.
func (c *client) post(ctx context.Context, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	delay := c.initialBackoff
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := delay
			if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
				wait = min(ra, c.maxBackoff)
			}
			resp.Body.Close()
			c.logger.Warn().Int("attempt", attempt+1).Dur("backoff", wait).Msg("rate limited, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			delay = min(delay*2, c.maxBackoff)
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}
}

func decodeResponse(resp *http.Response, out any) error {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(limited, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Body: util.TruncateRunes(strings.TrimSpace(string(data)), 200)}
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseRetryAfter reads a delay-seconds Retry-After value.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// joinBlocks joins formatted results with a blank line.
func joinBlocks(blocks []string) string {
	return strings.Join(blocks, "\n\n")
}

// =============================================================================
// CONFIG
// =============================================================================

// OptionsFromConfig converts search settings to adapter options.
func OptionsFromConfig(cfg config.SearchConfig, logger zerolog.Logger) []Option {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return []Option{
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRateLimit(cfg.RequestsPerSecond, 1),
		WithLogger(logger),
	}
}

// FromConfig builds both adapters from search settings.
func FromConfig(cfg config.SearchConfig, logger zerolog.Logger) (*Fact, *Discovery) {
	opts := OptionsFromConfig(cfg, logger)
	fact := NewFact(append(slices.Clone(opts), WithBaseURL(cfg.TavilyURL))...)
	discovery := NewDiscovery(append(slices.Clone(opts), WithBaseURL(cfg.ExaURL))...)
	return fact, discovery
}
