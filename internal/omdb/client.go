// Package omdb fetches movies from the OMDb API and maps them onto the domain
// aggregate.
package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/resilience"
)

// Provider looks movies up in an external catalogue. A nil movie with a nil
// error means the provider has no such movie.
type Provider interface {
	FetchByIdentifier(ctx context.Context, imdbID string) (*domain.Movie, error)
	FetchByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error)
}

// CallRecorder observes provider calls. Outcome is one of "found",
// "not_found", "unavailable" or "mapping_error".
type CallRecorder interface {
	ObserveProviderCall(operation, outcome string, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond caps outbound calls; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	Cache             CacheConfig
	Policy            resilience.Policy
	Logger            *slog.Logger
	Recorder          CallRecorder
	// StateObserver receives circuit breaker transitions.
	StateObserver resilience.StateObserver
}

// Client implements Provider over HTTP.
type Client struct {
	http     *resty.Client
	apiKey   string
	limiter  *rate.Limiter
	cache    *responseCache
	guard    *resilience.Executor
	logger   *slog.Logger
	recorder CallRecorder
}

// NewClient validates opts and builds a Client. A missing base URL or API key
// is a configuration error.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("omdb: base url is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("omdb: api key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetHeader("Accept", "application/json"),
		apiKey:   opts.APIKey,
		cache:    newResponseCache(opts.Cache),
		logger:   logger.With(slog.String("component", "omdb")),
		recorder: opts.Recorder,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	c.guard = resilience.New("omdb", opts.Policy,
		resilience.WithLogger(c.logger),
		resilience.WithStateObserver(opts.StateObserver),
		resilience.WithAdmission(c.waitForToken),
	)
	return c, nil
}

// Executor exposes the resilience executor guarding provider calls.
func (c *Client) Executor() *resilience.Executor { return c.guard }

// FetchByIdentifier looks a movie up by IMDb id.
func (c *Client) FetchByIdentifier(ctx context.Context, imdbID string) (*domain.Movie, error) {
	params := map[string]string{"i": imdbID}
	return c.fetch(ctx, "by_identifier", "id:"+imdbID, params)
}

// FetchByTitle looks a movie up by exact title and optional release year.
func (c *Client) FetchByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error) {
	params := map[string]string{"t": title}
	key := "title:" + strings.ToLower(title)
	if year != nil {
		params["y"] = strconv.Itoa(*year)
		key += ":" + params["y"]
	}
	return c.fetch(ctx, "by_title", key, params)
}

func (c *Client) fetch(ctx context.Context, operation, key string, params map[string]string) (*domain.Movie, error) {
	start := time.Now()
	movie, outcome, err := c.lookup(ctx, key, params)
	if c.recorder != nil {
		c.recorder.ObserveProviderCall(operation, outcome, time.Since(start))
	}
	if err != nil {
		c.logger.WarnContext(ctx, "provider lookup failed",
			slog.String("operation", operation),
			slog.String("key", key),
			slog.String("outcome", outcome),
			slog.Any("error", err))
	}
	return movie, err
}

func (c *Client) lookup(ctx context.Context, key string, params map[string]string) (*domain.Movie, string, error) {
	resp, err := c.cache.getOrFetch(ctx, key, func(ctx context.Context) (Response, error) {
		resp, err := resilience.Do(ctx, c.guard, func(ctx context.Context) (Response, error) {
			return c.call(ctx, params)
		})
		if err != nil {
			return Response{}, err
		}
		if resp.noResult() {
			return Response{}, errNoResult
		}
		return resp, nil
	})

	switch {
	case err == nil:
	case isNoResult(err):
		return nil, "not_found", nil
	case errors.Is(err, domain.ErrMapping):
		return nil, "mapping_error", err
	case ctx.Err() != nil:
		return nil, "cancelled", ctx.Err()
	default:
		return nil, "unavailable", fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}

	movie, err := toMovie(resp)
	if err != nil {
		return nil, "mapping_error", err
	}
	return movie, "found", nil
}

// waitForToken blocks on the outbound rate limiter using the caller's
// context, so time spent queueing never eats into an attempt's timeout.
func (c *Client) waitForToken(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("omdb rate limit wait: %w", err)
	}
	return nil
}

// call performs a single HTTP round trip. Transient failures are returned
// as is; everything else is marked permanent so it is not retried.
func (c *Client) call(ctx context.Context, params map[string]string) (Response, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("apikey", c.apiKey).
		SetQueryParams(params).
		Get("/")
	if err != nil {
		return Response{}, fmt.Errorf("omdb request: %w", err)
	}

	status := res.StatusCode()
	switch {
	case status == http.StatusOK:
	case isTransientStatus(status):
		return Response{}, fmt.Errorf("omdb returned %d", status)
	default:
		return Response{}, resilience.Permanent(fmt.Errorf("omdb returned %d: %s", status, providerError(status, res.Body())))
	}

	var payload Response
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return Response{}, resilience.Permanent(fmt.Errorf("%w: decode omdb response: %w", domain.ErrMapping, err))
	}
	if !payload.found() && !payload.noResult() {
		return Response{}, resilience.Permanent(fmt.Errorf("omdb error: %s", payload.Error))
	}
	return payload, nil
}

func isTransientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func providerError(status int, body []byte) string {
	var payload Response
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return http.StatusText(status)
}
