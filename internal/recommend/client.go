package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ent0n29/tastecall/internal/reliability"
)

var ErrUnavailable = errors.New("recommendation api unavailable")

type Config struct {
	BaseURL string
	APIKey  string
	// MaxRetryElapsed bounds the total time spent retrying one request.
	MaxRetryElapsed time.Duration
	HTTPClient      *http.Client
}

// StatusError is a non-2xx answer from the recommendation API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recommendation api status %d: %s", e.Code, e.Body)
}

// Client talks to the taste/recommendation HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	maxElapsed time.Duration
	http       *http.Client
}

func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 3 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxElapsed: maxElapsed,
		http:       hc,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// get issues an idempotent GET, retrying retryable statuses and transport
// errors with exponential backoff until ctx is done or the budget is spent.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 150 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = c.maxElapsed

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Api-Key", c.apiKey)

		res, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			statusErr := &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body, err = io.ReadAll(io.LimitReader(res.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// APIEntity is an entity as returned by the search and insights endpoints.
type APIEntity struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	Subtype    string         `json:"subtype"`
	Types      []string       `json:"types"`
	Popularity float64        `json:"popularity"`
	Properties map[string]any `json:"properties,omitempty"`
	Location   *APILocation   `json:"location,omitempty"`
}

type APILocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Type picks the most specific urn for the entity.
func (e APIEntity) Type() string {
	if e.Subtype != "" {
		return e.Subtype
	}
	if len(e.Types) > 0 {
		return e.Types[0]
	}
	return ""
}

type APITag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type searchResponse struct {
	Results []APIEntity `json:"results"`
}

type insightsResponse struct {
	Results struct {
		Entities []APIEntity `json:"entities"`
		Tags     []APITag    `json:"tags"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string, types []string, location string, take int) ([]APIEntity, error) {
	q := url.Values{}
	q.Set("query", query)
	if len(types) > 0 {
		q.Set("types", strings.Join(types, ","))
	}
	if location != "" {
		q.Set("filter.location.query", location)
	}
	if take > 0 {
		q.Set("take", fmt.Sprint(take))
	}
	var res searchResponse
	if err := c.get(ctx, "/search", q, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

func (c *Client) Insights(ctx context.Context, entityType string, entityIDs []string, location string, take int) ([]APIEntity, error) {
	q := url.Values{}
	q.Set("filter.type", entityType)
	q.Set("signal.interests.entities", strings.Join(entityIDs, ","))
	if location != "" {
		q.Set("filter.location.query", location)
	}
	if take > 0 {
		q.Set("take", fmt.Sprint(take))
	}
	var res insightsResponse
	if err := c.get(ctx, "/v2/insights", q, &res); err != nil {
		return nil, err
	}
	return res.Results.Entities, nil
}

func (c *Client) Tags(ctx context.Context, query, parentType string, take int) ([]APITag, error) {
	q := url.Values{}
	q.Set("filter.query", query)
	if parentType != "" {
		q.Set("filter.parents.types", parentType)
	}
	if take > 0 {
		q.Set("take", fmt.Sprint(take))
	}
	var res insightsResponse
	if err := c.get(ctx, "/v2/tags", q, &res); err != nil {
		return nil, err
	}
	return res.Results.Tags, nil
}

// isExpected reports whether err is an upstream condition the model should
// hear about rather than a fault in this process.
func isExpected(err error) bool {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}
