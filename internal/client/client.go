// Package client fetches leaderboard data from the API server and keeps
// recent responses in a query cache.
//
// A cached response younger than the stale time is served without a request.
// Older responses are refetched; the backend drops them after the GC time.
// Identical requests in flight at the same time share one round trip.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/retry"
	"github.com/points-leaderboard/internal/service"
	"github.com/points-leaderboard/internal/storage"
	"github.com/points-leaderboard/internal/types"
)

const (
	// DefaultStaleTime is how long a response is served from cache
	DefaultStaleTime = 30 * time.Second
	// DefaultGCTime is how long an unused response stays in the cache
	DefaultGCTime = 5 * time.Minute
)

// Cache is the query cache backend. storage.MemoryCache and
// storage.CacheService both satisfy it.
type Cache interface {
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
	InvalidateType(ctx context.Context, keyType storage.CacheKeyType) error
}

// Config holds client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	StaleTime time.Duration
	GCTime    time.Duration
	Retries   int // Extra attempts after a transport failure or 5xx
}

// Client calls the leaderboard API routes
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	staleTime  time.Duration
	gcTime     time.Duration
	retry      *retry.RetryConfig
	group      singleflight.Group
	now        func() time.Time
}

// NewClient creates a client. A nil cache disables caching.
func NewClient(cfg Config, cache Cache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.GCTime < cfg.StaleTime {
		cfg.GCTime = DefaultGCTime
	}

	retryCfg := retry.DefaultRetryConfig(cfg.Retries + 1)
	retryCfg.Retryable = isRetryable

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		retry:      retryCfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		staleTime:  cfg.StaleTime,
		gcTime:     cfg.GCTime,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for staleness checks
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

// APIError is a non-2xx response from the API
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// newLocalError reports a request rejected before it was sent, in the same
// shape the API would have answered with
func newLocalError(catErr *errors.CategorizedError) *APIError {
	return &APIError{Status: catErr.StatusCode, Code: catErr.Code, Message: catErr.Message}
}

// isRetryable gives up on 4xx responses, which repeat on every attempt
func isRetryable(err error) bool {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

// UsersQuery selects one leaderboard page
type UsersQuery struct {
	Page      int             `json:"page"`
	Limit     int             `json:"limit"`
	SortBy    types.SortField `json:"sortBy"`
	SortOrder types.SortOrder `json:"sortOrder"`
	Tier      *types.Tier     `json:"tierFilter,omitempty"`
}

func (q UsersQuery) withDefaults() UsersQuery {
	if q.Page == 0 {
		q.Page = types.DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = types.DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = types.DefaultSortBy
	}
	if q.SortOrder == "" {
		q.SortOrder = types.DefaultSortOrder
	}
	return q
}

func (q UsersQuery) cacheKey() string {
	tier := "all"
	if q.Tier != nil {
		tier = strconv.Itoa(int(*q.Tier))
	}
	return storage.GenerateCacheKey(storage.CacheKeyUsers,
		strconv.Itoa(q.Page), strconv.Itoa(q.Limit), string(q.SortBy), string(q.SortOrder), tier)
}

// ListUsers fetches one page of the leaderboard
func (c *Client) ListUsers(ctx context.Context, query UsersQuery) (*service.ListUsersResult, error) {
	query = query.withDefaults()

	var result service.ListUsersResult
	if err := c.fetch(ctx, query.cacheKey(), "/api/users", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUser fetches one user with the given week's points. An empty week means
// the current week. Malformed addresses are rejected without a request.
func (c *Client) GetUser(ctx context.Context, address, week string) (*service.GetUserResult, error) {
	if address == "" {
		return nil, newLocalError(errors.NewMissingAddressError())
	}
	if !types.IsValidAddress(address) {
		return nil, newLocalError(errors.NewInvalidAddressError(address))
	}

	body := service.GetUserInput{Address: address, Week: week}
	key := storage.GenerateCacheKey(storage.CacheKeyUser, address, week)

	var result service.GetUserResult
	if err := c.fetch(ctx, key, "/api/users/"+url.PathEscape(address), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WeeklyPoints fetches users with points recorded in a week
func (c *Client) WeeklyPoints(ctx context.Context, week string, page, limit int) (*service.WeeklyPointsResult, error) {
	body := service.WeeklyPointsInput{Week: week, Page: page, Limit: limit}
	key := storage.GenerateCacheKey(storage.CacheKeyWeekly, week, strconv.Itoa(page), strconv.Itoa(limit))

	var result service.WeeklyPointsResult
	if err := c.fetch(ctx, key, "/api/users/weekly", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh drops every cached leaderboard page so the next ListUsers call
// goes to the API
func (c *Client) Refresh(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.InvalidateType(ctx, storage.CacheKeyUsers)
}

// cacheEntry is what the backend stores per query
type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// fetch serves key from cache while fresh, otherwise POSTs body to path.
// Cache failures are logged and never fail the call.
func (c *Client) fetch(ctx context.Context, key, path string, body, out interface{}) error {
	logger := logging.FromContext(ctx).WithField("cacheKey", key)

	if c.cache != nil {
		var entry cacheEntry
		found, err := c.cache.Get(ctx, key, &entry)
		if err != nil {
			logger.WithError(err).Warn("Failed to read query cache")
		}
		if found && c.now().Sub(entry.FetchedAt) < c.staleTime {
			logger.Debug("Query cache hit")
			return json.Unmarshal(entry.Value, out)
		}
	}

	raw, err, shared := c.group.Do(key, func() (interface{}, error) {
		var data []byte
		err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
			var err error
			data, err = c.post(ctx, path, body)
			return err
		})
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			entry := cacheEntry{Value: data, FetchedAt: c.now()}
			if err := c.cache.SetWithTTL(ctx, key, entry, c.gcTime); err != nil {
				logger.WithError(err).Warn("Failed to write query cache")
			}
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if shared {
		logger.Debug("Joined in-flight request")
	}

	return json.Unmarshal(raw.([]byte), out)
}

// post sends one JSON request and returns the raw 2xx body
func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			apiErr.Code = envelope.Error
			apiErr.Message = envelope.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return data, nil
}
