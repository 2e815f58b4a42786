// Package indexer provides a GraphQL-over-HTTP client for the blockchain
// indexer that holds users, weekly points, snapshots and global stats.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/points-leaderboard/internal/circuitbreaker"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/metrics"
	"github.com/points-leaderboard/internal/retry"
	"github.com/points-leaderboard/internal/tracing"
	"github.com/points-leaderboard/internal/types"
)

// adminSecretHeader carries GRAPHQL_ADMIN_SECRET when one is configured
const adminSecretHeader = "x-hasura-admin-secret"

// maxErrorBody bounds how much of a non-200 body ends up in an error
const maxErrorBody = 512

// Client handles GraphQL calls to the indexer
type Client struct {
	endpoint    string
	adminSecret string
	timeout     time.Duration
	httpClient  *http.Client
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates an indexer client from configuration
func NewClient(cfg config.IndexerConfig) *Client {
	breakerCfg := circuitbreaker.DefaultConfig("indexer")
	breakerCfg.IsFailure = isIndexerFailure
	if cfg.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}

	retryCfg := retry.DefaultRetryConfig(cfg.MaxAttempts)
	retryCfg.Retryable = isRetryable

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		adminSecret: cfg.AdminSecret,
		timeout:     timeout,
		httpClient:  &http.Client{},
		retryConfig: retryCfg,
		breaker:     circuitbreaker.NewCircuitBreaker(breakerCfg),
	}
}

// BreakerState reports the indexer circuit breaker state
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// graphQLRequest is the POST body sent to the indexer
type graphQLRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage      `json:"data"`
	Errors []GraphQLErrorDetail `json:"errors"`
}

// GraphQLErrorDetail is one entry of a GraphQL errors array
type GraphQLErrorDetail struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLError is returned when the indexer answers with an errors array
type GraphQLError struct {
	Operation string
	Errors    []GraphQLErrorDetail
}

func (e *GraphQLError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, detail := range e.Errors {
		messages = append(messages, detail.Message)
	}
	return fmt.Sprintf("%s: %s", e.Operation, strings.Join(messages, "; "))
}

// StatusError is returned when the indexer responds with a non-200 status
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: indexer returned status=%d, body=%s", e.Operation, e.StatusCode, e.Body)
}

// isRetryable retries transport failures, timeouts, 429 and 5xx responses.
// GraphQL errors and undecodable payloads will not get better on retry.
func isRetryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	return true
}

// isIndexerFailure reports whether err says the indexer is unhealthy. GraphQL
// errors and 4xx responses answer a bad request and leave the breaker alone.
func isIndexerFailure(err error) bool {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

// do runs one GraphQL operation and decodes its data into out
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) error {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "indexer."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("graphql.operation", operation)),
	)
	defer span.End()

	logger := logging.FromContext(ctx).WithField("operation", operation)
	start := time.Now()

	err := retry.Do(ctx, c.retryConfig, func(ctx context.Context, attempt int) error {
		return c.breaker.Execute(ctx, func() error {
			return c.attempt(ctx, operation, query, variables, out)
		})
	})

	duration := time.Since(start)
	metrics.IndexerRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err != nil {
		metrics.IndexerErrorsTotal.WithLabelValues(operation, errorReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).WithField("duration", duration.String()).Warn("Indexer request failed")
		return err
	}

	logger.WithField("duration", duration.String()).Debug("Indexer request completed")
	return nil
}

// attempt performs a single POST under the per-call timeout
func (c *Client) attempt(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(graphQLRequest{
		Query:         query,
		Variables:     variables,
		OperationName: operation,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.adminSecret != "" {
		req.Header.Set(adminSecretHeader, c.adminSecret)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach indexer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read indexer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{Operation: operation, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("failed to parse indexer response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return &GraphQLError{Operation: operation, Errors: gqlResp.Errors}
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return fmt.Errorf("%s: indexer response has no data", operation)
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", operation, err)
	}
	return nil
}

func errorReason(err error) string {
	var gqlErr *GraphQLError
	var statusErr *StatusError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return metrics.ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.ReasonTimeout
	case errors.As(err, &gqlErr):
		return metrics.ReasonGraphQL
	case errors.As(err, &statusErr):
		return metrics.ReasonStatus
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return metrics.ReasonDecode
	default:
		return metrics.ReasonTransport
	}
}

// ListUsersParams selects one page of users
type ListUsersParams struct {
	Limit     int
	Offset    int
	SortBy    types.SortField
	SortOrder types.SortOrder
	Tier      *types.Tier
}

// ListUsers fetches one ordered page of users, optionally restricted to a tier
func (c *Client) ListUsers(ctx context.Context, params ListUsersParams) ([]types.User, error) {
	where := map[string]interface{}{}
	if params.Tier != nil {
		where["current_tier"] = map[string]interface{}{"_eq": int(*params.Tier)}
	}

	variables := map[string]interface{}{
		"limit":   params.Limit,
		"offset":  params.Offset,
		"orderBy": []map[string]string{{string(params.SortBy): string(params.SortOrder)}},
		"where":   where,
	}

	var data struct {
		User []types.User `json:"User"`
	}
	if err := c.do(ctx, OpGetAllUsers, getAllUsersQuery, variables, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return []types.User{}, nil
	}
	return data.User, nil
}

// GetGlobalStats fetches the singleton stats record. It returns nil when the
// indexer has not written one yet.
func (c *Client) GetGlobalStats(ctx context.Context) (*types.GlobalStats, error) {
	var data struct {
		GlobalStats []types.GlobalStats `json:"GlobalStats"`
	}
	variables := map[string]interface{}{"id": types.GlobalStatsID}
	if err := c.do(ctx, OpGetGlobalStats, getGlobalStatsQuery, variables, &data); err != nil {
		return nil, err
	}
	if len(data.GlobalStats) == 0 {
		return nil, nil
	}
	return &data.GlobalStats[0], nil
}

// GetUserByAddress fetches one user by exact id with the week's points and
// the newest snapshots. It returns nil when no user matches.
func (c *Client) GetUserByAddress(ctx context.Context, address, weekNumber string) (*types.UserDetail, error) {
	variables := map[string]interface{}{
		"address":       address,
		"weekNumber":    weekNumber,
		"snapshotLimit": types.MaxSnapshots,
	}

	var data struct {
		User []types.UserDetail `json:"User"`
	}
	if err := c.do(ctx, OpGetUserByAddress, getUserByAddressQuery, variables, &data); err != nil {
		return nil, err
	}
	if len(data.User) == 0 {
		return nil, nil
	}
	user := data.User[0]
	if user.WeeklyPoints == nil {
		user.WeeklyPoints = []types.WeeklyPoints{}
	}
	if user.Snapshots == nil {
		user.Snapshots = []types.Snapshot{}
	}
	return &user, nil
}

// CountUsersByTier returns the exact number of users in a tier
func (c *Client) CountUsersByTier(ctx context.Context, tier types.Tier) (int64, error) {
	var data struct {
		UserAggregate struct {
			Aggregate struct {
				Count int64 `json:"count"`
			} `json:"aggregate"`
		} `json:"User_aggregate"`
	}
	variables := map[string]interface{}{"tier": int(tier)}
	if err := c.do(ctx, OpCountUsersByTier, countUsersByTierQuery, variables, &data); err != nil {
		return 0, err
	}
	return data.UserAggregate.Aggregate.Count, nil
}

// ListWeeklyPoints fetches users with points recorded for the given week
func (c *Client) ListWeeklyPoints(ctx context.Context, weekNumber string, limit, offset int) ([]types.User, error) {
	variables := map[string]interface{}{
		"weekNumber": weekNumber,
		"limit":      limit,
		"offset":     offset,
	}

	var data struct {
		User []types.User `json:"User"`
	}
	if err := c.do(ctx, OpGetUsersWithWeeklyPoints, getUsersWithWeeklyPointsQuery, variables, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return []types.User{}, nil
	}
	return data.User, nil
}
