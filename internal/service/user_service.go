package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/indexer"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/types"
)

// WeekLayout is the format of a week number: the UTC Sunday starting the week
const WeekLayout = "2006-01-02"

// metadataTimeLayout renders ISO-8601 UTC with milliseconds
const metadataTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// estimateMultiplier scales a full page into a rough filtered total
const estimateMultiplier = 10

// Indexer defines the reads the service needs from the GraphQL indexer
type Indexer interface {
	ListUsers(ctx context.Context, params indexer.ListUsersParams) ([]types.User, error)
	GetGlobalStats(ctx context.Context) (*types.GlobalStats, error)
	GetUserByAddress(ctx context.Context, address, weekNumber string) (*types.UserDetail, error)
	CountUsersByTier(ctx context.Context, tier types.Tier) (int64, error)
	ListWeeklyPoints(ctx context.Context, weekNumber string, limit, offset int) ([]types.User, error)
}

// UserService answers leaderboard and user lookups from the indexer
type UserService struct {
	indexer         Indexer
	exactTierCounts bool
	now             func() time.Time
}

// NewUserService creates a new user service. With exactTierCounts set, a
// tier-filtered total comes from an aggregate query instead of the
// tier_distribution blob.
func NewUserService(idx Indexer, exactTierCounts bool) *UserService {
	return &UserService{
		indexer:         idx,
		exactTierCounts: exactTierCounts,
		now:             time.Now,
	}
}

// ListUsersInput is the body of a leaderboard request
type ListUsersInput struct {
	Page       int    `json:"page,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	SortBy     string `json:"sortBy,omitempty"`
	SortOrder  string `json:"sortOrder,omitempty"`
	TierFilter *int   `json:"tierFilter,omitempty"`
}

// ListUsersResult is one leaderboard page
type ListUsersResult struct {
	Users      []types.User `json:"users"`
	TotalUsers int64        `json:"totalUsers"`
	// TotalUsersEstimated is set when TotalUsers is a page-length
	// approximation rather than a count reported by the indexer.
	TotalUsersEstimated bool               `json:"totalUsersEstimated"`
	GlobalStats         *types.GlobalStats `json:"globalStats,omitempty"`
}

// listQuery is a validated ListUsersInput
type listQuery struct {
	page      int
	limit     int
	sortBy    types.SortField
	sortOrder types.SortOrder
	tier      *types.Tier
}

// Offset returns the number of rows skipped before the page
func Offset(page, limit int) int {
	return (page - 1) * limit
}

// normalizeListInput applies defaults and checks the sort and filter
// allow-lists. Zero page or limit means default; negatives pass through.
func normalizeListInput(input ListUsersInput) (listQuery, error) {
	q := listQuery{
		page:      input.Page,
		limit:     input.Limit,
		sortBy:    types.SortField(input.SortBy),
		sortOrder: types.SortOrder(input.SortOrder),
	}

	if q.page == 0 {
		q.page = types.DefaultPage
	}
	if q.limit == 0 {
		q.limit = types.DefaultLimit
	}
	if q.sortBy == "" {
		q.sortBy = types.DefaultSortBy
	}
	if q.sortOrder == "" {
		q.sortOrder = types.DefaultSortOrder
	}

	if !q.sortBy.Valid() {
		return q, errors.NewInvalidSortFieldError(input.SortBy)
	}
	if !q.sortOrder.Valid() {
		return q, errors.NewInvalidSortOrderError(input.SortOrder)
	}
	if input.TierFilter != nil {
		tier := types.Tier(*input.TierFilter)
		if !tier.Valid() {
			return q, errors.NewInvalidTierFilterError(*input.TierFilter)
		}
		q.tier = &tier
	}

	return q, nil
}

// ListUsers returns one sorted, optionally tier-filtered page of users with
// the total it belongs to
func (s *UserService) ListUsers(ctx context.Context, input ListUsersInput) (*ListUsersResult, error) {
	q, err := normalizeListInput(input)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"page":      q.page,
		"limit":     q.limit,
		"sortBy":    q.sortBy,
		"sortOrder": q.sortOrder,
	})

	var (
		users      []types.User
		stats      *types.GlobalStats
		exactCount *int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.indexer.ListUsers(gctx, indexer.ListUsersParams{
			Limit:     q.limit,
			Offset:    Offset(q.page, q.limit),
			SortBy:    q.sortBy,
			SortOrder: q.sortOrder,
			Tier:      q.tier,
		})
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.indexer.GetGlobalStats(gctx)
		return err
	})
	if q.tier != nil && s.exactTierCounts {
		tier := *q.tier
		g.Go(func() error {
			count, err := s.indexer.CountUsersByTier(gctx, tier)
			if err != nil {
				// the blob policy still applies
				logger.WithError(err).Warn("Exact tier count failed, using tier distribution")
				return nil
			}
			exactCount = &count
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.NewUpstreamError(errors.CodeFetchUsersFailed, err)
	}

	result := &ListUsersResult{
		Users:       users,
		GlobalStats: stats,
	}
	if result.Users == nil {
		result.Users = []types.User{}
	}

	switch {
	case q.tier == nil:
		result.TotalUsers = globalTotal(stats)
	case exactCount != nil:
		result.TotalUsers = *exactCount
	default:
		result.TotalUsers, result.TotalUsersEstimated = tierTotal(stats, *q.tier, len(result.Users), q.limit)
	}

	logger.WithFields(map[string]interface{}{
		"returned":   len(result.Users),
		"totalUsers": result.TotalUsers,
		"estimated":  result.TotalUsersEstimated,
	}).Debug("Listed users")

	return result, nil
}

// globalTotal reads total_users, 0 when the stats are missing or unparsable
func globalTotal(stats *types.GlobalStats) int64 {
	if stats == nil {
		return 0
	}
	n, ok := parseCount(stats.TotalUsers.String())
	if !ok {
		return 0
	}
	return n
}

// tierTotal reads the tier's count from tier_distribution. When the blob
// cannot be used it approximates from the page: its length, or ten times
// that when the page came back full.
func tierTotal(stats *types.GlobalStats, tier types.Tier, returned, limit int) (int64, bool) {
	if stats != nil && stats.TierDistribution != "" {
		var distribution map[string]types.NumericString
		if err := json.Unmarshal([]byte(stats.TierDistribution), &distribution); err == nil {
			if raw, ok := distribution[tier.Key()]; ok {
				if n, ok := parseCount(raw.String()); ok {
					return n, false
				}
			}
		}
	}

	estimate := int64(returned)
	if limit > 0 && returned == limit {
		estimate *= estimateMultiplier
	}
	return estimate, true
}

func parseCount(s string) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.IntPart(), true
}

// GetUserInput is the body of a single user request
type GetUserInput struct {
	Address string `json:"address"`
	Week    string `json:"week,omitempty"`
}

// UserMetadata describes how a user lookup was resolved
type UserMetadata struct {
	Address    string `json:"address"`
	WeekNumber string `json:"weekNumber"`
	Timestamp  string `json:"timestamp"`
}

// GetUserResult is the response of a single user lookup
type GetUserResult struct {
	Success  bool              `json:"success"`
	Data     *types.UserDetail `json:"data"`
	Metadata UserMetadata      `json:"metadata"`
}

// CurrentWeek returns the Sunday starting now's UTC week as YYYY-MM-DD
func CurrentWeek(now time.Time) string {
	now = now.UTC()
	sunday := now.AddDate(0, 0, -int(now.Weekday()))
	return time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 0, 0, 0, 0, time.UTC).Format(WeekLayout)
}

// resolveWeek returns week when it is a YYYY-MM-DD date, or the current week
// when it is empty
func (s *UserService) resolveWeek(week string) (string, error) {
	if week == "" {
		return CurrentWeek(s.now()), nil
	}
	parsed, err := time.Parse(WeekLayout, week)
	if err != nil || parsed.Format(WeekLayout) != week {
		return "", errors.NewInvalidWeekError(week)
	}
	return week, nil
}

// GetUser looks a user up by exact address with the week's points and the
// newest snapshots
func (s *UserService) GetUser(ctx context.Context, input GetUserInput) (*GetUserResult, error) {
	if input.Address == "" {
		return nil, errors.NewMissingAddressError()
	}
	if !types.IsValidAddress(input.Address) {
		return nil, errors.NewInvalidAddressError(input.Address)
	}

	weekNumber, err := s.resolveWeek(input.Week)
	if err != nil {
		return nil, err
	}

	user, err := s.indexer.GetUserByAddress(ctx, input.Address, weekNumber)
	if err != nil {
		return nil, errors.NewUpstreamError(errors.CodeFetchUserFailed, err)
	}
	if user == nil {
		return nil, errors.NewUserNotFoundError(input.Address)
	}

	return &GetUserResult{
		Success: true,
		Data:    user,
		Metadata: UserMetadata{
			Address:    input.Address,
			WeekNumber: weekNumber,
			Timestamp:  s.now().UTC().Format(metadataTimeLayout),
		},
	}, nil
}

// WeeklyPointsInput is the body of a weekly leaderboard request
type WeeklyPointsInput struct {
	Week  string `json:"week,omitempty"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// WeeklyPointsResult lists users with points recorded in one week
type WeeklyPointsResult struct {
	Users      []types.User `json:"users"`
	WeekNumber string       `json:"weekNumber"`
}

// WeeklyPoints lists users that earned points in the given (or current) week
func (s *UserService) WeeklyPoints(ctx context.Context, input WeeklyPointsInput) (*WeeklyPointsResult, error) {
	weekNumber, err := s.resolveWeek(input.Week)
	if err != nil {
		return nil, err
	}

	page, limit := input.Page, input.Limit
	if page == 0 {
		page = types.DefaultPage
	}
	if limit == 0 {
		limit = types.DefaultLimit
	}

	users, err := s.indexer.ListWeeklyPoints(ctx, weekNumber, limit, Offset(page, limit))
	if err != nil {
		return nil, errors.NewUpstreamError(errors.CodeFetchWeeklyPointsFailed, err)
	}
	if users == nil {
		users = []types.User{}
	}

	return &WeeklyPointsResult{Users: users, WeekNumber: weekNumber}, nil
}
