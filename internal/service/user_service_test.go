package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/indexer"
	"github.com/points-leaderboard/internal/types"
)

// mockIndexer records calls and returns canned data
type mockIndexer struct {
	mu sync.Mutex

	users      []types.User
	usersErr   error
	stats      *types.GlobalStats
	statsErr   error
	user       *types.UserDetail
	userErr    error
	count      int64
	countErr   error
	weekly     []types.User
	weeklyErr  error
	listParams []indexer.ListUsersParams
	countCalls int
	lookups    []string
	weeklyArgs []int
}

func (m *mockIndexer) ListUsers(ctx context.Context, params indexer.ListUsersParams) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listParams = append(m.listParams, params)
	return m.users, m.usersErr
}

func (m *mockIndexer) GetGlobalStats(ctx context.Context) (*types.GlobalStats, error) {
	return m.stats, m.statsErr
}

func (m *mockIndexer) GetUserByAddress(ctx context.Context, address, weekNumber string) (*types.UserDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, address+"@"+weekNumber)
	return m.user, m.userErr
}

func (m *mockIndexer) CountUsersByTier(ctx context.Context, tier types.Tier) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	return m.count, m.countErr
}

func (m *mockIndexer) ListWeeklyPoints(ctx context.Context, weekNumber string, limit, offset int) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weeklyArgs = append(m.weeklyArgs, limit, offset)
	return m.weekly, m.weeklyErr
}

func makeUsers(n int) []types.User {
	users := make([]types.User, n)
	for i := range users {
		users[i] = types.User{ID: "0x" + string(rune('a'+i%26))}
	}
	return users
}

func intPtr(i int) *int { return &i }

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var catErr *errors.CategorizedError
	require.True(t, stderrors.As(err, &catErr), "expected categorized error, got %v", err)
	return catErr.Code
}

func TestListUsersDefaults(t *testing.T) {
	idx := &mockIndexer{
		users: makeUsers(3),
		stats: &types.GlobalStats{ID: "global", TotalUsers: "1234"},
	}
	svc := NewUserService(idx, false)

	result, err := svc.ListUsers(context.Background(), ListUsersInput{})
	require.NoError(t, err)

	require.Len(t, idx.listParams, 1)
	params := idx.listParams[0]
	assert.Equal(t, types.DefaultLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
	assert.Equal(t, types.SortByTotalPointsEarned, params.SortBy)
	assert.Equal(t, types.SortDesc, params.SortOrder)
	assert.Nil(t, params.Tier)

	assert.Len(t, result.Users, 3)
	assert.Equal(t, int64(1234), result.TotalUsers)
	assert.False(t, result.TotalUsersEstimated)
	assert.Equal(t, "global", result.GlobalStats.ID)
}

func TestListUsersPassesPagingAndSort(t *testing.T) {
	idx := &mockIndexer{stats: &types.GlobalStats{TotalUsers: "10"}}
	svc := NewUserService(idx, false)

	_, err := svc.ListUsers(context.Background(), ListUsersInput{
		Page: 3, Limit: 25, SortBy: "current_balance", SortOrder: "asc", TierFilter: intPtr(4),
	})
	require.NoError(t, err)

	params := idx.listParams[0]
	assert.Equal(t, 25, params.Limit)
	assert.Equal(t, 50, params.Offset)
	assert.Equal(t, types.SortByCurrentBalance, params.SortBy)
	assert.Equal(t, types.SortAsc, params.SortOrder)
	require.NotNil(t, params.Tier)
	assert.Equal(t, types.TierPlatinum, *params.Tier)
}

func TestListUsersNegativeValuesPassThrough(t *testing.T) {
	idx := &mockIndexer{}
	svc := NewUserService(idx, false)

	_, err := svc.ListUsers(context.Background(), ListUsersInput{Page: -1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, -20, idx.listParams[0].Offset)
}

func TestListUsersValidation(t *testing.T) {
	tests := []struct {
		name  string
		input ListUsersInput
		code  string
	}{
		{"unknown sort field", ListUsersInput{SortBy: "password"}, errors.CodeInvalidSortField},
		{"injected sort field", ListUsersInput{SortBy: "id: asc}, where: {"}, errors.CodeInvalidSortField},
		{"bad order", ListUsersInput{SortOrder: "sideways"}, errors.CodeInvalidSortOrder},
		{"tier too high", ListUsersInput{TierFilter: intPtr(5)}, errors.CodeInvalidTierFilter},
		{"negative tier", ListUsersInput{TierFilter: intPtr(-1)}, errors.CodeInvalidTierFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &mockIndexer{}
			_, err := NewUserService(idx, false).ListUsers(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, codeOf(t, err))
			assert.Equal(t, http.StatusBadRequest, errors.GetHTTPStatusCode(err))
			assert.Empty(t, idx.listParams, "indexer must not be queried")
		})
	}
}

func TestListUsersTotalCount(t *testing.T) {
	tests := []struct {
		name         string
		stats        *types.GlobalStats
		tier         *int
		returned     int
		limit        int
		wantTotal    int64
		wantEstimate bool
	}{
		{"global total", &types.GlobalStats{TotalUsers: "30"}, nil, 25, 25, 30, false},
		{"no stats", nil, nil, 5, 25, 0, false},
		{"unparsable total", &types.GlobalStats{TotalUsers: "lots"}, nil, 5, 25, 0, false},
		{"tier from distribution", &types.GlobalStats{TierDistribution: `{"2": 1200}`}, intPtr(2), 25, 25, 1200, false},
		{"tier count as string", &types.GlobalStats{TierDistribution: `{"2": "75"}`}, intPtr(2), 25, 25, 75, false},
		{"malformed distribution full page", &types.GlobalStats{TierDistribution: `{"2": 12`}, intPtr(2), 25, 25, 250, true},
		{"malformed distribution partial page", &types.GlobalStats{TierDistribution: `not json`}, intPtr(2), 7, 25, 7, true},
		{"tier missing from distribution", &types.GlobalStats{TierDistribution: `{"0": 5}`}, intPtr(3), 2, 25, 2, true},
		{"no stats with tier", nil, intPtr(1), 0, 25, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &mockIndexer{users: makeUsers(tt.returned), stats: tt.stats}
			result, err := NewUserService(idx, false).ListUsers(context.Background(), ListUsersInput{
				Limit: tt.limit, TierFilter: tt.tier,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, result.TotalUsers)
			assert.Equal(t, tt.wantEstimate, result.TotalUsersEstimated)
		})
	}
}

func TestListUsersExactTierCounts(t *testing.T) {
	t.Run("uses aggregate", func(t *testing.T) {
		idx := &mockIndexer{
			users: makeUsers(25),
			stats: &types.GlobalStats{TierDistribution: `{"2": 1200}`},
			count: 1187,
		}
		result, err := NewUserService(idx, true).ListUsers(context.Background(), ListUsersInput{Limit: 25, TierFilter: intPtr(2)})
		require.NoError(t, err)
		assert.Equal(t, int64(1187), result.TotalUsers)
		assert.False(t, result.TotalUsersEstimated)
		assert.Equal(t, 1, idx.countCalls)
	})

	t.Run("falls back on failure", func(t *testing.T) {
		idx := &mockIndexer{
			users:    makeUsers(25),
			stats:    &types.GlobalStats{TierDistribution: `{"2": 1200}`},
			countErr: stderrors.New("aggregate disabled"),
		}
		result, err := NewUserService(idx, true).ListUsers(context.Background(), ListUsersInput{Limit: 25, TierFilter: intPtr(2)})
		require.NoError(t, err)
		assert.Equal(t, int64(1200), result.TotalUsers)
	})

	t.Run("not used without tier", func(t *testing.T) {
		idx := &mockIndexer{stats: &types.GlobalStats{TotalUsers: "9"}}
		_, err := NewUserService(idx, true).ListUsers(context.Background(), ListUsersInput{})
		require.NoError(t, err)
		assert.Zero(t, idx.countCalls)
	})
}

func TestListUsersUpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		idx  *mockIndexer
	}{
		{"users fail", &mockIndexer{usersErr: stderrors.New("connection refused")}},
		{"stats fail", &mockIndexer{statsErr: stderrors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewUserService(tt.idx, false).ListUsers(context.Background(), ListUsersInput{})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, errors.CodeFetchUsersFailed, codeOf(t, err))
			assert.Contains(t, err.Error(), "connection refused")
			assert.Equal(t, http.StatusInternalServerError, errors.GetHTTPStatusCode(err))
		})
	}
}

func TestCurrentWeek(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2024, 3, 13, 15, 4, 5, 0, time.UTC), "2024-03-10"},
		{time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), "2024-03-10"},
		{time.Date(2024, 3, 16, 23, 59, 59, 0, time.UTC), "2024-03-10"},
		{time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "2024-02-25"},
		// Sunday 01:00 in UTC+3 is still Saturday in UTC
		{time.Date(2024, 3, 17, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)), "2024-03-10"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CurrentWeek(tt.now), tt.now.String())
	}
}

func TestGetUser(t *testing.T) {
	address := "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"
	fixedNow := time.Date(2024, 3, 13, 9, 30, 0, 123000000, time.UTC)

	newService := func(idx *mockIndexer) *UserService {
		svc := NewUserService(idx, false)
		svc.now = func() time.Time { return fixedNow }
		return svc
	}

	t.Run("found with current week", func(t *testing.T) {
		idx := &mockIndexer{user: &types.UserDetail{User: types.User{ID: address}}}
		result, err := newService(idx).GetUser(context.Background(), GetUserInput{Address: address})
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, address, result.Data.ID)
		assert.Equal(t, address, result.Metadata.Address)
		assert.Equal(t, "2024-03-10", result.Metadata.WeekNumber)
		assert.Equal(t, "2024-03-13T09:30:00.123Z", result.Metadata.Timestamp)
		assert.Equal(t, []string{address + "@2024-03-10"}, idx.lookups)
	})

	t.Run("explicit week", func(t *testing.T) {
		idx := &mockIndexer{user: &types.UserDetail{User: types.User{ID: address}}}
		result, err := newService(idx).GetUser(context.Background(), GetUserInput{Address: address, Week: "2024-01-07"})
		require.NoError(t, err)
		assert.Equal(t, "2024-01-07", result.Metadata.WeekNumber)
	})

	errorCases := []struct {
		name   string
		idx    *mockIndexer
		input  GetUserInput
		code   string
		status int
	}{
		{"missing address", &mockIndexer{}, GetUserInput{}, errors.CodeMissingAddress, http.StatusBadRequest},
		{"short address", &mockIndexer{}, GetUserInput{Address: "0x1234"}, errors.CodeInvalidAddress, http.StatusBadRequest},
		{"no prefix", &mockIndexer{}, GetUserInput{Address: "AbCdEf0123456789aBcDeF0123456789AbCdEf0123"}, errors.CodeInvalidAddress, http.StatusBadRequest},
		{"bad week", &mockIndexer{}, GetUserInput{Address: address, Week: "2024-3-1"}, errors.CodeInvalidWeek, http.StatusBadRequest},
		{"unknown user", &mockIndexer{}, GetUserInput{Address: address}, errors.CodeUserNotFound, http.StatusNotFound},
		{"indexer down", &mockIndexer{userErr: stderrors.New("dial tcp: refused")}, GetUserInput{Address: address}, errors.CodeFetchUserFailed, http.StatusInternalServerError},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newService(tt.idx).GetUser(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.code, codeOf(t, err))
			assert.Equal(t, tt.status, errors.GetHTTPStatusCode(err))
		})
	}
}

func TestWeeklyPoints(t *testing.T) {
	idx := &mockIndexer{weekly: makeUsers(2)}
	svc := NewUserService(idx, false)
	svc.now = func() time.Time { return time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC) }

	result, err := svc.WeeklyPoints(context.Background(), WeeklyPointsInput{Page: 2, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", result.WeekNumber)
	assert.Len(t, result.Users, 2)
	assert.Equal(t, []int{10, 10}, idx.weeklyArgs)

	_, err = svc.WeeklyPoints(context.Background(), WeeklyPointsInput{Week: "yesterday"})
	assert.Equal(t, errors.CodeInvalidWeek, codeOf(t, err))

	idx.weeklyErr = stderrors.New("timeout")
	_, err = svc.WeeklyPoints(context.Background(), WeeklyPointsInput{})
	assert.Equal(t, errors.CodeFetchWeeklyPointsFailed, codeOf(t, err))
}

// Property: the offset is (page-1)*limit for every positive page and limit
func TestProperty_Offset(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("offset skips whole preceding pages", prop.ForAll(
		func(page, limit int) bool {
			offset := Offset(page, limit)
			return offset == (page-1)*limit && offset%limit == 0 && offset/limit == page-1
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 500),
	))

	properties.Property("service sends the computed offset", prop.ForAll(
		func(page, limit int) bool {
			idx := &mockIndexer{}
			_, err := NewUserService(idx, false).ListUsers(context.Background(), ListUsersInput{Page: page, Limit: limit})
			return err == nil && idx.listParams[0].Offset == (page-1)*limit && idx.listParams[0].Limit == limit
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

// Property: a well-formed distribution is always read exactly
func TestProperty_TierTotalFromDistribution(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("count read from tier key", prop.ForAll(
		func(tier int, count int64) bool {
			blob := `{"` + types.Tier(tier).Key() + `": ` + strconv.FormatInt(count, 10) + `}`
			total, estimated := tierTotal(&types.GlobalStats{TierDistribution: blob}, types.Tier(tier), 25, 25)
			return total == count && !estimated
		},
		gen.IntRange(0, 4),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
