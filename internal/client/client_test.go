package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/points-leaderboard/internal/storage"
	"github.com/points-leaderboard/internal/types"
)

const testAddress = "0x1111111111111111111111111111111111111111"

// fakeAPI counts requests and records their bodies
type fakeAPI struct {
	hits    int32
	mu      sync.Mutex
	bodies  []map[string]interface{}
	release chan struct{}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.hits, 1)

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/users":
		_, _ = w.Write([]byte(`{"users":[{"id":"` + testAddress + `","current_tier":2}],"totalUsers":1,"totalUsersEstimated":false}`))
	case r.URL.Path == "/api/users/weekly":
		_, _ = w.Write([]byte(`{"users":[],"weekNumber":"2024-03-10"}`))
	case r.URL.Path == "/api/users/"+testAddress:
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"` + testAddress + `","weeklyPoints":[],"snapshots":[]},"metadata":{"address":"` + testAddress + `","weekNumber":"2024-03-10","timestamp":"2024-03-13T09:30:00.000Z"}}`))
	case strings.HasPrefix(r.URL.Path, "/api/users/"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"USER_NOT_FOUND","message":"User with address ` + strings.TrimPrefix(r.URL.Path, "/api/users/") + ` not found"}`))
	default:
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}
}

func (f *fakeAPI) hitCount() int {
	return int(atomic.LoadInt32(&f.hits))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, *testClock) {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	clock := &testClock{now: time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)}
	cache := storage.NewMemoryCache(DefaultGCTime)
	cache.SetClock(clock.Now)

	c := NewClient(Config{BaseURL: server.URL + "/"}, cache)
	c.SetClock(clock.Now)
	return c, clock
}

func TestListUsersAppliesDefaults(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	result, err := c.ListUsers(context.Background(), UsersQuery{})
	require.NoError(t, err)
	require.Len(t, result.Users, 1)
	assert.Equal(t, types.TierSilver, result.Users[0].CurrentTier)
	assert.Equal(t, int64(1), result.TotalUsers)

	require.Len(t, api.bodies, 1)
	assert.Equal(t, map[string]interface{}{
		"page":      float64(1),
		"limit":     float64(50),
		"sortBy":    "total_points_earned",
		"sortOrder": "desc",
	}, api.bodies[0])
}

func TestListUsersTierFilterSent(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	tier := types.TierGold
	_, err := c.ListUsers(context.Background(), UsersQuery{Page: 2, Limit: 25, Tier: &tier})
	require.NoError(t, err)
	assert.Equal(t, float64(3), api.bodies[0]["tierFilter"])
	assert.Equal(t, float64(2), api.bodies[0]["page"])
}

func TestStaleTime(t *testing.T) {
	api := &fakeAPI{}
	c, clock := newTestClient(t, api)
	ctx := context.Background()
	query := UsersQuery{Page: 1, Limit: 25}

	_, err := c.ListUsers(ctx, query)
	require.NoError(t, err)
	_, err = c.ListUsers(ctx, UsersQuery{Page: 1, Limit: 25, SortBy: types.DefaultSortBy})
	require.NoError(t, err)
	assert.Equal(t, 1, api.hitCount(), "fresh entry must be served from cache")

	clock.Advance(29 * time.Second)
	_, err = c.ListUsers(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 1, api.hitCount())

	clock.Advance(2 * time.Second)
	_, err = c.ListUsers(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 2, api.hitCount(), "stale entry must be refetched")

	_, err = c.ListUsers(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 2, api.hitCount(), "refetch resets freshness")
}

func TestGCTime(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	clock := &testClock{now: time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)}
	cache := storage.NewMemoryCache(time.Hour)
	cache.SetClock(clock.Now)
	c := NewClient(Config{BaseURL: server.URL}, cache)
	c.SetClock(clock.Now)

	_, err := c.ListUsers(context.Background(), UsersQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	clock.Advance(DefaultGCTime)
	assert.Equal(t, 1, cache.Purge(), "entry must expire after the GC time")
}

func TestDistinctQueriesAreCachedSeparately(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)
	ctx := context.Background()
	gold, silver := types.TierGold, types.TierSilver

	queries := []UsersQuery{
		{Page: 1},
		{Page: 2},
		{Page: 1, Limit: 10},
		{Page: 1, SortOrder: types.SortAsc},
		{Page: 1, SortBy: types.SortByCurrentBalance},
		{Page: 1, Tier: &gold},
		{Page: 1, Tier: &silver},
	}
	for _, q := range queries {
		_, err := c.ListUsers(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, len(queries), api.hitCount())

	for _, q := range queries {
		_, err := c.ListUsers(ctx, q)
		require.NoError(t, err)
	}
	assert.Equal(t, len(queries), api.hitCount())
}

func TestConcurrentRequestsShareOneFetch(t *testing.T) {
	api := &fakeAPI{release: make(chan struct{})}
	c, _ := newTestClient(t, api)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListUsers(context.Background(), UsersQuery{Page: 3})
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return api.hitCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(api.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, api.hitCount())
}

func TestGetUser(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	result, err := c.GetUser(context.Background(), testAddress, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, testAddress, result.Data.ID)
	assert.NotNil(t, result.Data.WeeklyPoints)
	assert.Equal(t, "2024-03-10", result.Metadata.WeekNumber)
	assert.Equal(t, testAddress, api.bodies[0]["address"])

	_, err = c.GetUser(context.Background(), testAddress, "")
	require.NoError(t, err)
	assert.Equal(t, 1, api.hitCount())
}

func TestGetUserNotFound(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)
	unknown := "0x" + strings.Repeat("f", 40)

	_, err := c.GetUser(context.Background(), unknown, "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "USER_NOT_FOUND", apiErr.Code)
	assert.Contains(t, apiErr.Message, unknown)

	// errors are not cached
	_, err = c.GetUser(context.Background(), unknown, "")
	require.Error(t, err)
	assert.Equal(t, 2, api.hitCount())
}

func TestGetUserAddressCaseIsNotFolded(t *testing.T) {
	lower := "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	mixed := "0xABCDEFabcdefabcdefabcdefabcdefabcdefabcd"

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/api/users/"+lower {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"USER_NOT_FOUND","message":"User with address ` + mixed + ` not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"` + lower + `","weeklyPoints":[],"snapshots":[]},"metadata":{"address":"` + lower + `","weekNumber":"2024-03-10","timestamp":"2024-03-13T09:30:00.000Z"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, storage.NewMemoryCache(DefaultGCTime))

	_, err := c.GetUser(context.Background(), lower, "")
	require.NoError(t, err)

	_, err = c.GetUser(context.Background(), mixed, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr, "a differently cased address must not be served from cache")
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGetUserRejectsMalformedAddresses(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	tests := []struct {
		address string
		code    string
	}{
		{"", "MISSING_ADDRESS"},
		{"weekly", "INVALID_ADDRESS"},
		{"0x1234/../weekly", "INVALID_ADDRESS"},
	}
	for _, tt := range tests {
		_, err := c.GetUser(context.Background(), tt.address, "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "address %q", tt.address)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Equal(t, tt.code, apiErr.Code)
	}
	assert.Zero(t, api.hitCount())
}

func TestNonEnvelopeError(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/elsewhere"}, nil)
	_, err := c.ListUsers(context.Background(), UsersQuery{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "api returned status 502: Bad Gateway", apiErr.Error())
}

func TestWeeklyPoints(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)

	result, err := c.WeeklyPoints(context.Background(), "2024-03-10", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", result.WeekNumber)
	assert.Empty(t, result.Users)
}

func TestRefresh(t *testing.T) {
	api := &fakeAPI{}
	c, _ := newTestClient(t, api)
	ctx := context.Background()

	_, err := c.ListUsers(ctx, UsersQuery{})
	require.NoError(t, err)
	_, err = c.GetUser(ctx, testAddress, "")
	require.NoError(t, err)
	require.NoError(t, c.Refresh(ctx))

	_, err = c.ListUsers(ctx, UsersQuery{})
	require.NoError(t, err)
	_, err = c.GetUser(ctx, testAddress, "")
	require.NoError(t, err)
	assert.Equal(t, 3, api.hitCount(), "only leaderboard pages are dropped")
}

func TestRedisBackedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	api := &fakeAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	cache := storage.NewCacheService(storage.NewRedisCacheFromClient(rdb), DefaultGCTime)
	c := NewClient(Config{BaseURL: server.URL}, cache)
	ctx := context.Background()

	_, err := c.ListUsers(ctx, UsersQuery{})
	require.NoError(t, err)
	_, err = c.ListUsers(ctx, UsersQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.hitCount())

	key := storage.GenerateCacheKey(storage.CacheKeyUsers, "1", "50", "total_points_earned", "desc", "all")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultGCTime, mr.TTL(key))

	// a second process sharing the backend starts warm
	other := NewClient(Config{BaseURL: server.URL}, cache)
	_, err = other.ListUsers(ctx, UsersQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.hitCount())
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"FETCH_USERS_FAILED","message":"upstream down"}`))
		default:
			_, _ = w.Write([]byte(`{"users":[],"totalUsers":0,"totalUsersEstimated":false}`))
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Retries: 2}, nil)
	result, err := c.ListUsers(context.Background(), UsersQuery{})
	require.NoError(t, err)
	assert.Empty(t, result.Users)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, Retries: 2}, nil)
	_, err := c.GetUser(context.Background(), "0x"+strings.Repeat("a", 40), "")
	require.Error(t, err)
	assert.Equal(t, 1, api.hitCount())
}
