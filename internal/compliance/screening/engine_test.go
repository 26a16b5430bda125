package screening

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sanctionedAddr = "0x7f367cc41522ce07553e823bf3be79a889debe1b"

// fakeCache is an in-memory ResultCache with injectable failures.
type fakeCache struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	val, ok := c.data[key]
	return val, ok, nil
}

func (c *fakeCache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

type fakeRefresher struct {
	calls int
	fn    func()
}

func (r *fakeRefresher) RefreshNow(ctx context.Context) {
	r.calls++
	if r.fn != nil {
		r.fn()
	}
}

type fakeRecorder struct {
	events []Event
}

func (r *fakeRecorder) Record(ctx context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func testEntities() (ofac, un []SanctionedEntity) {
	ofac = []SanctionedEntity{
		{
			ID:        "OFAC-001",
			Name:      "John Q Smith",
			Aliases:   []string{"J Smith"},
			Addresses: []string{sanctionedAddr},
			Programs:  []string{"SDN"},
		},
		{
			ID:   "OFAC-002",
			Name: strings.Repeat("a", 20),
		},
	}
	un = []SanctionedEntity{
		{
			ID:        "UN-100",
			Name:      "Overlap Holdings Ltd",
			Addresses: []string{sanctionedAddr}, // same address as OFAC-001
		},
	}
	return ofac, un
}

// newTestEngine returns an engine over a freshly loaded OFAC+UN store.
func newTestEngine(t *testing.T, cfg Config, cache ResultCache) (*Engine, *Store) {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	store := NewStore([]string{SourceOFAC, SourceUN}, sugar)
	ofac, un := testEntities()
	store.Replace(SourceOFAC, ofac)
	store.Replace(SourceUN, un)
	store.MarkRefreshed()

	return NewEngine(cfg, store, cache, sugar), store
}

func TestScreenAddress_ExactMatch(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	for i := 0; i < 3; i++ {
		res, err := engine.ScreenAddress(context.Background(), sanctionedAddr)
		require.NoError(t, err)
		assert.True(t, res.IsSanctioned)
		assert.Equal(t, 100.0, res.MatchScore)
		assert.Equal(t, []string{SourceOFAC}, res.Lists)
		assert.Contains(t, res.Details, "John Q Smith")
	}
}

func TestScreenAddress_CaseInsensitive(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	lower, err := engine.ScreenAddress(context.Background(), sanctionedAddr)
	require.NoError(t, err)
	upper, err := engine.ScreenAddress(context.Background(), strings.ToUpper(sanctionedAddr))
	require.NoError(t, err)

	assert.Equal(t, lower.IsSanctioned, upper.IsSanctioned)
	assert.Equal(t, lower.MatchScore, upper.MatchScore)
	assert.Equal(t, lower.Lists, upper.Lists)
}

func TestScreenAddress_FirstMatchWins(t *testing.T) {
	// the address is listed by both OFAC and UN; only the higher-priority
	// source is reported
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenAddress(context.Background(), sanctionedAddr)
	require.NoError(t, err)
	assert.Equal(t, []string{SourceOFAC}, res.Lists)
}

func TestScreenAddress_NoMatch(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenAddress(context.Background(), "0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, res.IsSanctioned)
	assert.Equal(t, 0.0, res.MatchScore)
	assert.Empty(t, res.Lists)
}

func TestScreenAddress_EmptyInput(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenAddress(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.IsSanctioned)
}

func TestScreenName_FuzzyMatch(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.True(t, res.IsSanctioned)
	assert.InDelta(t, 91.67, res.MatchScore, 0.01)
	assert.Equal(t, []string{SourceOFAC}, res.Lists)
}

func TestScreenName_NoMatch(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenName(context.Background(), "Completely Different Person")
	require.NoError(t, err)
	assert.False(t, res.IsSanctioned)
	assert.Equal(t, 0.0, res.MatchScore)
	assert.Empty(t, res.Lists)
}

func TestScreenName_AliasMatch(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenName(context.Background(), "J Smith")
	require.NoError(t, err)
	assert.True(t, res.IsSanctioned)
	assert.Equal(t, 100.0, res.MatchScore)
}

// An 85.0 score is not a match; 90.0 is. Fixtures hit the boundary exactly:
// OFAC-002 is 20 a's, so each edit is worth 5 points.
func TestScreenName_ThresholdBoundary(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	atThreshold, err := engine.ScreenName(context.Background(), strings.Repeat("a", 17)+"bbb")
	require.NoError(t, err)
	assert.False(t, atThreshold.IsSanctioned, "exactly 85.0 must not be declared a match")

	aboveThreshold, err := engine.ScreenName(context.Background(), strings.Repeat("a", 18)+"bb")
	require.NoError(t, err)
	assert.True(t, aboveThreshold.IsSanctioned)
	assert.InDelta(t, 90.0, aboveThreshold.MatchScore, 1e-9)
}

func TestScreenName_EmptyQuery(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig(), nil)

	res, err := engine.ScreenName(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.IsSanctioned)
}

func TestScreenName_CacheIdempotence(t *testing.T) {
	cache := newFakeCache()
	engine, _ := newTestEngine(t, DefaultConfig(), cache)

	t1 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	engine.now = func() time.Time { return t1 }

	first, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)

	// a recomputation would stamp t2; the cached result keeps t1
	engine.now = func() time.Time { return t2 }
	second, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.True(t, second.ScreenedAt.Equal(t1))
}

func TestScreenName_CacheExpiry(t *testing.T) {
	cache := newFakeCache()
	engine, _ := newTestEngine(t, DefaultConfig(), cache)

	t1 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return t1 }
	first, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)

	// simulate TTL expiry and advance the clock
	cache.drop(nameKeyPrefix + "jon q smith")
	engine.now = func() time.Time { return t1.Add(25 * time.Hour) }

	third, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.Equal(t, first.IsSanctioned, third.IsSanctioned)
	assert.Equal(t, first.MatchScore, third.MatchScore)
	assert.False(t, third.ScreenedAt.Equal(first.ScreenedAt))
}

func TestScreening_CacheSoftFail(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	engine, _ := newTestEngine(t, DefaultConfig(), cache)

	// read and write both fail: the screening still succeeds, but two
	// consecutive cache failures surface the degraded marker
	res, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.True(t, res.IsSanctioned)
	assert.True(t, res.Degraded)
}

func TestScreening_SingleCacheFailureNotDegraded(t *testing.T) {
	cache := newFakeCache()
	cache.setErr = errors.New("connection refused")
	engine, _ := newTestEngine(t, DefaultConfig(), cache)

	// the read is a clean miss (resets the failure streak); only the write
	// fails, so the engine is not yet degraded
	res, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.True(t, res.IsSanctioned)
	assert.False(t, res.Degraded)
}

func TestScreening_DegradedClearsOnRecovery(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	engine, _ := newTestEngine(t, DefaultConfig(), cache)

	res, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	require.True(t, res.Degraded)

	cache.mu.Lock()
	cache.getErr, cache.setErr = nil, nil
	cache.mu.Unlock()

	res, err = engine.ScreenName(context.Background(), "someone else entirely")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
}

func TestFailureModes(t *testing.T) {
	sugar := zap.NewNop().Sugar()

	t.Run("ClosedWithoutData", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FailureMode = FailClosed
		store := NewStore([]string{SourceOFAC}, sugar)
		engine := NewEngine(cfg, store, nil, sugar)

		_, err := engine.ScreenName(context.Background(), "anyone")
		assert.ErrorIs(t, err, ErrNoWatchlistData)
		_, err = engine.ScreenAddress(context.Background(), sanctionedAddr)
		assert.ErrorIs(t, err, ErrNoWatchlistData)
	})

	t.Run("OpenWithoutData", func(t *testing.T) {
		store := NewStore([]string{SourceOFAC}, sugar)
		engine := NewEngine(DefaultConfig(), store, nil, sugar)

		res, err := engine.ScreenName(context.Background(), "anyone")
		require.NoError(t, err)
		assert.False(t, res.IsSanctioned)
	})
}

func TestStaleStoreTriggersRefresh(t *testing.T) {
	sugar := zap.NewNop().Sugar()
	store := NewStore([]string{SourceOFAC}, sugar)
	engine := NewEngine(DefaultConfig(), store, nil, sugar)

	refresher := &fakeRefresher{fn: func() {
		ofac, _ := testEntities()
		store.Replace(SourceOFAC, ofac)
		store.MarkRefreshed()
	}}
	engine.SetRefresher(refresher)

	res, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls, "stale store must refresh synchronously before screening")
	assert.True(t, res.IsSanctioned, "screening must see the refreshed generation")

	// a fresh store does not trigger again
	_, err = engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
}

func TestScreeningsJournaled(t *testing.T) {
	cache := newFakeCache()
	engine, _ := newTestEngine(t, DefaultConfig(), cache)
	recorder := &fakeRecorder{}
	engine.SetRecorder(recorder)

	_, err := engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)
	_, err = engine.ScreenName(context.Background(), "Jon Q Smith")
	require.NoError(t, err)

	require.Len(t, recorder.events, 2)
	computed, cached := recorder.events[0], recorder.events[1]

	assert.Equal(t, KindName, computed.Kind)
	assert.Equal(t, "jon q smith", computed.Subject)
	assert.False(t, computed.FromCache)
	assert.Len(t, computed.Generations, 2, "both loaded generations recorded")

	assert.True(t, cached.FromCache)
	assert.Empty(t, cached.Generations)
}
