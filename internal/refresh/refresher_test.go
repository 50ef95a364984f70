package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence/memstore"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	deadlines model.CollegeDeadlines
	err       error
	calls     int
}

func (f *fakeFetcher) FetchDeadlines(context.Context, *model.College) (model.CollegeDeadlines, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.deadlines, nil
}

type refreshFixture struct {
	store     *memstore.Store
	cache     *cache.Memory
	fetcher   *fakeFetcher
	refresher *Refresher
	clk       *clock.Fake
}

func newRefreshFixture(t *testing.T) *refreshFixture {
	t.Helper()
	clk := clock.NewFake(testNow)
	store := memstore.New(clk)
	mem := cache.NewMemory()
	fetcher := &fakeFetcher{}
	cfg := config.Default()
	cfg.Scheduler.RequestDelay = time.Microsecond // keep tests fast
	return &refreshFixture{
		store:     store,
		cache:     mem,
		fetcher:   fetcher,
		refresher: NewRefresher(store.Stores(), mem, fetcher, cfg, clk),
		clk:       clk,
	}
}

func seedCollege(f *refreshFixture, id int64, deadlines model.CollegeDeadlines) {
	f.store.PutCollege(&model.College{
		CollegeID:    id,
		Name:         "Scraped U",
		DeadlinesURL: "https://example.edu/deadlines.json",
		Deadlines:    deadlines,
		LastScraped:  testNow.AddDate(0, -2, 0),
	})
}

func TestRefreshCollegeAppliesChanges(t *testing.T) {
	f := newRefreshFixture(t)
	old := model.CollegeDeadlines{model.DeadlineRegular: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}
	updated := model.CollegeDeadlines{model.DeadlineRegular: time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)}
	seedCollege(f, 10, old)
	f.fetcher.deadlines = updated
	ctx := context.Background()

	// Derived entries that embed deadlines must drop; chance entries stay.
	for _, key := range []string{"fit:snap:10", "risk:1:10", "chance:snap:10"} {
		_, err := f.cache.Put(ctx, key, "payload", testNow, 0)
		require.NoError(t, err)
	}

	require.NoError(t, f.refresher.RefreshCollege(ctx, 10))

	college, err := f.store.GetCollege(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, updated, college.Deadlines)
	assert.Equal(t, testNow, college.LastScraped)
	assert.Zero(t, college.ScrapeFailures)

	changes, err := f.store.ListChanges(ctx, "college_deadlines", 10, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "refresh", changes[0].Action)
	assert.Equal(t, model.ChangedBySystem, changes[0].ChangedBy)

	var out string
	hit, _ := f.cache.Get(ctx, "fit:snap:10", &out)
	assert.False(t, hit)
	hit, _ = f.cache.Get(ctx, "risk:1:10", &out)
	assert.False(t, hit)
	hit, err = f.cache.Get(ctx, "chance:snap:10", &out)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRefreshCollegeUnchangedSkipsInvalidation(t *testing.T) {
	f := newRefreshFixture(t)
	same := model.CollegeDeadlines{model.DeadlineRegular: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}
	seedCollege(f, 10, same)
	f.fetcher.deadlines = model.CollegeDeadlines{model.DeadlineRegular: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	_, err := f.cache.Put(ctx, "fit:snap:10", "payload", testNow, 0)
	require.NoError(t, err)

	require.NoError(t, f.refresher.RefreshCollege(ctx, 10))

	changes, err := f.store.ListChanges(ctx, "college_deadlines", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)

	var out string
	hit, err := f.cache.Get(ctx, "fit:snap:10", &out)
	require.NoError(t, err)
	assert.True(t, hit)

	// The scrape stamp still advances.
	college, err := f.store.GetCollege(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, testNow, college.LastScraped)
}

func TestRefreshCollegeFailureCountsUp(t *testing.T) {
	f := newRefreshFixture(t)
	seedCollege(f, 10, nil)
	f.fetcher.err = errors.New("connection refused")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := f.refresher.RefreshCollege(ctx, 10)
		require.Error(t, err)
		college, gerr := f.store.GetCollege(ctx, 10)
		require.NoError(t, gerr)
		assert.Equal(t, i, college.ScrapeFailures)
	}

	// A successful fetch resets the counter.
	f.fetcher.err = nil
	f.fetcher.deadlines = model.CollegeDeadlines{model.DeadlineRegular: testNow.AddDate(0, 3, 0)}
	require.NoError(t, f.refresher.RefreshCollege(ctx, 10))
	college, err := f.store.GetCollege(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, college.ScrapeFailures)
}

func TestRefreshCollegeBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := newRefreshFixture(t)
	seedCollege(f, 10, nil)
	f.fetcher.err = errors.New("upstream down")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Error(t, f.refresher.RefreshCollege(ctx, 10))
	}
	assert.Equal(t, 5, f.fetcher.calls)

	// Open circuit: the fetcher is no longer invoked.
	require.Error(t, f.refresher.RefreshCollege(ctx, 10))
	assert.Equal(t, 5, f.fetcher.calls)
}

func TestRefreshActiveAndStale(t *testing.T) {
	f := newRefreshFixture(t)
	f.fetcher.deadlines = model.CollegeDeadlines{model.DeadlineRegular: testNow.AddDate(0, 3, 0)}
	ctx := context.Background()

	seedCollege(f, 10, nil)
	seedCollege(f, 11, nil)
	f.store.AddApplication(1, 10)
	f.store.AddApplication(2, 11)

	n, err := f.refresher.RefreshActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// College 12 was scraped recently; only 13 is stale.
	f.store.PutCollege(&model.College{CollegeID: 12, Name: "Fresh U", LastScraped: testNow.Add(-time.Hour)})
	f.store.PutCollege(&model.College{CollegeID: 13, Name: "Stale U", LastScraped: testNow.AddDate(-1, 0, 0)})

	n, err = f.refresher.RefreshStale(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	// Colleges 10 and 11 were just scraped above, so only 13 remains
	// past the 90-day cutoff.
	assert.Equal(t, 1, n)
}
