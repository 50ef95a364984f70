// Package refresh keeps college data current: polite scraping of deadline
// pages behind a circuit breaker, and the retraining trigger for per-college
// chance models.
package refresh

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/admitpath/admitpath/internal/cache"
	"github.com/admitpath/admitpath/internal/clock"
	"github.com/admitpath/admitpath/internal/config"
	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// DeadlineFetcher retrieves a college's current deadline data from its
// source. Implementations own the HTTP/scraping details; the refresher owns
// rate limiting, timeouts, and the circuit.
type DeadlineFetcher interface {
	// FetchDeadlines returns the college's current deadline set. An error
	// counts toward the college's consecutive failure count.
	FetchDeadlines(ctx context.Context, c *model.College) (model.CollegeDeadlines, error)
}

// Refresher runs polite per-college refreshes behind the shared limiter and circuit.
type Refresher struct {
	stores  persistence.Stores
	cache   cache.Cache
	fetcher DeadlineFetcher
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     config.Config
	clk     clock.Clock
}

// NewRefresher wires the refresher. The limiter enforces the configured
// minimum delay between outbound requests across all jobs.
func NewRefresher(stores persistence.Stores, c cache.Cache, fetcher DeadlineFetcher, cfg config.Config, clk clock.Clock) *Refresher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "deadline-fetch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state change")
		},
	})
	return &Refresher{
		stores:  stores,
		cache:   c,
		fetcher: fetcher,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Every(cfg.Scheduler.RequestDelay), 1),
		cfg:     cfg,
		clk:     clk,
	}
}

// RefreshCollege fetches and applies one college's deadlines. Changed data
// invalidates derived caches and lands in the change log; failures increment
// the consecutive failure count and flag the college for manual review at
// the configured threshold.
func (r *Refresher) RefreshCollege(ctx context.Context, collegeID int64) error {
	college, err := r.stores.Colleges.GetCollege(ctx, collegeID)
	if err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Scheduler.ScrapeTimeout)
	defer cancel()
	fetched, err := r.breaker.Execute(func() (interface{}, error) {
		return r.fetcher.FetchDeadlines(fetchCtx, college)
	})
	if err != nil {
		failures, ferr := r.stores.Colleges.RecordScrapeFailure(ctx, collegeID)
		if ferr != nil {
			log.Warn().Err(ferr).Int64("college_id", collegeID).Msg("failure count update failed")
		}
		if failures >= r.cfg.Scheduler.ManualReviewFailures {
			log.Error().Int64("college_id", collegeID).Int("failures", failures).
				Msg("college flagged for manual review")
		}
		return fmt.Errorf("fetch deadlines for college %d: %w", collegeID, err)
	}
	deadlines := fetched.(model.CollegeDeadlines)

	changed := !reflect.DeepEqual(college.Deadlines, deadlines)
	if changed {
		if err := r.stores.Colleges.UpdateDeadlines(ctx, collegeID, deadlines); err != nil {
			return fmt.Errorf("update deadlines for college %d: %w", collegeID, err)
		}
		_ = r.stores.History.AppendChange(ctx, &model.ChangeLogEntry{
			EntityType: "college_deadlines",
			EntityID:   collegeID,
			Action:     "refresh",
			NewValue:   fmt.Sprintf("%d rounds", len(deadlines)),
			ChangedBy:  model.ChangedBySystem,
			At:         r.clk.Now(),
		})
		r.invalidateDerived(ctx, collegeID)
	}
	if err := r.stores.Colleges.MarkScraped(ctx, collegeID, r.clk.Now()); err != nil {
		return fmt.Errorf("mark scraped: %w", err)
	}
	log.Debug().Int64("college_id", collegeID).Bool("changed", changed).Msg("college refreshed")
	return nil
}

// invalidateDerived drops cached results that embedded the stale deadlines.
// Fit and risk both consume deadlines; chance does not.
func (r *Refresher) invalidateDerived(ctx context.Context, collegeID int64) {
	for _, prefix := range []string{"fit:", "risk:"} {
		if err := r.cache.DeletePrefix(ctx, prefix); err != nil {
			log.Warn().Err(err).Int64("college_id", collegeID).Str("prefix", prefix).
				Msg("derived-cache invalidation failed")
		}
	}
}

// RefreshActive refreshes colleges with active applications, up to the
// monthly batch size.
func (r *Refresher) RefreshActive(ctx context.Context) (int, error) {
	colleges, err := r.stores.Colleges.ListWithActiveApplications(ctx, r.cfg.Scheduler.MonthlyRefreshBatch)
	if err != nil {
		return 0, fmt.Errorf("list active colleges: %w", err)
	}
	return r.refreshAll(ctx, colleges), nil
}

// RefreshStale refreshes colleges not scraped within the staleness window,
// up to the quarterly batch size.
func (r *Refresher) RefreshStale(ctx context.Context, staleness time.Duration) (int, error) {
	cutoff := r.clk.Now().Add(-staleness)
	colleges, err := r.stores.Colleges.ListStale(ctx, cutoff, r.cfg.Scheduler.QuarterlyRefreshBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale colleges: %w", err)
	}
	return r.refreshAll(ctx, colleges), nil
}

func (r *Refresher) refreshAll(ctx context.Context, colleges []model.College) int {
	ok := 0
	for _, c := range colleges {
		if ctx.Err() != nil {
			break
		}
		if err := r.RefreshCollege(ctx, c.CollegeID); err != nil {
			log.Warn().Err(err).Int64("college_id", c.CollegeID).Msg("refresh failed")
			continue
		}
		ok++
	}
	return ok
}
