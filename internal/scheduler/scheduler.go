// Package scheduler runs the periodic maintenance jobs: data refreshes,
// model retraining, and the daily risk sweep. One instance per process;
// each job is a singleton and a still-running invocation skips the tick.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/admitpath/admitpath/internal/refresh"
	"github.com/admitpath/admitpath/internal/risk"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admitpath",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduled job invocations by result.",
	}, []string{"job", "result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "admitpath",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Scheduled job wall time.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"job"})

	jobSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admitpath",
		Subsystem: "scheduler",
		Name:      "job_skips_total",
		Help:      "Ticks skipped because the previous run was still active.",
	}, []string{"job"})
)

// Job is one periodic unit of work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error

	running int32
}

// Scheduler owns the job set and their tickers.
type Scheduler struct {
	jobs []*Job
	wg   sync.WaitGroup
}

// New builds a scheduler over the given jobs.
func New(jobs ...*Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches one ticker goroutine per job and returns. The jobs stop
// when ctx is cancelled; Wait blocks until they drain.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j *Job) {
			defer s.wg.Done()
			ticker := time.NewTicker(j.Every)
			defer ticker.Stop()
			log.Info().Str("job", j.Name).Dur("every", j.Every).Msg("job scheduled")
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runOnce(ctx, j)
				}
			}
		}(job)
	}
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

// RunNow triggers a named job immediately, subject to the singleton guard.
// Used by the CLI's schedule subcommand.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	for _, j := range s.jobs {
		if j.Name == name {
			s.runOnce(ctx, j)
			return true
		}
	}
	return false
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

func (s *Scheduler) runOnce(ctx context.Context, j *Job) {
	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		jobSkips.WithLabelValues(j.Name).Inc()
		log.Warn().Str("job", j.Name).Msg("previous run still active, skipping tick")
		return
	}
	defer atomic.StoreInt32(&j.running, 0)

	start := time.Now()
	err := j.Run(ctx)
	jobDuration.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		jobRuns.WithLabelValues(j.Name, "error").Inc()
		log.Error().Err(err).Str("job", j.Name).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	jobRuns.WithLabelValues(j.Name, "ok").Inc()
	log.Info().Str("job", j.Name).Dur("took", time.Since(start)).Msg("job complete")
}

// staleness is the quarterly job's "not scraped since" window.
const staleness = 90 * 24 * time.Hour

// StandardJobs builds the production job set.
func StandardJobs(refresher *refresh.Refresher, trainer *refresh.Trainer, riskEngine *risk.Engine) []*Job {
	return []*Job{
		{
			Name:  "monthly-refresh",
			Every: 30 * 24 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := refresher.RefreshActive(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("colleges", n).Msg("monthly refresh done")
				return nil
			},
		},
		{
			Name:  "quarterly-stale-refresh",
			Every: 90 * 24 * time.Hour,
			Run: func(ctx context.Context) error {
				n, err := refresher.RefreshStale(ctx, staleness)
				if err != nil {
					return err
				}
				log.Info().Int("colleges", n).Msg("quarterly stale refresh done")
				return nil
			},
		},
		{
			Name:  "nightly-retrain",
			Every: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				deployed, err := trainer.RetrainAll(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("deployed", deployed).Msg("nightly retrain done")
				return nil
			},
		},
		{
			Name:  "daily-risk-check",
			Every: 24 * time.Hour,
			Run:   riskEngine.RunDailyCheck,
		},
	}
}
