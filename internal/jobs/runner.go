// Package jobs triggers the daily ET₀ and water balance run after local
// midnight and the periodic watering verdict.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/internal/soil"
	"github.com/chrissnell/irrigationwx/internal/types"
	"github.com/chrissnell/irrigationwx/internal/verdict"
)

// Job names used in logs and metrics
const (
	JobWeeklyEt0    = "weekly_et0"
	JobDailyBalance = "daily_balance"
	JobVerdict      = "verdict"
)

// WeeklyEt0 computes and stores the last seven days of ET₀
type WeeklyEt0 interface {
	Run(ctx context.Context) (*types.WeeklyEt0Result, error)
}

// Balancer runs yesterday's water balance for a set of zones
type Balancer interface {
	DailyBalanceAll(ctx context.Context, zones []soil.Zone) (map[string]*types.SoilBucketState, error)
}

// Verdicts produces a watering verdict
type Verdicts interface {
	Run(ctx context.Context) (*verdict.Outcome, error)
}

// Schedule says when jobs run
type Schedule struct {
	// DailyAt is the offset from local midnight of the daily run
	DailyAt time.Duration
	// VerdictEvery is the verdict interval; zero disables periodic verdicts
	VerdictEvery time.Duration
}

// Runner owns the schedule of the service's jobs
type Runner struct {
	weekly   WeeklyEt0
	balancer Balancer
	verdicts Verdicts
	zones    []soil.Zone
	schedule Schedule
	location *time.Location
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a Runner. verdicts may be nil when no judge is configured.
func NewRunner(weekly WeeklyEt0, balancer Balancer, verdicts Verdicts, zones []soil.Zone, schedule Schedule,
	loc *time.Location, clock clockwork.Clock, m *metrics.Metrics, logger *zap.SugaredLogger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		weekly:   weekly,
		balancer: balancer,
		verdicts: verdicts,
		zones:    zones,
		schedule: schedule,
		location: loc,
		clock:    clock,
		metrics:  m,
		logger:   log.OrNop(logger),
		stopChan: make(chan struct{}),
	}
}

// NextDaily returns the first daily run time strictly after now
func NextDaily(now time.Time, loc *time.Location, at time.Duration) time.Time {
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	next := addClock(midnight, at)
	if !next.After(now) {
		next = addClock(midnight.AddDate(0, 0, 1), at)
	}
	return next
}

// addClock adds a wall-clock offset so that DST changes do not shift the run
func addClock(midnight time.Time, at time.Duration) time.Time {
	h := int(at / time.Hour)
	m := int(at % time.Hour / time.Minute)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, 0, 0, midnight.Location())
}

func (r *Runner) observe(job string, start time.Time, err error) {
	if r.metrics != nil {
		r.metrics.ObserveJob(job, r.clock.Since(start).Seconds(), err)
	}
}

// RunDaily computes the weekly ET₀ and then balances every zone. The balance
// runs even when ET₀ failed; its own debit step then reports the missing day.
func (r *Runner) RunDaily(ctx context.Context) error {
	runID := uuid.NewString()
	r.logger.Infof("daily run %s starting", runID)

	var errs error

	start := r.clock.Now()
	result, err := r.weekly.Run(ctx)
	r.observe(JobWeeklyEt0, start, err)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("weekly et0: %w", err))
	} else if r.metrics != nil {
		r.metrics.WeeklyEt0MM.Set(result.SumMM)
	}

	start = r.clock.Now()
	states, err := r.balancer.DailyBalanceAll(ctx, r.zones)
	r.observe(JobDailyBalance, start, err)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("daily balance: %w", err))
	}
	if r.metrics != nil {
		for zone, st := range states {
			r.metrics.ObserveBucket(zone, st.SMM, st.TAWMM)
		}
	}

	if errs != nil {
		r.logger.Errorf("daily run %s finished with errors: %v", runID, errs)
	} else {
		r.logger.Infof("daily run %s finished", runID)
	}
	return errs
}

// RunVerdict produces one verdict and records it
func (r *Runner) RunVerdict(ctx context.Context) (*verdict.Outcome, error) {
	if r.verdicts == nil {
		return nil, fmt.Errorf("no verdict pipeline configured")
	}
	start := r.clock.Now()
	out, err := r.verdicts.Run(ctx)
	r.observe(JobVerdict, start, err)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.ObserveVerdict(out.Judgment.String(), out.Result)
	}
	r.logger.Infof("verdict: water=%v (%s)", out.Result, out.Judgment)
	return out, nil
}

// Start runs the schedule until ctx is cancelled or Stop is called. Job
// failures are logged and retried at the next scheduled time.
func (r *Runner) Start(ctx context.Context) error {
	next := NextDaily(r.clock.Now(), r.location, r.schedule.DailyAt)
	daily := r.clock.NewTimer(next.Sub(r.clock.Now()))
	defer daily.Stop()
	r.logger.Infof("next daily run at %s", next.Format(time.RFC3339))

	var verdictC <-chan time.Time
	if r.verdicts != nil && r.schedule.VerdictEvery > 0 {
		t := r.clock.NewTicker(r.schedule.VerdictEvery)
		defer t.Stop()
		verdictC = t.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return nil
		case <-r.stopChan:
			r.logger.Info("job runner stopped (stop requested)")
			return nil
		case <-daily.Chan():
			_ = r.RunDaily(ctx)
			next = NextDaily(r.clock.Now(), r.location, r.schedule.DailyAt)
			daily.Reset(next.Sub(r.clock.Now()))
			r.logger.Infof("next daily run at %s", next.Format(time.RFC3339))
		case <-verdictC:
			if _, err := r.RunVerdict(ctx); err != nil {
				r.logger.Errorf("verdict failed: %v", err)
			}
		}
	}
}

// Stop ends Start. Later calls do nothing.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}
