package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/internal/soil"
	"github.com/chrissnell/irrigationwx/internal/types"
	"github.com/chrissnell/irrigationwx/internal/verdict"
)

type fakeWeekly struct {
	runs atomic.Int32
	err  error
}

func (f *fakeWeekly) Run(context.Context) (*types.WeeklyEt0Result, error) {
	f.runs.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.WeeklyEt0Result{SumMM: 32.4}, nil
}

type fakeBalancer struct {
	runs atomic.Int32
}

func (f *fakeBalancer) DailyBalanceAll(_ context.Context, zones []soil.Zone) (map[string]*types.SoilBucketState, error) {
	f.runs.Add(1)
	out := make(map[string]*types.SoilBucketState)
	for _, z := range zones {
		out[z.Name] = &types.SoilBucketState{SMM: 15, TAWMM: z.TAW()}
	}
	return out, nil
}

type fakeVerdicts struct {
	runs atomic.Int32
}

func (f *fakeVerdicts) Run(context.Context) (*verdict.Outcome, error) {
	f.runs.Add(1)
	return &verdict.Outcome{VerdictResult: types.VerdictResult{Result: true}, Judgment: verdict.JudgmentTrue}, nil
}

var zones = []soil.Zone{{Name: "lawn", RootDepthM: 0.3, AWCMMPerM: 100}}

func zurich(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	return loc
}

func TestNextDaily(t *testing.T) {
	loc := zurich(t)
	at := 15 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's run", time.Date(2024, 6, 30, 0, 5, 0, 0, loc), time.Date(2024, 6, 30, 0, 15, 0, 0, loc)},
		{"exactly at the run", time.Date(2024, 6, 30, 0, 15, 0, 0, loc), time.Date(2024, 7, 1, 0, 15, 0, 0, loc)},
		{"late evening", time.Date(2024, 6, 30, 23, 59, 0, 0, loc), time.Date(2024, 7, 1, 0, 15, 0, 0, loc)},
		{"across DST start", time.Date(2024, 3, 30, 12, 0, 0, 0, loc), time.Date(2024, 3, 31, 0, 15, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(NextDaily(tt.now, loc, at)), "got %s", NextDaily(tt.now, loc, at))
		})
	}
}

func TestRunDailyBalancesEvenWhenET0Fails(t *testing.T) {
	weekly := &fakeWeekly{err: types.DataUnavailable("weekly et0", "tmax_c", nil)}
	balancer := &fakeBalancer{}
	m, _ := metrics.NewMetricsForTesting()
	r := NewRunner(weekly, balancer, nil, zones, Schedule{}, time.UTC, clockwork.NewFakeClock(), m, nil)

	err := r.RunDaily(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
	assert.Equal(t, int32(1), balancer.runs.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobWeeklyEt0, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues(JobDailyBalance, "success")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.BucketMM.WithLabelValues("lawn")))
}

func TestRunVerdictRecordsOutcome(t *testing.T) {
	m, _ := metrics.NewMetricsForTesting()
	r := NewRunner(&fakeWeekly{}, &fakeBalancer{}, &fakeVerdicts{}, zones, Schedule{}, time.UTC, clockwork.NewFakeClock(), m, nil)

	out, err := r.RunVerdict(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Result)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("true", "true")))

	_, err = NewRunner(&fakeWeekly{}, &fakeBalancer{}, nil, zones, Schedule{}, time.UTC, nil, nil, nil).
		RunVerdict(context.Background())
	assert.Error(t, err)
}

func TestStartFiresDailyAndVerdict(t *testing.T) {
	loc := zurich(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 29, 23, 50, 0, 0, loc))
	weekly, balancer, verdicts := &fakeWeekly{}, &fakeBalancer{}, &fakeVerdicts{}
	r := NewRunner(weekly, balancer, verdicts, zones,
		Schedule{DailyAt: 15 * time.Minute, VerdictEvery: time.Hour}, loc, clock, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	// Daily timer plus verdict ticker
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return balancer.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), weekly.runs.Load())
	assert.Equal(t, int32(0), verdicts.runs.Load())

	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(40 * time.Minute) // 01:00, past the 00:50 verdict tick
	require.Eventually(t, func() bool { return verdicts.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), balancer.runs.Load())

	r.Stop()
	require.NoError(t, <-done)
}

func TestStopTwice(t *testing.T) {
	r := NewRunner(&fakeWeekly{}, &fakeBalancer{}, nil, nil, Schedule{}, time.UTC, clockwork.NewFakeClock(), nil, nil)
	r.Stop()
	assert.NotPanics(t, r.Stop)
	assert.NoError(t, r.Start(context.Background()))
}
