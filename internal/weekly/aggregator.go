// Package weekly computes the last seven local days of reference
// evapotranspiration and stores them for the soil water balance.
package weekly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/soniakeys/meeus/v3/julian"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/timeseries"
	"github.com/chrissnell/irrigationwx/internal/types"
	"github.com/chrissnell/irrigationwx/pkg/et0"
)

// Days is the length of the ET₀ window
const Days = 7

// CloudSource names the time-series field holding cloud cover in percent
type CloudSource struct {
	Measurement string
	Field       string
	Station     string
}

// Aggregator drives the ET₀ calculator over the last seven full local days
type Aggregator struct {
	reader   *aggregates.Reader
	store    kvstore.Store
	series   timeseries.Source
	cloud    CloudSource
	site     et0.Site
	location *time.Location
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

// NewAggregator creates an Aggregator. Day boundaries are local midnight in loc.
func NewAggregator(reader *aggregates.Reader, store kvstore.Store, series timeseries.Source, cloud CloudSource,
	site et0.Site, loc *time.Location, clock clockwork.Clock, logger *zap.SugaredLogger) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		reader:   reader,
		store:    store,
		series:   series,
		cloud:    cloud,
		site:     site,
		location: loc,
		clock:    clock,
		logger:   log.OrNop(logger),
	}
}

// Window returns the local midnights that start each of the last seven full
// days, oldest first, plus the midnight that ends the window (today).
func Window(now time.Time, loc *time.Location) (days []time.Time, end time.Time) {
	now = now.In(loc)
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	for i := Days; i >= 1; i-- {
		days = append(days, end.AddDate(0, 0, -i))
	}
	return days, end
}

// Run gathers the samples, computes ET₀ for each day and persists the result.
// Nothing is written unless all seven days are complete.
func (a *Aggregator) Run(ctx context.Context) (*types.WeeklyEt0Result, error) {
	samples, err := a.Samples(ctx)
	if err != nil {
		return nil, err
	}

	result, err := Compute(samples, a.site)
	if err != nil {
		return nil, err
	}
	result.ComputedAt = a.clock.Now()

	if err := kvstore.SetJSON(ctx, a.store, types.KeyEt0WeeklyLatest, result); err != nil {
		return nil, err
	}
	if err := kvstore.SetJSON(ctx, a.store, types.KeyEt0DailyLast7, result.Days); err != nil {
		return nil, err
	}

	a.logger.Infof("weekly ET₀ %.2f mm (%s .. %s)", result.SumMM, result.Days[0].Date, result.Days[len(result.Days)-1].Date)
	return result, nil
}

// Samples assembles one DailyEt0Sample per day of the window
func (a *Aggregator) Samples(ctx context.Context) ([]types.DailyEt0Sample, error) {
	days, end := Window(a.clock.Now(), a.location)

	snap, err := a.reader.Latest(ctx)
	if err != nil {
		return nil, err
	}

	clouds, err := a.cloudMeans(ctx, days[0], end)
	if err != nil {
		return nil, err
	}

	means := byDate(snap.Daily.Mean)
	mins := byDate(snap.Daily.Min)
	maxs := byDate(snap.Daily.Max)

	samples := make([]types.DailyEt0Sample, 0, Days)
	for i, day := range days {
		date := day.Format(types.DateLayout)
		op := "weekly et0 " + date

		m, ok := means[date]
		if !ok {
			return nil, types.DataUnavailable(op, "daily.mean", nil)
		}
		lo, ok := mins[date]
		if !ok {
			return nil, types.DataUnavailable(op, "daily.min", nil)
		}
		hi, ok := maxs[date]
		if !ok {
			return nil, types.DataUnavailable(op, "daily.max", nil)
		}
		cloud, ok := clouds[date]
		if !ok {
			return nil, types.DataUnavailable(op, "cloud_pct", nil)
		}

		s := types.DailyEt0Sample{
			DayIndex: i,
			Date:     date,
			DOY:      julian.DayOfYearGregorian(day.Year(), int(day.Month()), day.Day()),
			CloudPct: math.Max(0, math.Min(100, cloud)),
		}
		fields := []struct {
			name string
			src  *float64
			dst  *float64
		}{
			{"tavg_c", m.TC, &s.TAvgC},
			{"tmin_c", lo.TC, &s.TMinC},
			{"tmax_c", hi.TC, &s.TMaxC},
			{"rh_mean_pct", m.RHPct, &s.RHMeanPct},
			{"wind_mean_ms", m.WindMS, &s.WindAtSensorMS},
			{"pressure_mean_hpa", m.PressureHPa, &s.PressureHPa},
		}
		for _, f := range fields {
			v, err := aggregates.Require(op, f.name, f.src)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		samples = append(samples, s)
	}

	return samples, nil
}

func (a *Aggregator) cloudMeans(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	points, err := a.series.Query(ctx, timeseries.Query{
		Measurement: a.cloud.Measurement,
		Field:       a.cloud.Field,
		Station:     a.cloud.Station,
		Start:       start,
		End:         end,
		Bucket:      24 * time.Hour,
		Aggregation: timeseries.AggMean,
		Location:    a.location,
	})
	if err != nil {
		return nil, types.DataUnavailable("weekly et0", "cloud_pct", err)
	}

	out := make(map[string]float64, len(points))
	for _, p := range points {
		out[p.Time.In(a.location).Format(types.DateLayout)] = p.Value
	}
	return out, nil
}

// Compute runs the ET₀ calculator over seven samples. Each day is rounded to
// two decimals before summation.
func Compute(samples []types.DailyEt0Sample, site et0.Site) (*types.WeeklyEt0Result, error) {
	if len(samples) != Days {
		return nil, types.DataUnavailable("weekly et0", fmt.Sprintf("%d of %d days", len(samples), Days), nil)
	}

	result := &types.WeeklyEt0Result{Days: make([]types.DailyEt0, 0, Days)}
	values := make([]float64, 0, Days)

	for _, s := range samples {
		tavg := s.TAvgC
		in := et0.Input{
			DOY:            s.DOY,
			TMinC:          s.TMinC,
			TMaxC:          s.TMaxC,
			TAvgC:          &tavg,
			RHMeanPct:      s.RHMeanPct,
			WindAtSensorMS: s.WindAtSensorMS,
			PressureHPa:    s.PressureHPa,
			CloudPct:       s.CloudPct,
		}
		site.Apply(&in)

		v, err := et0.ComputeDaily(in)
		if err != nil {
			return nil, fmt.Errorf("day %s: %w", s.Date, err)
		}
		values = append(values, v)
		result.Days = append(result.Days, types.DailyEt0{Date: s.Date, Et0MM: v})
	}

	result.SumMM = math.Round(floats.Sum(values)*100) / 100
	return result, nil
}

func byDate(series []types.DayAggregate) map[string]types.DayAggregate {
	out := make(map[string]types.DayAggregate, len(series))
	for _, d := range series {
		out[d.Date] = d
	}
	return out
}
