package types

import (
	"time"
)

// WeatherAggregate is a set of summary statistics for one time window. Every
// field is a pointer: nil means the reading is absent, which is different from
// a reading of zero (a dry day has RainSumMM == 0, not nil).
type WeatherAggregate struct {
	TAvgC           *float64 `json:"t_avg_c"`
	TMinC           *float64 `json:"t_min_c"`
	TMaxC           *float64 `json:"t_max_c"`
	RHMeanPct       *float64 `json:"rh_mean_pct"`
	WindMeanMS      *float64 `json:"wind_mean_ms"`
	PressureMeanHPa *float64 `json:"pressure_mean_hpa"`
	CloudPct        *float64 `json:"cloud_pct"`
	RainSumMM       *float64 `json:"rain_sum_mm"`
	RainTodayMM     *float64 `json:"rain_today_mm"`
	RainRateMMPerH  *float64 `json:"rain_rate_mm_h"`
}

// Aggregation windows held in a Snapshot
const (
	Window7d  = "7d"
	Window4d  = "4d"
	Window24h = "24h"
)

// DayAggregate is one local calendar day of a daily statistic series. Which
// statistic the T/RH/wind/pressure values carry depends on the series it
// belongs to (mean, min or max).
type DayAggregate struct {
	Date        string   `json:"date"`
	TC          *float64 `json:"t_c"`
	RHPct       *float64 `json:"rh_pct"`
	WindMS      *float64 `json:"wind_ms"`
	PressureHPa *float64 `json:"pressure_hpa"`
}

// DailySeries holds the per-day aggregation windows used by the weekly ET₀ job
type DailySeries struct {
	Mean []DayAggregate `json:"mean"`
	Min  []DayAggregate `json:"min"`
	Max  []DayAggregate `json:"max"`
}

// Snapshot is the JSON document stored under KeyWeatherAggLatest
type Snapshot struct {
	UpdatedAt time.Time                   `json:"updated_at"`
	Windows   map[string]WeatherAggregate `json:"windows"`
	Daily     DailySeries                 `json:"daily"`
}

// Window returns the named aggregation window, or an error wrapping
// ErrDataUnavailable if the snapshot does not carry it.
func (s *Snapshot) Window(name string) (WeatherAggregate, error) {
	w, ok := s.Windows[name]
	if !ok {
		return WeatherAggregate{}, &Error{Kind: ErrDataUnavailable, Op: "snapshot", Field: "windows." + name}
	}
	return w, nil
}

// DailyEt0Sample is one day's worth of ET₀ inputs, assembled from the daily series
type DailyEt0Sample struct {
	DayIndex       int     `json:"day_index"`
	Date           string  `json:"date"`
	DOY            int     `json:"doy"`
	TMinC          float64 `json:"t_min_c"`
	TMaxC          float64 `json:"t_max_c"`
	TAvgC          float64 `json:"t_avg_c"`
	RHMeanPct      float64 `json:"rh_mean_pct"`
	WindAtSensorMS float64 `json:"wind_at_sensor_ms"`
	PressureHPa    float64 `json:"pressure_hpa"`
	CloudPct       float64 `json:"cloud_pct"`
}

// DailyEt0 is a single dated ET₀ value
type DailyEt0 struct {
	Date  string  `json:"date"`
	Et0MM float64 `json:"et0_mm"`
}

// WeeklyEt0Result is the last seven local days of ET₀, oldest first
type WeeklyEt0Result struct {
	ComputedAt time.Time  `json:"computed_at"`
	SumMM      float64    `json:"sum_mm"`
	Days       []DailyEt0 `json:"days"`
}

// SoilBucketState is the stored water balance of a single zone
type SoilBucketState struct {
	SMM       float64   `json:"s_mm"`
	TAWMM     float64   `json:"taw_mm"`
	UpdatedAt time.Time `json:"updated_at"`
	// Balanced records the steps already applied for the most recent balance date
	Balanced *BalanceSteps `json:"balanced,omitempty"`
}

// BalanceSteps marks which parts of one local day's balance a zone has taken
type BalanceSteps struct {
	Date   string `json:"date"`
	Credit bool   `json:"credit,omitempty"`
	Rain   bool   `json:"rain,omitempty"`
	Et0    bool   `json:"et0,omitempty"`
}

// PendingIrrigationCredit is an irrigation depth waiting for the next daily balance
type PendingIrrigationCredit struct {
	DepthMM    float64   `json:"depth_mm"`
	RecordedAt time.Time `json:"recorded_at"`
}

// VerdictResult is the outcome of one irrigation decision. FormattedEvaluation
// is only set when the deterministic fallback ran.
type VerdictResult struct {
	Result              bool    `json:"result"`
	Response            string  `json:"response"`
	FormattedEvaluation *string `json:"formatted_evaluation"`
}
