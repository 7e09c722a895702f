package et0

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/chrissnell/irrigationwx/internal/types"
)

func ptr(v float64) *float64 { return &v }

func summerDay() Input {
	return Input{
		DOY:            180,
		TMinC:          15,
		TMaxC:          25,
		RHMeanPct:      60,
		WindAtSensorMS: 3.2,
		PressureHPa:    900,
		CloudPct:       45,
	}
}

func TestComputeDaily(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		expected float64
	}{
		{
			name:     "summer day at the default site",
			input:    summerDay(),
			expected: 4.62,
		},
		{
			name: "explicit mean temperature equal to midpoint",
			input: func() Input {
				in := summerDay()
				in.TAvgC = ptr(20)
				return in
			}(),
			expected: 4.62,
		},
		{
			name: "overcast winter day",
			input: Input{
				DOY: 1, TMinC: -10, TMaxC: -2, RHMeanPct: 90,
				WindAtSensorMS: 0.5, PressureHPa: 900, CloudPct: 100,
			},
			expected: 0.11,
		},
		{
			name: "cold calm day near solstice",
			input: Input{
				DOY: 355, TMinC: -20, TMaxC: -15, RHMeanPct: 95,
				WindAtSensorMS: 0, PressureHPa: 900, CloudPct: 100,
			},
			expected: 0.03,
		},
		{
			name: "lowland site with 2 m anemometer",
			input: Input{
				DOY: 187, TMinC: 12.3, TMaxC: 21.5, RHMeanPct: 84,
				WindAtSensorMS: 2.078, PressureHPa: 1001, CloudPct: 0,
				LatDeg: ptr(50.8), ElevM: ptr(100), WindSensorHeightM: ptr(2),
			},
			expected: 3.32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeDaily(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("ComputeDaily() = %.4f, expected %.2f", got, tt.expected)
			}
		})
	}
}

func TestComputeDailyEqualExtremes(t *testing.T) {
	in := summerDay()
	in.TMinC = 20
	in.TMaxC = 20

	got, err := ComputeDaily(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) || got < 0 {
		t.Fatalf("expected finite non-negative value, got %v", got)
	}
	if math.Abs(got-1.90) > 1e-9 {
		t.Errorf("ComputeDaily() = %.4f, expected 1.90", got)
	}
}

func TestComputeDailyNeverNegative(t *testing.T) {
	for doy := 1; doy <= 366; doy += 15 {
		for _, tmin := range []float64{-30, -5, 0, 10, 25} {
			for _, rh := range []float64{0, 50, 100} {
				for _, cloud := range []float64{0, 60, 100} {
					in := Input{
						DOY: doy, TMinC: tmin, TMaxC: tmin + 8, RHMeanPct: rh,
						WindAtSensorMS: 4, PressureHPa: 880, CloudPct: cloud,
					}
					got, err := ComputeDaily(in)
					if err != nil {
						t.Fatalf("doy=%d tmin=%.0f: unexpected error: %v", doy, tmin, err)
					}
					if got < 0 || math.IsNaN(got) {
						t.Fatalf("doy=%d tmin=%.0f rh=%.0f cloud=%.0f: got %v", doy, tmin, rh, cloud, got)
					}
				}
			}
		}
	}
}

func TestComputeDailyInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
	}{
		{"NaN minimum temperature", func(in *Input) { in.TMinC = math.NaN() }, "tmin_c"},
		{"infinite maximum temperature", func(in *Input) { in.TMaxC = math.Inf(1) }, "tmax_c"},
		{"NaN humidity", func(in *Input) { in.RHMeanPct = math.NaN() }, "rh_mean_pct"},
		{"NaN wind", func(in *Input) { in.WindAtSensorMS = math.NaN() }, "wind_at_sensor_ms"},
		{"NaN pressure", func(in *Input) { in.PressureHPa = math.NaN() }, "pressure_hpa"},
		{"NaN cloud cover", func(in *Input) { in.CloudPct = math.NaN() }, "cloud_pct"},
		{"day of year zero", func(in *Input) { in.DOY = 0 }, "doy"},
		{"day of year too large", func(in *Input) { in.DOY = 367 }, "doy"},
		{"minimum above maximum", func(in *Input) { in.TMinC = 30 }, "tmin_c > tmax_c"},
		{"NaN latitude override", func(in *Input) { in.LatDeg = ptr(math.NaN()) }, "lat_deg"},
		{"zero pressure", func(in *Input) { in.PressureHPa = 0 }, "pressure_hpa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := summerDay()
			tt.mutate(&in)

			_, err := ComputeDaily(in)
			if !errors.Is(err, types.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name field %q", err, tt.field)
			}
		})
	}
}

func TestCloudCoverIsClamped(t *testing.T) {
	over := summerDay()
	over.CloudPct = 140
	full := summerDay()
	full.CloudPct = 100

	a, err := ComputeDaily(over)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ComputeDaily(full)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("cloud 140%% gave %.2f, cloud 100%% gave %.2f", a, b)
	}
}

func TestExtraterrestrialRadiation(t *testing.T) {
	got := ExtraterrestrialRadiation(46.5668, 180)
	if math.Abs(got-41.7059) > 1e-3 {
		t.Errorf("Ra = %.4f, expected ~41.7059", got)
	}

	// Polar night: no sunrise, no radiation
	if ra := ExtraterrestrialRadiation(80, 355); ra > 1e-9 {
		t.Errorf("polar night Ra = %.4f, expected 0", ra)
	}
}

func TestWindAt2m(t *testing.T) {
	if got := WindAt2m(3.2, 2); got != 3.2 {
		t.Errorf("WindAt2m at 2 m = %v, expected unchanged", got)
	}
	if got := WindAt2m(3.2, 10); math.Abs(got-2.3934) > 1e-3 {
		t.Errorf("WindAt2m(3.2, 10) = %.4f, expected ~2.3934", got)
	}
}
