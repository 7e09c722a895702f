package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveJob(t *testing.T) {
	m, _ := NewMetricsForTesting()

	m.ObserveJob("weekly_et0", 0.2, nil)
	m.ObserveJob("weekly_et0", 0.1, errors.New("no data"))
	m.ObserveJob("weekly_et0", 0.1, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("weekly_et0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("weekly_et0", "error")))
}

func TestObserveBucket(t *testing.T) {
	m, reg := NewMetricsForTesting()

	m.ObserveBucket("lawn", 30, 45)
	expected := `
# HELP irrigationwx_soil_bucket_mm Water stored in the root zone of each irrigation zone.
# TYPE irrigationwx_soil_bucket_mm gauge
irrigationwx_soil_bucket_mm{zone="lawn"} 30
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "irrigationwx_soil_bucket_mm"))
	assert.InDelta(t, 30.0/45.0, testutil.ToFloat64(m.BucketFill.WithLabelValues("lawn")), 1e-12)
}

func TestObserveVerdict(t *testing.T) {
	m, _ := NewMetricsForTesting()
	m.ObserveVerdict("ambiguous", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verdicts.WithLabelValues("ambiguous", "true")))
}
