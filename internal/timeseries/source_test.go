package timeseries

import (
	"context"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryValidate(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	base := Query{
		Measurement: "weather",
		Field:       "cloudcover",
		Start:       start,
		End:         start.Add(48 * time.Hour),
		Bucket:      24 * time.Hour,
		Aggregation: AggMean,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.Field = ""
	assert.Error(t, bad.Validate())

	bad = base
	bad.End = bad.Start
	assert.Error(t, bad.Validate())

	bad = base
	bad.Aggregation = "median"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Bucket = 0
	assert.Error(t, bad.Validate())
}

func TestBuildSQL(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	q := Query{
		Measurement: "weather",
		Field:       "cloudcover",
		Station:     "roof",
		Start:       time.Date(2024, 6, 1, 0, 0, 0, 0, zurich),
		End:         time.Date(2024, 6, 8, 0, 0, 0, 0, zurich),
		Bucket:      24 * time.Hour,
		Aggregation: AggMean,
		Location:    zurich,
	}

	sql, args := buildSQL(q)
	assert.Contains(t, sql, `avg("cloudcover")`)
	assert.Contains(t, sql, `FROM "weather"`)
	assert.Contains(t, sql, "stationname = $5")
	require.Len(t, args, 5)
	assert.Equal(t, "86400 seconds", args[0])
	assert.Equal(t, "Europe/Zurich", args[1])
	assert.Equal(t, "roof", args[4])

	q.Station = ""
	q.Measurement = `weather"; DROP TABLE x; --`
	sql, args = buildSQL(q)
	assert.False(t, strings.Contains(sql, "stationname"))
	assert.Len(t, args, 4)
	assert.Contains(t, sql, `"weather""; DROP TABLE x; --"`)
}

func TestStaticFiltersRange(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }
	s := &Static{Points: []Point{{day(1), 10}, {day(2), 20}, {day(3), 30}}}

	got, err := s.Query(context.Background(), Query{
		Measurement: "weather", Field: "cloudcover",
		Start: day(2), End: day(3), Bucket: 24 * time.Hour, Aggregation: AggMean,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].Value)
}
