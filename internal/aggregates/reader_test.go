package aggregates

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/types"
)

const snapshotJSON = `{
  "updated_at": "2024-06-29T23:55:00Z",
  "windows": {
    "7d":  {"t_avg_c": 18.4, "rh_mean_pct": 64, "rain_sum_mm": 12.2},
    "24h": {"rain_today_mm": 0, "rain_rate_mm_h": 0, "rain_sum_mm": 1.4}
  },
  "daily": {"mean": [{"date": "2024-06-29", "t_c": 19.1}]}
}`

func TestReaderLatest(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory(clockwork.NewFakeClock())
	require.NoError(t, store.Set(ctx, types.KeyWeatherAggLatest, snapshotJSON))

	r := NewReader(store)
	snap, err := r.Latest(ctx)
	require.NoError(t, err)

	week, err := snap.Window(types.Window7d)
	require.NoError(t, err)
	require.NotNil(t, week.TAvgC)
	assert.Equal(t, 18.4, *week.TAvgC)
	assert.Nil(t, week.TMinC, "absent fields stay nil")

	day, err := r.Window(ctx, types.Window24h)
	require.NoError(t, err)
	require.NotNil(t, day.RainTodayMM)
	assert.Equal(t, 0.0, *day.RainTodayMM, "zero rainfall is a reading, not an absence")

	_, err = snap.Window(types.Window4d)
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))

	require.Len(t, snap.Daily.Mean, 1)
	assert.Equal(t, "2024-06-29", snap.Daily.Mean[0].Date)
}

func TestReaderMissingSnapshot(t *testing.T) {
	r := NewReader(kvstore.NewMemory(clockwork.NewFakeClock()))
	_, err := r.Latest(context.Background())
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
}

func TestRequire(t *testing.T) {
	v := 3.0
	got, err := Require("op", "x", &v)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)

	_, err = Require("op", "x", nil)
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
	assert.Contains(t, err.Error(), "x")
}
