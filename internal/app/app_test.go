package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/internal/types"
	"github.com/chrissnell/irrigationwx/pkg/config"
)

func testConfig() *config.ConfigData {
	cfg := &config.ConfigData{
		Zones: []config.ZoneData{
			{Name: "lawn", RootDepthM: 0.3, AWCMMPerM: 150, Switch: "switch.valve_lawn"},
			{Name: "beds", RootDepthM: 0.2, AWCMMPerM: 100},
		},
		Store: config.StoreData{Backend: config.StoreMemory},
	}
	config.ApplyDefaults(cfg)
	cfg.HTTP.ListenAddr = "127.0.0.1:0"
	return cfg
}

func newTestApp(t *testing.T) (*App, *clockwork.FakeClock, *metrics.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC))
	m, _ := metrics.NewMetricsForTesting()
	a, err := New(context.Background(), testConfig(), m, clock, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, clock, m
}

func TestNewWiresMemoryStack(t *testing.T) {
	a, _, _ := newTestApp(t)

	assert.IsType(t, &kvstore.Memory{}, a.Store)
	assert.Nil(t, a.Pipeline)
	assert.Nil(t, a.Watcher())
	require.Len(t, a.Zones, 2)
	assert.Equal(t, 45.0, a.Zones[0].TAW())

	z, err := a.Zone("beds")
	require.NoError(t, err)
	assert.Equal(t, 20.0, z.TAW())
	_, err = a.Zone("orchard")
	assert.Error(t, err)

	_, err = a.Runner.RunVerdict(context.Background())
	assert.Error(t, err)
}

func TestNewWithJudgeBuildsPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.Judge.Endpoint = "http://127.0.0.1:1"
	cfg.Judge.Model = "llama3"
	a, err := New(context.Background(), cfg, nil, clockwork.NewFakeClock(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Pipeline)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Site.Timezone = "Nowhere/Special"
	_, err := New(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Store.Backend = "etcd"
	_, err = New(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestWeeklyWithoutTimeseriesIsDataUnavailable(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.Weekly.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDataUnavailable)
}

func TestEnsureZonesRecordsBuckets(t *testing.T) {
	a, _, m := newTestApp(t)
	require.NoError(t, a.EnsureZones(context.Background()))

	assert.Equal(t, 22.5, testutil.ToFloat64(m.BucketMM.WithLabelValues("lawn")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.BucketFill.WithLabelValues("beds")))
}

func TestHealth(t *testing.T) {
	a, clock, _ := newTestApp(t)
	router := a.Router()

	get := func() (*httptest.ResponseRecorder, HealthStatus) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, body.Error, types.KeyWeatherAggLatest)
	assert.Nil(t, body.SnapshotAgeSec)

	snap := types.Snapshot{UpdatedAt: clock.Now().Add(-10 * time.Minute)}
	require.NoError(t, kvstore.SetJSON(context.Background(), a.Store, types.KeyWeatherAggLatest, snap))
	rec, body = get()
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.SnapshotAgeSec)
	assert.Equal(t, 600.0, *body.SnapshotAgeSec)

	a.Reader = aggregates.NewReader(downStore{})
	rec, body = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body.Status)
}

func TestMetricsRoute(t *testing.T) {
	a, _, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (downStore) Set(context.Context, string, string) error { return errDown }
func (downStore) SetIfAbsent(context.Context, string, string) (bool, error) { return false, errDown }
func (downStore) Expire(context.Context, string, time.Duration) error { return errDown }
func (downStore) Delete(context.Context, string) error { return errDown }
