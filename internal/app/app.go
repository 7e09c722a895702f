// Package app wires the irrigation components from configuration and runs
// the long-lived service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/jobs"
	"github.com/chrissnell/irrigationwx/internal/judge"
	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/internal/soil"
	"github.com/chrissnell/irrigationwx/internal/switchwatch"
	"github.com/chrissnell/irrigationwx/internal/timeseries"
	"github.com/chrissnell/irrigationwx/internal/verdict"
	"github.com/chrissnell/irrigationwx/internal/weekly"
	"github.com/chrissnell/irrigationwx/pkg/config"
	"github.com/chrissnell/irrigationwx/pkg/et0"
)

// errNoTimeseries is served by the cloud cover source when no database is configured
var errNoTimeseries = errors.New("no time-series database configured")

// App holds the wired components of the service
type App struct {
	cfg      *config.ConfigData
	clock    clockwork.Clock
	location *time.Location
	logger   *zap.SugaredLogger

	Store    kvstore.Store
	Reader   *aggregates.Reader
	Weekly   *weekly.Aggregator
	Model    *soil.Model
	Pipeline *verdict.Pipeline // nil without a judge endpoint
	Runner   *jobs.Runner
	Metrics  *metrics.Metrics
	Zones    []soil.Zone

	watcher *switchwatch.Watcher
	sweeper *kvstore.SQL
	closers []func() error
}

// Site converts the configured site to calculator constants
func Site(s config.SiteData) et0.Site {
	return et0.Site{
		LatDeg:            s.Latitude,
		ElevM:             s.ElevationM,
		Albedo:            s.Albedo,
		AngstromAS:        s.AngstromA,
		AngstromBS:        s.AngstromB,
		WindSensorHeightM: s.WindSensorHeightM,
	}
}

// Zones converts the configured zones
func Zones(zones []config.ZoneData) []soil.Zone {
	out := make([]soil.Zone, 0, len(zones))
	for _, z := range zones {
		out = append(out, soil.Zone{Name: z.Name, RootDepthM: z.RootDepthM, AWCMMPerM: z.AWCMMPerM})
	}
	return out
}

// New connects the store and time-series source and builds every component.
// m may be nil for one-shot commands; clock nil uses the real clock.
func New(ctx context.Context, cfg *config.ConfigData, m *metrics.Metrics, clock clockwork.Clock, logger *zap.SugaredLogger) (*App, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger = log.OrNop(logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Site.Timezone, err)
	}
	dailyAt, err := cfg.DailyOffset()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		clock:    clock,
		location: loc,
		logger:   logger,
		Metrics:  m,
		Zones:    Zones(cfg.Zones),
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	series, err := a.openTimeseries(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Reader = aggregates.NewReader(a.Store)
	a.Weekly = weekly.NewAggregator(a.Reader, a.Store, series, weekly.CloudSource{
		Measurement: cfg.Timeseries.Measurement,
		Field:       cfg.Timeseries.CloudField,
		Station:     cfg.Timeseries.Station,
	}, Site(cfg.Site), loc, clock, logger)
	a.Model = soil.NewModel(a.Store, a.Reader, loc, clock, logger)

	var verdicts jobs.Verdicts
	if cfg.Judge.Endpoint != "" {
		if a.Pipeline, err = a.newPipeline(); err != nil {
			a.Close()
			return nil, err
		}
		verdicts = a.Pipeline
	} else {
		logger.Info("no judge endpoint configured; verdicts disabled")
	}

	a.Runner = jobs.NewRunner(a.Weekly, a.Model, verdicts, a.Zones, jobs.Schedule{
		DailyAt:      dailyAt,
		VerdictEvery: cfg.Schedule.VerdictInterval,
	}, loc, clock, m, logger)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StoreMemory:
		a.logger.Warn("using the in-memory store; state is lost on exit")
		a.Store = kvstore.NewMemory(a.clock)
	case config.StoreRedis:
		r, err := kvstore.NewRedis(ctx, kvstore.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		}, a.logger)
		if err != nil {
			return err
		}
		a.Store = r
		a.closers = append(a.closers, r.Close)
	case config.StorePostgres:
		db, err := kvstore.OpenPostgres(sc.PostgresDSN)
		if err != nil {
			return err
		}
		s, err := kvstore.NewSQL(ctx, db, a.clock, a.logger)
		if err != nil {
			return err
		}
		a.Store = s
		a.sweeper = s
		a.closers = append(a.closers, s.Close)
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	return nil
}

func (a *App) openTimeseries(ctx context.Context) (timeseries.Source, error) {
	if a.cfg.Timeseries.ConnectionString == "" {
		a.logger.Warn("no time-series connection string; weekly ET₀ will report missing cloud cover")
		return &timeseries.Static{Err: errNoTimeseries}, nil
	}
	ts, err := timeseries.NewTimescale(ctx, a.cfg.Timeseries.ConnectionString, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { ts.Close(); return nil })
	return ts, nil
}

func (a *App) newPipeline() (*verdict.Pipeline, error) {
	jc := a.cfg.Judge
	client := judge.NewClient(judge.Config{
		Endpoint:     jc.Endpoint,
		Model:        jc.Model,
		APIKey:       jc.APIKey,
		Timeout:      jc.Timeout,
		SystemPrompt: jc.SystemPrompt,
	}, nil, a.logger)

	var prompt *template.Template
	if jc.TemplatePath != "" {
		var err error
		if prompt, err = verdict.LoadTemplate(jc.TemplatePath); err != nil {
			return nil, err
		}
	}
	return verdict.NewPipeline(a.Reader, client, prompt, a.location, a.clock, a.logger)
}

// Watcher returns the switch event watcher, creating it on first use. It is
// nil when no brokers are configured.
func (a *App) Watcher() *switchwatch.Watcher {
	if a.watcher != nil || len(a.cfg.Bus.Brokers) == 0 {
		return a.watcher
	}
	zoneSwitches := make(map[string]soil.Zone)
	for sw, z := range a.cfg.ZoneBySwitch() {
		zoneSwitches[sw] = Zones([]config.ZoneData{z})[0]
	}
	a.watcher = switchwatch.NewWatcher(switchwatch.Config{
		Brokers:        a.cfg.Bus.Brokers,
		Topic:          a.cfg.Bus.Topic,
		GroupID:        a.cfg.Bus.GroupID,
		SourceSwitch:   a.cfg.Bus.SourceSwitch,
		ZoneSwitches:   zoneSwitches,
		DefaultDepthMM: a.cfg.Bus.DefaultDepthMM,
	}, a.Model, a.Metrics, a.logger)
	a.closers = append(a.closers, a.watcher.Close)
	return a.watcher
}

// Zone looks up a configured zone by name
func (a *App) Zone(name string) (soil.Zone, error) {
	for _, z := range a.Zones {
		if z.Name == name {
			return z, nil
		}
	}
	return soil.Zone{}, fmt.Errorf("zone %q is not configured", name)
}

// EnsureZones initialises or resizes the bucket of every configured zone
func (a *App) EnsureZones(ctx context.Context) error {
	var errs error
	for _, z := range a.Zones {
		st, err := a.Model.Ensure(ctx, z)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("zone %s: %w", z.Name, err))
			continue
		}
		if a.Metrics != nil {
			a.Metrics.ObserveBucket(z.Name, st.SMM, st.TAWMM)
		}
	}
	return errs
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives: the job
// schedule, the switch watcher, the ops HTTP server and, for the postgres
// store, the TTL sweeper.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.EnsureZones(ctx); err != nil {
		a.logger.Errorf("unable to initialise soil buckets: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := a.newServer()
	g.Go(func() error { return a.serveHTTP(ctx, srv) })
	g.Go(func() error { return a.Runner.Start(ctx) })

	if w := a.Watcher(); w != nil {
		g.Go(func() error { return w.Run(ctx) })
	} else {
		a.logger.Info("no message bus configured; irrigation credits come from the CLI only")
	}

	if a.sweeper != nil {
		g.Go(func() error {
			a.sweeper.RunSweeper(ctx, a.cfg.Store.SweepInterval)
			return nil
		})
	}

	log.Info("irrigationwx started")
	err := g.Wait()
	log.Info("shutdown complete")
	return err
}

// Close releases connections in reverse order of opening
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
