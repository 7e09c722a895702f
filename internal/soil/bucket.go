// Package soil keeps a single-layer water bucket per irrigation zone. Storage
// rises with irrigation and rain, falls with reference evapotranspiration and
// always stays within [0, TAW].
package soil

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/types"
)

// InitialFill is the fraction of TAW a bucket starts with when it has no history
const InitialFill = 0.5

// maxParallelZones bounds the zone fan-out of DailyBalanceAll
const maxParallelZones = 4

// Model applies irrigation credits and the daily water balance to zone buckets
type Model struct {
	store    kvstore.Store
	reader   *aggregates.Reader
	location *time.Location
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

// NewModel creates a Model. Calendar days are local to loc.
func NewModel(store kvstore.Store, reader *aggregates.Reader, loc *time.Location, clock clockwork.Clock, logger *zap.SugaredLogger) *Model {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Model{
		store:    store,
		reader:   reader,
		location: loc,
		clock:    clock,
		logger:   log.OrNop(logger),
	}
}

// today returns the local midnight that starts the current day
func (m *Model) today() time.Time {
	now := m.clock.Now().In(m.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.location)
}

// Ensure returns the zone's state, creating it at InitialFill of TAW when the
// zone has never been seen. A stored TAW that no longer matches the zone's
// configuration is replaced and the storage re-clamped.
func (m *Model) Ensure(ctx context.Context, zone Zone) (*types.SoilBucketState, error) {
	if err := zone.validate(); err != nil {
		return nil, err
	}
	taw := zone.TAW()

	var state types.SoilBucketState
	ok, err := kvstore.GetJSON(ctx, m.store, types.SoilBucketKey(zone.Name), &state)
	if err != nil {
		return nil, err
	}

	switch {
	case !ok:
		state = types.SoilBucketState{SMM: InitialFill * taw, TAWMM: taw, UpdatedAt: m.clock.Now()}
		m.logger.Infof("soil bucket %s initialised at %.1f of %.1f mm", zone.Name, state.SMM, taw)
	case math.Abs(state.TAWMM-taw) > 1e-9:
		m.logger.Warnf("soil bucket %s: TAW changed from %.1f to %.1f mm", zone.Name, state.TAWMM, taw)
		state.TAWMM = taw
		state.SMM = clamp(state.SMM, taw)
		state.UpdatedAt = m.clock.Now()
	default:
		return &state, nil
	}

	if err := m.save(ctx, zone.Name, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *Model) save(ctx context.Context, zone string, state *types.SoilBucketState) error {
	return kvstore.SetJSON(ctx, m.store, types.SoilBucketKey(zone), state)
}

// CreditIrrigation adds depthMM to the zone right away. Water beyond TAW is lost.
func (m *Model) CreditIrrigation(ctx context.Context, zone Zone, depthMM float64) (*types.SoilBucketState, error) {
	if !finite(depthMM) || depthMM < 0 {
		return nil, types.InvalidInput("credit irrigation "+zone.Name, "depth_mm")
	}

	state, err := m.Ensure(ctx, zone)
	if err != nil {
		return nil, err
	}

	before := state.SMM
	state.SMM = clamp(state.SMM+depthMM, state.TAWMM)
	state.UpdatedAt = m.clock.Now()
	if err := m.save(ctx, zone.Name, state); err != nil {
		return nil, err
	}

	m.logger.Infof("soil bucket %s credited %.1f mm: %.1f -> %.1f mm", zone.Name, depthMM, before, state.SMM)
	return state, nil
}

// QueueGlobalCreditOnce records depthMM as today's shared irrigation credit.
// Only the first call of a local day captures; later calls return false and
// change nothing.
func (m *Model) QueueGlobalCreditOnce(ctx context.Context, depthMM float64) (bool, error) {
	if !finite(depthMM) || depthMM < 0 {
		return false, types.InvalidInput("queue credit", "depth_mm")
	}

	now := m.clock.Now()
	date := m.today().Format(types.DateLayout)
	guard := types.SoilAppliedKey(date)

	captured, err := m.store.SetIfAbsent(ctx, guard, now.UTC().Format(time.RFC3339))
	if err != nil {
		return false, types.StoreUnavailable("setnx", guard, err)
	}
	if !captured {
		m.logger.Debugf("irrigation credit for %s already captured, ignoring %.1f mm", date, depthMM)
		return false, nil
	}
	if err := m.store.Expire(ctx, guard, types.CaptureGuardTTL); err != nil {
		m.logger.Warnf("unable to set expiry on %s: %v", guard, err)
	}

	pending := types.SoilPendingKey(date)
	err = kvstore.SetJSON(ctx, m.store, pending, types.PendingIrrigationCredit{DepthMM: depthMM, RecordedAt: now})
	if err == nil {
		err = m.store.Expire(ctx, pending, types.PendingCreditTTL)
	}
	if err != nil {
		// Release the guard so a later trigger today can capture the credit
		if derr := m.store.Delete(ctx, guard); derr != nil {
			err = multierr.Append(err, derr)
		}
		return false, fmt.Errorf("unable to queue irrigation credit for %s: %w", date, err)
	}

	m.logger.Infof("queued %.1f mm irrigation credit for %s", depthMM, date)
	return true, nil
}

// balanceInputs are the shared figures of yesterday's balance
type balanceInputs struct {
	date   string
	credit *types.PendingIrrigationCredit
	rainMM *float64
	et0MM  *float64
}

// loadInputs reads yesterday's pending credit, rainfall and ET₀. A figure that
// cannot be read is left nil and its error returned alongside the others.
func (m *Model) loadInputs(ctx context.Context) (balanceInputs, error) {
	yesterday := m.today().AddDate(0, 0, -1).Format(types.DateLayout)
	in := balanceInputs{date: yesterday}
	var errs error

	var credit types.PendingIrrigationCredit
	ok, err := kvstore.GetJSON(ctx, m.store, types.SoilPendingKey(yesterday), &credit)
	switch {
	case err != nil:
		errs = multierr.Append(errs, fmt.Errorf("pending credit: %w", err))
	case ok:
		in.credit = &credit
	}

	win, err := m.reader.Window(ctx, types.Window24h)
	if err == nil {
		var rain float64
		rain, err = aggregates.Require("daily balance", "24h.rain_sum_mm", win.RainSumMM)
		if err == nil && (!finite(rain) || rain < 0) {
			err = types.InvalidInput("daily balance", "24h.rain_sum_mm")
		}
		if err == nil {
			in.rainMM = &rain
		}
	}
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("rainfall: %w", err))
	}

	var days []types.DailyEt0
	ok, err = kvstore.GetJSON(ctx, m.store, types.KeyEt0DailyLast7, &days)
	switch {
	case err != nil:
		errs = multierr.Append(errs, fmt.Errorf("et0: %w", err))
	case !ok || len(days) == 0:
		errs = multierr.Append(errs, fmt.Errorf("et0: %w", types.DataUnavailable("daily balance", types.KeyEt0DailyLast7, nil)))
	case days[len(days)-1].Date != yesterday:
		// A stale series would debit the same day twice
		errs = multierr.Append(errs, fmt.Errorf("et0: %w", types.DataUnavailable("daily balance",
			fmt.Sprintf("%s ends %s, want %s", types.KeyEt0DailyLast7, days[len(days)-1].Date, yesterday), nil)))
	default:
		v := days[len(days)-1].Et0MM
		in.et0MM = &v
	}

	return in, errs
}

// apply runs the balance of one zone: credit, then rain, then the ET₀ debit,
// each clamped to [0, TAW]. Steps the zone already took for in.date are
// skipped, so a repeated run only adds what an earlier run could not read.
func (m *Model) apply(ctx context.Context, zone Zone, in balanceInputs) (*types.SoilBucketState, bool, error) {
	state, err := m.Ensure(ctx, zone)
	if err != nil {
		return nil, false, err
	}

	done := types.BalanceSteps{Date: in.date}
	if state.Balanced != nil && state.Balanced.Date == in.date {
		done = *state.Balanced
	}
	took := done

	before := state.SMM
	if in.credit != nil && !took.Credit {
		state.SMM = clamp(state.SMM+in.credit.DepthMM, state.TAWMM)
		took.Credit = true
	}
	if in.rainMM != nil && !took.Rain {
		state.SMM = clamp(state.SMM+*in.rainMM, state.TAWMM)
		took.Rain = true
	}
	if in.et0MM != nil && !took.Et0 {
		state.SMM = clamp(state.SMM-*in.et0MM, state.TAWMM)
		took.Et0 = true
	}

	if took == done && state.Balanced != nil && state.Balanced.Date == in.date {
		m.logger.Debugf("soil bucket %s: nothing left to apply for %s", zone.Name, in.date)
		return state, took.Credit, nil
	}

	state.Balanced = &took
	state.UpdatedAt = m.clock.Now()
	if err := m.save(ctx, zone.Name, state); err != nil {
		return nil, false, err
	}

	m.logger.Infof("soil bucket %s balanced for %s: %.1f -> %.1f mm (credit %s, rain %s, et0 %s)",
		zone.Name, in.date, before, state.SMM,
		fmtStep(took.Credit && !done.Credit, fmtCredit(in.credit)),
		fmtStep(took.Rain && !done.Rain, fmtMM(in.rainMM)),
		fmtStep(took.Et0 && !done.Et0, fmtMM(in.et0MM)))
	return state, took.Credit, nil
}

// DailyBalance balances a single zone. See DailyBalanceAll.
func (m *Model) DailyBalance(ctx context.Context, zone Zone) (*types.SoilBucketState, error) {
	states, err := m.DailyBalanceAll(ctx, []Zone{zone})
	return states[zone.Name], err
}

// DailyBalanceAll runs yesterday's water balance for every zone. Each zone
// records the steps it has taken for the date, so running it again the same
// day applies only what was missing before. The shared pending credit is
// deleted once every zone has taken it. A figure that could not be read is
// skipped and its error returned; the remaining steps are still applied and
// saved.
func (m *Model) DailyBalanceAll(ctx context.Context, zones []Zone) (map[string]*types.SoilBucketState, error) {
	in, errs := m.loadInputs(ctx)
	if errs != nil {
		m.logger.Warnf("daily balance for %s is incomplete: %v", in.date, errs)
	}

	var mu sync.Mutex
	states := make(map[string]*types.SoilBucketState, len(zones))
	credited := 0

	g := new(errgroup.Group)
	g.SetLimit(maxParallelZones)
	for _, zone := range zones {
		g.Go(func() error {
			state, tookCredit, err := m.apply(ctx, zone, in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Errorf("daily balance of zone %s failed: %v", zone.Name, err)
				errs = multierr.Append(errs, fmt.Errorf("zone %s: %w", zone.Name, err))
				return nil
			}
			states[zone.Name] = state
			if tookCredit {
				credited++
			}
			return nil
		})
	}
	_ = g.Wait()

	if in.credit != nil && len(zones) > 0 && credited == len(zones) {
		key := types.SoilPendingKey(in.date)
		if err := m.store.Delete(ctx, key); err != nil {
			errs = multierr.Append(errs, types.StoreUnavailable("delete", key, err))
		}
	}

	return states, errs
}

// Status is a bucket state with derived figures
type Status struct {
	Zone string `json:"zone"`
	types.SoilBucketState
	// DepletionMM is the water needed to refill the bucket
	DepletionMM  float64 `json:"depletion_mm"`
	RelativeFill float64 `json:"relative_fill"`
}

// State returns the zone's current bucket
func (m *Model) State(ctx context.Context, zone Zone) (*Status, error) {
	state, err := m.Ensure(ctx, zone)
	if err != nil {
		return nil, err
	}
	st := &Status{Zone: zone.Name, SoilBucketState: *state, DepletionMM: state.TAWMM - state.SMM}
	if state.TAWMM > 0 {
		st.RelativeFill = state.SMM / state.TAWMM
	}
	return st, nil
}

func fmtMM(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f mm", *v)
}

func fmtStep(applied bool, v string) string {
	if !applied {
		return "skipped"
	}
	return v
}

func fmtCredit(c *types.PendingIrrigationCredit) string {
	if c == nil {
		return "none"
	}
	return fmt.Sprintf("%.1f mm", c.DepthMM)
}
