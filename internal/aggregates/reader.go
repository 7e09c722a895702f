// Package aggregates reads the latest weather aggregate snapshot from the
// shared store. It performs no computation of its own.
package aggregates

import (
	"context"

	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/types"
)

// Reader fetches weather aggregates
type Reader struct {
	store kvstore.Store
}

// NewReader creates a Reader on the given store
func NewReader(store kvstore.Store) *Reader {
	return &Reader{store: store}
}

// Latest returns the most recent snapshot. A missing snapshot or a store
// failure is reported as ErrDataUnavailable.
func (r *Reader) Latest(ctx context.Context) (*types.Snapshot, error) {
	var snap types.Snapshot
	ok, err := kvstore.GetJSON(ctx, r.store, types.KeyWeatherAggLatest, &snap)
	if err != nil {
		return nil, types.DataUnavailable("read aggregates", types.KeyWeatherAggLatest, err)
	}
	if !ok {
		return nil, types.DataUnavailable("read aggregates", types.KeyWeatherAggLatest, nil)
	}
	return &snap, nil
}

// Window returns one aggregation window of the latest snapshot
func (r *Reader) Window(ctx context.Context, name string) (types.WeatherAggregate, error) {
	snap, err := r.Latest(ctx)
	if err != nil {
		return types.WeatherAggregate{}, err
	}
	return snap.Window(name)
}

// Require dereferences a field that a computation cannot proceed without
func Require(op, field string, v *float64) (float64, error) {
	if v == nil {
		return 0, types.DataUnavailable(op, field, nil)
	}
	return *v, nil
}
