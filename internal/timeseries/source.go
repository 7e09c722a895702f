// Package timeseries answers aggregation queries against a time-series store.
// The irrigation core only uses it for daily cloud cover means.
package timeseries

import (
	"context"
	"fmt"
	"time"
)

// Aggregation functions a Query may ask for
const (
	AggMean = "mean"
	AggMin  = "min"
	AggMax  = "max"
	AggSum  = "sum"
)

// Query describes one aggregated read. Buckets are aligned to local midnight
// in Location, not UTC.
type Query struct {
	Measurement string
	Field       string
	Station     string
	Start       time.Time
	End         time.Time
	Bucket      time.Duration
	Aggregation string
	Location    *time.Location
}

// Point is one aggregated bucket
type Point struct {
	Time  time.Time
	Value float64
}

// Source runs aggregation queries
type Source interface {
	Query(ctx context.Context, q Query) ([]Point, error)
}

// Validate checks that the query is well-formed
func (q Query) Validate() error {
	if q.Measurement == "" || q.Field == "" {
		return fmt.Errorf("query needs a measurement and a field")
	}
	if !q.End.After(q.Start) {
		return fmt.Errorf("query range is empty: %s .. %s", q.Start, q.End)
	}
	if q.Bucket <= 0 {
		return fmt.Errorf("query bucket must be positive")
	}
	switch q.Aggregation {
	case AggMean, AggMin, AggMax, AggSum:
	default:
		return fmt.Errorf("unsupported aggregation %q", q.Aggregation)
	}
	return nil
}

// Static is a Source that serves fixed points, filtered to the query range
type Static struct {
	Points []Point
	Err    error
}

func (s *Static) Query(_ context.Context, q Query) ([]Point, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out []Point
	for _, p := range s.Points {
		if !p.Time.Before(q.Start) && p.Time.Before(q.End) {
			out = append(out, p)
		}
	}
	return out, nil
}
