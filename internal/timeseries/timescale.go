package timeseries

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var sqlAggregates = map[string]string{
	AggMean: "avg",
	AggMin:  "min",
	AggMax:  "max",
	AggSum:  "sum",
}

// Timescale runs queries against a TimescaleDB hypertable whose rows carry a
// "time" column and, optionally, a "stationname" column.
type Timescale struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewTimescale connects a pool to the given connection string
func NewTimescale(ctx context.Context, connStr string, logger *zap.SugaredLogger) (*Timescale, error) {
	logger.Info("connecting to TimescaleDB...")
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create a TimescaleDB pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach TimescaleDB: %w", err)
	}
	logger.Info("TimescaleDB connection successful")
	return &Timescale{pool: pool, logger: logger}, nil
}

// Close releases the pool
func (t *Timescale) Close() {
	t.pool.Close()
}

// buildSQL renders the bucketed aggregation query. Identifiers are quoted by
// pgx; everything else is passed as arguments.
func buildSQL(q Query) (string, []any) {
	table := pgx.Identifier{q.Measurement}.Sanitize()
	field := pgx.Identifier{q.Field}.Sanitize()
	agg := sqlAggregates[q.Aggregation]

	loc := "UTC"
	if q.Location != nil {
		loc = q.Location.String()
	}

	sql := fmt.Sprintf(`
		SELECT time_bucket($1::interval, time, $2) AS bucket, %s(%s)::double precision AS value
		FROM %s
		WHERE time >= $3 AND time < $4 AND %s IS NOT NULL`, agg, field, table, field)
	args := []any{fmt.Sprintf("%d seconds", int64(q.Bucket.Seconds())), loc, q.Start, q.End}

	if q.Station != "" {
		sql += " AND stationname = $5"
		args = append(args, q.Station)
	}
	sql += `
		GROUP BY bucket
		ORDER BY bucket`

	return sql, args
}

func (t *Timescale) Query(ctx context.Context, q Query) ([]Point, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sql, args := buildSQL(q)
	rows, err := t.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying %s.%s: %w", q.Measurement, q.Field, err)
	}

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Point, error) {
		var p Point
		err := row.Scan(&p.Time, &p.Value)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading %s.%s buckets: %w", q.Measurement, q.Field, err)
	}

	t.logger.Debugf("timeseries %s(%s.%s) returned %d buckets", q.Aggregation, q.Measurement, q.Field, len(points))
	return points, nil
}
