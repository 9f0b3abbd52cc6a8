/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package olap

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/metrics"
)

// Rows abstracts sql.Rows for testability.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DB abstracts the warehouse connection so the engine can run against
// a fake in tests.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// sqlDB adapts *sql.DB to the DB interface.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlDB) Close() error                          { return s.db.Close() }

// WrapSQLDB exposes a *sql.DB as an engine DB.
func WrapSQLDB(db *sql.DB) DB { return &sqlDB{db: db} }

// WarehouseConfig holds the columnar warehouse connection settings.
type WarehouseConfig struct {
	Account   string `json:"account" yaml:"account"`
	User      string `json:"user" yaml:"user"`
	Password  string `json:"password" yaml:"password"`
	Database  string `json:"database" yaml:"database"`
	Schema    string `json:"schema" yaml:"schema"`
	Warehouse string `json:"warehouse" yaml:"warehouse"`
	Role      string `json:"role" yaml:"role"`
}

// OpenWarehouse opens the columnar warehouse connection. The pool is
// capped at one connection; the engine serialises queries anyway.
func OpenWarehouse(cfg WarehouseConfig) (DB, error) {
	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "build warehouse DSN", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "open warehouse connection", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &sqlDB{db: db}, nil
}

// DefaultQueryTimeout bounds a single analytical query.
const DefaultQueryTimeout = 60 * time.Second

// Result is the uniform analytical query result.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	SQL       string           `json:"sql"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

// Engine runs semantic-layer queries against the warehouse. A mutex
// serialises queries so concurrent tool calls share the single
// connection safely.
type Engine struct {
	catalog *Catalog
	db      DB
	log     logr.Logger
	metrics *metrics.OLAPMetrics
	timeout time.Duration

	mu sync.Mutex
}

// NewEngine creates an analytical engine over db. metrics may be nil.
func NewEngine(catalog *Catalog, db DB, m *metrics.OLAPMetrics, log logr.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		db:      db,
		log:     log.WithName("olap"),
		metrics: m,
		timeout: DefaultQueryTimeout,
	}
}

// Catalog exposes the engine's semantic catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// query runs one generated statement and scans all rows generically.
func (e *Engine) query(ctx context.Context, kind, sqlText string) (*Result, error) {
	if e.db == nil {
		return nil, errs.New(errs.KindUnavailable, "analytical engine has no warehouse connection")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, "analytical query timed out", ctx.Err())
		}
		return nil, errs.Wrap(errs.KindUpstreamFailure, "analytical query failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "read result columns", err)
	}
	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "scan result row", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[strings.ToLower(col)] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "iterate result rows", err)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.QueriesTotal.WithLabelValues(kind).Inc()
		e.metrics.QueryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
	e.log.V(1).Info("analytical query done", "kind", kind, "rows", len(out), "elapsed", elapsed)

	return &Result{
		Columns:   lowered(columns),
		Rows:      out,
		RowCount:  len(out),
		SQL:       sqlText,
		ElapsedMs: elapsed.Milliseconds(),
	}, nil
}

func lowered(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return out
}

// Pivot runs a cross-tabulation. With a column dimension the long-form
// result is widened here and a total row appended on request.
func (e *Engine) Pivot(ctx context.Context, req PivotRequest) (*Result, error) {
	sqlText, plan, err := e.catalog.buildPivotSQL(req)
	if err != nil {
		return nil, err
	}
	res, err := e.query(ctx, "pivot", sqlText)
	if err != nil {
		return nil, err
	}
	if req.Column != nil {
		cols, wide := widenPivot(plan, res.Rows)
		res.Columns = cols
		res.Rows = wide
		res.RowCount = len(wide)
	}
	if req.IncludeTotals {
		res.Rows = appendTotalRow(plan.rowNames, res.Columns, res.Rows)
		res.RowCount = len(res.Rows)
	}
	return res, nil
}

// Rollup runs a subtotal hierarchy query.
func (e *Engine) Rollup(ctx context.Context, req RollupRequest) (*Result, error) {
	sqlText, err := e.catalog.buildRollupSQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "rollup", sqlText)
}

// Window runs an aggregation with layered window calculations.
func (e *Engine) Window(ctx context.Context, req WindowRequest) (*Result, error) {
	sqlText, err := e.catalog.buildWindowSQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "window", sqlText)
}

// TimeSeries runs a bucketed time series query.
func (e *Engine) TimeSeries(ctx context.Context, req TimeSeriesRequest) (*Result, error) {
	sqlText, err := e.catalog.buildTimeSeriesSQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "timeseries", sqlText)
}

// Summary computes descriptive statistics for a measure.
func (e *Engine) Summary(ctx context.Context, req StatsRequest) (*Result, error) {
	sqlText, err := e.catalog.buildSummarySQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "summary", sqlText)
}

// Percentiles computes interpolated percentile points for a measure.
func (e *Engine) Percentiles(ctx context.Context, req StatsRequest) (*Result, error) {
	sqlText, err := e.catalog.buildPercentilesSQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "percentiles", sqlText)
}

// Distribution computes median, mode, and IQR for a measure.
func (e *Engine) Distribution(ctx context.Context, req StatsRequest) (*Result, error) {
	sqlText, err := e.catalog.buildDistributionSQL(req)
	if err != nil {
		return nil, err
	}
	return e.query(ctx, "distribution", sqlText)
}

// Correlation computes the pairwise correlation matrix for two or more
// measures.
func (e *Engine) Correlation(ctx context.Context, req StatsRequest) (map[string]map[string]any, string, error) {
	sqlText, measures, err := e.catalog.buildCorrelationSQL(req)
	if err != nil {
		return nil, "", err
	}
	res, err := e.query(ctx, "correlation", sqlText)
	if err != nil {
		return nil, "", err
	}
	pairs := map[string]any{}
	if len(res.Rows) > 0 {
		pairs = res.Rows[0]
	}
	return correlationMatrix(measures, pairs), sqlText, nil
}

// Histogram fetches the raw measure values and buckets them into
// equal-width bins.
func (e *Engine) Histogram(ctx context.Context, req StatsRequest) ([]HistogramBin, string, error) {
	values, sqlText, err := e.fetchValues(ctx, "histogram", req)
	if err != nil {
		return nil, "", err
	}
	return computeHistogram(values, req.Bins, req.Min, req.Max), sqlText, nil
}

// Outliers flags anomalous measure values with the IQR fence method or
// z-scores.
func (e *Engine) Outliers(ctx context.Context, req StatsRequest) ([]Outlier, map[string]float64, error) {
	values, _, err := e.fetchValues(ctx, "outliers", req)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(req.Method) {
	case "", "iqr":
		out, bounds := detectOutliersIQR(values, req.Threshold)
		return out, bounds, nil
	case "zscore", "z_score":
		out, bounds := detectOutliersZScore(values, req.Threshold)
		return out, bounds, nil
	default:
		return nil, nil, errs.Newf(errs.KindInvalidArgument, "unknown outlier method %q", req.Method)
	}
}

func (e *Engine) fetchValues(ctx context.Context, kind string, req StatsRequest) ([]float64, string, error) {
	sqlText, err := e.catalog.buildValuesSQL(req)
	if err != nil {
		return nil, "", err
	}
	res, err := e.query(ctx, kind, sqlText)
	if err != nil {
		return nil, "", err
	}
	values := make([]float64, 0, len(res.Rows))
	for _, row := range res.Rows {
		if f, ok := toFloat(row["value"]); ok {
			values = append(values, f)
		}
	}
	return values, sqlText, nil
}

// Cohort runs a cohort analysis and pivots the result into a matrix.
// Rows carry per-offset rates against the cohort's period-0 size.
func (e *Engine) Cohort(ctx context.Context, req CohortRequest) ([]CohortRow, string, error) {
	sqlText, err := e.catalog.buildCohortSQL(req)
	if err != nil {
		return nil, "", err
	}
	res, err := e.query(ctx, "cohort", sqlText)
	if err != nil {
		return nil, "", err
	}
	periods := req.Periods
	if periods <= 0 {
		periods = DefaultCohortPeriods
	}
	return cohortMatrix(res.Rows, periods, true), sqlText, nil
}

// Retention runs a retention analysis: first-activity cohorts, distinct
// entity counts, and per-offset retention rates with period 0 at 100%.
func (e *Engine) Retention(ctx context.Context, req CohortRequest) ([]CohortRow, string, error) {
	sqlText, err := e.catalog.buildRetentionSQL(req)
	if err != nil {
		return nil, "", err
	}
	res, err := e.query(ctx, "retention", sqlText)
	if err != nil {
		return nil, "", err
	}
	periods := req.Periods
	if periods <= 0 {
		periods = DefaultCohortPeriods
	}
	return cohortMatrix(res.Rows, periods, true), sqlText, nil
}

// Ping checks the warehouse connection.
func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return errs.New(errs.KindUnavailable, "analytical engine has no warehouse connection")
	}
	return e.db.PingContext(ctx)
}

// Close releases the warehouse connection.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
