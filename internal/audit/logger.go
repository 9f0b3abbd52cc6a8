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

package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sajhalabs/sajha/internal/metrics"
)

const (
	// DefaultBufferSize is the default capacity of the async entry buffer.
	DefaultBufferSize = 1024
	// DefaultWorkers is the default number of background writer goroutines.
	DefaultWorkers = 2
	// DefaultBatchSize is the maximum number of entries written per batch.
	DefaultBatchSize = 50
	// DefaultFlushInterval is the maximum time between batch writes.
	DefaultFlushInterval = 500 * time.Millisecond
)

// LoggerConfig configures the audit Logger.
type LoggerConfig struct {
	BufferSize    int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// dbPool abstracts the database operations needed by the audit logger.
// This allows mocking in unit tests while using *pgxpool.Pool in production.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Logger records executions with async buffered writes to PostgreSQL.
// With a nil pool it degrades to structured-log-only mode, which keeps
// single-node deployments free of a database dependency.
type Logger struct {
	pool    dbPool
	buffer  chan *Entry
	stopCh  chan struct{}
	wg      sync.WaitGroup
	metrics *metrics.AuditMetrics
	log     logr.Logger
	cfg     LoggerConfig
}

// NewLogger creates a new audit Logger.
func NewLogger(pool *pgxpool.Pool, log logr.Logger, m *metrics.AuditMetrics, cfg LoggerConfig) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	var db dbPool
	if pool != nil {
		db = pool
	}

	l := &Logger{
		pool:    db,
		buffer:  make(chan *Entry, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		metrics: m,
		log:     log.WithName("audit"),
		cfg:     cfg,
	}

	if l.pool != nil {
		for range cfg.Workers {
			l.wg.Add(1)
			go l.worker()
		}
	}

	return l
}

// Record enqueues an execution entry. Non-blocking: if the buffer is
// full, the entry is dropped with a metric increment.
func (l *Logger) Record(e *Entry) {
	if l.metrics != nil {
		l.metrics.EventsTotal.WithLabelValues(e.Outcome).Inc()
	}

	if l.pool == nil {
		l.log.Info("tool execution",
			"tool", e.Tool,
			"principal", e.PrincipalID,
			"durationMs", e.DurationMs,
			"outcome", e.Outcome)
		return
	}

	select {
	case l.buffer <- e:
	default:
		if l.metrics != nil {
			l.metrics.BufferDrops.Inc()
		}
		l.log.V(1).Info("audit buffer full, dropping entry", "tool", e.Tool)
	}
}

// Query performs a synchronous query against the execution audit table.
func (l *Logger) Query(ctx context.Context, opts QueryOpts) (*QueryResult, error) {
	if l.pool == nil {
		return &QueryResult{Entries: []*Entry{}}, nil
	}

	qb := buildQueryFilters(opts)
	where := qb.where()

	var total int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tool_executions WHERE 1=1"+where, qb.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("audit: count query: %w", err)
	}

	limit := max(opts.Limit, 1)
	limit = min(limit, 500)
	offset := max(opts.Offset, 0)

	dataQuery := `SELECT id, started_at, tool, principal_id, duration_ms, outcome, detail
		FROM tool_executions WHERE 1=1` + where + ` ORDER BY started_at DESC`
	dataQuery = qb.appendPagination(dataQuery, limit, offset)

	rows, err := l.pool.Query(ctx, dataQuery, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("audit: data query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var detail *string
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.Tool, &e.PrincipalID, &e.DurationMs, &e.Outcome, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		if detail != nil {
			e.Detail = *detail
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate rows: %w", err)
	}
	if entries == nil {
		entries = []*Entry{}
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		HasMore: int64(offset)+int64(len(entries)) < total,
	}, nil
}

// Close stops background workers and drains the buffer.
func (l *Logger) Close() error {
	close(l.stopCh)
	l.wg.Wait()
	return nil
}

// worker drains the buffer channel and batch-inserts entries.
func (l *Logger) worker() {
	defer l.wg.Done()

	batch := make([]*Entry, 0, l.cfg.BatchSize)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= l.cfg.BatchSize {
				l.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.writeBatch(batch)
				batch = batch[:0]
			}

		case <-l.stopCh:
			batch = l.drainBuffer(batch)
			if len(batch) > 0 {
				l.writeBatch(batch)
			}
			return
		}
	}
}

// drainBuffer reads all remaining entries from the buffer channel.
func (l *Logger) drainBuffer(batch []*Entry) []*Entry {
	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= l.cfg.BatchSize {
				l.writeBatch(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

// writeBatch inserts a slice of entries into the tool_executions table.
func (l *Logger) writeBatch(entries []*Entry) {
	if len(entries) == 0 || l.pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	query, args := buildBatchInsert(entries)
	_, err := l.pool.Exec(ctx, query, args...)

	if l.metrics != nil {
		l.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if l.metrics != nil {
			l.metrics.WriteErrors.Inc()
		}
		l.log.Error(err, "failed to write audit batch", "count", len(entries))
	}
}

// --- query helpers ----------------------------------------------------------

func buildQueryFilters(opts QueryOpts) *queryBuilder {
	qb := &queryBuilder{}
	if opts.Tool != "" {
		qb.add("tool = $?", opts.Tool)
	}
	if opts.PrincipalID != "" {
		qb.add("principal_id = $?", opts.PrincipalID)
	}
	if opts.Outcome != "" {
		qb.add("outcome = $?", opts.Outcome)
	}
	if !opts.From.IsZero() {
		qb.add("started_at >= $?", opts.From)
	}
	if !opts.To.IsZero() {
		qb.add("started_at < $?", opts.To)
	}
	return qb
}

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(entries []*Entry) (string, []any) {
	const cols = 6
	values := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		base := i * cols
		placeholders := make([]string, cols)
		for j := range cols {
			placeholders[j] = "$" + strconv.Itoa(base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		var detail *string
		if e.Detail != "" {
			detail = &e.Detail
		}
		args = append(args, e.StartedAt, e.Tool, e.PrincipalID, e.DurationMs, e.Outcome, detail)
	}

	query := `INSERT INTO tool_executions (
		started_at, tool, principal_id, duration_ms, outcome, detail
	) VALUES ` + strings.Join(values, ", ")

	return query, args
}

// queryBuilder is a minimal helper for building parameterized WHERE clauses.
type queryBuilder struct {
	clauses []string
	args    []any
}

func (qb *queryBuilder) add(clause string, arg any) {
	qb.args = append(qb.args, arg)
	qb.clauses = append(qb.clauses, strings.ReplaceAll(clause, "$?", "$"+strconv.Itoa(len(qb.args))))
}

func (qb *queryBuilder) where() string {
	if len(qb.clauses) == 0 {
		return ""
	}
	return " AND " + strings.Join(qb.clauses, " AND ")
}

func (qb *queryBuilder) appendPagination(query string, limit, offset int) string {
	if limit > 0 {
		qb.args = append(qb.args, limit)
		query += " LIMIT $" + strconv.Itoa(len(qb.args))
	}
	if offset > 0 {
		qb.args = append(qb.args, offset)
		query += " OFFSET $" + strconv.Itoa(len(qb.args))
	}
	return query
}
