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

// Package metrics holds the Prometheus metric bundles for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExecutionMetrics holds Prometheus metrics for tool executions.
type ExecutionMetrics struct {
	// ExecutionsTotal counts executions by tool and outcome. Outcome is
	// "ok" or the error kind.
	ExecutionsTotal *prometheus.CounterVec
	// ExecutionDuration tracks execution latency by tool.
	ExecutionDuration *prometheus.HistogramVec
	// QuotaRejections counts calls rejected by quota, by principal kind.
	QuotaRejections *prometheus.CounterVec
	// ValidationFailures counts argument validation failures by tool.
	ValidationFailures *prometheus.CounterVec
}

// AuditMetrics holds Prometheus metrics for the audit trail writer.
type AuditMetrics struct {
	// EventsTotal counts audit entries by outcome.
	EventsTotal *prometheus.CounterVec
	// WriteErrors counts batch write failures.
	WriteErrors prometheus.Counter
	// WriteDuration tracks batch write latency.
	WriteDuration prometheus.Histogram
	// BufferDrops counts entries dropped due to a full buffer.
	BufferDrops prometheus.Counter
}

// OLAPMetrics holds Prometheus metrics for the analytical engine.
type OLAPMetrics struct {
	// QueriesTotal counts analytical queries by builder kind.
	QueriesTotal *prometheus.CounterVec
	// QueryDuration tracks analytical query latency by builder kind.
	QueryDuration *prometheus.HistogramVec
}

// NewExecutionMetrics creates and registers the execution metric bundle
// on f (use promauto.With(registry) for tests).
func NewExecutionMetrics(f promauto.Factory) *ExecutionMetrics {
	return &ExecutionMetrics{
		ExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sajha_tool_executions_total",
			Help: "Total number of tool executions",
		}, []string{"tool", "outcome"}),

		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sajha_tool_execution_duration_seconds",
			Help:    "Duration of tool executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),

		QuotaRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sajha_quota_rejections_total",
			Help: "Total number of calls rejected by rate quota",
		}, []string{"principal_kind"}),

		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sajha_argument_validation_failures_total",
			Help: "Total number of argument validation failures",
		}, []string{"tool"}),
	}
}

// NewAuditMetrics creates and registers the audit metric bundle.
func NewAuditMetrics(f promauto.Factory) *AuditMetrics {
	return &AuditMetrics{
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sajha_audit_events_total",
			Help: "Total number of audit entries recorded",
		}, []string{"outcome"}),

		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sajha_audit_write_errors_total",
			Help: "Total number of audit batch write errors",
		}),

		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sajha_audit_write_duration_seconds",
			Help:    "Duration of audit batch writes",
			Buckets: prometheus.DefBuckets,
		}),

		BufferDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "sajha_audit_buffer_drops_total",
			Help: "Total number of audit entries dropped due to full buffer",
		}),
	}
}

// NewOLAPMetrics creates and registers the OLAP metric bundle.
func NewOLAPMetrics(f promauto.Factory) *OLAPMetrics {
	return &OLAPMetrics{
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sajha_olap_queries_total",
			Help: "Total number of analytical queries executed",
		}, []string{"kind"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sajha_olap_query_duration_seconds",
			Help:    "Duration of analytical queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}
