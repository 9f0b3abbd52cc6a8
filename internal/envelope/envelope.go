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

// Package envelope wraps every tool invocation in one pipeline: resolve,
// enabled check, authorization, quota, argument validation, deadline-bound
// execution, and metric/audit capture.
package envelope

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sajhalabs/sajha/internal/audit"
	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/metrics"
	"github.com/sajhalabs/sajha/internal/registry"
	"github.com/sajhalabs/sajha/pkg/logctx"
)

const (
	// DefaultTimeout bounds handler execution when the tool does not
	// request one.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the hard ceiling on any requested timeout.
	MaxTimeout = 300 * time.Second
)

// Envelope executes tools under the full access, quota, validation, and
// observability pipeline.
type Envelope struct {
	log      logr.Logger
	registry *registry.Registry
	quota    *auth.Quota
	audit    *audit.Logger
	metrics  *metrics.ExecutionMetrics
	tracer   trace.Tracer
}

// New creates an execution envelope. audit and metrics may be nil.
func New(reg *registry.Registry, quota *auth.Quota, auditLog *audit.Logger, m *metrics.ExecutionMetrics, log logr.Logger) *Envelope {
	return &Envelope{
		log:      log.WithName("envelope"),
		registry: reg,
		quota:    quota,
		audit:    auditLog,
		metrics:  m,
		tracer:   otel.Tracer("sajha/envelope"),
	}
}

// Execute runs the named tool for the principal. Every stage may
// short-circuit with a classified error; the outcome is always recorded
// in metrics and the audit trail.
func (e *Envelope) Execute(ctx context.Context, p *auth.Principal, tool string, args map[string]any) (map[string]any, error) {
	ctx = logctx.WithTool(ctx, tool)
	ctx, span := e.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("principal.id", p.ID),
		))
	defer span.End()

	started := time.Now()
	result, err := e.run(ctx, p, tool, args)
	duration := time.Since(started)

	outcome := audit.OutcomeOK
	if err != nil {
		outcome = string(errs.KindOf(err))
		span.SetAttributes(attribute.String("error.kind", outcome))
	}

	e.record(ctx, tool, p, started, duration, outcome, err)
	return result, err
}

// run walks the pipeline stages in order.
func (e *Envelope) run(ctx context.Context, p *auth.Principal, tool string, args map[string]any) (map[string]any, error) {
	// Resolve + enabled check. Get rejects unknown and disabled tools.
	handler, err := e.registry.Get(tool)
	if err != nil {
		return nil, err
	}
	def := handler.Definition()

	// Authorization.
	if !p.CanAccess(tool) {
		return nil, errs.Newf(errs.KindAccessDenied, "principal %s may not call tool %q", p.ID, tool)
	}

	// Quota.
	if err := e.quota.Allow(p); err != nil {
		if e.metrics != nil {
			e.metrics.QuotaRejections.WithLabelValues(string(p.Kind)).Inc()
		}
		return nil, err
	}

	// Argument validation.
	if err := ValidateArguments(def.InputSchema, args); err != nil {
		if e.metrics != nil {
			e.metrics.ValidationFailures.WithLabelValues(tool).Inc()
		}
		return nil, err
	}

	// Execution under deadline.
	timeout := DefaultTimeout
	if def.Metadata.TimeoutSeconds > 0 {
		timeout = time.Duration(def.Metadata.TimeoutSeconds) * time.Second
	}
	timeout = min(timeout, MaxTimeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.invoke(execCtx, handler, args)
}

// invoke runs the handler in its own goroutine so a stalled handler
// cannot hold the caller past the deadline. Cancellation is cooperative:
// the handler sees the deadline through its context.
func (e *Envelope) invoke(ctx context.Context, handler registry.Handler, args map[string]any) (result map[string]any, err error) {
	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errs.Newf(errs.KindInternal, "handler panicked: %v", r)}
			}
		}()
		res, err := handler.Execute(ctx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, errs.Classify(out.err)
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, "execution deadline exceeded", ctx.Err())
	}
}

// record captures the outcome in per-tool counters, Prometheus, and the
// audit trail. Resolution failures have no per-tool metrics to update.
func (e *Envelope) record(ctx context.Context, tool string, p *auth.Principal, started time.Time, duration time.Duration, outcome string, err error) {
	if m, merr := e.registry.MetricsFor(tool); merr == nil {
		kind := errs.Kind("")
		if err != nil {
			kind = errs.KindOf(err)
		}
		m.Record(duration, kind)
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(tool, outcome).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}

	if e.audit != nil {
		entry := &audit.Entry{
			StartedAt:   started.UTC(),
			Tool:        tool,
			PrincipalID: p.ID,
			DurationMs:  duration.Milliseconds(),
			Outcome:     outcome,
		}
		if err != nil {
			entry.Detail = err.Error()
		}
		e.audit.Record(entry)
	}

	logctx.LoggerWithContext(e.log, ctx).V(1).Info("tool executed",
		"tool", tool,
		"principal", p.ID,
		"durationMs", duration.Milliseconds(),
		"outcome", outcome)
}

// ValidateArguments checks an argument object against a JSON-Schema
// input schema. A nil schema accepts any arguments.
func ValidateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "input schema is not valid", err)
	}
	if !result.Valid() {
		e := errs.New(errs.KindInvalidArgument, validationMessage(result))
		for _, desc := range result.Errors() {
			e = e.WithFields(desc.Field())
		}
		return e
	}
	return nil
}

func validationMessage(result *gojsonschema.Result) string {
	if len(result.Errors()) == 1 {
		d := result.Errors()[0]
		return fmt.Sprintf("argument validation failed: %s: %s", d.Field(), d.Description())
	}
	return fmt.Sprintf("argument validation failed with %d errors", len(result.Errors()))
}
