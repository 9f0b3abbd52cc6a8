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

// Package logctx carries common logging fields through context.Context
// so every log line emitted while serving a request names the request,
// the principal, and the tool involved.
package logctx

import (
	"context"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
const (
	// ContextKeyRequestID identifies the individual API or MCP request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyPrincipalID identifies the authenticated caller.
	ContextKeyPrincipalID contextKey = "principal_id"

	// ContextKeyTool identifies the tool being executed.
	ContextKeyTool contextKey = "tool"
)

// allContextKeys lists all context keys that are extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyRequestID,
	ContextKeyPrincipalID,
	ContextKeyTool,
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithPrincipalID returns a new context with the principal ID set.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipalID, principalID)
}

// WithTool returns a new context with the tool name set.
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ContextKeyTool, tool)
}

// LogrValues extracts context values and returns them as key-value pairs
// suitable for use with logr.Logger.WithValues().
// Only non-empty values are included.
func LogrValues(ctx context.Context) []any {
	var values []any
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok && s != "" {
				values = append(values, string(key), s)
			}
		}
	}
	return values
}

// LoggerWithContext returns a logger enriched with all context values.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := LogrValues(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return s
	}
	return ""
}

// PrincipalID extracts the principal ID from the context.
func PrincipalID(ctx context.Context) string {
	if s, ok := ctx.Value(ContextKeyPrincipalID).(string); ok {
		return s
	}
	return ""
}
