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

package registry

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
)

// entry pairs a definition with its handler and counters.
type entry struct {
	def     *Definition
	handler Handler
	metrics *Metrics
}

// Registry is the canonical source of what tools exist and how to call them.
// The map is guarded by a reader-writer lock; Get returns a stable handler
// reference that may outlive the lock for the duration of one call.
type Registry struct {
	log     logr.Logger
	factory HandlerFactory

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New(factory HandlerFactory, log logr.Logger) *Registry {
	return &Registry{
		log:     log.WithName("registry"),
		factory: factory,
		entries: make(map[string]*entry),
	}
}

// Register admits a tool. Duplicate names fail with Conflict.
func (r *Registry) Register(def *Definition, handler Handler) error {
	if !ValidName(def.Name) {
		return errs.Newf(errs.KindInvalidArgument, "invalid tool name %q", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return errs.Newf(errs.KindConflict, "tool %q already registered", def.Name)
	}

	r.entries[def.Name] = &entry{def: def, handler: handler, metrics: NewMetrics()}
	r.log.V(1).Info("registered tool", "tool", def.Name, "source", def.Metadata.Source)
	return nil
}

// Unregister removes a tool. In-flight executions holding the handler
// reference are unaffected; the handler is dropped when the last caller
// returns.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return errs.Newf(errs.KindToolNotFound, "tool %q not found", name)
	}
	delete(r.entries, name)
	r.log.V(1).Info("unregistered tool", "tool", name)
	return nil
}

// Enable marks a tool as accepting executions.
func (r *Registry) Enable(name string) error { return r.setEnabled(name, true) }

// Disable marks a tool as rejecting executions. The tool stays visible
// to List.
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return errs.Newf(errs.KindToolNotFound, "tool %q not found", name)
	}
	e.def.Enabled = enabled
	r.log.Info("tool state changed", "tool", name, "enabled", enabled)
	return nil
}

// Get resolves a tool for execution. Disabled tools are rejected with
// ToolDisabled.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, errs.Newf(errs.KindToolNotFound, "tool %q not found", name)
	}
	if !e.def.Enabled {
		return nil, errs.Newf(errs.KindToolDisabled, "tool %q is disabled", name)
	}
	return e.handler, nil
}

// Lookup returns the definition regardless of enabled state. Used by the
// admin and schema surfaces.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, errs.Newf(errs.KindToolNotFound, "tool %q not found", name)
	}
	return e.def, nil
}

// List returns summaries of all tools, disabled included, sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Summarize(e.def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MetricsFor returns the live counters for one tool. The envelope records
// into this object; reads may observe a stale snapshot within one update.
func (r *Registry) MetricsFor(name string) (*Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, errs.Newf(errs.KindToolNotFound, "tool %q not found", name)
	}
	return e.metrics, nil
}

// NamedMetrics pairs a tool name with its counters snapshot.
type NamedMetrics struct {
	Name    string          `json:"name"`
	Metrics MetricsSnapshot `json:"metrics"`
}

// AllMetrics returns snapshots for every tool, sorted by name.
func (r *Registry) AllMetrics() []NamedMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NamedMetrics, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, NamedMetrics{Name: name, Metrics: e.metrics.Snapshot()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExportMetricsCSV renders all tool metrics with a deterministic column
// order: name, version, enabled, execution_count, average_duration,
// last_execution, description.
func (r *Registry) ExportMetricsCSV() ([]byte, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	entries := make(map[string]*entry, len(r.entries))
	for name, e := range r.entries {
		entries[name] = e
	}
	r.mu.RUnlock()

	sort.Strings(names)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"name", "version", "enabled", "execution_count", "average_duration", "last_execution", "description"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, name := range names {
		e := entries[name]
		s := e.metrics.Snapshot()
		last := ""
		if !s.LastExecutionAt.IsZero() {
			last = s.LastExecutionAt.Format("2006-01-02T15:04:05Z")
		}
		record := []string{
			name,
			e.def.Version,
			strconv.FormatBool(e.def.Enabled),
			strconv.FormatInt(s.ExecutionCount, 10),
			s.AverageDuration.String(),
			last,
			e.def.Description,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
