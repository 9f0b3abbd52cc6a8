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
	"sync"
	"time"

	"github.com/sajhalabs/sajha/internal/errs"
)

// Metrics holds per-tool execution counters. Counters are mutated only
// through Record and never decrease.
type Metrics struct {
	mu              sync.Mutex
	executionCount  int64
	totalDuration   time.Duration
	lastExecutionAt time.Time
	errorsByKind    map[errs.Kind]int64
}

// NewMetrics creates an empty metrics record.
func NewMetrics() *Metrics {
	return &Metrics{errorsByKind: make(map[errs.Kind]int64)}
}

// Record registers one execution. kind is empty for a successful call.
func (m *Metrics) Record(duration time.Duration, kind errs.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executionCount++
	m.totalDuration += duration
	m.lastExecutionAt = time.Now().UTC()
	if kind != "" {
		m.errorsByKind[kind]++
	}
}

// MetricsSnapshot is a point-in-time copy of a tool's counters.
type MetricsSnapshot struct {
	ExecutionCount  int64                `json:"executionCount"`
	TotalDuration   time.Duration        `json:"totalDuration"`
	AverageDuration time.Duration        `json:"averageDuration"`
	LastExecutionAt time.Time            `json:"lastExecutionAt"`
	ErrorsByKind    map[errs.Kind]int64  `json:"errorsByKind,omitempty"`
}

// Snapshot returns a consistent copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		ExecutionCount:  m.executionCount,
		TotalDuration:   m.totalDuration,
		LastExecutionAt: m.lastExecutionAt,
	}
	if m.executionCount > 0 {
		s.AverageDuration = m.totalDuration / time.Duration(m.executionCount)
	}
	if len(m.errorsByKind) > 0 {
		s.ErrorsByKind = make(map[errs.Kind]int64, len(m.errorsByKind))
		for k, v := range m.errorsByKind {
			s.ErrorsByKind[k] = v
		}
	}
	return s
}
