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
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBatchInsert(t *testing.T) {
	now := time.Now().UTC()
	entries := []*Entry{
		{StartedAt: now, Tool: "echo", PrincipalID: "p1", DurationMs: 12, Outcome: OutcomeOK},
		{StartedAt: now, Tool: "sqlq", PrincipalID: "p2", DurationMs: 90, Outcome: "timeout", Detail: "deadline"},
	}

	query, args := buildBatchInsert(entries)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO tool_executions"))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6)")
	assert.Contains(t, query, "($7, $8, $9, $10, $11, $12)")
	require.Len(t, args, 12)

	// The first entry has no detail, persisted as NULL.
	assert.Nil(t, args[5])
	detail, ok := args[11].(*string)
	require.True(t, ok)
	assert.Equal(t, "deadline", *detail)
}

func TestBuildQueryFilters(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	qb := buildQueryFilters(QueryOpts{Tool: "echo", PrincipalID: "p1", Outcome: OutcomeOK, From: from})

	where := qb.where()
	assert.Contains(t, where, "tool = $1")
	assert.Contains(t, where, "principal_id = $2")
	assert.Contains(t, where, "outcome = $3")
	assert.Contains(t, where, "started_at >= $4")
	assert.Len(t, qb.args, 4)

	paged := qb.appendPagination("SELECT 1", 10, 20)
	assert.Contains(t, paged, "LIMIT $5")
	assert.Contains(t, paged, "OFFSET $6")
}

func TestBuildQueryFiltersEmpty(t *testing.T) {
	qb := buildQueryFilters(QueryOpts{})
	assert.Empty(t, qb.where())
	assert.Empty(t, qb.args)
}

func TestLogOnlyMode(t *testing.T) {
	// A nil pool degrades to structured-log-only: Record must not block
	// and Query returns an empty result.
	l := NewLogger(nil, logr.Discard(), nil, LoggerConfig{})
	defer func() { require.NoError(t, l.Close()) }()

	for range 2000 {
		l.Record(&Entry{StartedAt: time.Now(), Tool: "echo", PrincipalID: "p", Outcome: OutcomeOK})
	}

	res, err := l.Query(t.Context(), QueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}
