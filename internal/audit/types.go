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

// Package audit records every tool execution for later inspection.
package audit

import "time"

// OutcomeOK marks a successful execution; failures carry the error kind.
const OutcomeOK = "ok"

// Entry represents one execution audit row.
type Entry struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	Tool        string    `json:"tool"`
	PrincipalID string    `json:"principalId"`
	DurationMs  int64     `json:"durationMs"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
}

// QueryOpts defines filters for querying audit entries.
type QueryOpts struct {
	Tool        string
	PrincipalID string
	Outcome     string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// QueryResult is the result of an audit query.
type QueryResult struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	HasMore bool     `json:"hasMore"`
}
