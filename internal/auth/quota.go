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

package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sajhalabs/sajha/internal/errs"
)

// quotaState tracks both windows for one principal. The per-minute
// window is a token bucket refilled at limit/60s; the per-hour window is
// a fixed bucket, which the approximate-sliding-window contract permits.
type quotaState struct {
	mu        sync.Mutex
	minute    *rate.Limiter
	hourStart time.Time
	hourCount int
	perHour   int
}

// Quota enforces per-principal rate limits. Updates are serialised per
// principal only.
type Quota struct {
	mu     sync.Mutex
	states map[string]*quotaState
	now    func() time.Time
}

// NewQuota creates an empty quota tracker.
func NewQuota() *Quota {
	return &Quota{
		states: make(map[string]*quotaState),
		now:    time.Now,
	}
}

// Allow tests and consumes one request against the principal's limits.
// Principals without limits are always admitted.
func (q *Quota) Allow(p *Principal) error {
	if p.RateLimit.Unlimited() {
		return nil
	}

	st := q.stateFor(p)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := q.now()

	if st.perHour > 0 {
		if now.Sub(st.hourStart) >= time.Hour {
			st.hourStart = now
			st.hourCount = 0
		}
		if st.hourCount >= st.perHour {
			return errs.Newf(errs.KindQuotaExceeded, "hourly quota of %d requests exhausted", st.perHour)
		}
	}

	if st.minute != nil && !st.minute.AllowN(now, 1) {
		return errs.Newf(errs.KindQuotaExceeded, "per-minute quota of %d requests exhausted", p.RateLimit.PerMinute)
	}

	if st.perHour > 0 {
		st.hourCount++
	}
	return nil
}

// stateFor fetches or creates the per-principal window state.
func (q *Quota) stateFor(p *Principal) *quotaState {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.states[p.ID]
	if !ok {
		st = &quotaState{hourStart: q.now()}
		if p.RateLimit.PerMinute > 0 {
			st.minute = rate.NewLimiter(rate.Limit(p.RateLimit.PerMinute)/rate.Limit(60), p.RateLimit.PerMinute)
		}
		st.perHour = p.RateLimit.PerHour
		q.states[p.ID] = st
	}
	return st
}

// Forget drops the window state for a principal, used when a key or
// user is deleted.
func (q *Quota) Forget(principalID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.states, principalID)
}
