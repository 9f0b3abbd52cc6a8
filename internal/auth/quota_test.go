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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
)

func TestQuotaPerMinute(t *testing.T) {
	q := NewQuota()
	base := time.Now()
	q.now = func() time.Time { return base }

	p := &Principal{ID: "k1", RateLimit: &RateLimit{PerMinute: 3}}

	// Four calls within one second: three admitted, fourth rejected.
	for i := range 3 {
		require.NoError(t, q.Allow(p), "call %d", i)
	}
	err := q.Allow(p)
	assert.Equal(t, errs.KindQuotaExceeded, errs.KindOf(err))

	// After a minute the bucket has refilled.
	base = base.Add(61 * time.Second)
	require.NoError(t, q.Allow(p))
}

func TestQuotaPerHour(t *testing.T) {
	q := NewQuota()
	base := time.Now()
	q.now = func() time.Time { return base }

	p := &Principal{ID: "k2", RateLimit: &RateLimit{PerHour: 2}}

	require.NoError(t, q.Allow(p))
	require.NoError(t, q.Allow(p))
	err := q.Allow(p)
	assert.Equal(t, errs.KindQuotaExceeded, errs.KindOf(err))

	// A new hour bucket admits again.
	base = base.Add(time.Hour + time.Second)
	require.NoError(t, q.Allow(p))
}

func TestQuotaUnlimited(t *testing.T) {
	q := NewQuota()
	p := &Principal{ID: "free"}

	for range 100 {
		require.NoError(t, q.Allow(p))
	}
}

func TestQuotaIsolatedPerPrincipal(t *testing.T) {
	q := NewQuota()
	base := time.Now()
	q.now = func() time.Time { return base }

	a := &Principal{ID: "a", RateLimit: &RateLimit{PerMinute: 1}}
	b := &Principal{ID: "b", RateLimit: &RateLimit{PerMinute: 1}}

	require.NoError(t, q.Allow(a))
	assert.Equal(t, errs.KindQuotaExceeded, errs.KindOf(q.Allow(a)))

	// Principal b is unaffected by a's exhaustion.
	require.NoError(t, q.Allow(b))
}

func TestQuotaForget(t *testing.T) {
	q := NewQuota()
	base := time.Now()
	q.now = func() time.Time { return base }

	p := &Principal{ID: "gone", RateLimit: &RateLimit{PerMinute: 1}}
	require.NoError(t, q.Allow(p))
	assert.Equal(t, errs.KindQuotaExceeded, errs.KindOf(q.Allow(p)))

	q.Forget("gone")
	require.NoError(t, q.Allow(p))
}
