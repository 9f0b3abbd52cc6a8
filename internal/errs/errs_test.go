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

package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", New(KindAccessDenied, "nope"), KindAccessDenied},
		{"wrapped classified", fmt.Errorf("outer: %w", New(KindQuotaExceeded, "slow down")), KindQuotaExceeded},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	// Classified errors pass through untouched.
	orig := New(KindToolDisabled, "disabled")
	assert.Equal(t, KindToolDisabled, KindOf(Classify(orig)))

	// Deadline expiry becomes Timeout.
	assert.Equal(t, KindTimeout, KindOf(Classify(context.DeadlineExceeded)))

	// Arbitrary handler failures become UpstreamFailure with the cause retained.
	cause := errors.New("connection refused")
	classified := Classify(cause)
	assert.Equal(t, KindUpstreamFailure, KindOf(classified))
	assert.True(t, errors.Is(classified, cause))

	assert.Nil(t, Classify(nil))
}

func TestWithFields(t *testing.T) {
	err := New(KindInvalidArgument, "validation failed").WithFields("user.name", "user.age")
	require.Equal(t, []string{"user.name", "user.age"}, FieldPaths(err))

	wrapped := fmt.Errorf("envelope: %w", err)
	assert.Equal(t, []string{"user.name", "user.age"}, FieldPaths(wrapped))
	assert.Nil(t, FieldPaths(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidArgument, http.StatusBadRequest},
		{KindInvalidCredentials, http.StatusUnauthorized},
		{KindInvalidToken, http.StatusUnauthorized},
		{KindInvalidKey, http.StatusUnauthorized},
		{KindAccessDenied, http.StatusForbidden},
		{KindToolNotFound, http.StatusNotFound},
		{KindNotFound, http.StatusNotFound},
		{KindToolDisabled, http.StatusConflict},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindUpstreamFailure, http.StatusBadGateway},
		{KindConflict, http.StatusConflict},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), "kind %s", tt.kind)
	}
}

func TestJSONRPCCode(t *testing.T) {
	assert.Equal(t, CodeInvalidParams, JSONRPCCode(KindInvalidArgument))

	// Application kinds stay inside the reserved range.
	kinds := []Kind{
		KindInvalidCredentials, KindInvalidToken, KindInvalidKey,
		KindAccessDenied, KindToolNotFound, KindNotFound, KindToolDisabled,
		KindQuotaExceeded, KindTimeout, KindPayloadTooLarge,
		KindUpstreamFailure, KindConflict, KindInternal,
	}
	seen := map[int]Kind{}
	for _, k := range kinds {
		code := JSONRPCCode(k)
		assert.GreaterOrEqual(t, code, -32099, "kind %s", k)
		assert.LessOrEqual(t, code, -32000, "kind %s", k)
		if prev, dup := seen[code]; dup {
			t.Errorf("code %d assigned to both %s and %s", code, prev, k)
		}
		seen[code] = k
	}
}
