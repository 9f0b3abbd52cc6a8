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
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		StoreDir:    t.TempDir(),
		TokenSecret: []byte("test-secret"),
	}, NewMemorySessionStore(), logr.Discard())
	require.NoError(t, err)
	return m
}

func TestBasicAuthenticationRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	user, err := m.CreateUser(UserSpec{Username: "alice", Password: "s3cret", AccessMode: AccessAllowAll})
	require.NoError(t, err)

	token, session, err := m.AuthenticateBasic(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.UserID, session.PrincipalID)

	// The bearer token resolves to the same principal.
	p, err := m.ValidateBearer(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, p.ID)
	assert.Equal(t, PrincipalUser, p.Kind)

	// After logout the token is invalid.
	require.NoError(t, m.Logout(ctx, token))
	_, err = m.ValidateBearer(ctx, token)
	assert.Equal(t, errs.KindInvalidToken, errs.KindOf(err))
}

func TestBasicAuthenticationFailures(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateUser(UserSpec{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	_, _, err = m.AuthenticateBasic(ctx, "bob", "wrong")
	assert.Equal(t, errs.KindInvalidCredentials, errs.KindOf(err))

	_, _, err = m.AuthenticateBasic(ctx, "nobody", "pw")
	assert.Equal(t, errs.KindInvalidCredentials, errs.KindOf(err))

	_, err = m.ValidateBearer(ctx, "not-a-jwt")
	assert.Equal(t, errs.KindInvalidToken, errs.KindOf(err))
}

func TestSessionInactivityTimeout(t *testing.T) {
	m := newTestManager(t)
	m.cfg.SessionTimeout = time.Hour
	ctx := context.Background()

	_, err := m.CreateUser(UserSpec{Username: "carol", Password: "pw"})
	require.NoError(t, err)
	token, _, err := m.AuthenticateBasic(ctx, "carol", "pw")
	require.NoError(t, err)

	// Shift the clock past the inactivity window.
	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	_, err = m.ValidateBearer(ctx, token)
	assert.Equal(t, errs.KindInvalidToken, errs.KindOf(err))
}

func TestAPIKeyLifecycle(t *testing.T) {
	m := newTestManager(t)

	full, rec, err := m.CreateAPIKey(APIKeySpec{
		Name:         "ci",
		AllowedTools: []string{"echo"},
	})
	require.NoError(t, err)
	assert.Len(t, rec.Partial, apiKeyPartialLen)
	assert.True(t, len(full) > apiKeyPartialLen)
	assert.Equal(t, full[:apiKeyPartialLen], rec.Partial)

	p, err := m.ValidateAPIKey(full)
	require.NoError(t, err)
	assert.Equal(t, PrincipalAPIKey, p.Kind)
	assert.True(t, p.CanAccess("echo"))
	assert.False(t, p.CanAccess("secret_tool"))

	// Lookup by partial form works for admin operations.
	found, err := m.FindAPIKey(rec.Partial)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, found.KeyID)

	// Disabled keys are rejected.
	require.NoError(t, m.SetAPIKeyEnabled(rec.Partial, false))
	_, err = m.ValidateAPIKey(full)
	assert.Equal(t, errs.KindInvalidKey, errs.KindOf(err))

	require.NoError(t, m.SetAPIKeyEnabled(rec.Partial, true))
	_, err = m.ValidateAPIKey(full)
	require.NoError(t, err)

	// Deleted keys are rejected but their record survives for audit.
	require.NoError(t, m.DeleteAPIKey(rec.Partial))
	_, err = m.ValidateAPIKey(full)
	assert.Equal(t, errs.KindInvalidKey, errs.KindOf(err))
	found, err = m.FindAPIKey(rec.Partial)
	require.NoError(t, err)
	assert.True(t, found.Deleted)
}

func TestManagerMissingRecordsNotFound(t *testing.T) {
	m := newTestManager(t)

	_, err := m.FindAPIKey("sj_nope")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = m.GetUser("ghost")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestAPIKeyExpiry(t *testing.T) {
	m := newTestManager(t)

	past := time.Now().Add(-time.Minute)
	full, _, err := m.CreateAPIKey(APIKeySpec{Name: "stale", ExpiresAt: &past})
	require.NoError(t, err)

	_, err = m.ValidateAPIKey(full)
	assert.Equal(t, errs.KindInvalidKey, errs.KindOf(err))
}

func TestResolveRequestPriority(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateUser(UserSpec{Username: "dora", Password: "pw", AccessMode: AccessAllowAll})
	require.NoError(t, err)
	token, _, err := m.AuthenticateBasic(ctx, "dora", "pw")
	require.NoError(t, err)

	full, rec, err := m.CreateAPIKey(APIKeySpec{Name: "priority"})
	require.NoError(t, err)

	// X-API-Key wins over the bearer token.
	h := http.Header{}
	h.Set(HeaderAPIKey, full)
	h.Set("Authorization", "Bearer "+token)
	p, err := m.ResolveRequest(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, p.ID)

	// Bearer only.
	h = http.Header{}
	h.Set("Authorization", "Bearer "+token)
	p, err = m.ResolveRequest(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, PrincipalUser, p.Kind)

	// No credentials.
	_, err = m.ResolveRequest(ctx, http.Header{})
	assert.Equal(t, errs.KindInvalidToken, errs.KindOf(err))
}

func TestAdminUserProtection(t *testing.T) {
	m := newTestManager(t)

	admin, err := m.CreateUser(UserSpec{Username: "root", Password: "pw", Roles: []string{AdminRole}})
	require.NoError(t, err)

	err = m.SetUserDisabled(admin.UserID, true)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	err = m.DeleteUser(admin.UserID)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	// Non-admin users can be disabled and deleted.
	plain, err := m.CreateUser(UserSpec{Username: "temp", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, m.SetUserDisabled(plain.UserID, true))
	require.NoError(t, m.DeleteUser(plain.UserID))
}

func TestDuplicateUsernameConflicts(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateUser(UserSpec{Username: "dup", Password: "pw"})
	require.NoError(t, err)
	_, err = m.CreateUser(UserSpec{Username: "dup", Password: "pw2"})
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(ManagerConfig{StoreDir: dir, TokenSecret: []byte("s")},
		NewMemorySessionStore(), logr.Discard())
	require.NoError(t, err)

	_, err = m.CreateUser(UserSpec{Username: "kept", Password: "pw"})
	require.NoError(t, err)
	full, _, err := m.CreateAPIKey(APIKeySpec{Name: "kept-key"})
	require.NoError(t, err)

	// A fresh manager over the same directory sees both records.
	m2, err := NewManager(ManagerConfig{StoreDir: dir, TokenSecret: []byte("s")},
		NewMemorySessionStore(), logr.Discard())
	require.NoError(t, err)

	_, err = m2.GetUser("kept")
	require.NoError(t, err)
	_, err = m2.ValidateAPIKey(full)
	require.NoError(t, err)
}

func TestCreateRejectsBadPatterns(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.CreateAPIKey(APIKeySpec{Name: "bad", AllowedPatterns: []string{"["}})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = m.CreateUser(UserSpec{Username: "bad", Password: "pw", AllowedPatterns: []string{"("}})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}
