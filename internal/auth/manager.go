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
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sajhalabs/sajha/internal/errs"
)

// DefaultSessionTimeout is the inactivity window after which a session
// is invalid.
const DefaultSessionTimeout = 24 * time.Hour

// HeaderAPIKey is the API key request header. It takes priority over
// the Authorization bearer token during request resolution.
const HeaderAPIKey = "X-API-Key"

// ManagerConfig configures the auth manager.
type ManagerConfig struct {
	// StoreDir is the directory holding users.json and apikeys.json.
	StoreDir string
	// TokenSecret signs session bearer tokens (HS256).
	TokenSecret []byte
	// SessionTimeout is the inactivity timeout (default 24h).
	SessionTimeout time.Duration
}

// Manager owns all sessions and API keys and resolves requests to
// principals. User and key tables are guarded by a reader-writer lock;
// validation is read-only and parallel.
type Manager struct {
	log      logr.Logger
	cfg      ManagerConfig
	sessions SessionStore
	now      func() time.Time

	mu    sync.RWMutex
	users map[string]*UserRecord   // user id -> record
	keys  map[string]*APIKeyRecord // key hash -> record
}

// NewManager loads the auth store from cfg.StoreDir and returns a
// manager using the given session store.
func NewManager(cfg ManagerConfig, sessions SessionStore, log logr.Logger) (*Manager, error) {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}

	m := &Manager{
		log:      log.WithName("auth"),
		cfg:      cfg,
		sessions: sessions,
		now:      time.Now,
		users:    make(map[string]*UserRecord),
		keys:     make(map[string]*APIKeyRecord),
	}
	if err := m.ReloadStore(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReloadStore re-reads the users and API keys documents from disk.
func (m *Manager) ReloadStore() error {
	st, err := loadStore(m.cfg.StoreDir)
	if err != nil {
		return err
	}

	users := make(map[string]*UserRecord, len(st.Users))
	for _, u := range st.Users {
		users[u.UserID] = u
	}
	keys := make(map[string]*APIKeyRecord, len(st.APIKeys))
	for _, k := range st.APIKeys {
		keys[k.Hash] = k
	}

	m.mu.Lock()
	m.users = users
	m.keys = keys
	m.mu.Unlock()

	m.log.Info("auth store loaded", "users", len(users), "apiKeys", len(keys))
	return nil
}

// --- sessions ---------------------------------------------------------------

// sessionClaims are the JWT claims carried by a session bearer token.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// AuthenticateBasic verifies a user id (or username) and password and
// creates a session. The returned token is the bearer credential.
func (m *Manager) AuthenticateBasic(ctx context.Context, userID, password string) (string, *Session, error) {
	m.mu.RLock()
	user := m.users[userID]
	if user == nil {
		for _, u := range m.users {
			if u.Username == userID {
				user = u
				break
			}
		}
	}
	m.mu.RUnlock()

	if user == nil || user.Disabled {
		return "", nil, errs.New(errs.KindInvalidCredentials, "unknown user or wrong password")
	}
	want := hashPassword(user.PasswordSalt, password)
	if subtle.ConstantTimeCompare([]byte(want), []byte(user.PasswordHash)) != 1 {
		return "", nil, errs.New(errs.KindInvalidCredentials, "unknown user or wrong password")
	}

	now := m.now().UTC()
	session := &Session{
		ID:          uuid.New().String(),
		PrincipalID: user.UserID,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, "create session", err)
	}

	token, err := m.signToken(session)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, "sign session token", err)
	}

	m.log.V(1).Info("session created", "user", user.UserID, "session", session.ID)
	return token, session, nil
}

// ValidateBearer resolves a bearer token to its principal and refreshes
// the session.
func (m *Manager) ValidateBearer(ctx context.Context, token string) (*Principal, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.KindInvalidToken, "unexpected signing method")
		}
		return m.cfg.TokenSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.New(errs.KindInvalidToken, "bearer token is not valid")
	}

	session, err := m.sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil, errs.New(errs.KindInvalidToken, "session is no longer active")
	}

	now := m.now().UTC()
	if now.Sub(session.LastSeenAt) > m.cfg.SessionTimeout {
		_ = m.sessions.Delete(ctx, session.ID)
		return nil, errs.New(errs.KindInvalidToken, "session timed out")
	}
	if err := m.sessions.Touch(ctx, session.ID, now); err != nil {
		return nil, errs.New(errs.KindInvalidToken, "session is no longer active")
	}

	m.mu.RLock()
	user := m.users[session.PrincipalID]
	m.mu.RUnlock()
	if user == nil || user.Disabled {
		return nil, errs.New(errs.KindInvalidToken, "principal is no longer active")
	}

	return principalForUser(user)
}

// Logout destroys the session bound to the token. Destruction is
// linearisable relative to validation of the same token.
func (m *Manager) Logout(ctx context.Context, token string) error {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.KindInvalidToken, "unexpected signing method")
		}
		return m.cfg.TokenSecret, nil
	})
	if err != nil || !parsed.Valid {
		return errs.New(errs.KindInvalidToken, "bearer token is not valid")
	}
	return m.sessions.Delete(ctx, claims.ID)
}

func (m *Manager) signToken(s *Session) (string, error) {
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  s.PrincipalID,
			ID:       s.ID,
			IssuedAt: jwt.NewNumericDate(s.CreatedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.TokenSecret)
}

// --- API keys ---------------------------------------------------------------

// ValidateAPIKey resolves a full API key value to its principal.
func (m *Manager) ValidateAPIKey(key string) (*Principal, error) {
	m.mu.RLock()
	rec := m.keys[hashAPIKey(key)]
	m.mu.RUnlock()

	if rec == nil || rec.Deleted {
		return nil, errs.New(errs.KindInvalidKey, "unknown API key")
	}
	if !rec.Enabled {
		return nil, errs.New(errs.KindInvalidKey, "API key is disabled")
	}
	if rec.ExpiresAt != nil && m.now().After(*rec.ExpiresAt) {
		return nil, errs.New(errs.KindInvalidKey, "API key has expired")
	}

	return principalForKey(rec)
}

// ResolveRequest resolves a request to a principal. Priority: X-API-Key
// header, then Authorization: Bearer.
func (m *Manager) ResolveRequest(ctx context.Context, headers http.Header) (*Principal, error) {
	if key := headers.Get(HeaderAPIKey); key != "" {
		return m.ValidateAPIKey(key)
	}
	if authz := headers.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok {
			return nil, errs.New(errs.KindInvalidToken, "authorization scheme must be Bearer")
		}
		return m.ValidateBearer(ctx, strings.TrimSpace(token))
	}
	return nil, errs.New(errs.KindInvalidToken, "no credentials presented")
}

// APIKeySpec describes a key to create.
type APIKeySpec struct {
	Name            string     `json:"name"`
	Roles           []string   `json:"roles,omitempty"`
	AccessMode      AccessMode `json:"toolAccessMode,omitempty"`
	AllowedTools    []string   `json:"allowedTools,omitempty"`
	AllowedPatterns []string   `json:"allowedPatterns,omitempty"`
	RateLimit       *RateLimit `json:"rateLimit,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// CreateAPIKey mints a new key. The full key value is returned exactly
// once; storage keeps only the hash and the partial form.
func (m *Manager) CreateAPIKey(spec APIKeySpec) (string, *APIKeyRecord, error) {
	if spec.AccessMode == "" {
		spec.AccessMode = AccessAllowListed
	}
	// Reject patterns that will not compile before persisting anything.
	probe := &Principal{AllowedPatterns: spec.AllowedPatterns}
	if err := probe.compilePatterns(); err != nil {
		return "", nil, errs.Wrap(errs.KindInvalidArgument, "invalid access pattern", err)
	}

	full, partial, hash := newAPIKeyValue()
	rec := &APIKeyRecord{
		KeyID:           uuid.New().String(),
		Name:            spec.Name,
		Partial:         partial,
		Hash:            hash,
		Roles:           spec.Roles,
		AccessMode:      spec.AccessMode,
		AllowedTools:    spec.AllowedTools,
		AllowedPatterns: spec.AllowedPatterns,
		RateLimit:       spec.RateLimit,
		Enabled:         true,
		CreatedAt:       m.now().UTC(),
		ExpiresAt:       spec.ExpiresAt,
	}

	m.mu.Lock()
	m.keys[hash] = rec
	err := saveAPIKeys(m.cfg.StoreDir, m.keyList())
	m.mu.Unlock()
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, "persist API key", err)
	}

	m.log.Info("API key created", "keyId", rec.KeyID, "partial", partial)
	return full, rec, nil
}

// FindAPIKey looks up a key record by its partial form or key id.
func (m *Manager) FindAPIKey(partialOrID string) (*APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.keys {
		if rec.KeyID == partialOrID || rec.Partial == partialOrID {
			return rec, nil
		}
	}
	return nil, errs.Newf(errs.KindNotFound, "API key %q not found", partialOrID)
}

// ListAPIKeys returns all key records, deleted ones included for the
// audit trail.
func (m *Manager) ListAPIKeys() []*APIKeyRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyList()
}

// SetAPIKeyEnabled flips a key's enabled state, addressed by partial or id.
func (m *Manager) SetAPIKeyEnabled(partialOrID string, enabled bool) error {
	rec, err := m.FindAPIKey(partialOrID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rec.Enabled = enabled
	err = saveAPIKeys(m.cfg.StoreDir, m.keyList())
	m.mu.Unlock()
	if err != nil {
		return errs.Wrap(errs.KindInternal, "persist API key", err)
	}
	return nil
}

// DeleteAPIKey marks a key deleted without removing its record.
func (m *Manager) DeleteAPIKey(partialOrID string) error {
	rec, err := m.FindAPIKey(partialOrID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rec.Deleted = true
	rec.Enabled = false
	err = saveAPIKeys(m.cfg.StoreDir, m.keyList())
	m.mu.Unlock()
	if err != nil {
		return errs.Wrap(errs.KindInternal, "persist API key", err)
	}
	return nil
}

// keyList flattens the key table. Caller holds at least the read lock.
func (m *Manager) keyList() []*APIKeyRecord {
	out := make([]*APIKeyRecord, 0, len(m.keys))
	for _, rec := range m.keys {
		out = append(out, rec)
	}
	return out
}

// --- users ------------------------------------------------------------------

// UserSpec describes a user to create or update.
type UserSpec struct {
	Username        string     `json:"username"`
	Password        string     `json:"password"`
	Roles           []string   `json:"roles,omitempty"`
	AccessMode      AccessMode `json:"toolAccessMode,omitempty"`
	AllowedTools    []string   `json:"allowedTools,omitempty"`
	AllowedPatterns []string   `json:"allowedPatterns,omitempty"`
	RateLimit       *RateLimit `json:"rateLimit,omitempty"`
}

// CreateUser adds a user account.
func (m *Manager) CreateUser(spec UserSpec) (*UserRecord, error) {
	if spec.Username == "" || spec.Password == "" {
		return nil, errs.New(errs.KindInvalidArgument, "username and password are required").
			WithFields("username", "password")
	}
	if spec.AccessMode == "" {
		spec.AccessMode = AccessAllowListed
	}
	probe := &Principal{AllowedPatterns: spec.AllowedPatterns}
	if err := probe.compilePatterns(); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "invalid access pattern", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == spec.Username {
			return nil, errs.Newf(errs.KindConflict, "user %q already exists", spec.Username)
		}
	}

	salt := newSalt()
	rec := &UserRecord{
		UserID:          uuid.New().String(),
		Username:        spec.Username,
		PasswordSalt:    salt,
		PasswordHash:    hashPassword(salt, spec.Password),
		Roles:           spec.Roles,
		AccessMode:      spec.AccessMode,
		AllowedTools:    spec.AllowedTools,
		AllowedPatterns: spec.AllowedPatterns,
		RateLimit:       spec.RateLimit,
		CreatedAt:       m.now().UTC(),
	}
	m.users[rec.UserID] = rec

	if err := saveUsers(m.cfg.StoreDir, m.userList()); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "persist user", err)
	}
	return rec, nil
}

// GetUser returns a user record by id or username.
func (m *Manager) GetUser(idOrName string) (*UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[idOrName]; ok {
		return u, nil
	}
	for _, u := range m.users {
		if u.Username == idOrName {
			return u, nil
		}
	}
	return nil, errs.Newf(errs.KindNotFound, "user %q not found", idOrName)
}

// ListUsers returns all user records.
func (m *Manager) ListUsers() []*UserRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userList()
}

// SetUserDisabled flips a user's disabled state. Admin users cannot be
// disabled.
func (m *Manager) SetUserDisabled(idOrName string, disabled bool) error {
	rec, err := m.GetUser(idOrName)
	if err != nil {
		return err
	}
	if disabled && isAdminRecord(rec) {
		return errs.New(errs.KindConflict, "admin user cannot be disabled")
	}

	m.mu.Lock()
	rec.Disabled = disabled
	err = saveUsers(m.cfg.StoreDir, m.userList())
	m.mu.Unlock()
	if err != nil {
		return errs.Wrap(errs.KindInternal, "persist user", err)
	}
	return nil
}

// DeleteUser removes a user account. Admin users cannot be deleted.
func (m *Manager) DeleteUser(idOrName string) error {
	rec, err := m.GetUser(idOrName)
	if err != nil {
		return err
	}
	if isAdminRecord(rec) {
		return errs.New(errs.KindConflict, "admin user cannot be deleted")
	}

	m.mu.Lock()
	delete(m.users, rec.UserID)
	err = saveUsers(m.cfg.StoreDir, m.userList())
	m.mu.Unlock()
	if err != nil {
		return errs.Wrap(errs.KindInternal, "persist user", err)
	}
	return nil
}

// userList flattens the user table. Caller holds at least the read lock.
func (m *Manager) userList() []*UserRecord {
	out := make([]*UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

func isAdminRecord(u *UserRecord) bool {
	for _, r := range u.Roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// --- principal construction -------------------------------------------------

func principalForUser(u *UserRecord) (*Principal, error) {
	p := &Principal{
		ID:              u.UserID,
		Kind:            PrincipalUser,
		Roles:           u.Roles,
		AccessMode:      u.AccessMode,
		AllowedTools:    u.AllowedTools,
		AllowedPatterns: u.AllowedPatterns,
		RateLimit:       u.RateLimit,
	}
	if err := p.compilePatterns(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "principal has invalid access patterns", err)
	}
	return p, nil
}

func principalForKey(k *APIKeyRecord) (*Principal, error) {
	p := &Principal{
		ID:              k.KeyID,
		Kind:            PrincipalAPIKey,
		Roles:           k.Roles,
		AccessMode:      k.AccessMode,
		AllowedTools:    k.AllowedTools,
		AllowedPatterns: k.AllowedPatterns,
		RateLimit:       k.RateLimit,
		ExpiresAt:       k.ExpiresAt,
	}
	if err := p.compilePatterns(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "principal has invalid access patterns", err)
	}
	return p, nil
}
