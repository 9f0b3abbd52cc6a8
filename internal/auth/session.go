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
	"errors"
	"sync"
	"time"
)

// Common errors returned by session store implementations.
var (
	// ErrSessionNotFound is returned when a session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreClosed is returned after the store has been closed.
	ErrStoreClosed = errors.New("session store is closed")
)

// Session binds a short-lived bearer token to a principal.
type Session struct {
	// ID is the unique session identifier embedded in the bearer token.
	ID string `json:"id"`
	// PrincipalID is the authenticated principal.
	PrincipalID string `json:"principalId"`
	// CreatedAt is the session creation time.
	CreatedAt time.Time `json:"createdAt"`
	// LastSeenAt advances on every validated use.
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// SessionStore persists live sessions. Sessions are in-memory by default;
// the redis provider exists for multi-replica deployments.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemorySessionStore implements SessionStore with an in-process map.
// Suitable for single-instance deployments and tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Create stores a new session.
func (m *MemorySessionStore) Create(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// Get retrieves a session by ID. Returns a copy.
func (m *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// Touch advances the session's last-seen time.
func (m *MemorySessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastSeenAt = at
	return nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Close shuts down the store.
func (m *MemorySessionStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	return nil
}
