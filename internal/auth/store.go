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
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	usersFile   = "users.json"
	apiKeysFile = "apikeys.json"
)

// UserRecord is the persisted form of a user account. The auth store
// files are plain JSON documents that may be hand-edited; the server
// re-reads them only on explicit reload.
type UserRecord struct {
	UserID          string     `json:"userId"`
	Username        string     `json:"username"`
	PasswordSalt    string     `json:"passwordSalt"`
	PasswordHash    string     `json:"passwordHash"`
	Roles           []string   `json:"roles,omitempty"`
	AccessMode      AccessMode `json:"toolAccessMode"`
	AllowedTools    []string   `json:"allowedTools,omitempty"`
	AllowedPatterns []string   `json:"allowedPatterns,omitempty"`
	RateLimit       *RateLimit `json:"rateLimit,omitempty"`
	Disabled        bool       `json:"disabled,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// APIKeyRecord is the persisted form of a long-lived API key. Only the
// hash and the short partial form are stored; the full key value is
// shown exactly once at creation. Deleted keys keep their record so the
// audit trail stays resolvable.
type APIKeyRecord struct {
	KeyID           string     `json:"keyId"`
	Name            string     `json:"name"`
	Partial         string     `json:"partial"`
	Hash            string     `json:"hash"`
	Roles           []string   `json:"roles,omitempty"`
	AccessMode      AccessMode `json:"toolAccessMode"`
	AllowedTools    []string   `json:"allowedTools,omitempty"`
	AllowedPatterns []string   `json:"allowedPatterns,omitempty"`
	RateLimit       *RateLimit `json:"rateLimit,omitempty"`
	Enabled         bool       `json:"enabled"`
	Deleted         bool       `json:"deleted,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// storeState is the on-disk shape of the auth store directory.
type storeState struct {
	Users   []*UserRecord   `json:"users"`
	APIKeys []*APIKeyRecord `json:"apiKeys"`
}

// loadStore reads the users and API keys documents from dir. Missing
// files yield an empty store.
func loadStore(dir string) (*storeState, error) {
	st := &storeState{}

	if data, err := os.ReadFile(filepath.Join(dir, usersFile)); err == nil {
		if err := json.Unmarshal(data, &st.Users); err != nil {
			return nil, fmt.Errorf("decode %s: %w", usersFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", usersFile, err)
	}

	if data, err := os.ReadFile(filepath.Join(dir, apiKeysFile)); err == nil {
		if err := json.Unmarshal(data, &st.APIKeys); err != nil {
			return nil, fmt.Errorf("decode %s: %w", apiKeysFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", apiKeysFile, err)
	}

	return st, nil
}

// saveUsers writes the user table back to the store directory.
func saveUsers(dir string, users []*UserRecord) error {
	return writeJSONFile(filepath.Join(dir, usersFile), users)
}

// saveAPIKeys writes the API key table back to the store directory.
func saveAPIKeys(dir string, keys []*APIKeyRecord) error {
	return writeJSONFile(filepath.Join(dir, apiKeysFile), keys)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// --- credential helpers -----------------------------------------------------

// hashPassword returns the hex SHA-256 of salt+password.
func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// newSalt returns a random 16-byte hex salt.
func newSalt() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// apiKeyPartialLen is the length of the displayable key prefix.
const apiKeyPartialLen = 12

// newAPIKeyValue generates a fresh API key value with its partial form
// and storage hash.
func newAPIKeyValue() (full, partial, hash string) {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	full = "sk-" + hex.EncodeToString(b)
	partial = full[:apiKeyPartialLen]
	hash = hashAPIKey(full)
	return full, partial, hash
}

// hashAPIKey returns the hex SHA-256 of a key value.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
