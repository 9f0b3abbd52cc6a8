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

// Package auth provides credential verification, session and API key
// lifecycle, principal resolution, and per-tool access decisions.
package auth

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// PrincipalKind distinguishes session users from API keys.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalAPIKey PrincipalKind = "api_key"
)

// AccessMode describes how a principal's tool access is decided.
type AccessMode string

const (
	AccessAllowAll    AccessMode = "allow_all"
	AccessAllowListed AccessMode = "allow_listed"
	AccessAllowRegex  AccessMode = "allow_regex"
	AccessMixed       AccessMode = "mixed"
)

// AdminRole is the distinguished administrative role.
const AdminRole = "admin"

// RateLimit carries per-principal request quotas. A zero value means
// the corresponding window is unlimited.
type RateLimit struct {
	PerMinute int `json:"requestsPerMinute,omitempty"`
	PerHour   int `json:"requestsPerHour,omitempty"`
}

// Unlimited reports whether no quota applies.
func (r *RateLimit) Unlimited() bool {
	return r == nil || (r.PerMinute <= 0 && r.PerHour <= 0)
}

// Principal is the resolved identity of a caller.
type Principal struct {
	ID              string        `json:"principalId"`
	Kind            PrincipalKind `json:"kind"`
	Roles           []string      `json:"roles,omitempty"`
	AccessMode      AccessMode    `json:"toolAccessMode"`
	AllowedTools    []string      `json:"allowedTools,omitempty"`
	AllowedPatterns []string      `json:"allowedPatterns,omitempty"`
	RateLimit       *RateLimit    `json:"rateLimit,omitempty"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`

	compiled []*regexp.Regexp
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return slices.Contains(p.Roles, AdminRole)
}

// compilePatterns compiles the allow patterns once, anchoring each so a
// pattern must fully match the tool name.
func (p *Principal) compilePatterns() error {
	p.compiled = p.compiled[:0]
	for _, pat := range p.AllowedPatterns {
		re, err := regexp.Compile("^(?:" + pat + ")$")
		if err != nil {
			return fmt.Errorf("compile access pattern %q: %w", pat, err)
		}
		p.compiled = append(p.compiled, re)
	}
	return nil
}

// CanAccess decides whether the principal may call the named tool.
// Order: allow_all or literal "*", then the allow list, then patterns.
func (p *Principal) CanAccess(tool string) bool {
	if p.AccessMode == AccessAllowAll {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == "*" || t == tool {
			return true
		}
	}
	for _, re := range p.compiled {
		if re.MatchString(tool) {
			return true
		}
	}
	return false
}

// Expired reports whether the principal's credential has lapsed.
func (p *Principal) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
