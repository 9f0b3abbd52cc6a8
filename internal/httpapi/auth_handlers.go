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

package httpapi

import (
	"net/http"
	"strings"

	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/errs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	SessionID   string `json:"sessionId"`
	PrincipalID string `json:"principalId"`
}

// handleLogin exchanges user credentials for a session bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	var req loginRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	token, session, err := s.auth.AuthenticateBasic(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:       token,
		SessionID:   session.ID,
		PrincipalID: session.PrincipalID,
	})
}

// handleValidate echoes the resolved principal back to the caller.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// handleLogout destroys the session bound to the bearer token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		s.writeErr(w, errs.New(errs.KindInvalidToken, "logout needs a bearer token"))
		return
	}
	if err := s.auth.Logout(r.Context(), strings.TrimSpace(token)); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
