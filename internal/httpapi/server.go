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

// Package httpapi provides the REST surface of the tool server: auth,
// tool execution, admin operations, studio generation, and the OLAP
// query endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sajhalabs/sajha/internal/audit"
	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/envelope"
	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/olap"
	"github.com/sajhalabs/sajha/internal/registry"
	"github.com/sajhalabs/sajha/internal/studio"
	"github.com/sajhalabs/sajha/pkg/logctx"
)

// Server provides REST API endpoints over the tool server components.
type Server struct {
	log      logr.Logger
	auth     *auth.Manager
	registry *registry.Registry
	envelope *envelope.Envelope
	studio   *studio.Studio
	olap     *olap.Engine
	audit    *audit.Logger
	toolsDir string
}

// NewServer creates the REST API server. The olap engine and audit
// logger may be nil when those subsystems are not configured.
func NewServer(am *auth.Manager, reg *registry.Registry, env *envelope.Envelope,
	st *studio.Studio, engine *olap.Engine, auditLog *audit.Logger,
	toolsDir string, log logr.Logger) *Server {
	return &Server{
		log:      log.WithName("api-server"),
		auth:     am,
		registry: reg,
		envelope: env,
		studio:   st,
		olap:     engine,
		audit:    auditLog,
		toolsDir: toolsDir,
	}
}

// principalHandler is a handler that runs under a resolved principal.
type principalHandler func(w http.ResponseWriter, r *http.Request, p *auth.Principal)

// Handler returns the http.Handler for the API server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth endpoints.
	mux.HandleFunc("/api/auth/token", s.handleLogin)
	mux.HandleFunc("/api/auth/validate", s.authed(s.handleValidate))
	mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// Tool endpoints.
	mux.HandleFunc("/api/tools", s.authed(s.handleTools))
	mux.HandleFunc("/api/tools/execute", s.authed(s.handleExecute))
	mux.HandleFunc("/api/tools/", s.authed(s.handleToolSchema))

	// Admin endpoints.
	mux.HandleFunc("/api/admin/tools/reload", s.admin(s.handleReload))
	mux.HandleFunc("/api/admin/tools/", s.admin(s.handleAdminTool))
	mux.HandleFunc("/api/admin/apikeys", s.admin(s.handleAPIKeys))
	mux.HandleFunc("/api/admin/apikeys/", s.admin(s.handleAPIKey))
	mux.HandleFunc("/api/admin/users", s.admin(s.handleUsers))
	mux.HandleFunc("/api/admin/users/", s.admin(s.handleUser))
	mux.HandleFunc("/api/admin/audit", s.admin(s.handleAudit))
	mux.HandleFunc("/api/admin/metrics/csv", s.admin(s.handleMetricsCSV))

	// Studio generators create tools, so they sit behind the admin gate.
	mux.HandleFunc("/api/studio/", s.admin(s.handleStudio))

	// OLAP query endpoints.
	mux.HandleFunc("/api/olap/", s.authed(s.handleOLAP))

	return mux
}

// authed resolves the request principal before running the handler.
func (s *Server) authed(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.ResolveRequest(r.Context(), r.Header)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		ctx := logctx.WithRequestID(r.Context(), uuid.NewString())
		ctx = logctx.WithPrincipalID(ctx, p.ID)
		next(w, r.WithContext(ctx), p)
	}
}

// admin additionally requires the admin role.
func (s *Server) admin(next principalHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
		if !p.IsAdmin() {
			s.writeErr(w, errs.New(errs.KindAccessDenied, "admin role required"))
			return
		}
		next(w, r, p)
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error(err, "failed to encode JSON response")
	}
}

// writeErr maps a classified error onto an HTTP error response. Quota
// errors advertise the per-minute window via Retry-After.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}

	body := map[string]any{
		"error": err.Error(),
		"kind":  string(kind),
	}
	if fields := errs.FieldPaths(err); len(fields) > 0 {
		body["fields"] = fields
	}
	s.writeJSON(w, status, body)
}

// decodeBody decodes a JSON request body into v.
func (s *Server) decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "invalid request body", err)
	}
	return nil
}

// pathTail returns the path segments after prefix.
func pathTail(path, prefix string) []string {
	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down API server")
		if err := server.Shutdown(context.Background()); err != nil {
			s.log.Error(err, "error shutting down API server")
		}
	}()

	s.log.Info("starting API server", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
