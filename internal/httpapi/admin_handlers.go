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
	"strconv"
	"time"

	"github.com/sajhalabs/sajha/internal/audit"
	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/errs"
)

// handleReload rescans the tools directory and swaps the catalog.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}
	report, err := s.registry.ReloadAll(s.toolsDir)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleAdminTool serves /api/admin/tools/{name}[/enable|/disable|/config].
func (s *Server) handleAdminTool(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	parts := pathTail(r.URL.Path, "/api/admin/tools/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.studio.Remove(parts[0]); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "tool": parts[0]})

	case len(parts) == 2 && parts[1] == "enable" && r.Method == http.MethodPost:
		if err := s.registry.Enable(parts[0]); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled", "tool": parts[0]})

	case len(parts) == 2 && parts[1] == "disable" && r.Method == http.MethodPost:
		if err := s.registry.Disable(parts[0]); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled", "tool": parts[0]})

	case len(parts) == 2 && parts[1] == "config" && r.Method == http.MethodGet:
		def, err := s.registry.Lookup(parts[0])
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, def)

	case len(parts) == 2 && parts[1] == "metrics" && r.Method == http.MethodGet:
		m, err := s.registry.MetricsFor(parts[0])
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, m.Snapshot())

	default:
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "unknown admin tool operation"))
	}
}

// handleAPIKeys lists or creates API keys. The full key value appears
// only in the creation response.
func (s *Server) handleAPIKeys(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"apiKeys": s.auth.ListAPIKeys()})

	case http.MethodPost:
		var spec auth.APIKeySpec
		if err := s.decodeBody(r, &spec); err != nil {
			s.writeErr(w, err)
			return
		}
		full, rec, err := s.auth.CreateAPIKey(spec)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"key": full, "record": rec})

	default:
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
	}
}

// handleAPIKey serves /api/admin/apikeys/{id}[/enable|/disable].
func (s *Server) handleAPIKey(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	parts := pathTail(r.URL.Path, "/api/admin/apikeys/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		rec, err := s.auth.FindAPIKey(parts[0])
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.auth.DeleteAPIKey(parts[0]); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	case len(parts) == 2 && parts[1] == "enable" && r.Method == http.MethodPost:
		if err := s.auth.SetAPIKeyEnabled(parts[0], true); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})

	case len(parts) == 2 && parts[1] == "disable" && r.Method == http.MethodPost:
		if err := s.auth.SetAPIKeyEnabled(parts[0], false); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})

	default:
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "unknown API key operation"))
	}
}

// handleUsers lists or creates users.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"users": s.auth.ListUsers()})

	case http.MethodPost:
		var spec auth.UserSpec
		if err := s.decodeBody(r, &spec); err != nil {
			s.writeErr(w, err)
			return
		}
		rec, err := s.auth.CreateUser(spec)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rec)

	default:
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
	}
}

// handleUser serves /api/admin/users/{id}[/enable|/disable].
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	parts := pathTail(r.URL.Path, "/api/admin/users/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		rec, err := s.auth.GetUser(parts[0])
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.auth.DeleteUser(parts[0]); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	case len(parts) == 2 && parts[1] == "enable" && r.Method == http.MethodPost:
		if err := s.auth.SetUserDisabled(parts[0], false); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})

	case len(parts) == 2 && parts[1] == "disable" && r.Method == http.MethodPost:
		if err := s.auth.SetUserDisabled(parts[0], true); err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})

	default:
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "unknown user operation"))
	}
}

// handleAudit queries the execution audit trail.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if r.Method != http.MethodGet {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}
	if s.audit == nil {
		s.writeErr(w, errs.New(errs.KindUnavailable, "audit trail is not configured"))
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOpts{
		Tool:        q.Get("tool"),
		PrincipalID: q.Get("principal"),
		Outcome:     q.Get("outcome"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeErr(w, errs.Wrap(errs.KindInvalidArgument, "invalid from timestamp", err))
			return
		}
		opts.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeErr(w, errs.Wrap(errs.KindInvalidArgument, "invalid to timestamp", err))
			return
		}
		opts.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeErr(w, errs.New(errs.KindInvalidArgument, "invalid limit"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeErr(w, errs.New(errs.KindInvalidArgument, "invalid offset"))
			return
		}
		opts.Offset = n
	}

	result, err := s.audit.Query(r.Context(), opts)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleMetricsCSV exports per-tool execution metrics as CSV.
func (s *Server) handleMetricsCSV(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if r.Method != http.MethodGet {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}
	data, err := s.registry.ExportMetricsCSV()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="tool_metrics.csv"`)
	if _, err := w.Write(data); err != nil {
		s.log.Error(err, "failed to write metrics CSV")
	}
}
