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

	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// handleTools lists the tools the principal may call.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	all := s.registry.List()
	visible := make([]registry.Summary, 0, len(all))
	for _, t := range all {
		if !p.CanAccess(t.Name) {
			continue
		}
		visible = append(visible, t)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": visible})
}

type executeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// handleExecute runs one tool through the execution envelope.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	var req executeRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	if req.Tool == "" {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "tool is required").WithFields("tool"))
		return
	}

	result, err := s.envelope.Execute(r.Context(), p, req.Tool, req.Arguments)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleToolSchema serves /api/tools/{name}/schema.
func (s *Server) handleToolSchema(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if r.Method != http.MethodGet {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	parts := pathTail(r.URL.Path, "/api/tools/")
	if len(parts) != 2 || parts[1] != "schema" {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "expected /api/tools/{name}/schema"))
		return
	}
	name := parts[0]

	// Tools outside the principal's policy look absent.
	if !p.CanAccess(name) {
		s.writeErr(w, errs.Newf(errs.KindToolNotFound, "tool %q is not registered", name))
		return
	}
	def, err := s.registry.Lookup(name)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":         def.Name,
		"description":  def.Description,
		"version":      def.Version,
		"inputSchema":  def.InputSchema,
		"outputSchema": def.OutputSchema,
	})
}
