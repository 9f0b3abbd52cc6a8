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
	"github.com/sajhalabs/sajha/internal/studio"
)

// handleStudio dispatches /api/studio/{rest,sql,script,report,dax,docstore}.
// Each endpoint validates the posted spec, persists the tool document,
// and returns the generated definition.
func (s *Server) handleStudio(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}

	parts := pathTail(r.URL.Path, "/api/studio/")
	if len(parts) != 1 {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "expected /api/studio/{generator}"))
		return
	}

	var (
		def *registry.Definition
		err error
	)
	switch parts[0] {
	case "rest":
		var spec studio.RESTSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateREST(spec)
		}
	case "sql":
		var spec studio.SQLSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateSQL(spec)
		}
	case "script":
		var spec studio.ScriptSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateScript(spec)
		}
	case "report":
		var spec studio.ReportSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateReport(spec)
		}
	case "dax":
		var spec studio.DAXSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateDAX(spec)
		}
	case "docstore":
		var spec studio.DocStoreSpec
		if err = s.decodeBody(r, &spec); err == nil {
			def, err = s.studio.GenerateDocStore(spec)
		}
	default:
		err = errs.Newf(errs.KindInvalidArgument, "unknown generator %q", parts[0])
	}

	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, def)
}
