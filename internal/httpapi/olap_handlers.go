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
	"github.com/sajhalabs/sajha/internal/olap"
)

// statsRequest adds the analysis kind discriminator to the shared
// stats parameters.
type statsRequest struct {
	Kind string `json:"kind"`
	olap.StatsRequest
}

// cohortRequest adds the retention switch to the cohort parameters.
type cohortRequest struct {
	Retention bool `json:"retention"`
	olap.CohortRequest
}

// handleOLAP dispatches /api/olap/{pivot,rollup,window,timeseries,stats,cohort}.
func (s *Server) handleOLAP(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	if r.Method != http.MethodPost {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "method not allowed"))
		return
	}
	if s.olap == nil {
		s.writeErr(w, errs.New(errs.KindUnavailable, "analytical engine is not configured"))
		return
	}

	parts := pathTail(r.URL.Path, "/api/olap/")
	if len(parts) != 1 {
		s.writeErr(w, errs.New(errs.KindInvalidArgument, "expected /api/olap/{operation}"))
		return
	}

	switch parts[0] {
	case "pivot":
		var req olap.PivotRequest
		if err := s.decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
		res, err := s.olap.Pivot(r.Context(), req)
		s.writeResult(w, res, err)

	case "rollup":
		var req olap.RollupRequest
		if err := s.decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
		res, err := s.olap.Rollup(r.Context(), req)
		s.writeResult(w, res, err)

	case "window":
		var req olap.WindowRequest
		if err := s.decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
		res, err := s.olap.Window(r.Context(), req)
		s.writeResult(w, res, err)

	case "timeseries":
		var req olap.TimeSeriesRequest
		if err := s.decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
		res, err := s.olap.TimeSeries(r.Context(), req)
		s.writeResult(w, res, err)

	case "stats":
		s.handleStats(w, r)

	case "cohort":
		var req cohortRequest
		if err := s.decodeBody(r, &req); err != nil {
			s.writeErr(w, err)
			return
		}
		run := s.olap.Cohort
		if req.Retention {
			run = s.olap.Retention
		}
		rows, sqlText, err := run(r.Context(), req.CohortRequest)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"cohorts": rows, "sql": sqlText})

	case "datasets":
		s.writeJSON(w, http.StatusOK, map[string]any{"datasets": s.olap.Catalog().Datasets()})

	default:
		s.writeErr(w, errs.Newf(errs.KindInvalidArgument, "unknown olap operation %q", parts[0]))
	}
}

// handleStats dispatches the stats analysis kinds.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req statsRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	switch req.Kind {
	case "", "summary":
		res, err := s.olap.Summary(r.Context(), req.StatsRequest)
		s.writeResult(w, res, err)

	case "percentiles":
		res, err := s.olap.Percentiles(r.Context(), req.StatsRequest)
		s.writeResult(w, res, err)

	case "distribution":
		res, err := s.olap.Distribution(r.Context(), req.StatsRequest)
		s.writeResult(w, res, err)

	case "correlation":
		matrix, sqlText, err := s.olap.Correlation(r.Context(), req.StatsRequest)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"matrix": matrix, "sql": sqlText})

	case "histogram":
		bins, sqlText, err := s.olap.Histogram(r.Context(), req.StatsRequest)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"bins": bins, "sql": sqlText})

	case "outliers":
		outliers, bounds, err := s.olap.Outliers(r.Context(), req.StatsRequest)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"outliers": outliers, "bounds": bounds})

	default:
		s.writeErr(w, errs.Newf(errs.KindInvalidArgument, "unknown stats kind %q", req.Kind))
	}
}

// writeResult writes a tabular olap result or its error.
func (s *Server) writeResult(w http.ResponseWriter, res *olap.Result, err error) {
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
