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

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// ValidDAXQuery reports whether a query begins with EVALUATE,
// case-insensitive after leading whitespace.
func ValidDAXQuery(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "EVALUATE")
}

// daxHandler posts a single DAX query against a dataset.
type daxHandler struct {
	def    *registry.Definition
	cfg    *registry.DAXConfig
	client *http.Client
	tokens oauth2.TokenSource
	log    logr.Logger
}

func newDAXHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.DAX
	if !ValidDAXQuery(cfg.Query) {
		return nil, errs.New(errs.KindInvalidArgument, "DAX query must begin with EVALUATE")
	}
	return &daxHandler{
		def:    def,
		cfg:    cfg,
		client: &http.Client{},
		tokens: newClientCredentialsSource(cfg.Auth),
		log:    log.WithValues("tool", def.Name),
	}, nil
}

func (h *daxHandler) Definition() *registry.Definition { return h.def }

// daxResponse mirrors the executeQueries result shape.
type daxResponse struct {
	Results []struct {
		Tables []struct {
			Rows []map[string]any `json:"rows"`
		} `json:"tables"`
	} `json:"results"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *daxHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := h.cfg.Query
	if override, ok := args["query"].(string); ok && override != "" {
		if !ValidDAXQuery(override) {
			return nil, errs.New(errs.KindInvalidArgument, "DAX query must begin with EVALUATE").
				WithFields("query")
		}
		query = override
	}

	started := time.Now()

	payload := map[string]any{
		"queries": []map[string]any{{"query": query}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode DAX request", err)
	}

	url := fmt.Sprintf("%s/workspaces/%s/datasets/%s/executeQueries",
		h.cfg.BaseURL, h.cfg.Workspace, h.cfg.Dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "build DAX request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	tok, err := h.tokens.Token()
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "obtain access token", err)
	}
	tok.SetAuthHeader(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "read DAX response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errs.Newf(errs.KindUpstreamFailure, "DAX service returned status %d", resp.StatusCode)
	}

	var parsed daxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "decode DAX response", err)
	}
	if parsed.Error != nil {
		return nil, errs.Newf(errs.KindUpstreamFailure, "DAX query failed: %s", parsed.Error.Message)
	}

	rows := daxRows(&parsed)
	maxRows := h.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	truncated := rows
	if len(truncated) > maxRows {
		truncated = truncated[:maxRows]
	}

	return map[string]any{
		"row_count":          len(rows),
		"columns":            daxColumns(rows),
		"data":               truncated,
		"query_time_seconds": time.Since(started).Seconds(),
	}, nil
}

func daxRows(resp *daxResponse) []map[string]any {
	if len(resp.Results) == 0 || len(resp.Results[0].Tables) == 0 {
		return nil
	}
	return resp.Results[0].Tables[0].Rows
}

// daxColumns derives a stable column list from the first row.
func daxColumns(rows []map[string]any) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
