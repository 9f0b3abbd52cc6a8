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
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 32 << 20

// restHandler wraps one upstream HTTP endpoint. Outbound calls go
// through a circuit breaker so a failing upstream cannot absorb every
// worker for the full deadline.
type restHandler struct {
	def     *registry.Definition
	cfg     *registry.RESTConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*restResponse]
	log     logr.Logger
}

type restResponse struct {
	status int
	body   []byte
}

func newRESTHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.REST
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "rest endpoint is not a valid URL", err)
	}

	h := &restHandler{
		def:    def,
		cfg:    cfg,
		client: &http.Client{},
		log:    log.WithValues("tool", def.Name),
	}
	h.breaker = gobreaker.NewCircuitBreaker[*restResponse](gobreaker.Settings{
		Name:    def.Name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return h, nil
}

func (h *restHandler) Definition() *registry.Definition { return h.def }

func (h *restHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	req, err := h.buildRequest(ctx, args)
	if err != nil {
		return nil, err
	}

	resp, err := h.breaker.Execute(func() (*restResponse, error) {
		return h.do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "upstream circuit is open", err)
		}
		return nil, errs.Classify(err)
	}

	if resp.status >= http.StatusBadRequest {
		return nil, errs.Newf(errs.KindUpstreamFailure, "upstream returned status %d", resp.status)
	}
	return h.decode(resp)
}

// buildRequest substitutes caller arguments into the upstream request.
// Path placeholders of the form {name} are replaced first; remaining
// arguments become query parameters for GET and a JSON body otherwise.
func (h *restHandler) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	endpoint := h.cfg.Endpoint
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(fmt.Sprint(v)))
			continue
		}
		remaining[k] = v
	}

	method := strings.ToUpper(h.cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(remaining) > 0 {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, errs.Wrap(errs.KindInvalidArgument, "endpoint is not a valid URL", err)
			}
			q := u.Query()
			for k, v := range remaining {
				q.Set(k, fmt.Sprint(v))
			}
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	} else {
		data, err := json.Marshal(remaining)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "encode request body", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "build upstream request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	if a := h.cfg.Auth; a != nil {
		switch a.Kind {
		case registry.RESTAuthAPIKey:
			header := a.Header
			if header == "" {
				header = "X-API-Key"
			}
			req.Header.Set(header, a.Key)
		case registry.RESTAuthBasic:
			req.SetBasicAuth(a.Username, a.Password)
		}
	}
	return req, nil
}

func (h *restHandler) do(req *http.Request) (*restResponse, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return &restResponse{status: resp.StatusCode, body: body}, nil
}

// decode shapes the upstream body per the configured response format.
func (h *restHandler) decode(resp *restResponse) (map[string]any, error) {
	switch strings.ToLower(h.cfg.ResponseFormat) {
	case "", "json":
		return decodeJSONBody(resp.body)
	case "csv":
		return decodeCSVBody(resp.body, h.cfg.CSV)
	case "xml":
		return decodeXMLBody(resp.body)
	case "text":
		return map[string]any{"text": string(resp.body)}, nil
	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown response format %q", h.cfg.ResponseFormat)
	}
}

func decodeJSONBody(body []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "upstream body is not valid JSON", err)
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"data": v}, nil
}

// decodeCSVBody parses a CSV body honouring delimiter, has_header, and
// skip_rows.
func decodeCSVBody(body []byte, opts *registry.CSVOptions) (map[string]any, error) {
	if opts == nil {
		opts = &registry.CSVOptions{HasHeader: true}
	}

	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	if opts.Delimiter != "" {
		r.Comma = rune(opts.Delimiter[0])
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "upstream body is not valid CSV", err)
	}
	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(records) {
			records = nil
		} else {
			records = records[opts.SkipRows:]
		}
	}

	var columns []string
	if opts.HasHeader && len(records) > 0 {
		columns = records[0]
		records = records[1:]
	} else if len(records) > 0 {
		columns = make([]string, len(records[0]))
		for i := range columns {
			columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	return map[string]any{
		"columns":   columns,
		"rows":      rows,
		"row_count": len(rows),
	}, nil
}
