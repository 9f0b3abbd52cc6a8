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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// DefaultPollInterval is the export status poll cadence.
const DefaultPollInterval = 5 * time.Second

// tokenExpiryMargin refreshes cached OAuth tokens 60s before expiry.
const tokenExpiryMargin = 60 * time.Second

// newClientCredentialsSource builds a caching token source for the
// client-credentials grant shared by the report and DAX adapters.
func newClientCredentialsSource(oc registry.OAuthClient) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		TokenURL:     oc.TokenURL,
		Scopes:       oc.Scopes,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(context.Background()), tokenExpiryMargin)
}

// reportHandler drives an asynchronous report export: initiate, poll,
// fetch.
type reportHandler struct {
	def    *registry.Definition
	cfg    *registry.ReportConfig
	client *http.Client
	tokens oauth2.TokenSource
	log    logr.Logger

	// pollInterval is overridable in tests.
	pollInterval time.Duration
}

var reportFormats = map[string]bool{"PDF": true, "PPTX": true, "PNG": true}

func newReportHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.Report
	if !reportFormats[strings.ToUpper(cfg.Format)] {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown export format %q", cfg.Format)
	}

	interval := DefaultPollInterval
	if cfg.PollIntervalSeconds > 0 {
		interval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	return &reportHandler{
		def:          def,
		cfg:          cfg,
		client:       &http.Client{},
		tokens:       newClientCredentialsSource(cfg.Auth),
		log:          log.WithValues("tool", def.Name),
		pollInterval: interval,
	}, nil
}

func (h *reportHandler) Definition() *registry.Definition { return h.def }

// exportStatus is the poll response shape.
type exportStatus struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	PercentComplete int    `json:"percentComplete"`
	Error           string `json:"error,omitempty"`
}

func (h *reportHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	started := time.Now()

	exportID, err := h.initiate(ctx, args)
	if err != nil {
		return nil, err
	}

	if err := h.await(ctx, exportID); err != nil {
		return nil, err
	}

	data, err := h.fetchFile(ctx, exportID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"format":              strings.ToUpper(h.cfg.Format),
		"size_bytes":          len(data),
		"data":                base64.StdEncoding.EncodeToString(data),
		"export_time_seconds": time.Since(started).Seconds(),
	}, nil
}

// initiate starts the asynchronous export and returns its id.
func (h *reportHandler) initiate(ctx context.Context, args map[string]any) (string, error) {
	payload := map[string]any{"format": strings.ToUpper(h.cfg.Format)}
	if len(h.cfg.Pages) > 0 {
		payload["pages"] = h.cfg.Pages
	}
	filters := map[string]string{}
	for k, v := range h.cfg.Filters {
		filters[k] = v
	}
	if extra, ok := args["filters"].(map[string]any); ok {
		for k, v := range extra {
			filters[k] = fmt.Sprint(v)
		}
	}
	if len(filters) > 0 {
		payload["filters"] = filters
	}

	var status exportStatus
	url := fmt.Sprintf("%s/workspaces/%s/reports/%s/exports", h.cfg.BaseURL, h.cfg.Workspace, h.cfg.Report)
	if err := h.call(ctx, http.MethodPost, url, payload, &status); err != nil {
		return "", err
	}
	if status.ID == "" {
		return "", errs.New(errs.KindUpstreamFailure, "export service returned no export id")
	}
	return status.ID, nil
}

// await polls the export until it succeeds, fails, or the deadline
// lapses.
func (h *reportHandler) await(ctx context.Context, exportID string) error {
	url := fmt.Sprintf("%s/workspaces/%s/reports/%s/exports/%s",
		h.cfg.BaseURL, h.cfg.Workspace, h.cfg.Report, exportID)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		var status exportStatus
		if err := h.call(ctx, http.MethodGet, url, nil, &status); err != nil {
			return err
		}

		switch strings.ToLower(status.Status) {
		case "succeeded", "completed":
			return nil
		case "failed":
			return errs.Newf(errs.KindUpstreamFailure, "export failed: %s", status.Error)
		}
		h.log.V(1).Info("export in progress", "export", exportID, "percent", status.PercentComplete)

		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindTimeout, "export did not complete before the deadline", ctx.Err())
		case <-ticker.C:
		}
	}
}

// fetchFile downloads the exported document.
func (h *reportHandler) fetchFile(ctx context.Context, exportID string) ([]byte, error) {
	url := fmt.Sprintf("%s/workspaces/%s/reports/%s/exports/%s/file",
		h.cfg.BaseURL, h.cfg.Workspace, h.cfg.Report, exportID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "build export file request", err)
	}
	if err := h.authorize(req); err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errs.Newf(errs.KindUpstreamFailure, "export file fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "read export file", err)
	}
	return data, nil
}

// call performs one authorised JSON round-trip.
func (h *reportHandler) call(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "encode export request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "build export request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := h.authorize(req); err != nil {
		return err
	}
	if h.cfg.Tenant != "" {
		req.Header.Set("X-Tenant-Id", h.cfg.Tenant)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errs.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return errs.Newf(errs.KindUpstreamFailure, "export service returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Wrap(errs.KindUpstreamFailure, "decode export response", err)
		}
	}
	return nil
}

func (h *reportHandler) authorize(req *http.Request) error {
	tok, err := h.tokens.Token()
	if err != nil {
		return errs.Wrap(errs.KindUpstreamFailure, "obtain access token", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
