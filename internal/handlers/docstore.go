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
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// DefaultMaxFileSize bounds document downloads when the config does not
// set a limit.
const DefaultMaxFileSize = int64(50 << 20)

// docStoreHandler performs search, list, get, and download actions
// against one document store server.
type docStoreHandler struct {
	def    *registry.Definition
	cfg    *registry.DocStoreConfig
	client *http.Client
	tokens oauth2.TokenSource
	log    logr.Logger
}

func newDocStoreHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.DocStore
	if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "document store URL is not valid", err)
	}

	h := &docStoreHandler{
		def:    def,
		cfg:    cfg,
		client: &http.Client{},
		log:    log.WithValues("tool", def.Name),
	}
	switch cfg.AuthKind {
	case registry.DocStoreAuthBasic, registry.DocStoreAuthTicket:
	case registry.DocStoreAuthOAuth:
		if cfg.OAuth == nil {
			return nil, errs.New(errs.KindInvalidArgument, "document store oauth config is missing")
		}
		h.tokens = newClientCredentialsSource(*cfg.OAuth)
	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown document store auth kind %q", cfg.AuthKind)
	}
	return h, nil
}

func (h *docStoreHandler) Definition() *registry.Definition { return h.def }

func (h *docStoreHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	action, _ := args["action"].(string)

	switch action {
	case "search":
		query, _ := args["query"].(string)
		if query == "" {
			return nil, errs.New(errs.KindInvalidArgument, "search requires a query").WithFields("query")
		}
		return h.getJSON(ctx, "/api/search", url.Values{"q": {query}})

	case "list":
		path, _ := args["path"].(string)
		return h.getJSON(ctx, "/api/list", url.Values{"path": {path}})

	case "get":
		id, _ := args["id"].(string)
		if id == "" {
			return nil, errs.New(errs.KindInvalidArgument, "get requires a document id").WithFields("id")
		}
		return h.getJSON(ctx, "/api/docs/"+url.PathEscape(id), nil)

	case "download":
		id, _ := args["id"].(string)
		if id == "" {
			return nil, errs.New(errs.KindInvalidArgument, "download requires a document id").WithFields("id")
		}
		return h.download(ctx, id)

	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown action %q", action).WithFields("action")
	}
}

// download fetches metadata first so oversized documents are refused
// before any content moves.
func (h *docStoreHandler) download(ctx context.Context, id string) (map[string]any, error) {
	meta, err := h.getJSON(ctx, "/api/docs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	maxSize := h.cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	size := int64(0)
	if v, ok := meta["size_bytes"].(float64); ok {
		size = int64(v)
	}
	if size > maxSize {
		return nil, errs.Newf(errs.KindPayloadTooLarge,
			"document is %d bytes, limit is %d", size, maxSize)
	}

	body, err := h.get(ctx, "/api/docs/"+url.PathEscape(id)+"/content", nil, maxSize)
	if err != nil {
		return nil, err
	}

	name, _ := meta["name"].(string)
	return map[string]any{
		"id":         id,
		"name":       name,
		"size_bytes": len(body),
		"data":       base64.StdEncoding.EncodeToString(body),
	}, nil
}

// getJSON performs an authorised GET and decodes the JSON body.
func (h *docStoreHandler) getJSON(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	body, err := h.get(ctx, path, query, maxResponseBytes)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		var list []any
		if err := json.Unmarshal(body, &list); err == nil {
			return map[string]any{"items": list, "count": len(list)}, nil
		}
		return nil, errs.Wrap(errs.KindUpstreamFailure, "document store response is not valid JSON", err)
	}
	return out, nil
}

func (h *docStoreHandler) get(ctx context.Context, path string, query url.Values, limit int64) ([]byte, error) {
	target := h.cfg.ServerURL + path
	if h.cfg.AuthKind == registry.DocStoreAuthTicket {
		if query == nil {
			query = url.Values{}
		}
		query.Set("ticket", h.cfg.Ticket)
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "build document store request", err)
	}

	switch h.cfg.AuthKind {
	case registry.DocStoreAuthBasic:
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	case registry.DocStoreAuthOAuth:
		tok, err := h.tokens.Token()
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "obtain access token", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.KindUpstreamFailure, "document not found")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errs.Newf(errs.KindUpstreamFailure, "document store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "read document store response", err)
	}
	if int64(len(body)) > limit {
		return nil, errs.Newf(errs.KindPayloadTooLarge, "document exceeds %d bytes", limit)
	}
	return body, nil
}
