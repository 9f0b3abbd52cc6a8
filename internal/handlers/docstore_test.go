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
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

func docStoreServer(t *testing.T, docSize int) *httptest.Server {
	t.Helper()
	content := make([]byte, docSize)
	for i := range content {
		content[i] = byte('a' + i%26)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "svc", user)
		assert.Equal(t, "pw", pass)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": "doc1", "name": "annual.pdf"}},
			"total":   1,
		})
	})
	mux.HandleFunc("GET /api/docs/doc1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "doc1", "name": "annual.pdf", "size_bytes": docSize,
		})
	})
	mux.HandleFunc("GET /api/docs/doc1/content", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(content)
	})
	return httptest.NewServer(mux)
}

func docStoreDef(t *testing.T, cfg *registry.DocStoreConfig) *registry.Definition {
	t.Helper()
	return &registry.Definition{
		Name:    "doc_archive",
		Enabled: true,
		Metadata: registry.Metadata{
			Source:   registry.SourceDocumentStore,
			DocStore: cfg,
		},
	}
}

func TestDocStoreHandlerSearch(t *testing.T) {
	srv := docStoreServer(t, 64)
	defer srv.Close()

	h, err := newDocStoreHandler(docStoreDef(t, &registry.DocStoreConfig{
		ServerURL: srv.URL,
		AuthKind:  registry.DocStoreAuthBasic,
		Username:  "svc",
		Password:  "pw",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"action": "search", "query": "annual"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), result["total"])
}

func TestDocStoreHandlerDownload(t *testing.T) {
	srv := docStoreServer(t, 64)
	defer srv.Close()

	h, err := newDocStoreHandler(docStoreDef(t, &registry.DocStoreConfig{
		ServerURL: srv.URL,
		AuthKind:  registry.DocStoreAuthBasic,
		Username:  "svc",
		Password:  "pw",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"action": "download", "id": "doc1"})
	require.NoError(t, err)

	assert.Equal(t, 64, result["size_bytes"])
	data, err := base64.StdEncoding.DecodeString(result["data"].(string))
	require.NoError(t, err)
	assert.Len(t, data, 64)
}

func TestDocStoreHandlerDownloadTooLarge(t *testing.T) {
	srv := docStoreServer(t, 2048)
	defer srv.Close()

	h, err := newDocStoreHandler(docStoreDef(t, &registry.DocStoreConfig{
		ServerURL:   srv.URL,
		AuthKind:    registry.DocStoreAuthBasic,
		Username:    "svc",
		Password:    "pw",
		MaxFileSize: 1024,
	}), logr.Discard())
	require.NoError(t, err)

	_, err = h.Execute(t.Context(), map[string]any{"action": "download", "id": "doc1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindPayloadTooLarge, errs.KindOf(err))
}

func TestDocStoreHandlerUnknownAction(t *testing.T) {
	srv := docStoreServer(t, 8)
	defer srv.Close()

	h, err := newDocStoreHandler(docStoreDef(t, &registry.DocStoreConfig{
		ServerURL: srv.URL,
		AuthKind:  registry.DocStoreAuthBasic,
	}), logr.Discard())
	require.NoError(t, err)

	_, err = h.Execute(t.Context(), map[string]any{"action": "purge"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestDocStoreHandlerTicketAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tkt-1", r.URL.Query().Get("ticket"))
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "count": 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h, err := newDocStoreHandler(docStoreDef(t, &registry.DocStoreConfig{
		ServerURL: srv.URL,
		AuthKind:  registry.DocStoreAuthTicket,
		Ticket:    "tkt-1",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Equal(t, float64(0), result["count"])
}

func TestFactoryDispatch(t *testing.T) {
	f := NewFactory(logr.Discard())

	_, err := f.New(&registry.Definition{
		Name:           "echo",
		Implementation: "echo",
		Metadata:       registry.Metadata{Source: registry.SourceNative},
	})
	require.NoError(t, err)

	_, err = f.New(&registry.Definition{
		Name:     "missing_rest",
		Metadata: registry.Metadata{Source: registry.SourceREST},
	})
	require.Error(t, err)

	_, err = f.New(&registry.Definition{
		Name:     "bad_kind",
		Metadata: registry.Metadata{Source: "mystery"},
	})
	require.Error(t, err)
}
