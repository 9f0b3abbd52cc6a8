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

func restDef(t *testing.T, cfg *registry.RESTConfig) *registry.Definition {
	t.Helper()
	return &registry.Definition{
		Name:    "upstream_call",
		Enabled: true,
		Metadata: registry.Metadata{
			Source: registry.SourceREST,
			REST:   cfg,
		},
	}
}

func TestRESTHandlerGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "acme", r.URL.Query().Get("symbol"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "acme", "price": 41.5})
	}))
	defer srv.Close()

	h, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint:       srv.URL + "/quote",
		Method:         "GET",
		ResponseFormat: "json",
		Auth:           &registry.RESTAuth{Kind: registry.RESTAuthAPIKey, Key: "secret"},
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"symbol": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", result["symbol"])
	assert.Equal(t, 41.5, result["price"])
}

func TestRESTHandlerPathPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/companies/acme/filings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 3})
	}))
	defer srv.Close()

	h, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint:       srv.URL + "/companies/{company}/filings",
		Method:         "GET",
		ResponseFormat: "json",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"company": "acme"})
	require.NoError(t, err)
	assert.Equal(t, float64(3), result["count"])
}

func TestRESTHandlerPostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	h, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint:       srv.URL + "/submit",
		Method:         "POST",
		ResponseFormat: "json",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}

func TestRESTHandlerUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	h, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint:       srv.URL,
		Method:         "GET",
		ResponseFormat: "json",
	}), logr.Discard())
	require.NoError(t, err)

	_, err = h.Execute(t.Context(), nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindUpstreamFailure, errs.KindOf(err))
}

func TestRESTHandlerTextFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain output"))
	}))
	defer srv.Close()

	h, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint:       srv.URL,
		Method:         "GET",
		ResponseFormat: "text",
	}), logr.Discard())
	require.NoError(t, err)

	result, err := h.Execute(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "plain output", result["text"])
}

func TestNewRESTHandlerRejectsBadURL(t *testing.T) {
	_, err := newRESTHandler(restDef(t, &registry.RESTConfig{
		Endpoint: "not a url",
		Method:   "GET",
	}), logr.Discard())
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestDecodeCSVBody(t *testing.T) {
	body := []byte("skip me\nname;total\nalpha;10\nbeta;20\n")

	result, err := decodeCSVBody(body, &registry.CSVOptions{
		Delimiter: ";",
		HasHeader: true,
		SkipRows:  1,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "total"}, result["columns"])
	assert.Equal(t, 2, result["row_count"])
	rows := result["rows"].([]map[string]any)
	assert.Equal(t, "alpha", rows[0]["name"])
	assert.Equal(t, "20", rows[1]["total"])
}

func TestDecodeCSVBodyNoHeader(t *testing.T) {
	result, err := decodeCSVBody([]byte("1,2\n3,4\n"), &registry.CSVOptions{HasHeader: false})
	require.NoError(t, err)

	assert.Equal(t, []string{"column_1", "column_2"}, result["columns"])
	assert.Equal(t, 2, result["row_count"])
}

func TestDecodeXMLBody(t *testing.T) {
	body := []byte(`<report id="7"><row><name>alpha</name></row><row><name>beta</name></row></report>`)

	result, err := decodeXMLBody(body)
	require.NoError(t, err)

	report := result["report"].(map[string]any)
	assert.Equal(t, "7", report["@id"])
	rows := report["row"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].(map[string]any)["name"])
}
