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

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/envelope"
	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

type echoHandler struct {
	def *registry.Definition
}

func (h *echoHandler) Definition() *registry.Definition { return h.def }

func (h *echoHandler) Execute(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

type echoFactory struct{}

func (echoFactory) New(def *registry.Definition) (registry.Handler, error) {
	return &echoHandler{def: def}, nil
}

type fixture struct {
	server *Server
	key    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.New(echoFactory{}, logr.Discard())
	def := &registry.Definition{
		Name:        "echo",
		Description: "echoes arguments",
		Version:     "1.0.0",
		Enabled:     true,
		Metadata:    registry.Metadata{Source: registry.SourceNative},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}
	require.NoError(t, reg.Register(def, &echoHandler{def: def}))

	hidden := &registry.Definition{
		Name:     "hidden_tool",
		Enabled:  true,
		Metadata: registry.Metadata{Source: registry.SourceNative},
	}
	require.NoError(t, reg.Register(hidden, &echoHandler{def: hidden}))

	am, err := auth.NewManager(auth.ManagerConfig{
		StoreDir:    t.TempDir(),
		TokenSecret: []byte("test-secret"),
	}, auth.NewMemorySessionStore(), logr.Discard())
	require.NoError(t, err)

	key, _, err := am.CreateAPIKey(auth.APIKeySpec{
		Name:            "mcp-test",
		AllowedPatterns: []string{"echo"},
	})
	require.NoError(t, err)

	env := envelope.New(reg, auth.NewQuota(), nil, nil, logr.Discard())

	prompts := NewPromptStore("", logr.Discard())
	prompts.Add(&Prompt{
		Name:        "greeting",
		Description: "say hello",
		Template:    "Hello {{name}}, welcome to {{place}}.",
		Arguments: []PromptArgument{
			{Name: "name", Required: true},
			{Name: "place"},
		},
	})

	srv := NewServer(ServerInfo{Name: "sajha", Version: "test"}, am, reg, env, prompts, logr.Discard())
	return &fixture{server: srv, key: key}
}

// call posts one JSON-RPC request with the fixture's API key.
func (f *fixture) call(t *testing.T, body string) rpcResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set(auth.HeaderAPIKey, f.key)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "sajha", info["name"])
}

func TestToolsListFiltersByAccess(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	tools := resp.Result.(map[string]any)["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].(map[string]any)["name"])
}

func TestToolsCall(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Equal(t, false, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.JSONEq(t, `{"text":"hi"}`, content["text"].(string))
}

func TestToolsCallDeniedTool(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"hidden_tool","arguments":{}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.JSONRPCCode(errs.KindAccessDenied), resp.Error.Code)

	data := resp.Error.Data.(map[string]any)
	assert.Equal(t, string(errs.KindAccessDenied), data["kind"])
}

func TestMethodNotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":5,"method":"tools/destroy"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.CodeMethodNotFound, resp.Error.Code)
}

func TestParseError(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.CodeParseError, resp.Error.Code)
}

func TestInvalidRequest(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"1.0","id":6,"method":"initialize"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.CodeInvalidRequest, resp.Error.Code)
}

func TestUnauthenticatedRequest(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.JSONRPCCode(errs.KindInvalidToken), resp.Error.Code)
}

func TestPromptsListAndGet(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":8,"method":"prompts/list"}`)
	require.Nil(t, resp.Error)
	prompts := resp.Result.(map[string]any)["prompts"].([]any)
	require.Len(t, prompts, 1)

	resp = f.call(t, `{"jsonrpc":"2.0","id":9,"method":"prompts/get","params":{"name":"greeting","arguments":{"name":"Asha","place":"Kathmandu"}}}`)
	require.Nil(t, resp.Error)
	messages := resp.Result.(map[string]any)["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(map[string]any)
	assert.Equal(t, "Hello Asha, welcome to Kathmandu.", content["text"])
}

func TestPromptsRender(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":11,"method":"prompts/render","params":{"name":"greeting","arguments":{"name":"Asha","place":"Kathmandu"}}}`)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, "greeting", result["name"])
	assert.Equal(t, "Hello Asha, welcome to Kathmandu.", result["text"])
}

func TestPromptsGetMissingRequired(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, `{"jsonrpc":"2.0","id":10,"method":"prompts/get","params":{"name":"greeting","arguments":{}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.CodeInvalidParams, resp.Error.Code)
}
