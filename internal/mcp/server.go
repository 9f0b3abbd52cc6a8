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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/envelope"
	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
	"github.com/sajhalabs/sajha/pkg/logctx"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2025-06-18"

// ServerInfo identifies the server in initialize responses.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server dispatches MCP JSON-RPC 2.0 requests over HTTP. Every request
// is authenticated and executes under the caller's principal.
type Server struct {
	log      logr.Logger
	info     ServerInfo
	auth     *auth.Manager
	registry *registry.Registry
	envelope *envelope.Envelope
	prompts  *PromptStore
}

// NewServer creates the HTTP MCP dispatcher.
func NewServer(info ServerInfo, am *auth.Manager, reg *registry.Registry, env *envelope.Envelope, prompts *PromptStore, log logr.Logger) *Server {
	return &Server{
		log:      log.WithName("mcp"),
		info:     info,
		auth:     am,
		registry: reg,
		envelope: env,
		prompts:  prompts,
	}
}

// rpcRequest is one JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// ServeHTTP implements the single JSON-RPC endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.write(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{
			Code: errs.CodeParseError, Message: "parse error",
		}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.write(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
			Code: errs.CodeInvalidRequest, Message: "invalid request",
		}})
		return
	}

	principal, err := s.auth.ResolveRequest(r.Context(), r.Header)
	if err != nil {
		s.writeErr(w, req.ID, err)
		return
	}

	ctx := logctx.WithRequestID(r.Context(), uuid.NewString())
	ctx = logctx.WithPrincipalID(ctx, principal.ID)
	result, err := s.dispatch(r.WithContext(ctx), principal, &req)
	if err != nil {
		s.writeErr(w, req.ID, err)
		return
	}
	s.write(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// methodNotFound is a sentinel distinct from the error taxonomy;
// JSON-RPC reserves its own code for it.
type methodNotFound struct{ method string }

func (e *methodNotFound) Error() string { return "method not found: " + e.method }

func (s *Server) dispatch(r *http.Request, p *auth.Principal, req *rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return s.initialize(), nil
	case "tools/list":
		return s.toolsList(p), nil
	case "tools/call":
		return s.toolsCall(r, p, req.Params)
	case "prompts/list":
		return s.promptsList(), nil
	case "prompts/get":
		return s.promptsGet(req.Params)
	case "prompts/render":
		return s.promptsRender(req.Params)
	case "ping":
		return map[string]any{}, nil
	default:
		return nil, &methodNotFound{method: req.Method}
	}
}

func (s *Server) initialize() any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo":      s.info,
		"capabilities": map[string]any{
			"tools":   map[string]any{"listChanged": false},
			"prompts": map[string]any{"listChanged": false},
		},
	}
}

// toolsList returns enabled tools the principal may call. Tools hidden
// by access policy are indistinguishable from absent ones.
func (s *Server) toolsList(p *auth.Principal) any {
	summaries := s.registry.List()
	tools := make([]map[string]any, 0, len(summaries))
	for _, t := range summaries {
		if !t.Enabled || !p.CanAccess(t.Name) {
			continue
		}
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": schema,
		})
	}
	return map[string]any{"tools": tools}
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) toolsCall(r *http.Request, p *auth.Principal, params json.RawMessage) (any, error) {
	var cp callParams
	if err := json.Unmarshal(params, &cp); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "decode tool call params", err)
	}
	if cp.Name == "" {
		return nil, errs.New(errs.KindInvalidArgument, "tool call needs a name")
	}

	result, err := s.envelope.Execute(r.Context(), p, cp.Name, cp.Arguments)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode tool result", err)
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
		"isError": false,
	}, nil
}

func (s *Server) promptsList() any {
	prompts := s.prompts.List()
	out := make([]map[string]any, 0, len(prompts))
	for _, p := range prompts {
		args := make([]map[string]any, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, map[string]any{
				"name":        a.Name,
				"description": a.Description,
				"required":    a.Required,
			})
		}
		out = append(out, map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"arguments":   args,
		})
	}
	return map[string]any{"prompts": out}
}

type promptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (s *Server) promptsGet(params json.RawMessage) (any, error) {
	var pp promptParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "decode prompt params", err)
	}
	prompt, err := s.prompts.Get(pp.Name)
	if err != nil {
		return nil, err
	}
	text, err := s.prompts.Render(pp.Name, pp.Arguments)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"description": prompt.Description,
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": map[string]any{"type": "text", "text": text},
			},
		},
	}, nil
}

// promptsRender returns the bare rendered text without the message
// wrapping, for callers that feed the prompt somewhere other than a
// chat transcript.
func (s *Server) promptsRender(params json.RawMessage) (any, error) {
	var pp promptParams
	if err := json.Unmarshal(params, &pp); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "decode prompt params", err)
	}
	text, err := s.prompts.Render(pp.Name, pp.Arguments)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": pp.Name, "text": text}, nil
}

func (s *Server) write(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error(err, "write JSON-RPC response")
	}
}

// writeErr maps a classified error onto the JSON-RPC error object. The
// error kind travels in data.kind so clients can branch without
// parsing messages.
func (s *Server) writeErr(w http.ResponseWriter, id json.RawMessage, err error) {
	var nf *methodNotFound
	if errors.As(err, &nf) {
		s.write(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{
			Code: errs.CodeMethodNotFound, Message: nf.Error(),
		}})
		return
	}
	kind := errs.KindOf(err)
	s.write(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{
		Code:    errs.JSONRPCCode(kind),
		Message: err.Error(),
		Data:    map[string]any{"kind": string(kind)},
	}})
}
