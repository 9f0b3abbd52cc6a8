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
	"context"
	"encoding/json"

	"github.com/go-logr/logr"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sajhalabs/sajha/internal/auth"
	"github.com/sajhalabs/sajha/internal/envelope"
	"github.com/sajhalabs/sajha/internal/registry"
)

// StdioServer serves the registry over stdio for local MCP clients.
// Stdio sessions run as a fixed local principal supplied at startup.
type StdioServer struct {
	log       logr.Logger
	server    *sdk.Server
	principal *auth.Principal
}

// NewStdioServer builds a go-sdk MCP server exposing every enabled
// tool the principal may access, plus the prompt store.
func NewStdioServer(info ServerInfo, principal *auth.Principal, reg *registry.Registry, env *envelope.Envelope, prompts *PromptStore, log logr.Logger) *StdioServer {
	server := sdk.NewServer(&sdk.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, nil)

	s := &StdioServer{
		log:       log.WithName("mcp-stdio"),
		server:    server,
		principal: principal,
	}

	for _, t := range reg.List() {
		if !t.Enabled || !principal.CanAccess(t.Name) {
			continue
		}
		s.addTool(t, env)
	}
	for _, p := range prompts.List() {
		s.addPrompt(p, prompts)
	}
	return s
}

func (s *StdioServer) addTool(t registry.Summary, env *envelope.Envelope) {
	name := t.Name
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	s.server.AddTool(&sdk.Tool{
		Name:        name,
		Description: t.Description,
		InputSchema: schema,
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
		}

		result, err := env.Execute(ctx, s.principal, name, args)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		text, err := json.Marshal(result)
		if err != nil {
			return errorResult("encode result: " + err.Error()), nil
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: string(text)}},
		}, nil
	})
	s.log.V(1).Info("registered stdio tool", "tool", name)
}

func (s *StdioServer) addPrompt(p *Prompt, store *PromptStore) {
	args := make([]*sdk.PromptArgument, len(p.Arguments))
	for i, a := range p.Arguments {
		args[i] = &sdk.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		}
	}
	name := p.Name

	s.server.AddPrompt(&sdk.Prompt{
		Name:        name,
		Description: p.Description,
		Arguments:   args,
	}, func(_ context.Context, req *sdk.GetPromptRequest) (*sdk.GetPromptResult, error) {
		text, err := store.Render(name, req.Params.Arguments)
		if err != nil {
			return nil, err
		}
		return &sdk.GetPromptResult{
			Description: p.Description,
			Messages: []*sdk.PromptMessage{
				{Role: "user", Content: &sdk.TextContent{Text: text}},
			},
		}, nil
	})
}

func errorResult(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: msg}},
		IsError: true,
	}
}

// Run serves the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *StdioServer) Run(ctx context.Context) error {
	s.log.Info("serving MCP over stdio")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}
