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

// Package mcp exposes the tool server over the Model Context Protocol:
// a JSON-RPC 2.0 dispatcher on HTTP and a stdio transport for local
// clients.
package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
)

// PromptArgument describes one placeholder of a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is one reusable prompt template. Placeholders use the
// {{name}} form.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Template    string           `json:"template"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptStore loads prompt documents from a directory of JSON files
// and renders them on demand.
type PromptStore struct {
	log logr.Logger
	dir string

	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewPromptStore creates a store rooted at dir. An empty dir yields an
// empty store.
func NewPromptStore(dir string, log logr.Logger) *PromptStore {
	return &PromptStore{
		log:     log.WithName("prompts"),
		dir:     dir,
		prompts: make(map[string]*Prompt),
	}
}

// Load re-reads every *.json prompt document under the store
// directory. Unreadable documents are skipped with a log line.
func (s *PromptStore) Load() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.KindInternal, "read prompt directory", err)
	}

	loaded := make(map[string]*Prompt)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Error(err, "skipping unreadable prompt", "file", entry.Name())
			continue
		}
		var p Prompt
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Error(err, "skipping malformed prompt", "file", entry.Name())
			continue
		}
		if p.Name == "" || p.Template == "" {
			s.log.Info("skipping prompt without name or template", "file", entry.Name())
			continue
		}
		loaded[p.Name] = &p
	}

	s.mu.Lock()
	s.prompts = loaded
	s.mu.Unlock()

	s.log.Info("prompts loaded", "count", len(loaded))
	return nil
}

// Add registers a prompt directly. Used by tests.
func (s *PromptStore) Add(p *Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.Name] = p
}

// List returns all prompts sorted by name.
func (s *PromptStore) List() []*Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get resolves a prompt by name.
func (s *PromptStore) Get(name string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prompts[name]
	if !ok {
		return nil, errs.Newf(errs.KindToolNotFound, "unknown prompt %q", name)
	}
	return p, nil
}

// Render substitutes arguments into the prompt template. Missing
// required arguments are rejected; missing optional placeholders
// render as empty strings.
func (s *PromptStore) Render(name string, args map[string]string) (string, error) {
	p, err := s.Get(name)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, arg := range p.Arguments {
		if arg.Required {
			if v, ok := args[arg.Name]; !ok || v == "" {
				missing = append(missing, arg.Name)
			}
		}
	}
	if len(missing) > 0 {
		return "", errs.Newf(errs.KindInvalidArgument,
			"prompt %q missing required arguments: %s", name, strings.Join(missing, ", ")).
			WithFields(missing...)
	}

	text := p.Template
	for _, arg := range p.Arguments {
		text = strings.ReplaceAll(text, "{{"+arg.Name+"}}", args[arg.Name])
	}
	return text, nil
}
