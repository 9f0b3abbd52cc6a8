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

// Package studio turns declarative tool specifications into persisted
// tool documents. Every generator runs the same three stages: validate
// the spec, render the tool document, persist it and reload the
// registry so the new tool is immediately callable.
package studio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// Studio generates tool documents into the tools directory the
// registry loads from.
type Studio struct {
	log      logr.Logger
	registry *registry.Registry
	toolsDir string
}

// New creates a studio writing into toolsDir.
func New(toolsDir string, reg *registry.Registry, log logr.Logger) *Studio {
	return &Studio{
		log:      log.WithName("studio"),
		registry: reg,
		toolsDir: toolsDir,
	}
}

// ToolSpec carries the fields shared by every generator.
type ToolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Author      string   `json:"author,omitempty"`
	// TimeoutSeconds bounds handler execution (default 30, ceiling 300).
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

func (s *ToolSpec) validate() error {
	if !registry.ValidName(s.Name) {
		return errs.Newf(errs.KindInvalidArgument,
			"tool name %q must match [a-z][a-z0-9_]{2,63}", s.Name).WithFields("name")
	}
	if s.Description == "" {
		return errs.New(errs.KindInvalidArgument, "tool needs a description").WithFields("description")
	}
	if s.TimeoutSeconds < 0 || s.TimeoutSeconds > 300 {
		return errs.Newf(errs.KindInvalidArgument,
			"timeoutSeconds %d outside 0..300", s.TimeoutSeconds).WithFields("timeoutSeconds")
	}
	return nil
}

// definition builds the document skeleton the kind-specific generators
// fill in.
func (s *ToolSpec) definition(impl string, source registry.SourceKind) *registry.Definition {
	version := s.Version
	if version == "" {
		version = "1.0.0"
	}
	return &registry.Definition{
		Name:           s.Name,
		Implementation: impl,
		Description:    s.Description,
		Version:        version,
		Enabled:        true,
		Metadata: registry.Metadata{
			Author:         s.Author,
			Category:       s.Category,
			Tags:           s.Tags,
			Source:         source,
			TimeoutSeconds: s.TimeoutSeconds,
		},
	}
}

// install persists the rendered document and reloads the registry. A
// document that fails to load is removed again so the tools directory
// never accumulates broken tools.
func (s *Studio) install(def *registry.Definition) (*registry.Definition, error) {
	if _, err := s.registry.Lookup(def.Name); err == nil {
		return nil, errs.Newf(errs.KindConflict, "tool %q already exists", def.Name)
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "encode tool document", err)
	}
	if err := registry.ValidateDocument(data); err != nil {
		return nil, err
	}

	path := filepath.Join(s.toolsDir, def.Name+".json")
	if _, err := os.Stat(path); err == nil {
		return nil, errs.Newf(errs.KindConflict, "tool document %s already exists", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "write tool document", err)
	}

	report, err := s.registry.ReloadAll(s.toolsDir)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	for _, sk := range report.Skipped {
		if sk.File == def.Name || sk.File == filepath.Base(path) {
			_ = os.Remove(path)
			return nil, errs.Newf(errs.KindInvalidArgument, "generated tool failed to load: %s", sk.Reason)
		}
	}

	s.log.Info("tool generated", "tool", def.Name, "source", def.Metadata.Source)
	return def, nil
}

// Remove unregisters a generated tool and deletes its document.
func (s *Studio) Remove(name string) error {
	if err := s.registry.Unregister(name); err != nil {
		return err
	}
	path := filepath.Join(s.toolsDir, name+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, "remove tool document", err)
	}
	s.log.Info("tool removed", "tool", name)
	return nil
}
