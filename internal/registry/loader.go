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

package registry

import (
	// embed is used to embed the tool document schema for validation.
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sajhalabs/sajha/internal/errs"
)

//go:embed tool.schema.json
var toolDocumentSchema string

var toolSchemaLoader = gojsonschema.NewStringLoader(toolDocumentSchema)

// ValidateDocument checks a raw tool configuration document against the
// embedded JSON Schema. Returns InvalidArgument with the offending paths.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(toolSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "tool document is not valid JSON", err)
	}
	if !result.Valid() {
		e := errs.New(errs.KindInvalidArgument, "tool document failed schema validation")
		for _, desc := range result.Errors() {
			e = e.WithFields(desc.Field())
		}
		return e
	}
	return nil
}

// ParseDocument validates and decodes a tool configuration document.
func ParseDocument(data []byte) (*Definition, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "decode tool document", err)
	}
	return &def, nil
}

// LoadReport describes the outcome of a directory scan.
type LoadReport struct {
	Loaded  []string `json:"loaded"`
	Skipped []Skip   `json:"skipped,omitempty"`
}

// Skip records one tool document that failed to load.
type Skip struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Load scans configDir for *.json tool documents and admits each one.
// A document that fails validation or handler instantiation is skipped
// and reported; the rest load normally.
func (r *Registry) Load(configDir string) (*LoadReport, error) {
	defs, report, err := r.scan(configDir)
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		handler, err := r.factory.New(def)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{File: def.Name, Reason: err.Error()})
			r.log.Error(err, "skipping tool", "tool", def.Name)
			continue
		}
		if err := r.Register(def, handler); err != nil {
			report.Skipped = append(report.Skipped, Skip{File: def.Name, Reason: err.Error()})
			r.log.Error(err, "skipping tool", "tool", def.Name)
			continue
		}
		report.Loaded = append(report.Loaded, def.Name)
	}

	r.log.Info("loaded tool directory", "dir", configDir,
		"loaded", len(report.Loaded), "skipped", len(report.Skipped))
	return report, nil
}

// ReloadAll rescans configDir, builds a fresh catalog in isolation, and
// swaps it under the writer lock. In-flight calls keep their handler
// references from the old catalog. Metrics are carried over by name so
// counters never decrease across a reload.
func (r *Registry) ReloadAll(configDir string) (*LoadReport, error) {
	defs, report, err := r.scan(configDir)
	if err != nil {
		return nil, err
	}

	fresh := make(map[string]*entry, len(defs))
	for _, def := range defs {
		if _, dup := fresh[def.Name]; dup {
			report.Skipped = append(report.Skipped, Skip{File: def.Name, Reason: "duplicate tool name"})
			continue
		}
		handler, err := r.factory.New(def)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{File: def.Name, Reason: err.Error()})
			r.log.Error(err, "skipping tool on reload", "tool", def.Name)
			continue
		}
		fresh[def.Name] = &entry{def: def, handler: handler, metrics: NewMetrics()}
		report.Loaded = append(report.Loaded, def.Name)
	}

	r.mu.Lock()
	for name, e := range fresh {
		if old, ok := r.entries[name]; ok {
			e.metrics = old.metrics
		}
	}
	r.entries = fresh
	r.mu.Unlock()

	r.log.Info("reloaded tool directory", "dir", configDir,
		"loaded", len(report.Loaded), "skipped", len(report.Skipped))
	return report, nil
}

// scan parses all tool documents under configDir without touching the
// live catalog.
func (r *Registry) scan(configDir string) ([]*Definition, *LoadReport, error) {
	files, err := os.ReadDir(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("read tool config directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	report := &LoadReport{}
	var defs []*Definition
	for _, name := range names {
		path := filepath.Join(configDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{File: name, Reason: err.Error()})
			continue
		}
		def, err := ParseDocument(data)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{File: name, Reason: err.Error()})
			r.log.Error(err, "invalid tool document", "file", name)
			continue
		}
		defs = append(defs, def)
	}
	return defs, report, nil
}
