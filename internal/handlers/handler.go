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

// Package handlers provides one runtime dispatcher per tool source kind.
// Generators emit data records; this package turns them into executables.
package handlers

import (
	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// Factory instantiates the runtime dispatcher for a tool definition,
// selected by its metadata source kind.
type Factory struct {
	log logr.Logger
}

// NewFactory creates a handler factory.
func NewFactory(log logr.Logger) *Factory {
	return &Factory{log: log.WithName("handlers")}
}

// New builds the handler for a definition. Definitions whose kind-specific
// config block is missing are rejected.
func (f *Factory) New(def *registry.Definition) (registry.Handler, error) {
	switch def.Metadata.Source {
	case registry.SourceNative:
		return newNativeHandler(def)

	case registry.SourceREST:
		if def.Metadata.REST == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no rest config", def.Name)
		}
		return newRESTHandler(def, f.log)

	case registry.SourceSQLQuery:
		if def.Metadata.SQL == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no sql config", def.Name)
		}
		return newSQLHandler(def, f.log)

	case registry.SourceScript:
		if def.Metadata.Script == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no script config", def.Name)
		}
		return newScriptHandler(def, f.log)

	case registry.SourceReportExport:
		if def.Metadata.Report == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no report config", def.Name)
		}
		return newReportHandler(def, f.log)

	case registry.SourceAnalyticQuery:
		if def.Metadata.DAX == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no dax config", def.Name)
		}
		return newDAXHandler(def, f.log)

	case registry.SourceDocumentStore:
		if def.Metadata.DocStore == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has no document store config", def.Name)
		}
		return newDocStoreHandler(def, f.log)

	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "tool %q has unknown source kind %q", def.Name, def.Metadata.Source)
	}
}
