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

package studio

import (
	"net/url"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/handlers"
	"github.com/sajhalabs/sajha/internal/registry"
)

// --- REST -------------------------------------------------------------------

var restMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var restFormats = map[string]bool{
	"json": true, "csv": true, "xml": true, "text": true,
}

// RESTSpec describes a REST endpoint wrapper to generate.
type RESTSpec struct {
	ToolSpec
	Endpoint       string               `json:"endpoint"`
	Method         string               `json:"method,omitempty"`
	Headers        map[string]string    `json:"headers,omitempty"`
	ResponseFormat string               `json:"responseFormat,omitempty"`
	CSV            *registry.CSVOptions `json:"csv,omitempty"`
	Auth           *registry.RESTAuth   `json:"auth,omitempty"`
	InputSchema    map[string]any       `json:"inputSchema,omitempty"`
	OutputSchema   map[string]any       `json:"outputSchema,omitempty"`
}

// GenerateREST renders and installs a REST endpoint wrapper.
func (s *Studio) GenerateREST(spec RESTSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(spec.Endpoint); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "endpoint is not a valid URL", err).
			WithFields("endpoint")
	}
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = "GET"
	}
	if !restMethods[method] {
		return nil, errs.Newf(errs.KindInvalidArgument, "unsupported method %q", spec.Method).
			WithFields("method")
	}
	format := strings.ToLower(spec.ResponseFormat)
	if format == "" {
		format = "json"
	}
	if !restFormats[format] {
		return nil, errs.Newf(errs.KindInvalidArgument, "unsupported response format %q", spec.ResponseFormat).
			WithFields("responseFormat")
	}
	if a := spec.Auth; a != nil {
		switch a.Kind {
		case registry.RESTAuthAPIKey:
			if a.Key == "" {
				return nil, errs.New(errs.KindInvalidArgument, "apikey auth needs a key").
					WithFields("auth.key")
			}
		case registry.RESTAuthBasic:
			if a.Username == "" {
				return nil, errs.New(errs.KindInvalidArgument, "basic auth needs a username").
					WithFields("auth.username")
			}
		default:
			return nil, errs.Newf(errs.KindInvalidArgument, "unknown auth kind %q", a.Kind).
				WithFields("auth.kind")
		}
	}

	def := spec.definition("studio-rest", registry.SourceREST)
	def.Metadata.REST = &registry.RESTConfig{
		Endpoint:       spec.Endpoint,
		Method:         method,
		Headers:        spec.Headers,
		ResponseFormat: format,
		CSV:            spec.CSV,
		Auth:           spec.Auth,
	}
	def.InputSchema = spec.InputSchema
	if def.InputSchema == nil {
		def.InputSchema = map[string]any{"type": "object"}
	}
	def.OutputSchema = spec.OutputSchema
	return s.install(def)
}

// --- SQL --------------------------------------------------------------------

var sqlDriverKinds = map[string]bool{
	"columnar": true, "sqlite": true, "postgres": true, "mysql": true,
}

// SQLSpec describes a parameterised SQL template tool to generate.
type SQLSpec struct {
	ToolSpec
	Driver   string              `json:"driver"`
	DSN      string              `json:"dsn"`
	Template string              `json:"template"`
	Params   []registry.SQLParam `json:"params,omitempty"`
	MaxRows  int                 `json:"maxRows,omitempty"`
}

// sqlParamJSONTypes maps a template parameter type onto its JSON-Schema
// type. Dates travel as strings.
var sqlParamJSONTypes = map[registry.SQLParamType]string{
	registry.SQLParamString:   "string",
	registry.SQLParamInteger:  "integer",
	registry.SQLParamNumber:   "number",
	registry.SQLParamBoolean:  "boolean",
	registry.SQLParamDate:     "string",
	registry.SQLParamDateTime: "string",
}

// GenerateSQL renders and installs a SQL template tool. The input
// schema is derived from the typed parameter list.
func (s *Studio) GenerateSQL(spec SQLSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if !sqlDriverKinds[spec.Driver] {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown database kind %q", spec.Driver).
			WithFields("driver")
	}
	if spec.DSN == "" {
		return nil, errs.New(errs.KindInvalidArgument, "sql tool needs a dsn").WithFields("dsn")
	}
	if err := handlers.ValidateSQLTemplate(spec.Template); err != nil {
		return nil, err
	}

	properties := make(map[string]any, len(spec.Params))
	var required []string
	for _, p := range spec.Params {
		jsonType, ok := sqlParamJSONTypes[p.Type]
		if !ok {
			return nil, errs.Newf(errs.KindInvalidArgument, "parameter %q has unknown type %q", p.Name, p.Type).
				WithFields("params." + p.Name)
		}
		if !strings.Contains(spec.Template, "{{"+p.Name+"}}") {
			return nil, errs.Newf(errs.KindInvalidArgument, "parameter %q never appears in the template", p.Name).
				WithFields("params." + p.Name)
		}
		prop := map[string]any{"type": jsonType}
		if len(p.Enum) > 0 {
			values := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				values[i] = v
			}
			prop["enum"] = values
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}

	def := spec.definition("studio-sql", registry.SourceSQLQuery)
	def.Metadata.SQL = &registry.SQLConfig{
		Driver:   spec.Driver,
		DSN:      spec.DSN,
		Template: spec.Template,
		Params:   spec.Params,
		MaxRows:  spec.MaxRows,
	}
	def.InputSchema = schema
	return s.install(def)
}

// --- Script -----------------------------------------------------------------

// ScriptSpec describes an external script wrapper to generate.
type ScriptSpec struct {
	ToolSpec
	Interpreter string            `json:"interpreter"`
	Body        string            `json:"body"`
	WorkDir     string            `json:"workDir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// GenerateScript renders and installs a script wrapper. Scripts take a
// single optional "args" array of strings.
func (s *Studio) GenerateScript(spec ScriptSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if !handlers.ValidScriptInterpreter(spec.Interpreter) {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown script interpreter %q", spec.Interpreter).
			WithFields("interpreter")
	}
	if strings.TrimSpace(spec.Body) == "" {
		return nil, errs.New(errs.KindInvalidArgument, "script body is empty").WithFields("body")
	}

	def := spec.definition("studio-script", registry.SourceScript)
	def.Metadata.Script = &registry.ScriptConfig{
		Interpreter: spec.Interpreter,
		Body:        spec.Body,
		WorkDir:     spec.WorkDir,
		Env:         spec.Env,
	}
	def.InputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "positional arguments passed to the script",
			},
		},
	}
	return s.install(def)
}

// --- Report export ----------------------------------------------------------

var reportFormats = map[string]bool{"PDF": true, "PPTX": true, "PNG": true}

// ReportSpec describes a report export adapter to generate.
type ReportSpec struct {
	ToolSpec
	Workspace           string               `json:"workspace"`
	Report              string               `json:"report"`
	Tenant              string               `json:"tenant,omitempty"`
	Format              string               `json:"format"`
	Pages               []string             `json:"pages,omitempty"`
	Filters             map[string]string    `json:"filters,omitempty"`
	BaseURL             string               `json:"baseUrl"`
	Auth                registry.OAuthClient `json:"auth"`
	PollIntervalSeconds int                  `json:"pollIntervalSeconds,omitempty"`
}

func validateOAuth(a registry.OAuthClient, field string) error {
	if a.TokenURL == "" || a.ClientID == "" || a.ClientSecret == "" {
		return errs.New(errs.KindInvalidArgument,
			"oauth client needs tokenUrl, clientId and clientSecret").WithFields(field)
	}
	return nil
}

// GenerateReport renders and installs a report export adapter.
func (s *Studio) GenerateReport(spec ReportSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	format := strings.ToUpper(spec.Format)
	if !reportFormats[format] {
		return nil, errs.Newf(errs.KindInvalidArgument, "unsupported export format %q", spec.Format).
			WithFields("format")
	}
	if spec.Workspace == "" || spec.Report == "" {
		return nil, errs.New(errs.KindInvalidArgument, "report tool needs workspace and report ids").
			WithFields("workspace", "report")
	}
	if _, err := url.ParseRequestURI(spec.BaseURL); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "baseUrl is not a valid URL", err).
			WithFields("baseUrl")
	}
	if err := validateOAuth(spec.Auth, "auth"); err != nil {
		return nil, err
	}

	def := spec.definition("studio-report", registry.SourceReportExport)
	def.Metadata.Report = &registry.ReportConfig{
		Workspace:           spec.Workspace,
		Report:              spec.Report,
		Tenant:              spec.Tenant,
		Format:              format,
		Pages:               spec.Pages,
		Filters:             spec.Filters,
		BaseURL:             spec.BaseURL,
		Auth:                spec.Auth,
		PollIntervalSeconds: spec.PollIntervalSeconds,
	}
	def.InputSchema = map[string]any{"type": "object"}
	return s.install(def)
}

// --- DAX --------------------------------------------------------------------

// DAXSpec describes a DAX query adapter to generate.
type DAXSpec struct {
	ToolSpec
	Workspace string               `json:"workspace"`
	Dataset   string               `json:"dataset"`
	Query     string               `json:"query"`
	MaxRows   int                  `json:"maxRows,omitempty"`
	BaseURL   string               `json:"baseUrl"`
	Auth      registry.OAuthClient `json:"auth"`
}

// GenerateDAX renders and installs a DAX query adapter. Callers may
// override the stored query per execution, subject to the same
// EVALUATE check.
func (s *Studio) GenerateDAX(spec DAXSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if spec.Workspace == "" || spec.Dataset == "" {
		return nil, errs.New(errs.KindInvalidArgument, "dax tool needs workspace and dataset ids").
			WithFields("workspace", "dataset")
	}
	if !handlers.ValidDAXQuery(spec.Query) {
		return nil, errs.New(errs.KindInvalidArgument, "DAX query must begin with EVALUATE").
			WithFields("query")
	}
	if _, err := url.ParseRequestURI(spec.BaseURL); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "baseUrl is not a valid URL", err).
			WithFields("baseUrl")
	}
	if err := validateOAuth(spec.Auth, "auth"); err != nil {
		return nil, err
	}

	def := spec.definition("studio-dax", registry.SourceAnalyticQuery)
	def.Metadata.DAX = &registry.DAXConfig{
		Workspace: spec.Workspace,
		Dataset:   spec.Dataset,
		Query:     spec.Query,
		MaxRows:   spec.MaxRows,
		BaseURL:   spec.BaseURL,
		Auth:      spec.Auth,
	}
	def.InputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "optional DAX query overriding the stored one; must begin with EVALUATE",
			},
		},
	}
	return s.install(def)
}

// --- Document store ---------------------------------------------------------

// DocStoreSpec describes a document store adapter to generate.
type DocStoreSpec struct {
	ToolSpec
	ServerURL   string                    `json:"serverUrl"`
	AuthKind    registry.DocStoreAuthKind `json:"authKind"`
	Username    string                    `json:"username,omitempty"`
	Password    string                    `json:"password,omitempty"`
	Ticket      string                    `json:"ticket,omitempty"`
	OAuth       *registry.OAuthClient     `json:"oauth,omitempty"`
	MaxFileSize int64                     `json:"maxFileSize,omitempty"`
}

// GenerateDocStore renders and installs a document store adapter.
func (s *Studio) GenerateDocStore(spec DocStoreSpec) (*registry.Definition, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(spec.ServerURL); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "serverUrl is not a valid URL", err).
			WithFields("serverUrl")
	}
	switch spec.AuthKind {
	case registry.DocStoreAuthBasic:
		if spec.Username == "" || spec.Password == "" {
			return nil, errs.New(errs.KindInvalidArgument, "basic auth needs username and password").
				WithFields("username", "password")
		}
	case registry.DocStoreAuthTicket:
		if spec.Ticket == "" {
			return nil, errs.New(errs.KindInvalidArgument, "ticket auth needs a ticket").
				WithFields("ticket")
		}
	case registry.DocStoreAuthOAuth:
		if spec.OAuth == nil {
			return nil, errs.New(errs.KindInvalidArgument, "oauth auth needs an oauth client").
				WithFields("oauth")
		}
		if err := validateOAuth(*spec.OAuth, "oauth"); err != nil {
			return nil, err
		}
	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown auth kind %q", spec.AuthKind).
			WithFields("authKind")
	}
	if spec.MaxFileSize < 0 {
		return nil, errs.New(errs.KindInvalidArgument, "maxFileSize must not be negative").
			WithFields("maxFileSize")
	}

	def := spec.definition("studio-docstore", registry.SourceDocumentStore)
	def.Metadata.DocStore = &registry.DocStoreConfig{
		ServerURL:   spec.ServerURL,
		AuthKind:    spec.AuthKind,
		Username:    spec.Username,
		Password:    spec.Password,
		Ticket:      spec.Ticket,
		OAuth:       spec.OAuth,
		MaxFileSize: spec.MaxFileSize,
	}
	def.InputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []any{"search", "list", "get", "download"},
			},
			"query": map[string]any{"type": "string"},
			"path":  map[string]any{"type": "string"},
			"id":    map[string]any{"type": "string"},
		},
		"required": []string{"action"},
	}
	return s.install(def)
}
