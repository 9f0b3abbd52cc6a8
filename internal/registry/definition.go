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

// Package registry holds the canonical catalog of executable tools: their
// declarative definitions, runtime handlers, and per-tool metrics.
package registry

import (
	"context"
	"regexp"
)

// SourceKind discriminates how a tool's handler is instantiated.
type SourceKind string

const (
	// SourceNative indicates a handler compiled into the server.
	SourceNative SourceKind = "native"
	// SourceREST indicates a generated REST endpoint wrapper.
	SourceREST SourceKind = "rest"
	// SourceSQLQuery indicates a generated parameterised SQL template.
	SourceSQLQuery SourceKind = "sqlquery"
	// SourceScript indicates a generated external script wrapper.
	SourceScript SourceKind = "script"
	// SourceReportExport indicates a generated report export adapter.
	SourceReportExport SourceKind = "report_export"
	// SourceAnalyticQuery indicates a generated DAX query adapter.
	SourceAnalyticQuery SourceKind = "analytic_query"
	// SourceDocumentStore indicates a generated document store adapter.
	SourceDocumentStore SourceKind = "document_store"
)

// nameRe is the tool name grammar: lowercase identifier, 3-64 chars.
var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{2,63}$`)

// ValidName reports whether s is a legal tool name.
func ValidName(s string) bool { return nameRe.MatchString(s) }

// Definition is the declarative description persisted per tool.
// Immutable from the caller's view after load; mutated only by admin reload.
type Definition struct {
	// Name is the unique lowercase tool identifier.
	Name string `json:"name"`
	// Implementation optionally records the generator that emitted the tool.
	Implementation string `json:"implementation,omitempty"`
	// Description is the human-readable tool summary shown to callers.
	Description string `json:"description"`
	// Version is the tool version string.
	Version string `json:"version"`
	// Enabled controls whether the tool accepts executions.
	Enabled bool `json:"enabled"`
	// Metadata carries classification and kind-specific configuration.
	Metadata Metadata `json:"metadata"`
	// InputSchema is the JSON-Schema object validated against call arguments.
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	// OutputSchema describes the result shape.
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// Metadata classifies a tool and embeds the kind-specific handler config.
// The Source field discriminates which config block is present.
type Metadata struct {
	Author   string   `json:"author,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	// RateLimit is the requested per-minute rate limit hint.
	RateLimit int `json:"rateLimit,omitempty"`
	// CacheTTL is the result cache TTL hint in seconds.
	CacheTTL int `json:"cacheTTL,omitempty"`
	// Source discriminates the handler kind.
	Source SourceKind `json:"source"`
	// TimeoutSeconds bounds handler execution (default 30, ceiling 300).
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`

	REST     *RESTConfig     `json:"rest,omitempty"`
	SQL      *SQLConfig      `json:"sql,omitempty"`
	Script   *ScriptConfig   `json:"script,omitempty"`
	Report   *ReportConfig   `json:"report,omitempty"`
	DAX      *DAXConfig      `json:"dax,omitempty"`
	DocStore *DocStoreConfig `json:"documentStore,omitempty"`
}

// RESTAuthKind selects how a REST handler authenticates upstream.
type RESTAuthKind string

const (
	RESTAuthAPIKey RESTAuthKind = "apikey"
	RESTAuthBasic  RESTAuthKind = "basic"
)

// RESTAuth configures upstream authentication for a REST handler.
type RESTAuth struct {
	Kind RESTAuthKind `json:"kind"`
	// Header is the API key header name (default X-API-Key).
	Header   string `json:"header,omitempty"`
	Key      string `json:"key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CSVOptions control CSV response decoding.
type CSVOptions struct {
	Delimiter string `json:"delimiter,omitempty"`
	HasHeader bool   `json:"hasHeader"`
	SkipRows  int    `json:"skipRows,omitempty"`
}

// RESTConfig configures a REST endpoint wrapper.
type RESTConfig struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	// ResponseFormat is one of json, csv, xml, text.
	ResponseFormat string      `json:"responseFormat"`
	CSV            *CSVOptions `json:"csv,omitempty"`
	Auth           *RESTAuth   `json:"auth,omitempty"`
}

// SQLParamType enumerates typed SQL template parameters.
type SQLParamType string

const (
	SQLParamString   SQLParamType = "string"
	SQLParamInteger  SQLParamType = "integer"
	SQLParamNumber   SQLParamType = "number"
	SQLParamBoolean  SQLParamType = "boolean"
	SQLParamDate     SQLParamType = "date"
	SQLParamDateTime SQLParamType = "datetime"
)

// SQLParam describes one template parameter.
type SQLParam struct {
	Name     string       `json:"name"`
	Type     SQLParamType `json:"type"`
	Required bool         `json:"required"`
	Default  any          `json:"default,omitempty"`
	Enum     []string     `json:"enum,omitempty"`
}

// SQLConfig configures a parameterised SQL template tool.
type SQLConfig struct {
	// Driver is one of columnar, sqlite, postgres, mysql.
	Driver   string     `json:"driver"`
	DSN      string     `json:"dsn"`
	Template string     `json:"template"`
	Params   []SQLParam `json:"params,omitempty"`
	// MaxRows truncates the result set (default 1000).
	MaxRows int `json:"maxRows,omitempty"`
}

// ScriptConfig configures an external script wrapper.
type ScriptConfig struct {
	// Interpreter is one of shell, bash, python, node, perl, ruby, powershell.
	Interpreter string            `json:"interpreter"`
	Body        string            `json:"body"`
	WorkDir     string            `json:"workDir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// OAuthClient holds client-credentials grant settings shared by the
// report export and DAX adapters.
type OAuthClient struct {
	TokenURL     string   `json:"tokenUrl"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ReportConfig configures a report export adapter.
type ReportConfig struct {
	Workspace string `json:"workspace"`
	Report    string `json:"report"`
	Tenant    string `json:"tenant,omitempty"`
	// Format is one of PDF, PPTX, PNG.
	Format  string            `json:"format"`
	Pages   []string          `json:"pages,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	BaseURL string            `json:"baseUrl"`
	Auth    OAuthClient       `json:"auth"`
	// PollIntervalSeconds is the export status poll cadence (default 5).
	PollIntervalSeconds int `json:"pollIntervalSeconds,omitempty"`
}

// DAXConfig configures a DAX query adapter.
type DAXConfig struct {
	Workspace string      `json:"workspace"`
	Dataset   string      `json:"dataset"`
	Query     string      `json:"query"`
	MaxRows   int         `json:"maxRows,omitempty"`
	BaseURL   string      `json:"baseUrl"`
	Auth      OAuthClient `json:"auth"`
}

// DocStoreAuthKind selects document store authentication.
type DocStoreAuthKind string

const (
	DocStoreAuthBasic  DocStoreAuthKind = "basic"
	DocStoreAuthOAuth  DocStoreAuthKind = "oauth"
	DocStoreAuthTicket DocStoreAuthKind = "ticket"
)

// DocStoreConfig configures a document store adapter.
type DocStoreConfig struct {
	ServerURL string           `json:"serverUrl"`
	AuthKind  DocStoreAuthKind `json:"authKind"`
	Username  string           `json:"username,omitempty"`
	Password  string           `json:"password,omitempty"`
	Ticket    string           `json:"ticket,omitempty"`
	OAuth     *OAuthClient     `json:"oauth,omitempty"`
	// MaxFileSize bounds download size in bytes (default 50 MiB).
	MaxFileSize int64 `json:"maxFileSize,omitempty"`
}

// Handler is the runtime pairing of a Definition with an executable.
// A handler is owned exclusively by the registry.
type Handler interface {
	// Definition returns the declarative description of the tool.
	Definition() *Definition
	// Execute runs the tool with validated arguments under the call deadline.
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// HandlerFactory instantiates the runtime dispatcher for a definition,
// selected by its metadata source kind.
type HandlerFactory interface {
	New(def *Definition) (Handler, error)
}

// Summary is the caller-visible tool listing entry.
type Summary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Enabled     bool           `json:"enabled"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Source      SourceKind     `json:"source"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Summarize builds the listing entry for a definition.
func Summarize(def *Definition) Summary {
	return Summary{
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Enabled:     def.Enabled,
		Category:    def.Metadata.Category,
		Tags:        def.Metadata.Tags,
		Source:      def.Metadata.Source,
		InputSchema: def.InputSchema,
	}
}
