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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/handlers"
	"github.com/sajhalabs/sajha/internal/registry"
)

func newTestStudio(t *testing.T) (*Studio, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(handlers.NewFactory(logr.Discard()), logr.Discard())
	return New(dir, reg, logr.Discard()), reg, dir
}

func TestGenerateSQL(t *testing.T) {
	s, reg, dir := newTestStudio(t)

	def, err := s.GenerateSQL(SQLSpec{
		ToolSpec: ToolSpec{Name: "orders_by_region", Description: "orders per region"},
		Driver:   "sqlite",
		DSN:      "file:test.db",
		Template: "SELECT * FROM orders WHERE region = {{region}} AND min_total = {{min_total}}",
		Params: []registry.SQLParam{
			{Name: "region", Type: registry.SQLParamString, Required: true, Enum: []string{"east", "west"}},
			{Name: "min_total", Type: registry.SQLParamNumber},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, registry.SourceSQLQuery, def.Metadata.Source)
	assert.Equal(t, "1.0.0", def.Version)
	assert.True(t, def.Enabled)

	props := def.InputSchema["properties"].(map[string]any)
	region := props["region"].(map[string]any)
	assert.Equal(t, "string", region["type"])
	assert.Len(t, region["enum"], 2)
	assert.Equal(t, "number", props["min_total"].(map[string]any)["type"])
	assert.Equal(t, []string{"region"}, def.InputSchema["required"])

	_, err = reg.Get("orders_by_region")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "orders_by_region.json"))
	require.NoError(t, err)
}

func TestGenerateSQLRefusesDangerousTemplate(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateSQL(SQLSpec{
		ToolSpec: ToolSpec{Name: "cleanup", Description: "cleanup"},
		Driver:   "sqlite",
		DSN:      "file:test.db",
		Template: "DELETE FROM orders WHERE id = {{id}}",
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestGenerateSQLUnusedParam(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateSQL(SQLSpec{
		ToolSpec: ToolSpec{Name: "orders", Description: "orders"},
		Driver:   "postgres",
		DSN:      "postgres://localhost/x",
		Template: "SELECT 1",
		Params:   []registry.SQLParam{{Name: "region", Type: registry.SQLParamString}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never appears")
}

func TestGenerateRESTDefaults(t *testing.T) {
	s, reg, _ := newTestStudio(t)

	def, err := s.GenerateREST(RESTSpec{
		ToolSpec: ToolSpec{Name: "weather_lookup", Description: "city weather"},
		Endpoint: "https://api.example.com/weather/{city}",
	})
	require.NoError(t, err)

	assert.Equal(t, "GET", def.Metadata.REST.Method)
	assert.Equal(t, "json", def.Metadata.REST.ResponseFormat)
	assert.Equal(t, map[string]any{"type": "object"}, def.InputSchema)

	summaries := reg.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, "weather_lookup", summaries[0].Name)
}

func TestGenerateRESTRejectsBadURL(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateREST(RESTSpec{
		ToolSpec: ToolSpec{Name: "bad_url", Description: "x"},
		Endpoint: "not a url",
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestGenerateDuplicateName(t *testing.T) {
	s, _, _ := newTestStudio(t)

	spec := RESTSpec{
		ToolSpec: ToolSpec{Name: "twice", Description: "x"},
		Endpoint: "https://api.example.com/x",
	}
	_, err := s.GenerateREST(spec)
	require.NoError(t, err)

	_, err = s.GenerateREST(spec)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestGenerateScript(t *testing.T) {
	s, _, _ := newTestStudio(t)

	def, err := s.GenerateScript(ScriptSpec{
		ToolSpec:    ToolSpec{Name: "disk_usage", Description: "disk usage report"},
		Interpreter: "shell",
		Body:        "df -h \"$1\"",
	})
	require.NoError(t, err)

	props := def.InputSchema["properties"].(map[string]any)
	args := props["args"].(map[string]any)
	assert.Equal(t, "array", args["type"])
}

func TestGenerateScriptUnknownInterpreter(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateScript(ScriptSpec{
		ToolSpec:    ToolSpec{Name: "weird", Description: "x"},
		Interpreter: "cobol",
		Body:        "DISPLAY 'HI'",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interpreter")
}

func TestGenerateDAXRejectsNonEvaluate(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateDAX(DAXSpec{
		ToolSpec:  ToolSpec{Name: "sales_dax", Description: "x"},
		Workspace: "ws",
		Dataset:   "ds",
		Query:     "DEFINE MEASURE x = 1",
		BaseURL:   "https://api.example.com",
		Auth: registry.OAuthClient{
			TokenURL: "https://login.example.com/token", ClientID: "id", ClientSecret: "secret",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EVALUATE")
}

func TestGenerateDAX(t *testing.T) {
	s, reg, _ := newTestStudio(t)

	def, err := s.GenerateDAX(DAXSpec{
		ToolSpec:  ToolSpec{Name: "sales_dax", Description: "sales totals"},
		Workspace: "ws",
		Dataset:   "ds",
		Query:     "EVALUATE VALUES(sales)",
		BaseURL:   "https://api.example.com",
		Auth: registry.OAuthClient{
			TokenURL: "https://login.example.com/token", ClientID: "id", ClientSecret: "secret",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, registry.SourceAnalyticQuery, def.Metadata.Source)

	_, err = reg.Get("sales_dax")
	require.NoError(t, err)
}

func TestGenerateReportRejectsBadFormat(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateReport(ReportSpec{
		ToolSpec:  ToolSpec{Name: "quarterly", Description: "x"},
		Workspace: "ws",
		Report:    "r1",
		Format:    "DOCX",
		BaseURL:   "https://api.example.com",
		Auth: registry.OAuthClient{
			TokenURL: "https://login.example.com/token", ClientID: "id", ClientSecret: "secret",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestGenerateDocStoreTicketAuth(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateDocStore(DocStoreSpec{
		ToolSpec:  ToolSpec{Name: "docs", Description: "x"},
		ServerURL: "https://docs.example.com",
		AuthKind:  registry.DocStoreAuthTicket,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket")

	def, err := s.GenerateDocStore(DocStoreSpec{
		ToolSpec:  ToolSpec{Name: "docs", Description: "document search"},
		ServerURL: "https://docs.example.com",
		AuthKind:  registry.DocStoreAuthTicket,
		Ticket:    "t-123",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"action"}, def.InputSchema["required"])
}

func TestGenerateInvalidName(t *testing.T) {
	s, _, _ := newTestStudio(t)

	_, err := s.GenerateScript(ScriptSpec{
		ToolSpec:    ToolSpec{Name: "Bad-Name", Description: "x"},
		Interpreter: "shell",
		Body:        "true",
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestRemove(t *testing.T) {
	s, reg, dir := newTestStudio(t)

	_, err := s.GenerateScript(ScriptSpec{
		ToolSpec:    ToolSpec{Name: "uptime_check", Description: "uptime"},
		Interpreter: "shell",
		Body:        "uptime",
	})
	require.NoError(t, err)

	require.NoError(t, s.Remove("uptime_check"))
	_, err = reg.Get("uptime_check")
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "uptime_check.json"))
	assert.True(t, os.IsNotExist(err))
}
