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

package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"

	// Drivers for the supported database kinds.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"
)

// DefaultMaxRows truncates SQL tool result sets when the config does
// not set a limit.
const DefaultMaxRows = 1000

// sqlDrivers maps the declarative database kind to its database/sql
// driver name.
var sqlDrivers = map[string]string{
	"columnar": "snowflake",
	"sqlite":   "sqlite",
	"postgres": "pgx",
	"mysql":    "mysql",
}

// dangerousSQLWords are refused anywhere in a template, uppercased.
var dangerousSQLWords = []string{"DROP ", "DELETE ", "TRUNCATE "}

// ValidateSQLTemplate refuses templates containing dangerous operations
// or more than one statement. Generators call this at spec time; the
// handler factory calls it again before instantiation so hand-edited
// config files get the same treatment.
func ValidateSQLTemplate(template string) error {
	upper := strings.ToUpper(template)
	for _, word := range dangerousSQLWords {
		if strings.Contains(upper, word) {
			return errs.Newf(errs.KindInvalidArgument,
				"template contains dangerous operation %q", strings.TrimSpace(word))
		}
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(template), ";"); strings.Contains(trimmed, ";") {
		return errs.New(errs.KindInvalidArgument, "template must be a single statement")
	}
	return nil
}

// sqlQuerier is the database surface the handler needs, abstracted for
// unit tests.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// sqlHandler runs a parameterised SQL template against one database.
// The connection opens lazily on first execution.
type sqlHandler struct {
	def *registry.Definition
	cfg *registry.SQLConfig
	log logr.Logger

	mu sync.Mutex
	db sqlQuerier
}

func newSQLHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.SQL
	if _, ok := sqlDrivers[cfg.Driver]; !ok {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown database kind %q", cfg.Driver)
	}
	if err := ValidateSQLTemplate(cfg.Template); err != nil {
		return nil, err
	}
	return &sqlHandler{def: def, cfg: cfg, log: log.WithValues("tool", def.Name)}, nil
}

func (h *sqlHandler) Definition() *registry.Definition { return h.def }

func (h *sqlHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, err := RenderSQLTemplate(h.cfg.Template, h.cfg.Params, args)
	if err != nil {
		return nil, err
	}
	// Re-check the rendered query so argument values cannot smuggle in
	// what the template itself may not contain.
	if err := ValidateSQLTemplate(query); err != nil {
		return nil, err
	}

	db, err := h.conn()
	if err != nil {
		return nil, err
	}

	maxRows := h.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	started := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, data, err := scanRows(rows, maxRows)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamFailure, "read query result", err)
	}

	return map[string]any{
		"columns":    columns,
		"rows":       data,
		"row_count":  len(data),
		"elapsed_ms": time.Since(started).Milliseconds(),
		"db_kind":    h.cfg.Driver,
	}, nil
}

func (h *sqlHandler) conn() (sqlQuerier, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db == nil {
		db, err := sql.Open(sqlDrivers[h.cfg.Driver], h.cfg.DSN)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "open database", err)
		}
		h.db = db
	}
	return h.db, nil
}

// scanRows reads up to maxRows rows into generic maps.
func scanRows(rows *sql.Rows, maxRows int) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data []map[string]any
	for rows.Next() && len(data) < maxRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		data = append(data, row)
	}
	return columns, data, rows.Err()
}

// RenderSQLTemplate substitutes typed parameters into a template.
// Placeholders have the form {{name}}. Strings are SQL-escaped by
// doubling single quotes; numbers, booleans, and NULL render literal.
func RenderSQLTemplate(template string, params []registry.SQLParam, args map[string]any) (string, error) {
	query := template
	for _, p := range params {
		value, ok := args[p.Name]
		if !ok || value == nil {
			if p.Default != nil {
				value = p.Default
			} else if p.Required {
				return "", errs.Newf(errs.KindInvalidArgument, "missing required parameter %q", p.Name).
					WithFields(p.Name)
			} else {
				value = nil
			}
		}

		literal, err := renderSQLValue(p, value)
		if err != nil {
			return "", err
		}
		query = strings.ReplaceAll(query, "{{"+p.Name+"}}", literal)
	}
	return query, nil
}

// renderSQLValue formats one parameter value per its declared type.
func renderSQLValue(p registry.SQLParam, value any) (string, error) {
	if value == nil {
		return "NULL", nil
	}

	if len(p.Enum) > 0 {
		s := fmt.Sprint(value)
		if !slices.Contains(p.Enum, s) {
			return "", errs.Newf(errs.KindInvalidArgument, "parameter %q must be one of %v", p.Name, p.Enum).
				WithFields(p.Name)
		}
	}

	switch p.Type {
	case registry.SQLParamString:
		return quoteSQLString(fmt.Sprint(value)), nil

	case registry.SQLParamInteger:
		switch v := value.(type) {
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				return v, nil
			}
		}
		return "", errs.Newf(errs.KindInvalidArgument, "parameter %q is not an integer", p.Name).WithFields(p.Name)

	case registry.SQLParamNumber:
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case string:
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v, nil
			}
		}
		return "", errs.Newf(errs.KindInvalidArgument, "parameter %q is not a number", p.Name).WithFields(p.Name)

	case registry.SQLParamBoolean:
		switch v := value.(type) {
		case bool:
			if v {
				return "TRUE", nil
			}
			return "FALSE", nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				if b {
					return "TRUE", nil
				}
				return "FALSE", nil
			}
		}
		return "", errs.Newf(errs.KindInvalidArgument, "parameter %q is not a boolean", p.Name).WithFields(p.Name)

	case registry.SQLParamDate:
		s := fmt.Sprint(value)
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", errs.Newf(errs.KindInvalidArgument, "parameter %q is not a date (YYYY-MM-DD)", p.Name).
				WithFields(p.Name)
		}
		return quoteSQLString(s), nil

	case registry.SQLParamDateTime:
		s := fmt.Sprint(value)
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02 15:04:05", s); err != nil {
				return "", errs.Newf(errs.KindInvalidArgument, "parameter %q is not a datetime", p.Name).
					WithFields(p.Name)
			}
		}
		return quoteSQLString(s), nil

	default:
		return "", errs.Newf(errs.KindInvalidArgument, "parameter %q has unknown type %q", p.Name, p.Type)
	}
}

// quoteSQLString escapes a string literal by doubling single quotes.
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
