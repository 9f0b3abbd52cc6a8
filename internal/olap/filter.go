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

package olap

import (
	"fmt"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
)

// Filter is one predicate against a dimension. Values are literals,
// never expressions.
type Filter struct {
	Dimension string `json:"dimension"`
	Operator  string `json:"operator"`
	Value     any    `json:"value,omitempty"`
	Values    []any  `json:"values,omitempty"`
}

// filterOperators maps the accepted operator spellings to their SQL
// comparison form. in/not_in/between/is_null/is_not_null render their
// own shapes.
var filterOperators = map[string]string{
	"eq":          "=",
	"ne":          "!=",
	"gt":          ">",
	"gte":         ">=",
	"lt":          "<",
	"lte":         "<=",
	"like":        "LIKE",
	"not_like":    "NOT LIKE",
	"contains":    "",
	"in":          "",
	"not_in":      "",
	"between":     "",
	"is_null":     "",
	"is_not_null": "",
}

// formatFilter renders one filter into a SQL predicate. The dimension
// is resolved against the catalog so filters compose with hierarchies
// exactly like group-bys do.
func (c *Catalog) formatFilter(f Filter) (string, error) {
	expr, err := c.ResolveDimension(f.Dimension, "", 0)
	if err != nil {
		return "", err
	}
	op := strings.ToLower(strings.TrimSpace(f.Operator))
	if _, ok := filterOperators[op]; !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown filter operator %q", f.Operator)
	}

	switch op {
	case "is_null":
		return expr + " IS NULL", nil
	case "is_not_null":
		return expr + " IS NOT NULL", nil
	case "in", "not_in":
		if len(f.Values) == 0 {
			return "", errs.Newf(errs.KindInvalidArgument, "%s filter on %q needs a non-empty values list", op, f.Dimension)
		}
		items := make([]string, len(f.Values))
		for i, v := range f.Values {
			items[i] = sqlLiteral(v)
		}
		kw := "IN"
		if op == "not_in" {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, kw, strings.Join(items, ", ")), nil
	case "contains":
		if f.Value == nil {
			return "", errs.Newf(errs.KindInvalidArgument, "contains filter on %q needs a value", f.Dimension)
		}
		substr := strings.ReplaceAll(fmt.Sprint(f.Value), "'", "''")
		return fmt.Sprintf("%s LIKE '%%%s%%'", expr, substr), nil
	case "between":
		if len(f.Values) != 2 {
			return "", errs.Newf(errs.KindInvalidArgument, "between filter on %q needs exactly two values", f.Dimension)
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", expr, sqlLiteral(f.Values[0]), sqlLiteral(f.Values[1])), nil
	default:
		if f.Value == nil {
			return "", errs.Newf(errs.KindInvalidArgument, "%s filter on %q needs a value", op, f.Dimension)
		}
		return fmt.Sprintf("%s %s %s", expr, filterOperators[op], sqlLiteral(f.Value)), nil
	}
}

// formatFilters renders a conjunction of filters, or "" when empty.
func (c *Catalog) formatFilters(filters []Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		p, err := c.formatFilter(f)
		if err != nil {
			return "", err
		}
		parts[i] = p
	}
	return strings.Join(parts, " AND "), nil
}

// sqlLiteral renders a Go value as a SQL literal. Strings get their
// single quotes doubled; numbers and booleans render bare.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}
