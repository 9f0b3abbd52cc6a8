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
	"sort"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
)

// PivotRequest describes a cross-tabulation: row dimensions, an
// optional column dimension spread into wide output columns, and one
// or more aggregated values.
type PivotRequest struct {
	Dataset       string         `json:"dataset"`
	Rows          []DimensionRef `json:"rows"`
	Column        *DimensionRef  `json:"column,omitempty"`
	Values        []MeasureRef   `json:"values"`
	Filters       []Filter       `json:"filters,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	IncludeTotals bool           `json:"includeTotals,omitempty"`
}

// pivotPlan carries the output names the executor needs to widen and
// total the long-form result.
type pivotPlan struct {
	rowNames   []string
	columnName string
	valueNames []string
}

// GrandTotalLabel fills the dimension cells of a synthesized pivot
// grand-total row.
const GrandTotalLabel = "TOTAL"

// RollupTotalLabel replaces NULL dimension cells in rollup subtotal
// rows.
const RollupTotalLabel = "[TOTAL]"

// internal column alias for the pivot column dimension.
const pivotColAlias = "__pivot_col"

// buildPivotSQL renders the CTE chain for a pivot request. With a
// column dimension the query stays in long form, one row per
// (rows x column) cell; the executor widens it.
func (c *Catalog) buildPivotSQL(req PivotRequest) (string, pivotPlan, error) {
	if len(req.Values) == 0 {
		return "", pivotPlan{}, errs.New(errs.KindInvalidArgument, "pivot needs at least one value")
	}
	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", pivotPlan{}, err
	}
	rows, err := c.resolveDimensionRefs(req.Rows)
	if err != nil {
		return "", pivotPlan{}, err
	}
	values, err := c.resolveMeasureRefs(req.Values)
	if err != nil {
		return "", pivotPlan{}, err
	}
	base, err := c.baseCTE(ds, req.Filters)
	if err != nil {
		return "", pivotPlan{}, err
	}

	plan := pivotPlan{}
	selects := make([]string, 0, len(rows)+len(values)+1)
	for _, r := range rows {
		selects = append(selects, fmt.Sprintf("%s AS %s", r.expr, r.name))
		plan.rowNames = append(plan.rowNames, r.name)
	}

	groupCount := len(rows)
	var b strings.Builder
	b.WriteString("WITH base AS (\n" + indent(base) + "\n)")

	if req.Column != nil {
		colExpr, err := c.ResolveDimension(req.Column.Dimension, req.Column.Hierarchy, req.Column.Level)
		if err != nil {
			return "", pivotPlan{}, err
		}
		plan.columnName = req.Column.name()
		if !validIdentifier(plan.columnName) {
			return "", pivotPlan{}, errs.Newf(errs.KindInvalidArgument, "invalid column alias %q", plan.columnName)
		}
		b.WriteString(",\ncol_values AS (\n")
		b.WriteString(indent(fmt.Sprintf("SELECT DISTINCT %s AS %s\nFROM base", colExpr, pivotColAlias)))
		b.WriteString("\n)")
		selects = append(selects, fmt.Sprintf("%s AS %s", colExpr, pivotColAlias))
		groupCount++
	}
	for _, v := range values {
		selects = append(selects, fmt.Sprintf("%s AS %s", v.expr, v.name))
		plan.valueNames = append(plan.valueNames, v.name)
	}

	b.WriteString(",\nagg AS (\n")
	aggBody := "SELECT " + strings.Join(selects, ",\n       ") + "\nFROM base"
	if groupCount > 0 {
		aggBody += "\nGROUP BY " + ordinals(groupCount)
	}
	b.WriteString(indent(aggBody))
	b.WriteString("\n)\nSELECT *\nFROM agg")
	if groupCount > 0 {
		b.WriteString("\nORDER BY " + ordinals(groupCount))
	}
	b.WriteString(fmt.Sprintf("\nLIMIT %d", effectiveLimit(req.Limit)))

	return b.String(), plan, nil
}

// widenPivot converts long-form (rows x column) cells into wide rows.
// Wide value columns are named "<columnValue>" for a single value and
// "<columnValue>_<valueName>" for several. Column order follows the
// sorted distinct column values.
func widenPivot(plan pivotPlan, long []map[string]any) ([]string, []map[string]any) {
	colValues := make([]string, 0)
	seen := make(map[string]bool)
	for _, row := range long {
		cv := fmt.Sprint(row[pivotColAlias])
		if !seen[cv] {
			seen[cv] = true
			colValues = append(colValues, cv)
		}
	}
	sort.Strings(colValues)

	wideCols := append([]string{}, plan.rowNames...)
	for _, cv := range colValues {
		for _, vn := range plan.valueNames {
			wideCols = append(wideCols, wideColumnName(cv, vn, len(plan.valueNames)))
		}
	}

	order := make([]string, 0)
	byKey := make(map[string]map[string]any)
	for _, row := range long {
		key := rowKey(plan.rowNames, row)
		wide, ok := byKey[key]
		if !ok {
			wide = make(map[string]any, len(wideCols))
			for _, rn := range plan.rowNames {
				wide[rn] = row[rn]
			}
			byKey[key] = wide
			order = append(order, key)
		}
		cv := fmt.Sprint(row[pivotColAlias])
		for _, vn := range plan.valueNames {
			wide[wideColumnName(cv, vn, len(plan.valueNames))] = row[vn]
		}
	}

	out := make([]map[string]any, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	return wideCols, out
}

func wideColumnName(colValue, valueName string, valueCount int) string {
	if valueCount == 1 {
		return colValue
	}
	return colValue + "_" + valueName
}

func rowKey(names []string, row map[string]any) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprint(row[n])
	}
	return strings.Join(parts, "\x1f")
}

// appendTotalRow synthesizes a grand-total row by summing every
// numeric cell column-wise. Row dimension cells carry the total label.
func appendTotalRow(rowNames, columns []string, rows []map[string]any) []map[string]any {
	if len(rows) == 0 {
		return rows
	}
	isRowDim := make(map[string]bool, len(rowNames))
	for _, n := range rowNames {
		isRowDim[n] = true
	}
	total := make(map[string]any, len(columns))
	for _, col := range columns {
		if isRowDim[col] {
			total[col] = GrandTotalLabel
			continue
		}
		sum := 0.0
		counted := false
		for _, row := range rows {
			if f, ok := toFloat(row[col]); ok {
				sum += f
				counted = true
			}
		}
		if counted {
			total[col] = sum
		} else {
			total[col] = nil
		}
	}
	return append(rows, total)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
