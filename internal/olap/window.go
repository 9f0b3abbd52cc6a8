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

// WindowCalc is one derived column computed with a window function
// over the aggregated result.
type WindowCalc struct {
	Kind        string   `json:"kind"`
	Value       string   `json:"value"`
	Alias       string   `json:"alias"`
	PartitionBy []string `json:"partitionBy,omitempty"`
	OrderBy     []string `json:"orderBy,omitempty"`
	WindowSize  int      `json:"windowSize,omitempty"`
	Offset      int      `json:"offset,omitempty"`
	Buckets     int      `json:"buckets,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// WindowRequest aggregates first, then layers window calculations over
// the aggregated rows in a single outer SELECT.
type WindowRequest struct {
	Dataset      string         `json:"dataset"`
	Dimensions   []DimensionRef `json:"dimensions"`
	Measures     []MeasureRef   `json:"measures"`
	Calculations []WindowCalc   `json:"calculations"`
	Filters      []Filter       `json:"filters,omitempty"`
	OrderBy      []string       `json:"orderBy,omitempty"`
	Limit        int            `json:"limit,omitempty"`
}

func (c *Catalog) buildWindowSQL(req WindowRequest) (string, error) {
	if len(req.Calculations) == 0 {
		return "", errs.New(errs.KindInvalidArgument, "window query needs at least one calculation")
	}
	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", err
	}
	dims, err := c.resolveDimensionRefs(req.Dimensions)
	if err != nil {
		return "", err
	}
	measures, err := c.resolveMeasureRefs(req.Measures)
	if err != nil {
		return "", err
	}
	base, err := c.baseCTE(ds, req.Filters)
	if err != nil {
		return "", err
	}

	known := make(map[string]bool, len(dims)+len(measures))
	selects := make([]string, 0, len(dims)+len(measures))
	for _, d := range dims {
		selects = append(selects, fmt.Sprintf("%s AS %s", d.expr, d.name))
		known[d.name] = true
	}
	for _, m := range measures {
		selects = append(selects, fmt.Sprintf("%s AS %s", m.expr, m.name))
		known[m.name] = true
	}

	calcs := make([]string, len(req.Calculations))
	for i, calc := range req.Calculations {
		expr, err := windowExpr(calc, known)
		if err != nil {
			return "", err
		}
		calcs[i] = expr
	}

	var b strings.Builder
	b.WriteString("WITH base AS (\n" + indent(base) + "\n),\nagg AS (\n")
	aggBody := "SELECT " + strings.Join(selects, ",\n       ") + "\nFROM base"
	if len(dims) > 0 {
		aggBody += "\nGROUP BY " + ordinals(len(dims))
	}
	b.WriteString(indent(aggBody))
	b.WriteString("\n)\nSELECT *,\n       " + strings.Join(calcs, ",\n       "))
	b.WriteString("\nFROM agg")

	orderBy := req.OrderBy
	if len(orderBy) == 0 && len(dims) > 0 {
		orderBy = make([]string, len(dims))
		for i, d := range dims {
			orderBy[i] = d.name
		}
	}
	for _, o := range orderBy {
		if !validIdentifier(o) {
			return "", errs.Newf(errs.KindInvalidArgument, "invalid order column %q", o)
		}
	}
	if len(orderBy) > 0 {
		b.WriteString("\nORDER BY " + strings.Join(orderBy, ", "))
	}
	b.WriteString(fmt.Sprintf("\nLIMIT %d", effectiveLimit(req.Limit)))
	return b.String(), nil
}

// windowExpr renders one calculation. The value and every partition or
// order column must be an output column of the aggregation step.
func windowExpr(calc WindowCalc, known map[string]bool) (string, error) {
	if !validIdentifier(calc.Alias) {
		return "", errs.Newf(errs.KindInvalidArgument, "invalid calculation alias %q", calc.Alias)
	}
	if calc.Value != "" && !known[calc.Value] {
		return "", errs.Newf(errs.KindInvalidArgument, "calculation %q references unknown column %q", calc.Alias, calc.Value)
	}
	for _, col := range append(append([]string{}, calc.PartitionBy...), calc.OrderBy...) {
		if !known[col] {
			return "", errs.Newf(errs.KindInvalidArgument, "calculation %q references unknown column %q", calc.Alias, col)
		}
	}

	partition := ""
	if len(calc.PartitionBy) > 0 {
		partition = "PARTITION BY " + strings.Join(calc.PartitionBy, ", ")
	}
	order := ""
	if len(calc.OrderBy) > 0 {
		order = "ORDER BY " + strings.Join(calc.OrderBy, ", ")
	}
	over := func(parts ...string) string {
		var kept []string
		for _, p := range parts {
			if p != "" {
				kept = append(kept, p)
			}
		}
		return "OVER (" + strings.Join(kept, " ") + ")"
	}

	v := calc.Value
	offset := calc.Offset
	if offset <= 0 {
		offset = 1
	}

	var expr string
	switch calc.Kind {
	case "running_total", "running_avg", "running_average", "running_min", "running_max", "running_count":
		fn := map[string]string{
			"running_total":   "SUM",
			"running_avg":     "AVG",
			"running_average": "AVG",
			"running_min":     "MIN",
			"running_max":     "MAX",
			"running_count":   "COUNT",
		}[calc.Kind]
		expr = fmt.Sprintf("%s(%s) %s", fn, v, over(partition, order, "ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"))
	case "moving_avg", "moving_average", "moving_sum":
		size := calc.WindowSize
		if size < 2 {
			return "", errs.Newf(errs.KindInvalidArgument, "calculation %q needs a window size of at least 2", calc.Alias)
		}
		fn := "AVG"
		if calc.Kind == "moving_sum" {
			fn = "SUM"
		}
		frame := fmt.Sprintf("ROWS BETWEEN %d PRECEDING AND CURRENT ROW", size-1)
		expr = fmt.Sprintf("%s(%s) %s", fn, v, over(partition, order, frame))
	case "rank", "dense_rank", "row_number", "percent_rank", "cume_dist":
		rankOrder := order
		if rankOrder == "" {
			if v == "" {
				return "", errs.Newf(errs.KindInvalidArgument, "calculation %q needs a value or order columns", calc.Alias)
			}
			rankOrder = "ORDER BY " + v + " DESC"
		}
		expr = fmt.Sprintf("%s() %s", strings.ToUpper(calc.Kind), over(partition, rankOrder))
	case "ntile":
		if calc.Buckets < 2 {
			return "", errs.Newf(errs.KindInvalidArgument, "calculation %q needs at least 2 buckets", calc.Alias)
		}
		ntileOrder := order
		if ntileOrder == "" && v != "" {
			ntileOrder = "ORDER BY " + v + " DESC"
		}
		expr = fmt.Sprintf("NTILE(%d) %s", calc.Buckets, over(partition, ntileOrder))
	case "lag", "lead":
		args := fmt.Sprintf("%s, %d", v, offset)
		if calc.Default != nil {
			args += ", " + sqlLiteral(calc.Default)
		}
		expr = fmt.Sprintf("%s(%s) %s", strings.ToUpper(calc.Kind), args, over(partition, order))
	case "first_value", "last_value":
		frame := "ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING"
		expr = fmt.Sprintf("%s(%s) %s", strings.ToUpper(calc.Kind), v, over(partition, order, frame))
	case "percent_of_total":
		expr = fmt.Sprintf("ROUND(100 * %s / NULLIF(SUM(%s) %s, 0), 2)", v, v, over(partition))
	case "percent_of_partition":
		if partition == "" {
			return "", errs.Newf(errs.KindInvalidArgument, "calculation %q needs partition columns", calc.Alias)
		}
		expr = fmt.Sprintf("ROUND(100 * %s / NULLIF(SUM(%s) %s, 0), 2)", v, v, over(partition))
	case "difference_from_previous":
		expr = fmt.Sprintf("%s - LAG(%s, %d) %s", v, v, offset, over(partition, order))
	case "difference_from_first":
		first := fmt.Sprintf("FIRST_VALUE(%s) %s", v, over(partition, order, "ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING"))
		expr = fmt.Sprintf("%s - %s", v, first)
	case "difference_from_average":
		expr = fmt.Sprintf("%s - AVG(%s) %s", v, v, over(partition))
	case "percent_change":
		prev := fmt.Sprintf("LAG(%s, %d) %s", v, offset, over(partition, order))
		expr = fmt.Sprintf("ROUND(100 * (%s - %s) / NULLIF(%s, 0), 2)", v, prev, prev)
	default:
		return "", errs.Newf(errs.KindInvalidArgument, "unknown window calculation kind %q", calc.Kind)
	}
	return expr + " AS " + calc.Alias, nil
}
