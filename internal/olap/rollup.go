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

// GroupingKind selects the multi-level aggregation operator.
type GroupingKind string

const (
	GroupingRollup GroupingKind = "rollup"
	GroupingCube   GroupingKind = "cube"
	GroupingSets   GroupingKind = "grouping_sets"
)

// RollupRequest computes subtotal hierarchies with ROLLUP, CUBE, or
// explicit GROUPING SETS.
type RollupRequest struct {
	Dataset    string         `json:"dataset"`
	Kind       GroupingKind   `json:"kind,omitempty"`
	Dimensions []DimensionRef `json:"dimensions"`
	Measures   []MeasureRef   `json:"measures"`
	Filters    []Filter       `json:"filters,omitempty"`
	Sets       [][]string     `json:"sets,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// buildRollupSQL renders the grouped query. Every dimension cell is
// wrapped so subtotal rows show the total label instead of NULL, and
// each dimension gets a companion is_<dim>_total flag from GROUPING().
// Detail rows sort first and the grand total last.
func (c *Catalog) buildRollupSQL(req RollupRequest) (string, error) {
	if len(req.Dimensions) == 0 {
		return "", errs.New(errs.KindInvalidArgument, "rollup needs at least one dimension")
	}
	if len(req.Measures) == 0 {
		return "", errs.New(errs.KindInvalidArgument, "rollup needs at least one measure")
	}
	kind := req.Kind
	if kind == "" {
		kind = GroupingRollup
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

	selects := make([]string, 0, 2*len(dims)+len(measures))
	groupingTerms := make([]string, len(dims))
	orderDims := make([]string, len(dims))
	for i, d := range dims {
		selects = append(selects,
			fmt.Sprintf("COALESCE(CAST(%s AS VARCHAR), '%s') AS %s", d.expr, RollupTotalLabel, d.name),
			fmt.Sprintf("GROUPING(%s) AS is_%s_total", d.expr, d.name),
		)
		groupingTerms[i] = fmt.Sprintf("GROUPING(%s)", d.expr)
		orderDims[i] = d.name
	}
	for _, m := range measures {
		selects = append(selects, fmt.Sprintf("%s AS %s", m.expr, m.name))
	}

	groupBy, err := c.groupingClause(kind, dims, req.Sets)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("WITH base AS (\n" + indent(base) + "\n)\n")
	b.WriteString("SELECT " + strings.Join(selects, ",\n       "))
	b.WriteString("\nFROM base\nGROUP BY " + groupBy)
	b.WriteString("\nORDER BY (" + strings.Join(groupingTerms, " + ") + ") ASC, ")
	b.WriteString(strings.Join(orderDims, ", "))
	b.WriteString(fmt.Sprintf("\nLIMIT %d", effectiveLimit(req.Limit)))
	return b.String(), nil
}

func (c *Catalog) groupingClause(kind GroupingKind, dims []resolvedDimension, sets [][]string) (string, error) {
	exprs := make([]string, len(dims))
	byName := make(map[string]string, len(dims))
	for i, d := range dims {
		exprs[i] = d.expr
		byName[d.name] = d.expr
	}

	switch kind {
	case GroupingRollup:
		return "ROLLUP(" + strings.Join(exprs, ", ") + ")", nil
	case GroupingCube:
		return "CUBE(" + strings.Join(exprs, ", ") + ")", nil
	case GroupingSets:
		if len(sets) == 0 {
			return "", errs.New(errs.KindInvalidArgument, "grouping_sets needs an explicit sets list")
		}
		rendered := make([]string, len(sets))
		for i, set := range sets {
			members := make([]string, len(set))
			for j, name := range set {
				expr, ok := byName[name]
				if !ok {
					return "", errs.Newf(errs.KindInvalidArgument, "grouping set references unknown dimension %q", name)
				}
				members[j] = expr
			}
			rendered[i] = "(" + strings.Join(members, ", ") + ")"
		}
		return "GROUPING SETS (" + strings.Join(rendered, ", ") + ")", nil
	default:
		return "", errs.Newf(errs.KindInvalidArgument, "unknown grouping kind %q", kind)
	}
}
