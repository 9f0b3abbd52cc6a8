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

// timeGrains maps request grains to DATE_TRUNC units.
var timeGrains = map[string]string{
	"hour":    "hour",
	"day":     "day",
	"week":    "week",
	"month":   "month",
	"quarter": "quarter",
	"year":    "year",
}

// comparisonUnits maps period-over-period comparisons to the DATEADD
// unit of the self-join offset.
var comparisonUnits = map[string]string{
	"dod": "day",
	"wow": "week",
	"mom": "month",
	"qoq": "quarter",
	"yoy": "year",
}

// spine generation ceiling; one row per period.
const spineRowCount = 10000

// TimeSeriesRequest aggregates measures per time bucket, optionally
// gap-filling missing periods and joining a prior period for
// comparison columns.
type TimeSeriesRequest struct {
	Dataset    string         `json:"dataset"`
	TimeDim    string         `json:"timeDimension"`
	Grain      string         `json:"grain"`
	Measures   []MeasureRef   `json:"measures"`
	Dimensions []DimensionRef `json:"dimensions,omitempty"`
	Comparison string         `json:"comparison,omitempty"`
	FillGaps   bool           `json:"fillGaps,omitempty"`
	FillValue  float64        `json:"fillValue,omitempty"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Filters    []Filter       `json:"filters,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

func (c *Catalog) buildTimeSeriesSQL(req TimeSeriesRequest) (string, error) {
	if len(req.Measures) == 0 {
		return "", errs.New(errs.KindInvalidArgument, "time series needs at least one measure")
	}
	grain, ok := timeGrains[strings.ToLower(req.Grain)]
	if !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown time grain %q", req.Grain)
	}
	if req.Comparison != "" {
		if _, ok := comparisonUnits[strings.ToLower(req.Comparison)]; !ok {
			return "", errs.Newf(errs.KindInvalidArgument, "unknown comparison %q", req.Comparison)
		}
	}
	if req.FillGaps && len(req.Dimensions) > 0 {
		return "", errs.New(errs.KindInvalidArgument, "gap filling is only available without extra dimensions")
	}

	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", err
	}
	timeDim := req.TimeDim
	if timeDim == "" {
		timeDim = ds.TimeDimension
	}
	if timeDim == "" {
		return "", errs.Newf(errs.KindInvalidArgument, "dataset %q has no time dimension", req.Dataset)
	}
	timeExpr, err := c.ResolveDimension(timeDim, "", 0)
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

	filters := append([]Filter{}, req.Filters...)
	if req.From != "" {
		filters = append(filters, Filter{Dimension: timeDim, Operator: "gte", Value: req.From})
	}
	if req.To != "" {
		filters = append(filters, Filter{Dimension: timeDim, Operator: "lt", Value: req.To})
	}
	base, err := c.baseCTE(ds, filters)
	if err != nil {
		return "", err
	}

	selects := []string{fmt.Sprintf("DATE_TRUNC('%s', %s) AS period", grain, timeExpr)}
	for _, d := range dims {
		selects = append(selects, fmt.Sprintf("%s AS %s", d.expr, d.name))
	}
	for _, m := range measures {
		selects = append(selects, fmt.Sprintf("%s AS %s", m.expr, m.name))
	}
	groupCount := 1 + len(dims)

	var b strings.Builder
	b.WriteString("WITH base AS (\n" + indent(base) + "\n),\ndata AS (\n")
	b.WriteString(indent("SELECT " + strings.Join(selects, ",\n       ") +
		"\nFROM base\nGROUP BY " + ordinals(groupCount)))
	b.WriteString("\n)")

	seriesCTE := "data"
	if req.FillGaps {
		b.WriteString(",\nbounds AS (\n")
		b.WriteString(indent("SELECT MIN(period) AS min_period, MAX(period) AS max_period\nFROM data"))
		b.WriteString("\n),\nspine AS (\n")
		b.WriteString(indent(fmt.Sprintf(
			"SELECT DATEADD('%s', SEQ4(), (SELECT min_period FROM bounds)) AS period\n"+
				"FROM TABLE(GENERATOR(ROWCOUNT => %d))\n"+
				"QUALIFY period <= (SELECT max_period FROM bounds)", grain, spineRowCount)))
		b.WriteString("\n),\nfilled AS (\n")
		cols := []string{"s.period"}
		for _, m := range measures {
			cols = append(cols, fmt.Sprintf("COALESCE(d.%s, %s) AS %s", m.name, sqlLiteral(req.FillValue), m.name))
		}
		b.WriteString(indent("SELECT " + strings.Join(cols, ",\n       ") +
			"\nFROM spine s\nLEFT JOIN data d ON s.period = d.period"))
		b.WriteString("\n)")
		seriesCTE = "filled"
	}

	if req.Comparison == "" {
		b.WriteString("\nSELECT *\nFROM " + seriesCTE + "\nORDER BY " + ordinals(groupCount))
		b.WriteString(fmt.Sprintf("\nLIMIT %d", effectiveLimit(req.Limit)))
		return b.String(), nil
	}

	unit := comparisonUnits[strings.ToLower(req.Comparison)]
	cols := []string{"cur.period"}
	for _, d := range dims {
		cols = append(cols, "cur."+d.name)
	}
	for _, m := range measures {
		cols = append(cols,
			"cur."+m.name,
			fmt.Sprintf("prev.%s AS previous_%s", m.name, m.name),
			fmt.Sprintf("cur.%s - prev.%s AS %s_change", m.name, m.name, m.name),
			fmt.Sprintf("ROUND(100 * (cur.%s - prev.%s) / NULLIF(prev.%s, 0), 2) AS %s_pct_change",
				m.name, m.name, m.name, m.name),
		)
	}
	joinConds := []string{fmt.Sprintf("prev.period = DATEADD('%s', -1, cur.period)", unit)}
	for _, d := range dims {
		joinConds = append(joinConds, fmt.Sprintf("prev.%s = cur.%s", d.name, d.name))
	}

	b.WriteString("\nSELECT " + strings.Join(cols, ",\n       "))
	b.WriteString(fmt.Sprintf("\nFROM %s cur\nLEFT JOIN %s prev ON %s",
		seriesCTE, seriesCTE, strings.Join(joinConds, " AND ")))
	b.WriteString("\nORDER BY " + ordinals(1+len(dims)))
	b.WriteString(fmt.Sprintf("\nLIMIT %d", effectiveLimit(req.Limit)))
	return b.String(), nil
}
