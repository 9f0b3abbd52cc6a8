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
	"math"
	"sort"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
)

// CohortRequest groups entities by their formation period and tracks a
// value across period offsets. Retention is the same query with
// first-activity cohorts and a distinct entity count.
type CohortRequest struct {
	Dataset     string   `json:"dataset"`
	EntityDim   string   `json:"entityDimension"`
	CohortDim   string   `json:"cohortDimension,omitempty"`
	TimeDim     string   `json:"timeDimension"`
	Grain       string   `json:"grain"`
	Measure     string   `json:"measure,omitempty"`
	Aggregation string   `json:"aggregation,omitempty"`
	Periods     int      `json:"periods,omitempty"`
	Filters     []Filter `json:"filters,omitempty"`
}

// DefaultCohortPeriods bounds the tracked offset range.
const DefaultCohortPeriods = 12

// buildCohortSQL renders the cohort query in long form, one row per
// (cohort_period, period_offset). The executor pivots offsets into a
// matrix. When CohortDim is empty the formation period is the entity's
// first activity.
func (c *Catalog) buildCohortSQL(req CohortRequest) (string, error) {
	grain, ok := timeGrains[strings.ToLower(req.Grain)]
	if !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown time grain %q", req.Grain)
	}
	if req.EntityDim == "" {
		return "", errs.New(errs.KindInvalidArgument, "cohort needs an entity dimension")
	}
	periods := req.Periods
	if periods <= 0 {
		periods = DefaultCohortPeriods
	}

	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", err
	}
	entityExpr, err := c.ResolveDimension(req.EntityDim, "", 0)
	if err != nil {
		return "", err
	}
	timeDim := req.TimeDim
	if timeDim == "" {
		timeDim = ds.TimeDimension
	}
	timeExpr, err := c.ResolveDimension(timeDim, "", 0)
	if err != nil {
		return "", err
	}
	formationExpr := timeExpr
	if req.CohortDim != "" {
		formationExpr, err = c.ResolveDimension(req.CohortDim, "", 0)
		if err != nil {
			return "", err
		}
	}

	valueExpr := fmt.Sprintf("COUNT(DISTINCT b.%s)", entityExpr)
	if req.Measure != "" {
		col, err := c.MeasureColumn(req.Measure)
		if err != nil {
			return "", err
		}
		agg := strings.ToUpper(req.Aggregation)
		if agg == "" {
			agg = "SUM"
		}
		if agg == "COUNT_DISTINCT" {
			valueExpr = fmt.Sprintf("COUNT(DISTINCT b.%s)", col)
		} else {
			valueExpr = fmt.Sprintf("%s(b.%s)", agg, col)
		}
	}

	base, err := c.baseCTE(ds, req.Filters)
	if err != nil {
		return "", err
	}
	offsetExpr := fmt.Sprintf("DATEDIFF('%s', c.cohort_period, DATE_TRUNC('%s', b.%s))", grain, grain, timeExpr)

	var b strings.Builder
	b.WriteString("WITH base AS (\n" + indent(base) + "\n),\ncohorts AS (\n")
	b.WriteString(indent(fmt.Sprintf(
		"SELECT %s AS entity,\n       MIN(DATE_TRUNC('%s', %s)) AS cohort_period\nFROM base\nGROUP BY 1",
		entityExpr, grain, formationExpr)))
	b.WriteString("\n),\nactivity AS (\n")
	b.WriteString(indent(fmt.Sprintf(
		"SELECT c.cohort_period,\n       %s AS period_offset,\n       %s AS value\n"+
			"FROM base b\nJOIN cohorts c ON b.%s = c.entity\nWHERE %s BETWEEN 0 AND %d\nGROUP BY 1, 2",
		offsetExpr, valueExpr, entityExpr, offsetExpr, periods)))
	b.WriteString("\n)\nSELECT cohort_period, period_offset, value\nFROM activity\nORDER BY 1, 2")
	return b.String(), nil
}

// buildRetentionSQL is the cohort query specialised to retention:
// first-activity cohorts and distinct entity counts per offset.
func (c *Catalog) buildRetentionSQL(req CohortRequest) (string, error) {
	req.CohortDim = ""
	req.Measure = ""
	req.Aggregation = ""
	return c.buildCohortSQL(req)
}

// CohortRow is one pivoted matrix row: the cohort's formation period,
// its period-0 size, and the tracked value per offset.
type CohortRow struct {
	Cohort  string      `json:"cohort"`
	Size    float64     `json:"size"`
	Periods map[int]any `json:"periods"`
	Rates   map[int]any `json:"rates,omitempty"`
}

// cohortMatrix pivots long (cohort_period, period_offset, value) rows
// into per-cohort rows. With rates enabled each offset also carries the
// value as a percentage of the cohort's period-0 size; period 0 is
// always 100.
func cohortMatrix(long []map[string]any, periods int, withRates bool) []CohortRow {
	byCohort := make(map[string]map[int]float64)
	order := []string{}
	for _, row := range long {
		cohort := fmt.Sprint(row["cohort_period"])
		offset64, ok := toFloat(row["period_offset"])
		if !ok {
			continue
		}
		offset := int(offset64)
		value, _ := toFloat(row["value"])
		m, seen := byCohort[cohort]
		if !seen {
			m = make(map[int]float64)
			byCohort[cohort] = m
			order = append(order, cohort)
		}
		m[offset] = value
	}
	sort.Strings(order)

	out := make([]CohortRow, 0, len(order))
	for _, cohort := range order {
		m := byCohort[cohort]
		row := CohortRow{
			Cohort:  cohort,
			Size:    m[0],
			Periods: make(map[int]any, periods+1),
		}
		if withRates {
			row.Rates = make(map[int]any, periods+1)
		}
		for off := 0; off <= periods; off++ {
			v, present := m[off]
			if !present {
				row.Periods[off] = nil
				if withRates {
					row.Rates[off] = nil
				}
				continue
			}
			row.Periods[off] = v
			if withRates {
				if off == 0 {
					row.Rates[0] = 100.0
				} else if row.Size > 0 {
					row.Rates[off] = math.Round(100*v/row.Size*100) / 100
				} else {
					row.Rates[off] = nil
				}
			}
		}
		out = append(out, row)
	}
	return out
}
