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
	"regexp"
	"strings"

	"github.com/sajhalabs/sajha/internal/errs"
)

// DimensionRef names a dimension in a request, optionally drilling
// into one level of a hierarchy.
type DimensionRef struct {
	Dimension string `json:"dimension"`
	Hierarchy string `json:"hierarchy,omitempty"`
	Level     int    `json:"level,omitempty"`
	Alias     string `json:"alias,omitempty"`
}

// MeasureRef names a measure in a request with an optional aggregation
// override.
type MeasureRef struct {
	Measure     string `json:"measure"`
	Aggregation string `json:"aggregation,omitempty"`
	Alias       string `json:"alias,omitempty"`
}

// name returns the output column for the reference.
func (r DimensionRef) name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Dimension
}

func (r MeasureRef) name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Measure
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validIdentifier reports whether s is safe to splice into generated
// SQL as a column alias.
func validIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// DefaultRowLimit caps analytical result sets when the request does
// not set its own limit.
const DefaultRowLimit = 10000

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > DefaultRowLimit {
		return DefaultRowLimit
	}
	return limit
}

// baseFrom renders the FROM clause of a dataset: source table followed
// by its joins in definition order.
func baseFrom(ds *Dataset) string {
	var b strings.Builder
	b.WriteString(ds.SourceTable)
	for _, j := range ds.Joins {
		kind := j.Kind
		if kind == "" {
			kind = JoinInner
		}
		b.WriteString(fmt.Sprintf("\n%s JOIN %s", kind, j.Table))
		if j.Alias != "" {
			b.WriteString(" AS " + j.Alias)
		}
		b.WriteString(" ON " + j.On)
	}
	return b.String()
}

// baseCTE renders the shared leading CTE every builder starts from:
//
//	WITH base AS (SELECT * FROM <source+joins> [WHERE <filters>])
//
// Returning the body only; callers compose the WITH chain.
func (c *Catalog) baseCTE(ds *Dataset, filters []Filter) (string, error) {
	where, err := c.formatFilters(filters)
	if err != nil {
		return "", err
	}
	body := "SELECT *\nFROM " + baseFrom(ds)
	if where != "" {
		body += "\nWHERE " + where
	}
	return body, nil
}

// resolvedDimension pairs an output name with its SQL expression.
type resolvedDimension struct {
	name string
	expr string
}

// resolveDimensionRefs resolves request dimensions to expressions and
// checks their output names are splice-safe.
func (c *Catalog) resolveDimensionRefs(refs []DimensionRef) ([]resolvedDimension, error) {
	out := make([]resolvedDimension, len(refs))
	for i, r := range refs {
		expr, err := c.ResolveDimension(r.Dimension, r.Hierarchy, r.Level)
		if err != nil {
			return nil, err
		}
		name := r.name()
		if !validIdentifier(name) {
			return nil, errs.Newf(errs.KindInvalidArgument, "invalid dimension alias %q", name)
		}
		out[i] = resolvedDimension{name: name, expr: expr}
	}
	return out, nil
}

// resolvedMeasure pairs an output name with its aggregation expression.
type resolvedMeasure struct {
	name string
	expr string
}

func (c *Catalog) resolveMeasureRefs(refs []MeasureRef) ([]resolvedMeasure, error) {
	out := make([]resolvedMeasure, len(refs))
	for i, r := range refs {
		expr, err := c.ResolveMeasure(r.Measure, r.Aggregation)
		if err != nil {
			return nil, err
		}
		name := r.name()
		if !validIdentifier(name) {
			return nil, errs.Newf(errs.KindInvalidArgument, "invalid measure alias %q", name)
		}
		out[i] = resolvedMeasure{name: name, expr: expr}
	}
	return out, nil
}

// ordinals renders "1, 2, ..., n" for GROUP BY / ORDER BY lists.
func ordinals(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%d", i+1)
	}
	return strings.Join(parts, ", ")
}
