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

// Package olap implements the analytical engine: a semantic layer over a
// columnar query engine and the pivot, rollup, window, time series,
// statistics, and cohort query builders.
package olap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
)

// JoinKind enumerates the supported join operators.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
)

// Join is one ordered join in a dataset definition.
type Join struct {
	Table string   `json:"table"`
	Kind  JoinKind `json:"kind"`
	On    string   `json:"on"`
	Alias string   `json:"alias,omitempty"`
}

// Dataset is a named logical fact view.
type Dataset struct {
	Name          string   `json:"name"`
	SourceTable   string   `json:"sourceTable"`
	Joins         []Join   `json:"joins,omitempty"`
	Dimensions    []string `json:"dimensions,omitempty"`
	Measures      []string `json:"measures,omitempty"`
	TimeDimension string   `json:"timeDimension,omitempty"`
}

// DimensionKind distinguishes time dimensions from standard ones.
type DimensionKind string

const (
	DimensionStandard DimensionKind = "standard"
	DimensionTime     DimensionKind = "time"
)

// Dimension is a column expression usable for grouping and filtering.
type Dimension struct {
	Name        string              `json:"name"`
	Expression  string              `json:"expression"`
	Kind        DimensionKind       `json:"kind,omitempty"`
	Hierarchies map[string][]string `json:"hierarchies,omitempty"`
}

// Measure is an aggregation expression with a display format hint.
type Measure struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Format     string `json:"format,omitempty"`
}

// Catalog owns the three semantic tables: datasets, measures, and
// dimensions. References between layers are by name only.
type Catalog struct {
	log logr.Logger

	mu         sync.RWMutex
	datasets   map[string]*Dataset
	dimensions map[string]*Dimension
	measures   map[string]*Measure
}

// NewCatalog creates an empty semantic catalog.
func NewCatalog(log logr.Logger) *Catalog {
	return &Catalog{
		log:        log.WithName("olap-catalog"),
		datasets:   make(map[string]*Dataset),
		dimensions: make(map[string]*Dimension),
		measures:   make(map[string]*Measure),
	}
}

// Semantic config file names inside the OLAP config directory.
const (
	datasetsFile   = "datasets.json"
	dimensionsFile = "dimensions.json"
	measuresFile   = "measures.json"
)

// Load re-reads the semantic config documents from dir. The documents
// are plain JSON arrays that may be hand-edited.
func (c *Catalog) Load(dir string) error {
	var (
		datasets   []*Dataset
		dimensions []*Dimension
		measures   []*Measure
	)
	if err := readJSONFile(filepath.Join(dir, datasetsFile), &datasets); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(dir, dimensionsFile), &dimensions); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(dir, measuresFile), &measures); err != nil {
		return err
	}

	ds := make(map[string]*Dataset, len(datasets))
	for _, d := range datasets {
		ds[d.Name] = d
	}
	dims := make(map[string]*Dimension, len(dimensions))
	for _, d := range dimensions {
		if d.Kind == "" {
			d.Kind = DimensionStandard
		}
		dims[d.Name] = d
	}
	ms := make(map[string]*Measure, len(measures))
	for _, m := range measures {
		ms[m.Name] = m
	}

	c.mu.Lock()
	c.datasets = ds
	c.dimensions = dims
	c.measures = ms
	c.mu.Unlock()

	c.log.Info("semantic catalog loaded",
		"datasets", len(ds), "dimensions", len(dims), "measures", len(ms))
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AddDataset registers a dataset. Used by tests and the admin surface.
func (c *Catalog) AddDataset(d *Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[d.Name] = d
}

// AddDimension registers a dimension.
func (c *Catalog) AddDimension(d *Dimension) {
	if d.Kind == "" {
		d.Kind = DimensionStandard
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dimensions[d.Name] = d
}

// AddMeasure registers a measure.
func (c *Catalog) AddMeasure(m *Measure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.measures[m.Name] = m
}

// Dataset resolves a dataset by name.
func (c *Catalog) Dataset(name string) (*Dataset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.datasets[name]
	if !ok {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown dataset %q", name)
	}
	return d, nil
}

// Datasets lists the dataset names.
func (c *Catalog) Datasets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveDimension returns the column expression for a dimension. When
// a hierarchy and level are supplied and both exist, the level's
// expression is returned instead.
func (c *Catalog) ResolveDimension(name, hierarchy string, level int) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.dimensions[name]
	if !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown dimension %q", name)
	}
	if hierarchy != "" {
		levels, ok := d.Hierarchies[hierarchy]
		if ok && level >= 0 && level < len(levels) {
			return levels[level], nil
		}
	}
	return d.Expression, nil
}

// DimensionKindOf returns the kind of a dimension, defaulting to
// standard for unknown names.
func (c *Catalog) DimensionKindOf(name string) DimensionKind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if d, ok := c.dimensions[name]; ok {
		return d.Kind
	}
	return DimensionStandard
}

// ResolveMeasure returns the aggregation expression for a measure. A
// non-empty aggregation override re-wraps the column inside the stored
// expression with the new aggregation.
func (c *Catalog) ResolveMeasure(name, aggregation string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.measures[name]
	if !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown measure %q", name)
	}
	if aggregation == "" {
		return m.Expression, nil
	}
	return rewrapAggregation(m.Expression, aggregation), nil
}

// MeasureColumn returns the bare column inside a measure's aggregation
// expression.
func (c *Catalog) MeasureColumn(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.measures[name]
	if !ok {
		return "", errs.Newf(errs.KindInvalidArgument, "unknown measure %q", name)
	}
	return innerColumn(m.Expression), nil
}

// rewrapAggregation swaps the aggregate function of an expression like
// SUM(net_amount) while keeping its column. Expressions without a
// recognisable function wrap as AGG(expression).
func rewrapAggregation(expression, aggregation string) string {
	agg := strings.ToUpper(strings.TrimSpace(aggregation))
	column := innerColumn(expression)
	if agg == "COUNT_DISTINCT" {
		return "COUNT(DISTINCT " + column + ")"
	}
	return agg + "(" + column + ")"
}

// innerColumn extracts the argument of the outermost function call, or
// returns the expression unchanged when there is none.
func innerColumn(expression string) string {
	open := strings.Index(expression, "(")
	close := strings.LastIndex(expression, ")")
	if open < 0 || close <= open {
		return strings.TrimSpace(expression)
	}
	inner := strings.TrimSpace(expression[open+1 : close])
	return strings.TrimPrefix(inner, "DISTINCT ")
}
