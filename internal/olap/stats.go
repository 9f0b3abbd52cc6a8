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

// StatsRequest computes statistics over one measure column, optionally
// filtered. Column resolution goes through the measure catalog so the
// target is always the bare column of a registered measure.
type StatsRequest struct {
	Dataset string   `json:"dataset"`
	Measure string   `json:"measure"`
	Filters []Filter `json:"filters,omitempty"`

	// percentiles
	Percentiles []float64 `json:"percentiles,omitempty"`

	// correlation
	Measures []string `json:"measures,omitempty"`

	// histogram
	Bins int      `json:"bins,omitempty"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`

	// outliers
	Method    string  `json:"method,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (c *Catalog) statsBase(req StatsRequest) (string, string, error) {
	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", "", err
	}
	col, err := c.MeasureColumn(req.Measure)
	if err != nil {
		return "", "", err
	}
	base, err := c.baseCTE(ds, req.Filters)
	if err != nil {
		return "", "", err
	}
	return "WITH base AS (\n" + indent(base) + "\n)", col, nil
}

// buildSummarySQL renders the one-row descriptive summary.
func (c *Catalog) buildSummarySQL(req StatsRequest) (string, error) {
	with, col, err := c.statsBase(req)
	if err != nil {
		return "", err
	}
	return with + "\nSELECT " + strings.Join([]string{
		fmt.Sprintf("COUNT(%s) AS count", col),
		fmt.Sprintf("COUNT(DISTINCT %s) AS distinct_count", col),
		fmt.Sprintf("SUM(%s) AS sum", col),
		fmt.Sprintf("AVG(%s) AS mean", col),
		fmt.Sprintf("MIN(%s) AS min", col),
		fmt.Sprintf("MAX(%s) AS max", col),
		fmt.Sprintf("STDDEV(%s) AS stddev", col),
		fmt.Sprintf("VARIANCE(%s) AS variance", col),
	}, ",\n       ") + "\nFROM base", nil
}

// buildPercentilesSQL renders one PERCENTILE_CONT per requested point.
// Output columns are p50, p95, p99_9 style.
func (c *Catalog) buildPercentilesSQL(req StatsRequest) (string, error) {
	points := req.Percentiles
	if len(points) == 0 {
		points = []float64{0.25, 0.5, 0.75, 0.9, 0.95, 0.99}
	}
	with, col, err := c.statsBase(req)
	if err != nil {
		return "", err
	}
	cols := make([]string, len(points))
	for i, p := range points {
		if p <= 0 || p >= 1 {
			return "", errs.Newf(errs.KindInvalidArgument, "percentile %g out of range (0, 1)", p)
		}
		cols[i] = fmt.Sprintf("PERCENTILE_CONT(%g) WITHIN GROUP (ORDER BY %s) AS %s",
			p, col, percentileAlias(p))
	}
	return with + "\nSELECT " + strings.Join(cols, ",\n       ") + "\nFROM base", nil
}

func percentileAlias(p float64) string {
	s := fmt.Sprintf("%g", p*100)
	s = strings.ReplaceAll(s, ".", "_")
	return "p" + s
}

// buildDistributionSQL renders median, mode, and interquartile range.
func (c *Catalog) buildDistributionSQL(req StatsRequest) (string, error) {
	with, col, err := c.statsBase(req)
	if err != nil {
		return "", err
	}
	return with + "\nSELECT " + strings.Join([]string{
		fmt.Sprintf("MEDIAN(%s) AS median", col),
		fmt.Sprintf("MODE(%s) AS mode", col),
		fmt.Sprintf("PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY %s) AS q1", col),
		fmt.Sprintf("PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY %s) AS q3", col),
		fmt.Sprintf("PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY %s) - PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY %s) AS iqr", col, col),
	}, ",\n       ") + "\nFROM base", nil
}

// buildCorrelationSQL renders the upper triangle of pairwise CORR()
// calls; the executor mirrors it into a full matrix.
func (c *Catalog) buildCorrelationSQL(req StatsRequest) (string, []string, error) {
	if len(req.Measures) < 2 {
		return "", nil, errs.New(errs.KindInvalidArgument, "correlation needs at least two measures")
	}
	ds, err := c.Dataset(req.Dataset)
	if err != nil {
		return "", nil, err
	}
	cols := make([]string, len(req.Measures))
	for i, m := range req.Measures {
		col, err := c.MeasureColumn(m)
		if err != nil {
			return "", nil, err
		}
		cols[i] = col
	}
	base, err := c.baseCTE(ds, req.Filters)
	if err != nil {
		return "", nil, err
	}

	var pairs []string
	for i := range cols {
		for j := i + 1; j < len(cols); j++ {
			pairs = append(pairs, fmt.Sprintf("CORR(%s, %s) AS corr_%d_%d", cols[i], cols[j], i, j))
		}
	}
	sql := "WITH base AS (\n" + indent(base) + "\n)\nSELECT " +
		strings.Join(pairs, ",\n       ") + "\nFROM base"
	return sql, req.Measures, nil
}

// buildValuesSQL fetches the raw non-null values of the measure column.
// Histogram and outlier analysis post-process them in the executor.
func (c *Catalog) buildValuesSQL(req StatsRequest) (string, error) {
	with, col, err := c.statsBase(req)
	if err != nil {
		return "", err
	}
	return with + fmt.Sprintf("\nSELECT %s AS value\nFROM base\nWHERE %s IS NOT NULL", col, col), nil
}

// HistogramBin is one bucket of a computed histogram with its share of
// the binned values and the running totals up to and including it.
type HistogramBin struct {
	BinStart       float64 `json:"bin_start"`
	BinEnd         float64 `json:"bin_end"`
	Frequency      int     `json:"frequency"`
	Percentage     float64 `json:"percentage"`
	CumulativeFreq int     `json:"cumulative_freq"`
	CumulativePct  float64 `json:"cumulative_pct"`
}

// computeHistogram buckets values into equal-width bins. Values on the
// upper edge clamp into the last bin so every value lands somewhere.
func computeHistogram(values []float64, bins int, minOverride, maxOverride *float64) []HistogramBin {
	if bins <= 0 {
		bins = 10
	}
	if len(values) == 0 {
		return []HistogramBin{}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if minOverride != nil {
		lo = *minOverride
	}
	if maxOverride != nil {
		hi = *maxOverride
	}
	if hi <= lo {
		return accumulateBins([]HistogramBin{{BinStart: lo, BinEnd: hi, Frequency: len(values)}})
	}

	width := (hi - lo) / float64(bins)
	out := make([]HistogramBin, bins)
	for i := range out {
		out[i] = HistogramBin{BinStart: lo + float64(i)*width, BinEnd: lo + float64(i+1)*width}
	}
	for _, v := range values {
		if v < lo || v > hi {
			continue
		}
		idx := int(math.Floor((v - lo) / width))
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Frequency++
	}
	return accumulateBins(out)
}

// accumulateBins fills the percentage and cumulative columns from the
// bin frequencies. Percentages are of the binned total, so the last
// cumulative percentage is 100 whenever any value landed in a bin.
func accumulateBins(bins []HistogramBin) []HistogramBin {
	total := 0
	for _, b := range bins {
		total += b.Frequency
	}
	running := 0
	for i := range bins {
		running += bins[i].Frequency
		bins[i].CumulativeFreq = running
		if total > 0 {
			bins[i].Percentage = math.Round(10000*float64(bins[i].Frequency)/float64(total)) / 100
			bins[i].CumulativePct = math.Round(10000*float64(running)/float64(total)) / 100
		}
	}
	return bins
}

// quantile computes the p-quantile with linear interpolation over a
// sorted slice.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Outlier is one flagged value with the statistic that flagged it.
// Extreme marks z-score outliers beyond three standard deviations.
type Outlier struct {
	Value   float64 `json:"value"`
	Score   float64 `json:"score"`
	Extreme bool    `json:"extreme,omitempty"`
}

// detectOutliersIQR flags values beyond threshold*IQR from the
// quartiles. Score is the distance beyond the nearer fence in IQR
// units.
func detectOutliersIQR(values []float64, threshold float64) ([]Outlier, map[string]float64) {
	if threshold <= 0 {
		threshold = 1.5
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lowFence := q1 - threshold*iqr
	highFence := q3 + threshold*iqr

	var out []Outlier
	for _, v := range values {
		if v < lowFence || v > highFence {
			score := 0.0
			if iqr > 0 {
				if v < lowFence {
					score = (lowFence - v) / iqr
				} else {
					score = (v - highFence) / iqr
				}
			}
			out = append(out, Outlier{Value: v, Score: score})
		}
	}
	bounds := map[string]float64{
		"q1": q1, "q3": q3, "iqr": iqr,
		"low_fence": lowFence, "high_fence": highFence,
	}
	return out, bounds
}

// extremeZScore is the z-score past which an outlier is tiered extreme.
const extremeZScore = 3

// detectOutliersZScore flags values more than threshold standard
// deviations from the mean. Score is the absolute z-score; values past
// three standard deviations carry the extreme tier regardless of the
// configured cut.
func detectOutliersZScore(values []float64, threshold float64) ([]Outlier, map[string]float64) {
	if threshold <= 0 {
		threshold = 2
	}
	if len(values) == 0 {
		return nil, map[string]float64{"mean": math.NaN(), "stddev": math.NaN(), "threshold": threshold}
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(values)))

	var out []Outlier
	if stddev > 0 {
		for _, v := range values {
			z := math.Abs(v-mean) / stddev
			if z > threshold {
				out = append(out, Outlier{Value: v, Score: z, Extreme: z > extremeZScore})
			}
		}
	}
	bounds := map[string]float64{"mean": mean, "stddev": stddev, "threshold": threshold}
	return out, bounds
}

// correlationMatrix mirrors the upper-triangle pair results into a
// full symmetric matrix with a unit diagonal.
func correlationMatrix(measures []string, pairs map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(measures))
	for i, a := range measures {
		out[a] = make(map[string]any, len(measures))
		out[a][a] = 1.0
		for j := i + 1; j < len(measures); j++ {
			v := pairs[fmt.Sprintf("corr_%d_%d", i, j)]
			out[a][measures[j]] = v
			if _, ok := out[measures[j]]; !ok {
				out[measures[j]] = make(map[string]any, len(measures))
			}
			out[measures[j]][a] = v
		}
	}
	for _, m := range measures {
		out[m][m] = 1.0
	}
	return out
}
