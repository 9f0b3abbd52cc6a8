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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
)

func TestBuildRollupSQL(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildRollupSQL(RollupRequest{
		Dataset:    "sales",
		Dimensions: []DimensionRef{{Dimension: "region"}, {Dimension: "channel"}},
		Measures:   []MeasureRef{{Measure: "revenue"}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "COALESCE(CAST(region AS VARCHAR), '[TOTAL]') AS region")
	assert.Contains(t, sql, "GROUPING(region) AS is_region_total")
	assert.Contains(t, sql, "GROUPING(channel) AS is_channel_total")
	assert.Contains(t, sql, "GROUP BY ROLLUP(region, channel)")
	assert.Contains(t, sql, "ORDER BY (GROUPING(region) + GROUPING(channel)) ASC, region, channel")
}

func TestBuildRollupSQLCube(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildRollupSQL(RollupRequest{
		Dataset:    "sales",
		Kind:       GroupingCube,
		Dimensions: []DimensionRef{{Dimension: "region"}, {Dimension: "channel"}},
		Measures:   []MeasureRef{{Measure: "revenue"}, {Measure: "orders"}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "GROUP BY CUBE(region, channel)")
	assert.Contains(t, sql, "COUNT(DISTINCT order_id) AS orders")
}

func TestBuildRollupSQLGroupingSets(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildRollupSQL(RollupRequest{
		Dataset:    "sales",
		Kind:       GroupingSets,
		Dimensions: []DimensionRef{{Dimension: "region"}, {Dimension: "channel"}},
		Measures:   []MeasureRef{{Measure: "revenue"}},
		Sets:       [][]string{{"region", "channel"}, {"region"}, {}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "GROUP BY GROUPING SETS ((region, channel), (region), ())")
}

func TestBuildRollupSQLErrors(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.buildRollupSQL(RollupRequest{
		Dataset:  "sales",
		Measures: []MeasureRef{{Measure: "revenue"}},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = c.buildRollupSQL(RollupRequest{
		Dataset:    "sales",
		Kind:       GroupingSets,
		Dimensions: []DimensionRef{{Dimension: "region"}},
		Measures:   []MeasureRef{{Measure: "revenue"}},
	})
	require.Error(t, err)

	_, err = c.buildRollupSQL(RollupRequest{
		Dataset:    "sales",
		Kind:       GroupingSets,
		Dimensions: []DimensionRef{{Dimension: "region"}},
		Measures:   []MeasureRef{{Measure: "revenue"}},
		Sets:       [][]string{{"ghost"}},
	})
	require.Error(t, err)
}
