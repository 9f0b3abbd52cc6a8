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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
)

// newTestCatalog builds the sales fixture shared by the builder tests.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(logr.Discard())

	c.AddDataset(&Dataset{
		Name:        "sales",
		SourceTable: "fact_sales f",
		Joins: []Join{
			{Table: "dim_product p", Kind: JoinLeft, On: "f.product_id = p.id"},
		},
		TimeDimension: "order_date",
	})
	c.AddDimension(&Dimension{Name: "region", Expression: "region"})
	c.AddDimension(&Dimension{Name: "channel", Expression: "channel"})
	c.AddDimension(&Dimension{
		Name:       "product",
		Expression: "product_name",
		Hierarchies: map[string][]string{
			"category": {"category", "subcategory", "product_name"},
		},
	})
	c.AddDimension(&Dimension{Name: "order_date", Expression: "order_date", Kind: DimensionTime})
	c.AddDimension(&Dimension{Name: "customer_id", Expression: "customer_id"})
	c.AddDimension(&Dimension{Name: "signup_date", Expression: "signup_date", Kind: DimensionTime})
	c.AddMeasure(&Measure{Name: "revenue", Expression: "SUM(net_amount)", Format: "currency"})
	c.AddMeasure(&Measure{Name: "orders", Expression: "COUNT(DISTINCT order_id)"})
	c.AddMeasure(&Measure{Name: "quantity", Expression: "SUM(quantity)"})
	return c
}

func TestCatalogLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, datasetsFile), []byte(`[
		{"name": "sales", "sourceTable": "fact_sales", "timeDimension": "order_date"}
	]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, dimensionsFile), []byte(`[
		{"name": "region", "expression": "region"},
		{"name": "order_date", "expression": "order_date", "kind": "time"}
	]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, measuresFile), []byte(`[
		{"name": "revenue", "expression": "SUM(net_amount)", "format": "currency"}
	]`), 0o600))

	c := NewCatalog(logr.Discard())
	require.NoError(t, c.Load(dir))

	assert.Equal(t, []string{"sales"}, c.Datasets())
	assert.Equal(t, DimensionTime, c.DimensionKindOf("order_date"))
	assert.Equal(t, DimensionStandard, c.DimensionKindOf("region"))

	expr, err := c.ResolveMeasure("revenue", "")
	require.NoError(t, err)
	assert.Equal(t, "SUM(net_amount)", expr)
}

func TestCatalogLoadMissingFilesIsEmpty(t *testing.T) {
	c := NewCatalog(logr.Discard())
	require.NoError(t, c.Load(t.TempDir()))
	assert.Empty(t, c.Datasets())
}

func TestResolveDimensionHierarchy(t *testing.T) {
	c := newTestCatalog(t)

	expr, err := c.ResolveDimension("product", "category", 0)
	require.NoError(t, err)
	assert.Equal(t, "category", expr)

	expr, err = c.ResolveDimension("product", "category", 2)
	require.NoError(t, err)
	assert.Equal(t, "product_name", expr)

	// unknown hierarchy or level falls back to the base expression
	expr, err = c.ResolveDimension("product", "nope", 0)
	require.NoError(t, err)
	assert.Equal(t, "product_name", expr)

	expr, err = c.ResolveDimension("product", "category", 9)
	require.NoError(t, err)
	assert.Equal(t, "product_name", expr)

	_, err = c.ResolveDimension("ghost", "", 0)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestResolveMeasureAggregationOverride(t *testing.T) {
	c := newTestCatalog(t)

	expr, err := c.ResolveMeasure("revenue", "AVG")
	require.NoError(t, err)
	assert.Equal(t, "AVG(net_amount)", expr)

	expr, err = c.ResolveMeasure("revenue", "count_distinct")
	require.NoError(t, err)
	assert.Equal(t, "COUNT(DISTINCT net_amount)", expr)

	expr, err = c.ResolveMeasure("orders", "MAX")
	require.NoError(t, err)
	assert.Equal(t, "MAX(order_id)", expr)

	_, err = c.ResolveMeasure("ghost", "")
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestMeasureColumn(t *testing.T) {
	c := newTestCatalog(t)

	col, err := c.MeasureColumn("revenue")
	require.NoError(t, err)
	assert.Equal(t, "net_amount", col)

	col, err = c.MeasureColumn("orders")
	require.NoError(t, err)
	assert.Equal(t, "order_id", col)
}
