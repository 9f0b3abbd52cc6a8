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

func TestBuildCohortSQL(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildCohortSQL(CohortRequest{
		Dataset:   "sales",
		EntityDim: "customer_id",
		CohortDim: "signup_date",
		Grain:     "month",
		Measure:   "revenue",
		Periods:   6,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "cohorts AS (")
	assert.Contains(t, sql, "MIN(DATE_TRUNC('month', signup_date)) AS cohort_period")
	assert.Contains(t, sql, "DATEDIFF('month', c.cohort_period, DATE_TRUNC('month', order_date)) AS period_offset")
	assert.Contains(t, sql, "SUM(b.net_amount) AS value")
	assert.Contains(t, sql, "BETWEEN 0 AND 6")
	assert.Contains(t, sql, "JOIN cohorts c ON b.customer_id = c.entity")
	assert.Contains(t, sql, "ORDER BY 1, 2")
}

func TestBuildCohortSQLHourGrain(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildCohortSQL(CohortRequest{
		Dataset:   "sales",
		EntityDim: "customer_id",
		Grain:     "hour",
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "MIN(DATE_TRUNC('hour', order_date)) AS cohort_period")
}

func TestBuildRetentionSQL(t *testing.T) {
	c := newTestCatalog(t)

	sql, err := c.buildRetentionSQL(CohortRequest{
		Dataset:   "sales",
		EntityDim: "customer_id",
		Grain:     "month",
	})
	require.NoError(t, err)

	// first-activity cohorts and distinct entity counts
	assert.Contains(t, sql, "MIN(DATE_TRUNC('month', order_date)) AS cohort_period")
	assert.Contains(t, sql, "COUNT(DISTINCT b.customer_id) AS value")
}

func TestBuildCohortSQLErrors(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.buildCohortSQL(CohortRequest{Dataset: "sales", EntityDim: "customer_id", Grain: "era"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = c.buildCohortSQL(CohortRequest{Dataset: "sales", Grain: "month"})
	require.Error(t, err)
}

func TestCohortMatrix(t *testing.T) {
	long := []map[string]any{
		{"cohort_period": "2025-01-01", "period_offset": int64(0), "value": float64(100)},
		{"cohort_period": "2025-01-01", "period_offset": int64(1), "value": float64(60)},
		{"cohort_period": "2025-01-01", "period_offset": int64(2), "value": float64(40)},
		{"cohort_period": "2025-02-01", "period_offset": int64(0), "value": float64(80)},
		{"cohort_period": "2025-02-01", "period_offset": int64(1), "value": float64(20)},
	}

	rows := cohortMatrix(long, 2, false)
	require.Len(t, rows, 2)

	jan := rows[0]
	assert.Equal(t, "2025-01-01", jan.Cohort)
	assert.Equal(t, 100.0, jan.Size)
	assert.Equal(t, 60.0, jan.Periods[1])
	assert.Nil(t, jan.Rates)

	feb := rows[1]
	assert.Equal(t, 80.0, feb.Size)
	assert.Nil(t, feb.Periods[2])
}

func TestCohortMatrixRetentionRates(t *testing.T) {
	long := []map[string]any{
		{"cohort_period": "2025-01-01", "period_offset": int64(0), "value": float64(200)},
		{"cohort_period": "2025-01-01", "period_offset": int64(1), "value": float64(50)},
	}

	rows := cohortMatrix(long, 1, true)
	require.Len(t, rows, 1)

	assert.Equal(t, 100.0, rows[0].Rates[0])
	assert.Equal(t, 25.0, rows[0].Rates[1])
}
