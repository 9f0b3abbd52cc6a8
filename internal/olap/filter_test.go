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

func TestFormatFilter(t *testing.T) {
	c := newTestCatalog(t)

	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"eq string", Filter{Dimension: "region", Operator: "eq", Value: "east"}, "region = 'east'"},
		{"ne", Filter{Dimension: "region", Operator: "ne", Value: "west"}, "region != 'west'"},
		{"gt number", Filter{Dimension: "region", Operator: "gt", Value: float64(10)}, "region > 10"},
		{"gte float", Filter{Dimension: "region", Operator: "gte", Value: 1.5}, "region >= 1.5"},
		{"like", Filter{Dimension: "region", Operator: "like", Value: "e%"}, "region LIKE 'e%'"},
		{"not_like", Filter{Dimension: "region", Operator: "not_like", Value: "w%"}, "region NOT LIKE 'w%'"},
		{"contains", Filter{Dimension: "region", Operator: "contains", Value: "ast"}, "region LIKE '%ast%'"},
		{"contains escaping", Filter{Dimension: "region", Operator: "contains", Value: "o'br"}, "region LIKE '%o''br%'"},
		{"in", Filter{Dimension: "region", Operator: "in", Values: []any{"east", "west"}}, "region IN ('east', 'west')"},
		{"not_in", Filter{Dimension: "region", Operator: "not_in", Values: []any{float64(1), float64(2)}}, "region NOT IN (1, 2)"},
		{"between", Filter{Dimension: "region", Operator: "between", Values: []any{float64(1), float64(9)}}, "region BETWEEN 1 AND 9"},
		{"is_null", Filter{Dimension: "region", Operator: "is_null"}, "region IS NULL"},
		{"is_not_null", Filter{Dimension: "region", Operator: "is_not_null"}, "region IS NOT NULL"},
		{"quote escaping", Filter{Dimension: "region", Operator: "eq", Value: "o'brien"}, "region = 'o''brien'"},
		{"bool", Filter{Dimension: "region", Operator: "eq", Value: true}, "region = TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.formatFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFilterErrors(t *testing.T) {
	c := newTestCatalog(t)

	cases := []Filter{
		{Dimension: "region", Operator: "matches", Value: "x"},
		{Dimension: "ghost", Operator: "eq", Value: "x"},
		{Dimension: "region", Operator: "in"},
		{Dimension: "region", Operator: "between", Values: []any{1}},
		{Dimension: "region", Operator: "eq"},
		{Dimension: "region", Operator: "contains"},
	}
	for _, f := range cases {
		_, err := c.formatFilter(f)
		require.Error(t, err, "filter %+v", f)
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	}
}

func TestFormatFiltersConjunction(t *testing.T) {
	c := newTestCatalog(t)

	got, err := c.formatFilters([]Filter{
		{Dimension: "region", Operator: "eq", Value: "east"},
		{Dimension: "channel", Operator: "in", Values: []any{"web", "store"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "region = 'east' AND channel IN ('web', 'store')", got)

	got, err = c.formatFilters(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLLiteral(t *testing.T) {
	assert.Equal(t, "NULL", sqlLiteral(nil))
	assert.Equal(t, "'x'", sqlLiteral("x"))
	assert.Equal(t, "42", sqlLiteral(42))
	assert.Equal(t, "42", sqlLiteral(float64(42)))
	assert.Equal(t, "4.25", sqlLiteral(4.25))
	assert.Equal(t, "FALSE", sqlLiteral(false))
}
