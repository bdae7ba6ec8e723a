package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/semantic"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func TestMeasureSignature(t *testing.T) {
	a := core.Measure{Agg: "sum", Expr: "amount", Filters: []string{"status = 'complete'", "region = 'us'"}}
	b := core.Measure{Agg: "SUM", Expr: "amount", Filters: []string{"region = 'us'", "status =  \"complete\""}}
	assert.Equal(t, MeasureSignature(a), MeasureSignature(b))

	c := core.Measure{Agg: "sum", Expr: "amount", Filters: []string{"status = 'pending'"}}
	assert.NotEqual(t, MeasureSignature(a), MeasureSignature(c))

	// Percentile value is part of the identity.
	p50 := core.Measure{Agg: "percentile", Expr: "latency", Percentile: 0.5}
	p99 := core.Measure{Agg: "percentile", Expr: "latency", Percentile: 0.99}
	assert.NotEqual(t, MeasureSignature(p50), MeasureSignature(p99))
}

func TestNormalizeSQL(t *testing.T) {
	assert.Equal(t, "status = 'complete'", NormalizeSQL(`status   =
		"complete"`))
	assert.Equal(t, "amount", NormalizeSQL("  amount  "))
	// Identifier case is preserved.
	assert.Equal(t, "Amount", NormalizeSQL("Amount"))
}

func TestDeduplicate(t *testing.T) {
	model := &core.SemanticModel{
		Name: "sem_orders",
		Measures: []core.Measure{
			{Name: "revenue_measure", Agg: "sum", Expr: "amount"},
			{Name: "total_revenue_measure", Agg: "sum", Expr: " amount "},
			{Name: "us_revenue_measure", Agg: "sum", Expr: "amount", Filters: []string{"region = 'us'"}},
		},
	}
	res := &semantic.Result{
		Models: []*core.SemanticModel{model},
		Bindings: []semantic.Binding{
			{Metric: "revenue", Role: semantic.RoleMeasure, Model: "sem_orders", Measure: "revenue_measure"},
			{Metric: "total_revenue", Role: semantic.RoleMeasure, Model: "sem_orders", Measure: "total_revenue_measure"},
			{Metric: "us_revenue", Role: semantic.RoleMeasure, Model: "sem_orders", Measure: "us_revenue_measure"},
		},
	}

	out := Deduplicate(res, nil)

	assert.Equal(t, 1, out.Removed)
	require.Len(t, model.Measures, 2)
	assert.Equal(t, "revenue_measure", model.Measures[0].Name)
	assert.Equal(t, "us_revenue_measure", model.Measures[1].Name)

	// The binding for the removed measure now points at the survivor.
	assert.Equal(t, "revenue_measure", res.Bindings[1].Measure)
	assert.Equal(t, "revenue_measure", res.Bindings[0].Measure)
	assert.Equal(t, "us_revenue_measure", res.Bindings[2].Measure)

	assert.Equal(t, map[string]string{"total_revenue_measure": "revenue_measure"}, out.Renames["sem_orders"])
}

func TestDeduplicate_FilterDifferenceSplits(t *testing.T) {
	model := &core.SemanticModel{
		Name: "sem_orders",
		Measures: []core.Measure{
			{Name: "a_measure", Agg: "count", Expr: "1", Filters: []string{"status = 'a'"}},
			{Name: "b_measure", Agg: "count", Expr: "1", Filters: []string{"status = 'b'"}},
		},
	}
	res := &semantic.Result{Models: []*core.SemanticModel{model}}

	out := Deduplicate(res, nil)
	assert.Equal(t, 0, out.Removed)
	assert.Len(t, model.Measures, 2)
}

func TestDeduplicate_ScopedPerModel(t *testing.T) {
	res := &semantic.Result{Models: []*core.SemanticModel{
		{Name: "sem_orders", Measures: []core.Measure{{Name: "count_measure", Agg: "count", Expr: "1"}}},
		{Name: "sem_sessions", Measures: []core.Measure{{Name: "count_measure", Agg: "count", Expr: "1"}}},
	}}

	out := Deduplicate(res, nil)
	assert.Equal(t, 0, out.Removed)
}
