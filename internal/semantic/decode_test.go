package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func TestDecodeMetric_Simple(t *testing.T) {
	diags := core.NewCollector()
	m, ok := DecodeMetric(&core.MetricDef{
		Name: "total_revenue",
		Fields: map[string]any{
			"type":        "simple",
			"source":      "orders",
			"description": "Total revenue",
			"measure": map[string]any{
				"type":   "sum",
				"column": "amount",
				"filter": "status = 'complete'",
			},
			"dimensions": []any{
				"region",
				map[string]any{"name": "order_date", "type": "time", "grain": "day"},
			},
			"source_ref": map[string]any{"table": "orders", "kind": "ref"},
		},
	}, diags)
	require.True(t, ok)
	assert.False(t, diags.HasErrors())

	assert.Equal(t, core.MetricSimple, m.Kind)
	assert.Equal(t, "orders", m.Source)
	require.NotNil(t, m.Measure)
	assert.Equal(t, "sum", m.Measure.Agg)
	assert.Equal(t, "amount", m.Measure.Expr)
	assert.Equal(t, []string{"status = 'complete'"}, m.Measure.Filters)
	require.NotNil(t, m.SourceRef)
	assert.Equal(t, "ref", m.SourceRef.Kind)

	require.Len(t, m.Dimensions, 2)
	assert.Equal(t, core.DimensionTime, m.Dimensions[1].Kind)
	assert.Equal(t, "day", m.Dimensions[1].Grain)
}

func TestDecodeMetric_AggregationAliases(t *testing.T) {
	diags := core.NewCollector()
	m, ok := DecodeMetric(&core.MetricDef{
		Name: "avg_order",
		Fields: map[string]any{
			"source":  "orders",
			"measure": map[string]any{"agg": "avg", "expr": "amount"},
		},
	}, diags)
	require.True(t, ok)
	assert.Equal(t, "average", m.Measure.Agg)
}

func TestDecodeMetric_Ratio(t *testing.T) {
	diags := core.NewCollector()
	m, ok := DecodeMetric(&core.MetricDef{
		Name: "conversion_rate",
		Fields: map[string]any{
			"type": "ratio",
			"numerator": map[string]any{
				"source":  "orders",
				"measure": map[string]any{"type": "count"},
				"filter":  "status = 'complete'",
			},
			"denominator": map[string]any{
				"source": "sessions",
				"type":   "count",
			},
		},
	}, diags)
	require.True(t, ok)

	require.NotNil(t, m.Numerator)
	assert.Equal(t, "orders", m.Numerator.Source)
	assert.Equal(t, "status = 'complete'", m.Numerator.Filter)
	require.NotNil(t, m.Numerator.Measure)
	assert.Equal(t, "count", m.Numerator.Measure.Agg)

	// The denominator uses the flattened measure form.
	require.NotNil(t, m.Denominator)
	assert.Equal(t, "sessions", m.Denominator.Source)
	require.NotNil(t, m.Denominator.Measure)
	assert.Equal(t, "count", m.Denominator.Measure.Agg)
}

func TestDecodeMetric_MeasureReference(t *testing.T) {
	diags := core.NewCollector()
	m, ok := DecodeMetric(&core.MetricDef{
		Name: "rev",
		Fields: map[string]any{
			"semantic_model": "sem_orders",
			"measure":        "total_revenue_measure",
		},
	}, diags)
	require.True(t, ok)
	assert.Nil(t, m.Measure)
	assert.Equal(t, "total_revenue_measure", m.MeasureRef)
	assert.Equal(t, "sem_orders", m.SemanticModel)
}

func TestDecodeMetric_Comparison(t *testing.T) {
	diags := core.NewCollector()
	m, ok := DecodeMetric(&core.MetricDef{
		Name: "rev_yoy",
		Fields: map[string]any{
			"type": "time_comparison",
			"comparison": map[string]any{
				"period":      "yoy",
				"base_metric": "revenue",
			},
		},
	}, diags)
	require.True(t, ok)
	require.NotNil(t, m.Comparison)
	assert.Equal(t, "yoy", m.Comparison.Period)
	assert.Equal(t, "revenue", m.Comparison.BaseMetric)
}

func TestDecodeMetric_MissingName(t *testing.T) {
	diags := core.NewCollector()
	_, ok := DecodeMetric(&core.MetricDef{Fields: map[string]any{"type": "simple"}}, diags)
	assert.False(t, ok)
	assert.True(t, diags.HasErrors())
}

func TestDecodeMetric_BadMeasureShape(t *testing.T) {
	diags := core.NewCollector()
	_, ok := DecodeMetric(&core.MetricDef{
		Name:   "m",
		Fields: map[string]any{"measure": []any{"not", "a", "mapping"}},
	}, diags)
	assert.False(t, ok)
	assert.Contains(t, diags.All()[0].Message, "measure must be a mapping")
}

func TestDecodeSemanticModel(t *testing.T) {
	diags := core.NewCollector()
	em, ok := DecodeSemanticModel(&core.SemanticModelDef{
		Name: "sem_orders",
		Fields: map[string]any{
			"source":      "orders",
			"description": "Orders model",
			"entities": []any{
				map[string]any{"name": "order", "type": "primary", "expr": "id"},
			},
			"dimensions": []any{"region"},
			"defaults":   map[string]any{"agg_time_dimension": "order_date"},
		},
	}, diags)
	require.True(t, ok)

	assert.Equal(t, "orders", em.Source)
	require.Len(t, em.Entities, 1)
	assert.Equal(t, core.EntityPrimary, em.Entities[0].Role)
	require.Len(t, em.Dimensions, 1)
	assert.Equal(t, "order_date", em.Defaults["agg_time_dimension"])
}
