package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func simpleMetric(name, source, column string, dims ...core.Dimension) *core.Metric {
	return &core.Metric{
		Name:       name,
		Kind:       core.MetricSimple,
		Source:     source,
		Measure:    &core.Measure{Agg: "sum", Expr: column},
		Dimensions: dims,
	}
}

func newTestBuilder(t *testing.T, diags *core.Collector) *Builder {
	t.Helper()
	return NewBuilder(DefaultInference(), testutil.NewTestLogger(t), diags)
}

func TestBuild_ModelPerSource(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	res := b.Build([]*core.Metric{
		simpleMetric("total_revenue", "orders", "amount"),
		simpleMetric("order_count", "orders", "1"),
		simpleMetric("session_count", "sessions", "1"),
	}, nil, ProjectContext{})

	require.Len(t, res.Models, 2)
	assert.Equal(t, "sem_orders", res.Models[0].Name)
	assert.Equal(t, "sem_sessions", res.Models[1].Name)
	assert.Equal(t, "orders", res.Models[0].Model)
	assert.Equal(t, "Semantic model for orders", res.Models[0].Description)

	// Measures are named metric_role and sorted.
	orders := res.Models[0]
	require.Len(t, orders.Measures, 2)
	assert.Equal(t, "order_count_measure", orders.Measures[0].Name)
	assert.Equal(t, "total_revenue_measure", orders.Measures[1].Name)
}

func TestBuild_RatioContributesToBothSources(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	res := b.Build([]*core.Metric{{
		Name: "conversion_rate",
		Kind: core.MetricRatio,
		Numerator: &core.MetricInput{
			Source:  "orders",
			Measure: &core.Measure{Agg: "count"},
			Filter:  "status = 'complete'",
		},
		Denominator: &core.MetricInput{
			Source:  "sessions",
			Measure: &core.Measure{Agg: "count"},
		},
	}}, nil, ProjectContext{})

	require.Len(t, res.Models, 2)
	orders, sessions := res.Models[0], res.Models[1]

	require.Len(t, orders.Measures, 1)
	assert.Equal(t, "conversion_rate_numerator", orders.Measures[0].Name)
	// Input filters fold into the measure.
	assert.Equal(t, []string{"status = 'complete'"}, orders.Measures[0].Filters)

	require.Len(t, sessions.Measures, 1)
	assert.Equal(t, "conversion_rate_denominator", sessions.Measures[0].Name)

	require.Len(t, res.Bindings, 2)
	assert.Equal(t, Binding{Metric: "conversion_rate", Role: RoleNumerator, Model: "sem_orders", Measure: "conversion_rate_numerator"}, res.Bindings[0])
}

func TestBuild_EntityAndTimeInference(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	res := b.Build([]*core.Metric{
		simpleMetric("revenue", "orders", "amount",
			core.Dimension{Name: "customer_id"},
			core.Dimension{Name: "order_date"},
			core.Dimension{Name: "region"},
		),
	}, nil, ProjectContext{})

	require.Len(t, res.Models, 1)
	m := res.Models[0]

	// customer_id infers a foreign entity named by its stem.
	require.Len(t, m.Entities, 1)
	assert.Equal(t, "customer", m.Entities[0].Name)
	assert.Equal(t, core.EntityForeign, m.Entities[0].Role)

	byName := map[string]core.Dimension{}
	for _, d := range m.Dimensions {
		byName[d.Name] = d
	}
	assert.Equal(t, core.DimensionTime, byName["order_date"].Kind)
	assert.Equal(t, "day", byName["order_date"].Grain)
	assert.Equal(t, core.DimensionCategorical, byName["region"].Kind)
}

func TestBuild_ExplicitModelWins(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	res := b.Build(
		[]*core.Metric{
			simpleMetric("revenue", "orders", "amount",
				core.Dimension{Name: "order_date"},
			),
		},
		[]*ExplicitModel{{
			Name:        "sem_orders",
			Source:      "orders",
			Description: "Hand written",
			Entities:    []core.Entity{{Name: "order", Role: core.EntityPrimary, Expr: "id"}},
			Dimensions:  []core.Dimension{{Name: "order_date", Kind: core.DimensionTime, Grain: "month"}},
		}},
		ProjectContext{},
	)

	require.Len(t, res.Models, 1)
	m := res.Models[0]
	assert.Equal(t, "Hand written", m.Description)

	// The explicit month grain survives the inferred day default.
	require.Len(t, m.Dimensions, 1)
	assert.Equal(t, "month", m.Dimensions[0].Grain)

	require.Len(t, m.Entities, 1)
	assert.Equal(t, core.EntityPrimary, m.Entities[0].Role)
}

func TestBuild_EntitySets(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	project := ProjectContext{
		EntitySets: []*core.EntitySet{{
			Name:    "customer_set",
			Primary: "customer",
			Includes: []core.EntityInclude{
				{Entity: "region", Role: core.EntityForeign, Through: "orders_to_regions"},
			},
		}},
		JoinPaths: []*core.JoinPath{
			{Name: "orders_to_customers", From: "orders", To: "customers", Keys: []core.JoinKey{{FromColumn: "customer_id", ToColumn: "id"}}},
			{Name: "customers_to_regions", From: "customers", To: "regions", Keys: []core.JoinKey{{FromColumn: "region_id", ToColumn: "id"}}},
		},
		JoinPathAliases: []*core.JoinPathAlias{
			{Name: "orders_to_regions", Hops: []string{"orders_to_customers", "customers_to_regions"}},
		},
	}

	m := simpleMetric("revenue", "orders", "amount")
	m.EntitySet = "customer_set"

	res := b.Build([]*core.Metric{m}, nil, project)
	require.Len(t, res.Models, 1)
	model := res.Models[0]

	names := make([]string, 0, len(model.Entities))
	for _, e := range model.Entities {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "customer")
	assert.Contains(t, names, "region")
	// Primary sorts first.
	assert.Equal(t, "customer", model.Entities[0].Name)

	// The alias expands into both hops plus the project-level join edge,
	// deduplicated by target and keys.
	tos := make([]string, 0, len(model.Joins))
	for _, j := range model.Joins {
		tos = append(tos, j.To)
	}
	assert.Equal(t, []string{"customers", "regions"}, tos)
}

func TestBuild_UnknownEntitySet(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	m := simpleMetric("revenue", "orders", "amount")
	m.EntitySet = "nope"

	b.Build([]*core.Metric{m}, nil, ProjectContext{})
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.All()[0].Message, "nope")
}

func TestBuild_TimeSpineBinding(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	project := ProjectContext{
		TimeSpines: []*core.TimeSpine{
			{Name: "daily", Table: "all_days", Column: "date_day", Grain: "day"},
		},
	}

	res := b.Build([]*core.Metric{
		simpleMetric("revenue", "orders", "amount", core.Dimension{Name: "order_date"}),
	}, nil, project)

	require.Len(t, res.Models, 1)
	spine := res.Models[0].TimeSpine
	require.NotNil(t, spine)
	assert.Equal(t, "all_days", spine.Table)
	assert.Equal(t, "day", spine.Grain)
}

func TestBuild_ExplicitTimeSpineUnknown(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	m := simpleMetric("revenue", "orders", "amount")
	m.TimeSpine = "weekly"

	b.Build([]*core.Metric{m}, nil, ProjectContext{})
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.All()[0].Message, "weekly")
}

func TestBuild_MeasureRefChecked(t *testing.T) {
	diags := core.NewCollector()
	b := newTestBuilder(t, diags)

	ref := &core.Metric{
		Name:          "rev_alias",
		Kind:          core.MetricSimple,
		Source:        "orders",
		SemanticModel: "sem_orders",
		MeasureRef:    "no_such_measure",
	}

	b.Build([]*core.Metric{
		simpleMetric("revenue", "orders", "amount"),
		ref,
	}, nil, ProjectContext{})

	require.True(t, diags.HasErrors())
	d := diags.All()[0]
	assert.Contains(t, d.Message, "no_such_measure")
	assert.Contains(t, d.Suggestion, "revenue_measure")
}

func TestBuild_DeterministicOrder(t *testing.T) {
	diags := core.NewCollector()

	build := func(metrics []*core.Metric) []string {
		b := newTestBuilder(t, diags)
		res := b.Build(metrics, nil, ProjectContext{})
		var names []string
		for _, m := range res.Models {
			names = append(names, m.Name)
			for _, ms := range m.Measures {
				names = append(names, ms.Name)
			}
		}
		return names
	}

	a := build([]*core.Metric{
		simpleMetric("b_metric", "orders", "x"),
		simpleMetric("a_metric", "orders", "y"),
	})
	bOrder := build([]*core.Metric{
		simpleMetric("a_metric", "orders", "y"),
		simpleMetric("b_metric", "orders", "x"),
	})
	assert.Equal(t, a, bOrder)
}
