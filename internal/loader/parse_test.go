package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func TestParse_Metrics(t *testing.T) {
	doc, err := Parse("metrics.yml", []byte(`
version: 1
metrics:
  - name: total_revenue
    type: simple
    source: ref('orders')
    measure:
      type: sum
      column: amount
  - name: order_count
    source: ref('orders')
    measure:
      type: count
`))
	require.NoError(t, err)
	require.Len(t, doc.Metrics, 2)

	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "total_revenue", doc.Metrics[0].Name)
	assert.Equal(t, "simple", doc.Metrics[0].Fields["type"])
	assert.Equal(t, "order_count", doc.Metrics[1].Name)

	// Definitions keep their source lines.
	assert.Equal(t, "metrics.yml", doc.Metrics[0].Pos.File)
	assert.Equal(t, 4, doc.Metrics[0].Pos.Line)
	assert.Equal(t, 10, doc.Metrics[1].Pos.Line)
}

func TestParse_ImportForms(t *testing.T) {
	doc, err := Parse("a.yml", []byte(`
imports:
  - shared/base_metrics.yml as base
  - path: templates/revenue.yml
    alias: rev
  - shared/dims.yml
`))
	require.NoError(t, err)
	require.Len(t, doc.Imports, 3)

	assert.Equal(t, "shared/base_metrics.yml", doc.Imports[0].Path)
	assert.Equal(t, "base", doc.Imports[0].Alias)

	assert.Equal(t, "templates/revenue.yml", doc.Imports[1].Path)
	assert.Equal(t, "rev", doc.Imports[1].Alias)

	// Alias defaults to the base file name.
	assert.Equal(t, "shared/dims.yml", doc.Imports[2].Path)
	assert.Equal(t, "dims", doc.Imports[2].Alias)
}

func TestParse_Templates(t *testing.T) {
	doc, err := Parse("t.yml", []byte(`
metric_templates:
  revenue_base:
    description: Base revenue metric
    parameters:
      - name: amount_column
        type: string
        required: true
      - name: min_amount
        type: number
        default: 0
      - currency
    template:
      type: simple
      source: ref('orders')
      measure:
        type: sum
        column: "{{ amount_column }}"
`))
	require.NoError(t, err)

	tpl, ok := doc.MetricTemplates["revenue_base"]
	require.True(t, ok)
	assert.Equal(t, "Base revenue metric", tpl.Description)
	require.Len(t, tpl.Parameters, 3)

	assert.Equal(t, "amount_column", tpl.Parameters[0].Name)
	assert.True(t, tpl.Parameters[0].Required)
	assert.Equal(t, "number", tpl.Parameters[1].Type)
	assert.Equal(t, 0, tpl.Parameters[1].Default)

	// Bare string parameters are required strings.
	assert.Equal(t, "currency", tpl.Parameters[2].Name)
	assert.Equal(t, "string", tpl.Parameters[2].Type)
	assert.True(t, tpl.Parameters[2].Required)

	assert.Equal(t, "simple", tpl.Body["type"])
}

func TestParse_TemplateWithoutBody(t *testing.T) {
	_, err := Parse("t.yml", []byte(`
metric_templates:
  broken:
    description: no body here
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no template body")
}

func TestParse_DimensionGroups(t *testing.T) {
	doc, err := Parse("d.yml", []byte(`
dimension_groups:
  order_dims:
    dimensions:
      - name: order_date
        type: time
        grain: day
      - status
  short_dims:
    - region
`))
	require.NoError(t, err)

	grp, ok := doc.DimensionGroups["order_dims"]
	require.True(t, ok)
	require.Len(t, grp.Dimensions, 2)
	assert.Equal(t, core.DimensionTime, grp.Dimensions[0].Kind)
	assert.Equal(t, "day", grp.Dimensions[0].Grain)
	assert.Equal(t, "status", grp.Dimensions[1].Name)
	assert.Equal(t, core.DimensionCategorical, grp.Dimensions[1].Kind)

	short, ok := doc.DimensionGroups["short_dims"]
	require.True(t, ok)
	require.Len(t, short.Dimensions, 1)
	assert.Equal(t, "region", short.Dimensions[0].Name)
}

func TestParse_EntitySetsAndJoins(t *testing.T) {
	doc, err := Parse("j.yml", []byte(`
entity_sets:
  - name: customer_set
    primary: customer
    include:
      - order
      - entity: region
        through: orders_to_regions
join_paths:
  - from: orders
    to: customers
    keys:
      - from_column: customer_id
        to_column: id
join_path_aliases:
  orders_to_regions:
    - orders_to_customers
    - customers_to_regions
`))
	require.NoError(t, err)

	require.Len(t, doc.EntitySets, 1)
	set := doc.EntitySets[0]
	assert.Equal(t, "customer", set.Primary)
	require.Len(t, set.Includes, 2)
	assert.Equal(t, core.EntityForeign, set.Includes[0].Role)
	assert.Equal(t, "orders_to_regions", set.Includes[1].Through)

	require.Len(t, doc.JoinPaths, 1)
	jp := doc.JoinPaths[0]
	assert.Equal(t, "orders_to_customers", jp.Name)
	require.Len(t, jp.Keys, 1)
	assert.Equal(t, "customer_id", jp.Keys[0].FromColumn)

	alias, ok := doc.JoinPathAliases["orders_to_regions"]
	require.True(t, ok)
	assert.Equal(t, []string{"orders_to_customers", "customers_to_regions"}, alias.Hops)
}

func TestParse_TimeSpines(t *testing.T) {
	doc, err := Parse("s.yml", []byte(`
time_spines:
  daily:
    model: ref('all_days')
    column: date_day
    grain: day
`))
	require.NoError(t, err)

	ts, ok := doc.TimeSpines["daily"]
	require.True(t, ok)
	assert.Equal(t, "ref('all_days')", ts.Table)
	assert.Equal(t, "date_day", ts.Column)
	assert.Equal(t, "day", ts.Grain)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse("bad.yml", []byte("metrics:\n  - name: x\n   bad_indent: y\n"))
	require.Error(t, err)

	var synErr *core.SyntaxError
	require.ErrorAs(t, err, &synErr)
	assert.Equal(t, "bad.yml", synErr.Position().File)
}

func TestParse_TopLevelMustBeMapping(t *testing.T) {
	_, err := Parse("bad.yml", []byte("- just\n- a\n- list\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top level must be a mapping")
}

func TestParse_UnknownSectionsIgnored(t *testing.T) {
	doc, err := Parse("x.yml", []byte("something_else:\n  key: value\n"))
	require.NoError(t, err)
	assert.Empty(t, doc.Metrics)
}
