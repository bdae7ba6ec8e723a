package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func parseDoc(t *testing.T, src string) *core.Document {
	t.Helper()
	doc, err := loader.Parse("test.yml", []byte(src))
	require.NoError(t, err)
	return doc
}

func setFor(doc *core.Document) *loader.DocumentSet {
	set := loader.NewDocumentSet()
	set.Add(doc)
	return set
}

func TestExpandMetric_ParameterSubstitution(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  revenue_base:
    parameters:
      - name: amount_column
        type: string
        required: true
      - name: min_amount
        type: number
        default: 0
    template:
      type: simple
      source: ref('orders')
      measure:
        type: sum
        column: "{{ amount_column }}"
      filter: "{{ amount_column }} >= {{ min_amount }}"
metrics:
  - name: total_revenue
    template: revenue_base
    amount_column: amount
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	fields, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)
	assert.False(t, diags.HasErrors())

	assert.Equal(t, "simple", fields["type"])
	assert.NotContains(t, fields, "template")

	measure := fields["measure"].(map[string]any)
	assert.Equal(t, "amount", measure["column"])
	assert.Equal(t, "amount >= 0", fields["filter"])
}

func TestExpandMetric_PurePlaceholderKeepsType(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  windowed:
    parameters:
      - name: days
        type: number
        required: true
    template:
      type: cumulative
      window_days: "{{ days }}"
metrics:
  - name: rolling
    template: windowed
    days: 28
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	fields, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)
	assert.Equal(t, 28, fields["window_days"])
}

func TestExpandMetric_MissingRequiredParameter(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  needy:
    parameters:
      - name: column
        type: string
        required: true
        description: column to aggregate
    template:
      type: simple
metrics:
  - name: m
    template: needy
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	require.True(t, diags.HasErrors())
	d := diags.All()[0]
	assert.Contains(t, d.Message, `requires parameter "column"`)
	assert.Equal(t, "column to aggregate", d.Suggestion)
}

func TestExpandMetric_EnumValidation(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  period_metric:
    parameters:
      - name: period
        type: string
        enum: [day, week, month]
    template:
      type: simple
      grain: "{{ period }}"
metrics:
  - name: bad
    template: period_metric
    period: decade
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	assert.Contains(t, diags.All()[0].Message, "not one of")
}

func TestExpandMetric_BadParameterType(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  typed:
    parameters:
      - name: threshold
        type: number
    template:
      type: simple
      filter: "amount > {{ threshold }}"
metrics:
  - name: m
    template: typed
    threshold: not_a_number
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	assert.Contains(t, diags.All()[0].Message, "expects number")
}

func TestExpandMetric_UndeclaredExplicitParameterWarns(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  simple_tpl:
    parameters:
      - name: column
        default: amount
    template:
      type: simple
metrics:
  - name: m
    template: simple_tpl
    description: overrides are not template args
    parameters:
      typo_param: 1
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)
	assert.False(t, diags.HasErrors())
	require.Equal(t, 1, diags.Count(core.SeverityWarning))
	assert.Contains(t, diags.All()[0].Message, "typo_param")
}

func TestExpandMetric_OverridesWinAndDimensionsUnion(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  base:
    template:
      type: simple
      description: from template
      dimensions:
        - region
        - status
metrics:
  - name: m
    template: base
    description: overridden
    dimensions:
      - status
      - channel
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	fields, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)

	assert.Equal(t, "overridden", fields["description"])
	dims := fields["dimensions"].([]any)
	assert.Equal(t, []any{"region", "status", "channel"}, dims)
}

func TestExpandMetric_NestedTemplatesDepthBound(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  a:
    template:
      template: b
  b:
    template:
      template: c
  c:
    template:
      template: a
metrics:
  - name: deep
    template: a
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 3)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.All()[0].Message, "depth")
}

func TestExpandMetric_NestedTemplatesWithinBound(t *testing.T) {
	doc := parseDoc(t, `
metric_templates:
  outer:
    template:
      template: inner
      description: outer
  inner:
    template:
      type: simple
      source: ref('orders')
metrics:
  - name: m
    template: outer
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	fields, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)
	assert.Equal(t, "simple", fields["type"])
	assert.Equal(t, "outer", fields["description"])
}

func TestExpandMetric_UnknownTemplate(t *testing.T) {
	doc := parseDoc(t, `
metrics:
  - name: m
    template: nope
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	assert.Equal(t, core.CategoryTemplate, diags.All()[0].Category)
}

func TestExpandMetric_Extends(t *testing.T) {
	doc := parseDoc(t, `
metrics:
  - name: base_revenue
    type: simple
    source: ref('orders')
    measure: {type: sum, column: amount}
    dimensions:
      - region
  - name: us_revenue
    extends: base_revenue
    filter: "country = 'US'"
    dimensions:
      - state
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	fields, ok := e.ExpandMetric(doc, doc.Metrics[1])
	require.True(t, ok)
	assert.False(t, diags.HasErrors())

	// Child keeps its own name and filter, inherits the rest.
	assert.Equal(t, "us_revenue", fields["name"])
	assert.Equal(t, "simple", fields["type"])
	assert.Equal(t, "country = 'US'", fields["filter"])
	assert.Equal(t, []any{"region", "state"}, fields["dimensions"])
	assert.NotContains(t, fields, "extends")
}

func TestExpandMetric_ExtendsLoop(t *testing.T) {
	doc := parseDoc(t, `
metrics:
  - name: a
    extends: b
  - name: b
    extends: a
`)
	diags := core.NewCollector()
	e := New(setFor(doc), diags, nil, 0)

	_, ok := e.ExpandMetric(doc, doc.Metrics[0])
	assert.False(t, ok)
	assert.Contains(t, diags.All()[0].Message, "loops")
}

func TestExpandMetric_NoTemplateIsPassthrough(t *testing.T) {
	doc := parseDoc(t, `
metrics:
  - name: plain
    type: simple
    source: ref('orders')
`)
	e := New(setFor(doc), core.NewCollector(), nil, 0)
	fields, ok := e.ExpandMetric(doc, doc.Metrics[0])
	require.True(t, ok)
	assert.Equal(t, "plain", fields["name"])
}

func TestExpandMetric_AliasQualifiedTemplate(t *testing.T) {
	shared, err := loader.Parse("shared.yml", []byte(`
metric_templates:
  rev:
    template:
      type: simple
      source: ref('shared_orders')
      measure:
        type: sum
        column: amount
`))
	require.NoError(t, err)

	main, err := loader.Parse("main.yml", []byte(`
imports:
  - shared.yml as shared
metric_templates:
  rev:
    template:
      type: simple
      source: ref('local_orders')
      measure:
        type: sum
        column: amount
metrics:
  - name: total
    template: shared.rev
`))
	require.NoError(t, err)

	set := loader.NewDocumentSet()
	set.Add(shared)
	set.Add(main)

	diags := core.NewCollector()
	e := New(set, diags, nil, 0).WithNamespaces(func(docPath string) map[string]*core.Document {
		if docPath == "main.yml" {
			return map[string]*core.Document{"shared": shared}
		}
		return nil
	})

	fields, ok := e.ExpandMetric(main, main.Metrics[0])
	require.True(t, ok)
	assert.False(t, diags.HasErrors())
	// The aliased document's template wins over the local one of the same name.
	assert.Equal(t, "ref('shared_orders')", fields["source"])
}

func TestExpandMetric_AliasQualifiedTemplateMissing(t *testing.T) {
	shared, err := loader.Parse("shared.yml", []byte(`
metric_templates:
  other: {template: {type: simple}}
`))
	require.NoError(t, err)

	main, err := loader.Parse("main.yml", []byte(`
imports:
  - shared.yml as shared
metrics:
  - name: total
    template: shared.rev
`))
	require.NoError(t, err)

	set := loader.NewDocumentSet()
	set.Add(shared)
	set.Add(main)

	diags := core.NewCollector()
	e := New(set, diags, nil, 0).WithNamespaces(func(docPath string) map[string]*core.Document {
		if docPath == "main.yml" {
			return map[string]*core.Document{"shared": shared}
		}
		return nil
	})

	_, ok := e.ExpandMetric(main, main.Metrics[0])
	assert.False(t, ok)
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.All()[0].Message, "shared.rev")
}
