package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

const projectFile = `
metrics:
  - name: total_revenue
    description: Total order revenue
    type: simple
    source: orders
    measure:
      type: sum
      column: amount
    dimensions:
      - order_date
      - region
    auto_variants:
      time_comparison: [wow]

  - name: order_count
    description: Number of orders
    type: simple
    source: orders
    measure:
      type: count
    dimensions:
      - order_date

  - name: aov
    description: Average order value
    type: derived
    expression: "metric('total_revenue') / metric('order_count')"
`

func compileProject(t *testing.T, files map[string]string, mutate func(*Options)) *Result {
	t.Helper()
	root := testutil.WriteProject(t, files)
	opts := Options{Root: root, OutDir: filepath.Join(root, "compiled")}
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts, testutil.NewTestLogger(t))
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRun_FullPipeline(t *testing.T) {
	res := compileProject(t, map[string]string{"metrics.yml": projectFile}, nil)

	require.False(t, res.Diags.HasErrors(), "diags: %v", res.Diags.All())
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Stats.FilesLoaded)
	// total_revenue, order_count, aov, plus the wow variant.
	assert.Equal(t, 4, res.Stats.MetricsCompiled)
	assert.Equal(t, 1, res.Stats.VariantsExpanded)

	require.Len(t, res.Models, 1)
	model := res.Models[0]
	assert.Equal(t, "sem_orders", model.Name)

	// count and sum measures stay distinct.
	names := make([]string, 0, len(model.Measures))
	for _, ms := range model.Measures {
		names = append(names, ms.Name)
	}
	assert.Equal(t, []string{"order_count_measure", "total_revenue_measure"}, names)

	require.True(t, res.Emitted())
}

func TestRun_EmitsReadableOutput(t *testing.T) {
	root := testutil.WriteProject(t, map[string]string{"metrics.yml": projectFile})
	outDir := filepath.Join(root, "compiled")
	c := New(Options{Root: root, OutDir: outDir}, testutil.NewTestLogger(t))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Emitted())

	data, err := os.ReadFile(filepath.Join(outDir, res.Files[0].Name))
	require.NoError(t, err)

	var doc struct {
		Version int `yaml:"version"`
		Metrics []struct {
			Name string `yaml:"name"`
		} `yaml:"metrics"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Version)
	// Metrics emit name-sorted; the wow variant rides along.
	metricNames := make([]string, 0, len(doc.Metrics))
	for _, m := range doc.Metrics {
		metricNames = append(metricNames, m.Name)
	}
	assert.Equal(t, []string{"aov", "order_count", "total_revenue", "total_revenue_wow"}, metricNames)
}

func TestRun_SkipEmit(t *testing.T) {
	res := compileProject(t, map[string]string{"metrics.yml": projectFile}, func(o *Options) {
		o.SkipEmit = true
	})
	require.False(t, res.Diags.HasErrors())
	assert.False(t, res.Emitted())
	assert.Equal(t, 0, res.Stats.ModelsEmitted)
}

func TestRun_NoOutputOnError(t *testing.T) {
	bad := `
metrics:
  - name: broken
    description: References nothing real
    type: derived
    expression: "metric('missing')"
`
	res := compileProject(t, map[string]string{"metrics.yml": bad}, nil)
	require.True(t, res.Diags.HasErrors())
	assert.False(t, res.Emitted())
}

func TestRun_TemplateProject(t *testing.T) {
	files := map[string]string{
		"templates/base.yml": `
metric_templates:
  revenue_base:
    parameters:
      - name: region
        type: string
        required: true
    template:
      type: simple
      source: orders
      measure:
        type: sum
        column: amount
      filter: "region = '{{ region }}'"
`,
		"metrics.yml": `
imports:
  - templates/base.yml as base

metrics:
  - name: us_revenue
    description: Revenue in the US
    template: base.revenue_base
    parameters:
      region: us
`,
	}
	res := compileProject(t, files, nil)
	require.False(t, res.Diags.HasErrors(), "diags: %v", res.Diags.All())

	require.Len(t, res.Metrics, 1)
	m := res.Metrics[0]
	assert.Equal(t, "us_revenue", m.Name)
	assert.Equal(t, "region = 'us'", m.Filter)
}

func TestRun_AliasQualifiedTemplateWins(t *testing.T) {
	// Two documents declare a template with the same local name. The
	// alias-qualified invocation must use the imported document's
	// definition, not whichever sorts first project-wide.
	files := map[string]string{
		"a_decoy.yml": `
metric_templates:
  rev:
    template:
      type: simple
      source: wrong_table
      measure:
        type: sum
        column: amount
`,
		"shared/base.yml": `
metric_templates:
  rev:
    template:
      type: simple
      source: right_table
      measure:
        type: sum
        column: amount
`,
		"metrics.yml": `
imports:
  - shared/base.yml as b

metrics:
  - name: total
    description: Revenue from the imported template
    template: b.rev
`,
	}
	res := compileProject(t, files, nil)
	require.False(t, res.Diags.HasErrors(), "diags: %v", res.Diags.All())

	require.Len(t, res.Metrics, 1)
	assert.Equal(t, "right_table", res.Metrics[0].Source)
}

func TestRun_DeduplicatesAcrossMetrics(t *testing.T) {
	files := map[string]string{
		"metrics.yml": `
metrics:
  - name: revenue
    description: a
    type: simple
    source: orders
    measure:
      type: sum
      column: amount

  - name: total_revenue
    description: b
    type: simple
    source: orders
    measure:
      type: sum
      column: amount
`,
	}
	res := compileProject(t, files, nil)
	require.False(t, res.Diags.HasErrors())
	assert.Equal(t, 1, res.Stats.MeasuresRemoved)
	require.Len(t, res.Models, 1)
	require.Len(t, res.Models[0].Measures, 1)
	assert.Equal(t, "revenue_measure", res.Models[0].Measures[0].Name)
}

func TestRun_RatioDenominatorShares(t *testing.T) {
	files := map[string]string{
		"metrics.yml": `
metrics:
  - name: total_revenue
    description: Sum of order totals
    type: simple
    source: fct_orders
    measure:
      type: sum
      column: order_total

  - name: discount_rate
    description: Discounts over revenue
    type: ratio
    numerator:
      source: fct_orders
      measure:
        type: sum
        column: discount
    denominator:
      source: fct_orders
      measure:
        type: sum
        column: order_total
`,
	}
	res := compileProject(t, files, nil)
	require.False(t, res.Diags.HasErrors(), "diags: %v", res.Diags.All())

	// The denominator duplicates total_revenue's measure and collapses
	// into one shared definition.
	assert.Equal(t, 1, res.Stats.MeasuresRemoved)
	require.Len(t, res.Models, 1)
	names := make([]string, 0, len(res.Models[0].Measures))
	for _, ms := range res.Models[0].Measures {
		names = append(names, ms.Name)
	}
	assert.Len(t, names, 2)
	assert.Contains(t, names, "discount_rate_numerator")
}

func TestRun_DisabledRules(t *testing.T) {
	files := map[string]string{
		"metrics.yml": `
metrics:
  - name: undocumented
    type: simple
    source: orders
    measure:
      type: count
`,
	}
	res := compileProject(t, files, func(o *Options) {
		o.DisabledRules = []string{"VM05"}
	})
	require.False(t, res.Diags.HasErrors())
	assert.Equal(t, 0, res.Diags.Count(core.SeverityWarning))
}

func TestRun_ContextCancelled(t *testing.T) {
	root := testutil.WriteProject(t, map[string]string{"metrics.yml": projectFile})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Options{Root: root, OutDir: filepath.Join(root, "out")}, nil)
	_, err := c.Run(ctx)
	require.Error(t, err)
}
