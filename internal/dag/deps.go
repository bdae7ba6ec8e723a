package dag

import (
	"regexp"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// metricRefPattern matches metric('name') references inside derived metric
// expressions, with either quote style.
var metricRefPattern = regexp.MustCompile(`metric\(\s*['"]([^'"]+)['"]\s*\)`)

// MetricRefs extracts the metric names an expression references, in order
// of first appearance without duplicates.
func MetricRefs(expr string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range metricRefPattern.FindAllStringSubmatch(expr, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// BuildMetricGraph constructs the dependency graph for a metric set.
// Derived expressions and time comparison base metrics contribute edges;
// references to metrics that do not exist become reference diagnostics.
func BuildMetricGraph(metrics []*core.Metric, diags *core.Collector) *Graph {
	g := NewGraph()
	for _, m := range metrics {
		g.AddNode(m.Name, m)
	}
	for _, m := range metrics {
		for _, dep := range metricDeps(m) {
			if !g.HasNode(dep) {
				err := core.NewReferenceError(m.Pos, "metric", dep)
				diags.Add(core.Diagnostic{
					Severity: core.SeverityError,
					Category: core.CategoryGraph,
					Message:  err.Error(),
					File:     m.Pos.File,
					Line:     m.Pos.Line,
					Metric:   m.Name,
				})
				continue
			}
			if err := g.AddEdge(dep, m.Name); err != nil {
				diags.Error(core.CategoryGraph, m.Pos.File, m.Pos.Line, err.Error())
			}
		}
	}
	return g
}

// ReportCycles converts every dependency cycle into an error diagnostic
// naming all members.
func ReportCycles(g *Graph, diags *core.Collector) []*core.CycleError {
	var errs []*core.CycleError
	for _, members := range g.FindCycles() {
		err := &core.CycleError{Members: members}
		errs = append(errs, err)
		var pos core.Pos
		if node, ok := g.nodes[members[0]]; ok {
			if m, isMetric := node.Data.(*core.Metric); isMetric {
				pos = m.Pos
			}
		}
		diags.Add(core.Diagnostic{
			Severity: core.SeverityError,
			Category: core.CategoryGraph,
			Message:  err.Error(),
			File:     pos.File,
			Line:     pos.Line,
			Metric:   members[0],
		})
	}
	return errs
}

func metricDeps(m *core.Metric) []string {
	var deps []string
	switch m.Kind {
	case core.MetricDerived:
		deps = MetricRefs(m.Expression)
	case core.MetricTimeComparison:
		if m.Comparison != nil && m.Comparison.BaseMetric != "" {
			deps = []string{m.Comparison.BaseMetric}
		}
	}
	if m.Filter != "" {
		deps = append(deps, MetricRefs(m.Filter)...)
	}
	return dedupe(deps)
}

func dedupe(deps []string) []string {
	seen := make(map[string]bool)
	out := deps[:0]
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
