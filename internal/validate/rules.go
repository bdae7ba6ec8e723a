package validate

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/template"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func builtinRules() []RuleDef {
	return []RuleDef{
		{
			ID:          "VM01",
			Name:        "metric.kind",
			Description: "Metric type must be one of the known kinds",
			Severity:    core.SeverityError,
			Check:       checkMetricKind,
		},
		{
			ID:          "VM02",
			Name:        "metric.required-fields",
			Description: "Each metric kind requires its structural fields",
			Severity:    core.SeverityError,
			Check:       checkRequiredFields,
		},
		{
			ID:          "VM03",
			Name:        "metric.aggregation",
			Description: "Measure aggregations must be known",
			Severity:    core.SeverityError,
			Check:       checkAggregations,
		},
		{
			ID:          "VM04",
			Name:        "metric.duplicate-name",
			Description: "Metric names must be unique across the project",
			Severity:    core.SeverityError,
			Check:       checkDuplicateMetrics,
		},
		{
			ID:          "VM05",
			Name:        "metric.description",
			Description: "Metrics should carry a description",
			Severity:    core.SeverityWarning,
			Check:       checkDescriptions,
		},
		{
			ID:          "VD01",
			Name:        "dimension.kind",
			Description: "Dimension types and time grains must be known",
			Severity:    core.SeverityError,
			Check:       checkDimensions,
		},
		{
			ID:          "VS01",
			Name:        "model.entity-role",
			Description: "Entity roles must be known and models need a primary entity",
			Severity:    core.SeverityError,
			Check:       checkEntities,
		},
		{
			ID:          "VS02",
			Name:        "model.join-endpoints",
			Description: "Join paths must connect known sources",
			Severity:    core.SeverityError,
			Check:       checkJoinEndpoints,
		},
		{
			ID:          "VT01",
			Name:        "template.unused-parameter",
			Description: "Declared template parameters should appear in the body",
			Severity:    core.SeverityWarning,
			Check:       checkUnusedParams,
		},
	}
}

func checkMetricKind(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	for _, m := range ctx.Metrics {
		if !core.IsValidMetricKind(m.Kind) {
			out = append(out, errDiag(m, core.CodeInvalidEnum,
				fmt.Sprintf("metric %q has unknown type %q", m.Name, m.Kind),
				"one of: "+joinKinds()))
		}
	}
	return out
}

func checkRequiredFields(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	req := func(m *core.Metric, cond bool, field string) {
		if !cond {
			out = append(out, errDiag(m, core.CodeMissingField,
				fmt.Sprintf("%s metric %q is missing %s", m.Kind, m.Name, field), ""))
		}
	}
	for _, m := range ctx.Metrics {
		switch m.Kind {
		case core.MetricSimple:
			req(m, m.Source != "" || m.SemanticModel != "", "a source")
			req(m, m.Measure != nil || m.MeasureRef != "", "a measure")
		case core.MetricCumulative:
			req(m, m.Source != "" || m.SemanticModel != "", "a source")
			req(m, m.Measure != nil || m.MeasureRef != "", "a measure")
			req(m, m.Window != "" || m.GrainToDate != "", "a window or grain_to_date")
		case core.MetricRatio:
			req(m, m.Numerator != nil && m.Numerator.Measure != nil, "a numerator measure")
			req(m, m.Denominator != nil && m.Denominator.Measure != nil, "a denominator measure")
		case core.MetricDerived:
			req(m, m.Expression != "", "an expression")
		case core.MetricConversion:
			req(m, m.BaseMeasure != nil && m.BaseMeasure.Measure != nil, "a base_measure")
			req(m, m.ConversionMeasure != nil && m.ConversionMeasure.Measure != nil, "a conversion_measure")
			req(m, m.Entity != "", "an entity")
		case core.MetricTimeComparison:
			req(m, m.Comparison != nil && m.Comparison.BaseMetric != "", "a comparison base_metric")
			req(m, m.Comparison != nil && m.Comparison.Period != "", "a comparison period")
		}
	}
	return out
}

func checkAggregations(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	check := func(m *core.Metric, ms *core.Measure, role string) {
		if ms == nil {
			return
		}
		if !core.IsValidAggregation(ms.Agg) {
			out = append(out, errDiag(m, core.CodeInvalidEnum,
				fmt.Sprintf("metric %q %s has unknown aggregation %q", m.Name, role, ms.Agg),
				"one of: "+strings.Join(core.ValidAggregations, ", ")))
		}
		if ms.Agg == "percentile" && (ms.Percentile <= 0 || ms.Percentile >= 1) {
			out = append(out, errDiag(m, core.CodeInvalidEnum,
				fmt.Sprintf("metric %q %s percentile must be between 0 and 1 exclusive", m.Name, role), ""))
		}
	}
	for _, m := range ctx.Metrics {
		check(m, m.Measure, "measure")
		if m.Numerator != nil {
			check(m, m.Numerator.Measure, "numerator")
		}
		if m.Denominator != nil {
			check(m, m.Denominator.Measure, "denominator")
		}
		if m.BaseMeasure != nil {
			check(m, m.BaseMeasure.Measure, "base_measure")
		}
		if m.ConversionMeasure != nil {
			check(m, m.ConversionMeasure.Measure, "conversion_measure")
		}
	}
	return out
}

func checkDuplicateMetrics(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	first := make(map[string]core.Pos)
	for _, m := range ctx.Metrics {
		if prev, seen := first[m.Name]; seen {
			err := core.NewDuplicateNameError(m.Pos, m.Name, prev)
			out = append(out, core.Diagnostic{
				Severity: core.SeverityError,
				Message:  err.Error(),
				File:     m.Pos.File,
				Line:     m.Pos.Line,
				Metric:   m.Name,
			})
			continue
		}
		first[m.Name] = m.Pos
	}
	return out
}

func checkDescriptions(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	for _, m := range ctx.Metrics {
		if m.Description == "" {
			out = append(out, core.Diagnostic{
				Severity:   core.SeverityWarning,
				Message:    fmt.Sprintf("metric %q has no description", m.Name),
				File:       m.Pos.File,
				Line:       m.Pos.Line,
				Metric:     m.Name,
				Suggestion: "add a description so the metric is self-documenting",
			})
		}
	}
	return out
}

func checkDimensions(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	for _, m := range ctx.Metrics {
		for _, d := range m.Dimensions {
			if d.Kind != "" && !core.IsValidDimensionKind(d.Kind) {
				out = append(out, errDiag(m, core.CodeInvalidEnum,
					fmt.Sprintf("metric %q dimension %q has unknown type %q", m.Name, d.Name, d.Kind),
					"time or categorical"))
			}
			if d.Kind == core.DimensionTime && d.Grain != "" && !core.IsValidTimeGrain(d.Grain) {
				out = append(out, errDiag(m, core.CodeInvalidEnum,
					fmt.Sprintf("metric %q dimension %q has unknown grain %q", m.Name, d.Name, d.Grain),
					"one of: "+strings.Join(core.ValidTimeGrains, ", ")))
			}
			if d.Kind == core.DimensionCategorical && d.Grain != "" {
				out = append(out, core.Diagnostic{
					Severity: core.SeverityWarning,
					Message:  fmt.Sprintf("metric %q categorical dimension %q declares a grain", m.Name, d.Name),
					File:     m.Pos.File,
					Line:     m.Pos.Line,
					Metric:   m.Name,
				})
			}
		}
	}
	return out
}

func checkEntities(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	for _, sm := range ctx.Models {
		primaries := 0
		for _, e := range sm.Entities {
			if !core.IsValidEntityRole(e.Role) {
				out = append(out, core.Diagnostic{
					Severity:   core.SeverityError,
					Message:    fmt.Sprintf("model %q entity %q has unknown role %q", sm.Name, e.Name, e.Role),
					Suggestion: "primary, foreign, or unique",
				})
			}
			if e.Role == core.EntityPrimary {
				primaries++
			}
		}
		if primaries > 1 {
			out = append(out, core.Diagnostic{
				Severity: core.SeverityError,
				Message:  fmt.Sprintf("model %q declares %d primary entities", sm.Name, primaries),
			})
		}
		if len(sm.Entities) > 0 && primaries == 0 {
			out = append(out, core.Diagnostic{
				Severity:   core.SeverityWarning,
				Message:    fmt.Sprintf("model %q has entities but no primary entity", sm.Name),
				Suggestion: "mark one entity as primary",
			})
		}
	}
	return out
}

func checkJoinEndpoints(ctx *Context) []core.Diagnostic {
	sources := make(map[string]bool)
	for _, sm := range ctx.Models {
		if sm.Model != "" {
			sources[sm.Model] = true
		}
	}
	var out []core.Diagnostic
	for _, jp := range ctx.Project.JoinPaths {
		for _, endpoint := range []string{jp.From, jp.To} {
			if endpoint == "" {
				out = append(out, core.Diagnostic{
					Severity: core.SeverityError,
					Message:  fmt.Sprintf("join path %q is missing an endpoint", jp.Name),
					File:     jp.Pos.File,
					Line:     jp.Pos.Line,
				})
				continue
			}
			if !sources[endpoint] {
				out = append(out, core.Diagnostic{
					Severity: core.SeverityWarning,
					Message:  fmt.Sprintf("join path %q references source %q that no metric reads", jp.Name, endpoint),
					File:     jp.Pos.File,
					Line:     jp.Pos.Line,
				})
			}
		}
		if len(jp.Keys) == 0 {
			out = append(out, core.Diagnostic{
				Severity: core.SeverityError,
				Message:  fmt.Sprintf("join path %q has no join keys", jp.Name),
				File:     jp.Pos.File,
				Line:     jp.Pos.Line,
			})
		}
	}
	return out
}

func checkUnusedParams(ctx *Context) []core.Diagnostic {
	var out []core.Diagnostic
	for _, tpl := range ctx.Templates {
		used := template.ParameterNames(tpl.Body)
		for _, p := range tpl.Parameters {
			if !used[p.Name] {
				out = append(out, core.Diagnostic{
					Severity: core.SeverityWarning,
					Message:  fmt.Sprintf("template %q declares parameter %q but never uses it", tpl.Name, p.Name),
					File:     tpl.Pos.File,
					Line:     tpl.Pos.Line,
				})
			}
		}
	}
	return out
}

func errDiag(m *core.Metric, code core.ValidationCode, msg, suggestion string) core.Diagnostic {
	verr := core.NewValidationError(m.Pos, code, m.Name, msg)
	if suggestion != "" {
		verr = verr.WithSuggestion(suggestion)
	}
	return verr.Diagnostic()
}

func joinKinds() string {
	parts := make([]string, 0, len(core.ValidMetricKinds))
	for _, k := range core.ValidMetricKinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ", ")
}
