// Package variants expands the auto_variants block on a metric into
// concrete sibling metrics. Expansion is pure tree rewriting; the generated
// definitions flow through the same typing and validation as hand-written
// ones.
package variants

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

const variantsKey = "auto_variants"

// Known time comparison periods, shortest offset first.
var comparisonPeriods = []string{"dod", "wow", "mom", "qoq", "yoy"}

func isComparisonPeriod(p string) bool {
	for _, v := range comparisonPeriods {
		if v == p {
			return true
		}
	}
	return false
}

// Expander generates variant metrics.
type Expander struct {
	diags *core.Collector
}

// New creates an expander.
func New(diags *core.Collector) *Expander {
	return &Expander{diags: diags}
}

// Expand produces the variant metrics declared by def's auto_variants
// block and strips the block from def itself. The base metric is not part
// of the returned slice.
func (e *Expander) Expand(def *core.MetricDef) []*core.MetricDef {
	block, ok := def.Fields[variantsKey].(map[string]any)
	if !ok {
		delete(def.Fields, variantsKey)
		return nil
	}
	delete(def.Fields, variantsKey)

	var out []*core.MetricDef
	for _, family := range sortedKeys(block) {
		spec := block[family]
		switch family {
		case "time_comparison":
			out = append(out, e.timeComparison(def, spec)...)
		case "by_dimension":
			out = append(out, e.byDimension(def, spec)...)
		default:
			out = append(out, e.custom(def, family, spec)...)
		}
	}
	return out
}

// timeComparison generates one offset metric per requested period.
func (e *Expander) timeComparison(def *core.MetricDef, spec any) []*core.MetricDef {
	periods, ok := stringList(spec)
	if !ok {
		e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
			fmt.Sprintf("metric %q: time_comparison variants must be a list of periods", def.Name))
		return nil
	}
	var out []*core.MetricDef
	for _, period := range periods {
		if !isComparisonPeriod(period) {
			e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
				fmt.Sprintf("metric %q: unknown comparison period %q", def.Name, period))
			continue
		}
		v := cloneDef(def, def.Name+"_"+period)
		v.Fields["type"] = string(core.MetricTimeComparison)
		v.Fields["comparison"] = map[string]any{
			"period":      period,
			"base_metric": def.Name,
		}
		if label, ok := def.Fields["label"].(string); ok && label != "" {
			v.Fields["label"] = label + " (" + period + ")"
		}
		out = append(out, v)
	}
	return out
}

// byDimension generates one narrowed metric per dimension, with the
// dimension appended when the base does not already carry it.
func (e *Expander) byDimension(def *core.MetricDef, spec any) []*core.MetricDef {
	dims, ok := stringList(spec)
	if !ok {
		e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
			fmt.Sprintf("metric %q: by_dimension variants must be a list of dimension names", def.Name))
		return nil
	}
	var out []*core.MetricDef
	for _, dim := range dims {
		v := cloneDef(def, def.Name+"_by_"+dim)
		v.Fields["dimensions"] = unionDimensions(def.Fields["dimensions"], []any{map[string]any{"name": dim}})
		if label, ok := def.Fields["label"].(string); ok && label != "" {
			v.Fields["label"] = label + " by " + dim
		}
		out = append(out, v)
	}
	return out
}

// custom expands a user-defined variant family. Each entry is either a
// mapping with name_suffix/label_suffix/filter/dimensions plus overrides,
// or the single-pair shorthand {column: value} meaning a variant named
// after the value filtered to column = 'value'.
func (e *Expander) custom(def *core.MetricDef, family string, spec any) []*core.MetricDef {
	entries, ok := spec.([]any)
	if !ok {
		e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
			fmt.Sprintf("metric %q: variant family %q must be a list", def.Name, family))
		return nil
	}
	var out []*core.MetricDef
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
				fmt.Sprintf("metric %q: variant family %q entries must be mappings", def.Name, family))
			continue
		}
		if v := e.customVariant(def, family, normalizeShorthand(m)); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// normalizeShorthand rewrites {column: value} into the full variant form.
func normalizeShorthand(m map[string]any) map[string]any {
	if len(m) != 1 {
		return m
	}
	for k, v := range m {
		switch k {
		case "name_suffix", "label_suffix", "filter", "dimensions":
			return m
		}
		val := fmt.Sprintf("%v", v)
		return map[string]any{
			"name_suffix": val,
			"filter":      fmt.Sprintf("%s = '%s'", k, val),
		}
	}
	return m
}

func (e *Expander) customVariant(def *core.MetricDef, family string, m map[string]any) *core.MetricDef {
	suffix, _ := m["name_suffix"].(string)
	if suffix == "" {
		e.diags.Error(core.CategoryVariant, def.Pos.File, def.Pos.Line,
			fmt.Sprintf("metric %q: variant in family %q has no name_suffix", def.Name, family))
		return nil
	}
	v := cloneDef(def, def.Name+"_"+suffix)

	if labelSuffix, ok := m["label_suffix"].(string); ok && labelSuffix != "" {
		base, _ := def.Fields["label"].(string)
		if base == "" {
			base = def.Name
		}
		v.Fields["label"] = base + " " + labelSuffix
	}
	if filter, ok := m["filter"].(string); ok && filter != "" {
		v.Fields["filter"] = CombineFilters(asString(def.Fields["filter"]), filter)
	}
	if dims, ok := m["dimensions"]; ok {
		v.Fields["dimensions"] = unionDimensions(def.Fields["dimensions"], dims)
	}
	for k, val := range m {
		switch k {
		case "name_suffix", "label_suffix", "filter", "dimensions":
			continue
		}
		v.Fields[k] = val
	}
	return v
}

// CombineFilters joins two filter expressions with AND, parenthesizing
// both so operator precedence in either side cannot leak.
func CombineFilters(base, extra string) string {
	if base == "" {
		return extra
	}
	if extra == "" {
		return base
	}
	return "(" + base + ") AND (" + extra + ")"
}

func cloneDef(def *core.MetricDef, name string) *core.MetricDef {
	fields := copyTree(def.Fields).(map[string]any)
	fields["name"] = name
	return &core.MetricDef{Name: name, Fields: fields, Pos: def.Pos}
}

// unionDimensions concatenates two dimension lists dropping later entries
// whose name already appeared.
func unionDimensions(base, extra any) []any {
	var merged []any
	if l, ok := base.([]any); ok {
		merged = append(merged, copyTree(l).([]any)...)
	}
	if l, ok := extra.([]any); ok {
		merged = append(merged, copyTree(l).([]any)...)
	}
	seen := make(map[string]bool, len(merged))
	out := merged[:0]
	for _, item := range merged {
		name := ""
		switch v := item.(type) {
		case string:
			name = v
		case map[string]any:
			name, _ = v["name"].(string)
		}
		if name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		out = append(out, item)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) ([]string, bool) {
	l, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = copyTree(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = copyTree(item)
		}
		return s
	default:
		return v
	}
}
