// Package semantic turns fully expanded metric trees into typed metrics
// and compiles them into semantic models, one per distinct source table.
// Entities, time dimensions, and time spine bindings the definitions leave
// implicit are inferred here; anything stated explicitly always wins over
// inference.
package semantic

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// DecodeMetric converts an expanded raw metric tree into a typed metric.
// Shape problems become validation diagnostics; ok is false when the
// metric is unusable.
func DecodeMetric(def *core.MetricDef, diags *core.Collector) (*core.Metric, bool) {
	fields := def.Fields
	m := &core.Metric{
		Name: def.Name,
		Pos:  def.Pos,
		Kind: core.MetricSimple,
	}
	if m.Name == "" {
		if n, ok := fields["name"].(string); ok {
			m.Name = n
		}
	}
	if m.Name == "" {
		addErr(diags, def.Pos, "", "metric is missing a name")
		return nil, false
	}

	if kind, ok := firstString(fields, "type", "kind"); ok {
		m.Kind = core.MetricKind(kind)
	}
	m.Description = asString(fields["description"])
	m.Label = asString(fields["label"])
	m.Source, _ = firstString(fields, "source", "model")
	m.Filter = asString(fields["filter"])
	m.Expression, _ = firstString(fields, "expression", "expr", "formula")
	m.Window = asString(fields["window"])
	m.GrainToDate = asString(fields["grain_to_date"])
	m.Entity = asString(fields["entity"])
	m.EntitySet = asString(fields["entity_set"])
	m.SemanticModel = asString(fields["semantic_model"])
	m.MeasureRef = refMeasureName(fields)
	m.TimeSpine = asString(fields["time_spine"])
	m.FillNullsWith = fields["fill_nulls_with"]

	if sr, ok := fields["source_ref"].(map[string]any); ok {
		m.SourceRef = &core.SourceRef{
			Table: asString(sr["table"]),
			Kind:  asString(sr["kind"]),
		}
	}
	if meta, ok := fields["meta"].(map[string]any); ok {
		m.Meta = meta
	}
	if cfg, ok := fields["config"].(map[string]any); ok {
		m.Config = cfg
	}

	ok := true
	// A measure mapping defines the aggregation inline; a bare string
	// references a measure on an existing semantic model instead.
	if v, present := fields["measure"]; present && m.MeasureRef == "" {
		m.Measure = decodeMeasure(v, def.Pos, m.Name, diags, &ok)
	}
	if v, present := fields["numerator"]; present {
		m.Numerator = decodeInput(v, def.Pos, m.Name, "numerator", diags, &ok)
	}
	if v, present := fields["denominator"]; present {
		m.Denominator = decodeInput(v, def.Pos, m.Name, "denominator", diags, &ok)
	}
	if v, present := fields["base_measure"]; present {
		m.BaseMeasure = decodeInput(v, def.Pos, m.Name, "base_measure", diags, &ok)
	}
	if v, present := fields["conversion_measure"]; present {
		m.ConversionMeasure = decodeInput(v, def.Pos, m.Name, "conversion_measure", diags, &ok)
	}
	if v, present := fields["comparison"]; present {
		var cmp core.Comparison
		if err := weakDecode(v, &cmp); err != nil {
			addErr(diags, def.Pos, m.Name, fmt.Sprintf("invalid comparison block: %v", err))
			ok = false
		} else {
			m.Comparison = &cmp
		}
	}
	if v, present := fields["offsets"]; present {
		list, isList := v.([]any)
		if !isList {
			addErr(diags, def.Pos, m.Name, "offsets must be a list")
			ok = false
		}
		for _, item := range list {
			var ow core.OffsetWindow
			if err := weakDecode(item, &ow); err != nil {
				addErr(diags, def.Pos, m.Name, fmt.Sprintf("invalid offset: %v", err))
				ok = false
				continue
			}
			m.Offsets = append(m.Offsets, ow)
		}
	}

	m.Dimensions = DecodeDimensions(fields["dimensions"], def.Pos, m.Name, diags, &ok)
	return m, ok
}

// DecodeDimensions converts a raw dimension list. Entries are bare names
// or mappings; unusable entries are reported and dropped.
func DecodeDimensions(v any, pos core.Pos, metric string, diags *core.Collector, ok *bool) []core.Dimension {
	if v == nil {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		addErr(diags, pos, metric, "dimensions must be a list")
		*ok = false
		return nil
	}
	out := make([]core.Dimension, 0, len(list))
	for _, item := range list {
		switch dv := item.(type) {
		case string:
			out = append(out, core.Dimension{Name: dv})
		case map[string]any:
			var d core.Dimension
			if err := weakDecode(dv, &d); err != nil {
				addErr(diags, pos, metric, fmt.Sprintf("invalid dimension: %v", err))
				*ok = false
				continue
			}
			if d.Name == "" {
				addErr(diags, pos, metric, "dimension is missing a name")
				*ok = false
				continue
			}
			out = append(out, d)
		case nil:
			// A dangling pointer already reported upstream leaves a nil
			// hole behind; skip it.
		default:
			addErr(diags, pos, metric, fmt.Sprintf("dimension must be a string or mapping, got %T", item))
			*ok = false
		}
	}
	return out
}

// decodeMeasure accepts both spellings of a measure: agg/expr and the
// type/column shorthand.
func decodeMeasure(v any, pos core.Pos, metric string, diags *core.Collector, ok *bool) *core.Measure {
	m, isMap := v.(map[string]any)
	if !isMap {
		addErr(diags, pos, metric, "measure must be a mapping")
		*ok = false
		return nil
	}
	var ms core.Measure
	if err := weakDecode(normalizeMeasureKeys(m), &ms); err != nil {
		addErr(diags, pos, metric, fmt.Sprintf("invalid measure: %v", err))
		*ok = false
		return nil
	}
	ms.Agg = core.NormalizeAggregation(ms.Agg)
	return &ms
}

func decodeInput(v any, pos core.Pos, metric, role string, diags *core.Collector, ok *bool) *core.MetricInput {
	m, isMap := v.(map[string]any)
	if !isMap {
		addErr(diags, pos, metric, role+" must be a mapping")
		*ok = false
		return nil
	}
	in := &core.MetricInput{
		Filter: asString(m["filter"]),
	}
	in.Source, _ = firstString(m, "source", "model")
	if mv, present := m["measure"]; present {
		in.Measure = decodeMeasure(mv, pos, metric, diags, ok)
	} else {
		// The input may be a flattened measure mapping.
		flat := make(map[string]any, len(m))
		for k, val := range m {
			switch k {
			case "source", "model", "filter", "source_ref":
				continue
			}
			flat[k] = val
		}
		if len(flat) > 0 {
			in.Measure = decodeMeasure(flat, pos, metric, diags, ok)
		}
	}
	return in
}

// normalizeMeasureKeys maps the shorthand keys onto the canonical ones.
func normalizeMeasureKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "type":
			k = "agg"
		case "column":
			k = "expr"
		case "filter":
			if s, ok := v.(string); ok {
				v = []any{s}
			}
			k = "filters"
		}
		out[k] = v
	}
	return out
}

// DecodeSemanticModelFields converts an explicit semantic model tree into
// its typed parts for merging into the compiled model.
type ExplicitModel struct {
	Name        string
	Source      string
	Description string
	Entities    []core.Entity
	Dimensions  []core.Dimension
	Defaults    map[string]any
	Meta        map[string]any
	Pos         core.Pos
}

// DecodeSemanticModel converts an expanded semantic model declaration.
func DecodeSemanticModel(def *core.SemanticModelDef, diags *core.Collector) (*ExplicitModel, bool) {
	fields := def.Fields
	em := &ExplicitModel{Name: def.Name, Pos: def.Pos}
	if em.Name == "" {
		em.Name = asString(fields["name"])
	}
	if em.Name == "" {
		addErr(diags, def.Pos, "", "semantic model is missing a name")
		return nil, false
	}
	em.Source, _ = firstString(fields, "source", "model", "table")
	em.Description = asString(fields["description"])
	if d, ok := fields["defaults"].(map[string]any); ok {
		em.Defaults = d
	}
	if meta, ok := fields["meta"].(map[string]any); ok {
		em.Meta = meta
	}

	ok := true
	if v, present := fields["entities"]; present {
		list, isList := v.([]any)
		if !isList {
			addErr(diags, def.Pos, em.Name, "entities must be a list")
			ok = false
		}
		for _, item := range list {
			var ent core.Entity
			if err := weakDecode(item, &ent); err != nil {
				addErr(diags, def.Pos, em.Name, fmt.Sprintf("invalid entity: %v", err))
				ok = false
				continue
			}
			em.Entities = append(em.Entities, ent)
		}
	}
	em.Dimensions = DecodeDimensions(fields["dimensions"], def.Pos, em.Name, diags, &ok)
	return em, ok
}

func weakDecode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func addErr(diags *core.Collector, pos core.Pos, metric, msg string) {
	diags.Add(core.Diagnostic{
		Severity: core.SeverityError,
		Category: core.CategorySemantic,
		Message:  msg,
		File:     pos.File,
		Line:     pos.Line,
		Metric:   metric,
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func refMeasureName(fields map[string]any) string {
	if s, ok := fields["measure"].(string); ok {
		return s
	}
	return ""
}
