package resolver

import (
	"regexp"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// sourceRefPattern matches ref('table') and $table('schema.table') source
// declarations, with either quote style.
var sourceRefPattern = regexp.MustCompile(`^\s*(ref|\$table)\(\s*['"]([^'"]+)['"]\s*\)\s*$`)

// normalizeSources rewrites ref() and $table() wrappers on source fields
// into the bare table name plus a source_ref annotation recording how the
// table was referenced. The annotation is carried through to the emitted
// output but never changes resolution.
func (r *Resolver) normalizeSources(doc *core.Document) {
	for _, m := range doc.Metrics {
		normalizeSourceFields(m.Fields)
	}
	for _, sm := range doc.SemanticModels {
		normalizeSourceFields(sm.Fields)
	}
	for _, tpl := range doc.MetricTemplates {
		normalizeSourceFields(tpl.Body)
	}
}

var sourceKeys = []string{"source", "model", "base_model"}

func normalizeSourceFields(fields map[string]any) {
	if fields == nil {
		return
	}
	for _, key := range sourceKeys {
		raw, ok := fields[key].(string)
		if !ok {
			continue
		}
		table, kind, matched := ParseSourceRef(raw)
		if !matched {
			continue
		}
		fields[key] = table
		if _, exists := fields["source_ref"]; !exists {
			fields["source_ref"] = map[string]any{"table": table, "kind": kind}
		}
	}
	// Ratio and conversion inputs carry their own sources.
	for _, nested := range []string{"numerator", "denominator", "base_measure", "conversion_measure"} {
		if m, ok := fields[nested].(map[string]any); ok {
			normalizeSourceFields(m)
		}
	}
}

// ParseSourceRef recognizes a wrapped source reference. kind is "ref" for
// ref() and "table" for $table().
func ParseSourceRef(s string) (table, kind string, ok bool) {
	m := sourceRefPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	kind = "ref"
	if m[1] == "$table" {
		kind = "table"
	}
	return m[2], kind, true
}
