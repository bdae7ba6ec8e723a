package resolver

import (
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Pointer keys recognized inside definition trees.
const (
	refKey = "$ref"
	useKey = "$use"
)

// resolvePointers rewrites $ref and $use pointers in every metric and
// semantic model of a document. Dangling pointers become reference
// diagnostics and the offending node is dropped.
func (r *Resolver) resolvePointers(doc *core.Document) {
	for _, m := range doc.Metrics {
		m.Fields = r.walkMap(doc, m.Pos, m.Fields)
	}
	for _, sm := range doc.SemanticModels {
		sm.Fields = r.walkMap(doc, sm.Pos, sm.Fields)
	}
	for _, tpl := range doc.MetricTemplates {
		// Template bodies resolve pointers too so expanded metrics never
		// see one.
		tpl.Body = r.walkMap(doc, tpl.Pos, tpl.Body)
	}
	for _, tpl := range doc.SemanticModelTemplates {
		tpl.Body = r.walkMap(doc, tpl.Pos, tpl.Body)
	}
}

func (r *Resolver) walkMap(doc *core.Document, pos core.Pos, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.walkValue(doc, pos, k, v)
	}
	return out
}

func (r *Resolver) walkValue(doc *core.Document, pos core.Pos, key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := pointerString(val, refKey); ok {
			resolved, found := r.lookup(doc, ref)
			if !found {
				r.reportDangling(pos, "ref", ref)
				return nil
			}
			return copyTree(resolved)
		}
		if _, ok := val[useKey]; ok {
			return r.resolveUse(doc, pos, val[useKey])
		}
		return r.walkMap(doc, pos, val)
	case []any:
		return r.walkList(doc, pos, key, val)
	default:
		return v
	}
}

// walkList resolves pointers inside a list and splices $use results in
// place. Dimension lists are deduplicated by name, first occurrence wins.
func (r *Resolver) walkList(doc *core.Document, pos core.Pos, key string, list []any) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if _, use := m[useKey]; use {
				spliced := r.resolveUse(doc, pos, m[useKey])
				out = append(out, spliced...)
				continue
			}
		}
		out = append(out, r.walkValue(doc, pos, key, item))
	}
	if key == "dimensions" {
		out = dedupeByName(out)
	}
	return out
}

// resolveUse resolves a $use value, a single ref or a list of refs, into a
// flat list. Each ref must name a dimension group or another list.
func (r *Resolver) resolveUse(doc *core.Document, pos core.Pos, v any) []any {
	var refs []string
	switch rv := v.(type) {
	case string:
		refs = []string{rv}
	case []any:
		for _, item := range rv {
			if s, ok := item.(string); ok {
				refs = append(refs, s)
			} else {
				r.diags.Error(core.CategoryRef, pos.File, pos.Line, "$use entries must be strings")
			}
		}
	default:
		r.diags.Error(core.CategoryRef, pos.File, pos.Line, "$use must be a string or list of strings")
		return nil
	}

	var out []any
	for _, ref := range refs {
		resolved, found := r.lookup(doc, ref)
		if !found {
			r.reportDangling(pos, "use", ref)
			continue
		}
		switch rv := copyTree(resolved).(type) {
		case []any:
			out = append(out, rv...)
		default:
			out = append(out, rv)
		}
	}
	return dedupeByName(out)
}

// lookup resolves a dotted reference path against the document's import
// namespace, then the document itself, then the whole project.
func (r *Resolver) lookup(doc *core.Document, ref string) (any, bool) {
	parts := strings.Split(ref, ".")

	// Alias-qualified: first segment names an import.
	if ns := r.namespaces[doc.Path]; ns != nil && len(parts) > 1 {
		if target, ok := ns[parts[0]]; ok {
			if v, found := lookupInDocument(target, parts[1:]); found {
				return v, true
			}
			return nil, false
		}
	}
	if v, found := lookupInDocument(doc, parts); found {
		return v, true
	}
	// Unqualified fallback across the project.
	return r.lookupGlobal(parts)
}

func (r *Resolver) lookupGlobal(parts []string) (any, bool) {
	name := parts[len(parts)-1]
	section := ""
	if len(parts) > 1 {
		section = parts[len(parts)-2]
	}
	if section == "" || section == "dimension_groups" {
		if g, ok := r.set.DimensionGroup(name); ok {
			return dimensionsToTree(g.Dimensions), true
		}
	}
	if section == "" || section == "metric_templates" || section == "templates" {
		if t, ok := r.set.MetricTemplate(name); ok {
			return t.Body, true
		}
	}
	if section == "" || section == "semantic_model_templates" {
		if t, ok := r.set.SemanticModelTemplate(name); ok {
			return t.Body, true
		}
	}
	return nil, false
}

// lookupInDocument resolves a path like ["dimension_groups", "time"] or the
// bare ["time"] inside one document.
func lookupInDocument(doc *core.Document, parts []string) (any, bool) {
	name := parts[len(parts)-1]
	section := ""
	if len(parts) > 1 {
		section = parts[len(parts)-2]
	}
	if section == "" || section == "dimension_groups" {
		if g, ok := doc.DimensionGroups[name]; ok {
			return dimensionsToTree(g.Dimensions), true
		}
	}
	if section == "" || section == "metric_templates" || section == "templates" {
		if t, ok := doc.MetricTemplates[name]; ok {
			return t.Body, true
		}
	}
	if section == "" || section == "semantic_model_templates" {
		if t, ok := doc.SemanticModelTemplates[name]; ok {
			return t.Body, true
		}
	}
	if section == "" || section == "metrics" {
		for _, m := range doc.Metrics {
			if m.Name == name {
				return m.Fields, true
			}
		}
	}
	return nil, false
}

func (r *Resolver) reportDangling(pos core.Pos, kind, ref string) {
	err := core.NewReferenceError(pos, kind, ref)
	r.diags.Add(core.Diagnostic{
		Severity: core.SeverityError,
		Category: core.CategoryRef,
		Message:  err.Error(),
		File:     pos.File,
		Line:     pos.Line,
	})
}

// pointerString extracts a single-key pointer like {"$ref": "x"}.
func pointerString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// dimensionsToTree converts typed dimensions back into raw tree form so
// they can be spliced into unexpanded metric definitions.
func dimensionsToTree(dims []core.Dimension) []any {
	out := make([]any, 0, len(dims))
	for _, d := range dims {
		m := map[string]any{"name": d.Name}
		if d.Kind != "" {
			m["type"] = string(d.Kind)
		}
		if d.Grain != "" {
			m["grain"] = d.Grain
		}
		if d.Expr != "" {
			m["expr"] = d.Expr
		}
		if d.Label != "" {
			m["label"] = d.Label
		}
		if d.Description != "" {
			m["description"] = d.Description
		}
		out = append(out, m)
	}
	return out
}

// dedupeByName drops later list entries whose "name" matches an earlier
// entry. Entries without a name pass through untouched.
func dedupeByName(list []any) []any {
	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, item := range list {
		name := ""
		switch v := item.(type) {
		case map[string]any:
			name, _ = v["name"].(string)
		case string:
			name = v
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

// copyTree deep-copies a raw value tree so resolved pointers never alias
// their source definition.
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
