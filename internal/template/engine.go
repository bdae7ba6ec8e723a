// Package template expands metric and semantic model templates. Expansion
// substitutes declared parameters into a template body, evaluates the $if
// and $for directives, merges the result with the invoking definition, and
// repeats for nested template references up to a bounded depth.
package template

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// DefaultMaxDepth bounds nested template expansion.
const DefaultMaxDepth = 3

// Keys recognized on a definition that invokes a template.
const (
	templateKey = "template"
	paramsKey   = "parameters"
	paramsAlt   = "params"
	extendsKey  = "extends"
)

// Engine expands template invocations against a document set.
type Engine struct {
	set        *loader.DocumentSet
	diags      *core.Collector
	logger     *slog.Logger
	maxDepth   int
	namespaces func(docPath string) map[string]*core.Document
}

// New creates an expansion engine. maxDepth <= 0 selects the default.
func New(set *loader.DocumentSet, diags *core.Collector, logger *slog.Logger, maxDepth int) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Engine{set: set, diags: diags, logger: logger, maxDepth: maxDepth}
}

// WithNamespaces installs the per-document import namespaces so that
// alias-qualified template names resolve against the aliased document
// instead of falling back to a project-wide search.
func (e *Engine) WithNamespaces(fn func(docPath string) map[string]*core.Document) *Engine {
	e.namespaces = fn
	return e
}

// ExpandMetric expands the template and extends chains of one metric
// definition. The returned tree has no template or extends keys left. ok is
// false when expansion failed and the definition should be dropped.
func (e *Engine) ExpandMetric(doc *core.Document, def *core.MetricDef) (map[string]any, bool) {
	fields, ok := e.expand(doc, def.Name, def.Pos, def.Fields, e.lookupMetricTemplate, 0)
	if !ok {
		return nil, false
	}
	return e.applyExtends(doc, def.Name, def.Pos, fields, map[string]bool{def.Name: true})
}

// ExpandSemanticModel expands the template chain of an explicit semantic
// model declaration.
func (e *Engine) ExpandSemanticModel(doc *core.Document, def *core.SemanticModelDef) (map[string]any, bool) {
	return e.expand(doc, def.Name, def.Pos, def.Fields, e.lookupSemanticModelTemplate, 0)
}

type templateLookup func(doc *core.Document, name string) (*core.Template, bool)

func (e *Engine) lookupMetricTemplate(doc *core.Document, name string) (*core.Template, bool) {
	// Alias-qualified: resolve against the aliased document only.
	if alias, rest, found := strings.Cut(name, "."); found && e.namespaces != nil {
		if target, ok := e.namespaces(doc.Path)[alias]; ok {
			t, ok := target.MetricTemplates[rest]
			return t, ok
		}
	}
	local := core.LocalName(name)
	if t, ok := doc.MetricTemplates[local]; ok {
		return t, true
	}
	return e.set.MetricTemplate(local)
}

func (e *Engine) lookupSemanticModelTemplate(doc *core.Document, name string) (*core.Template, bool) {
	if alias, rest, found := strings.Cut(name, "."); found && e.namespaces != nil {
		if target, ok := e.namespaces(doc.Path)[alias]; ok {
			t, ok := target.SemanticModelTemplates[rest]
			return t, ok
		}
	}
	local := core.LocalName(name)
	if t, ok := doc.SemanticModelTemplates[local]; ok {
		return t, true
	}
	return e.set.SemanticModelTemplate(local)
}

// expand resolves one template invocation and recurses while the merged
// result still carries a template key.
func (e *Engine) expand(doc *core.Document, name string, pos core.Pos, fields map[string]any, lookup templateLookup, depth int) (map[string]any, bool) {
	tplName, ok := fields[templateKey].(string)
	if !ok {
		return fields, true
	}
	if depth >= e.maxDepth {
		verr := core.NewValidationError(pos, core.CodeTemplateDepthExceeded, name,
			fmt.Sprintf("template nesting exceeds maximum depth %d at %q", e.maxDepth, tplName))
		e.diags.Add(verr.Diagnostic())
		return nil, false
	}

	tpl, found := lookup(doc, tplName)
	if !found {
		err := core.NewReferenceError(pos, "template", tplName)
		e.diags.Add(core.Diagnostic{
			Severity: core.SeverityError,
			Category: core.CategoryTemplate,
			Message:  err.Error(),
			File:     pos.File,
			Line:     pos.Line,
		})
		return nil, false
	}

	args, explicit := extractArgs(tpl, fields)
	params, ok := e.bindParameters(tpl, args, explicit, name, pos)
	if !ok {
		return nil, false
	}

	body, err := (&substituter{params: params}).expandMap(tpl.Body)
	if err != nil {
		e.diags.Add(core.Diagnostic{
			Severity: core.SeverityError,
			Category: core.CategoryTemplate,
			Message:  fmt.Sprintf("template %q: %v", tpl.Name, err),
			File:     pos.File,
			Line:     pos.Line,
			Metric:   name,
		})
		return nil, false
	}

	merged := mergeFields(body, fields)
	return e.expand(doc, name, pos, merged, lookup, depth+1)
}

// bindParameters validates invocation arguments against the template's
// declared parameters and fills in defaults. Defaults may reference earlier
// bound parameters with {{ name }}.
func (e *Engine) bindParameters(tpl *core.Template, args, explicit map[string]any, metric string, pos core.Pos) (map[string]any, bool) {
	params := make(map[string]any, len(tpl.Parameters))
	ok := true

	for _, decl := range tpl.Parameters {
		val, provided := args[decl.Name]
		if !provided {
			if decl.Default != nil {
				sub := &substituter{params: params}
				dv, err := sub.expandValue(decl.Default)
				if err != nil {
					e.diags.Error(core.CategoryTemplate, pos.File, pos.Line,
						fmt.Sprintf("template %q parameter %q default: %v", tpl.Name, decl.Name, err))
					ok = false
					continue
				}
				params[decl.Name] = dv
				continue
			}
			if decl.Required {
				verr := core.NewValidationError(pos, core.CodeMissingParameter, metric,
					fmt.Sprintf("template %q requires parameter %q", tpl.Name, decl.Name))
				if decl.Description != "" {
					verr = verr.WithSuggestion(decl.Description)
				}
				e.diags.Add(verr.Diagnostic())
				ok = false
			}
			continue
		}

		if !typeMatches(decl.Type, val) {
			verr := core.NewValidationError(pos, core.CodeBadParameterType, metric,
				fmt.Sprintf("template %q parameter %q expects %s, got %T", tpl.Name, decl.Name, decl.Type, val))
			e.diags.Add(verr.Diagnostic())
			ok = false
			continue
		}
		if len(decl.Enum) > 0 && !enumContains(decl.Enum, val) {
			verr := core.NewValidationError(pos, core.CodeInvalidEnum, metric,
				fmt.Sprintf("template %q parameter %q value %v is not one of %v", tpl.Name, decl.Name, val, decl.Enum))
			e.diags.Add(verr.Diagnostic())
			ok = false
			continue
		}
		params[decl.Name] = val
	}

	// Arguments the template never declared are suspicious but harmless.
	var extras []string
	for name := range explicit {
		if tpl.Parameter(name) == nil {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		e.diags.Warn(core.CategoryTemplate, pos.File, pos.Line,
			fmt.Sprintf("template %q does not declare parameter %q", tpl.Name, name))
	}

	return params, ok
}

// extractArgs pulls the invocation arguments off a definition. The
// parameters block is the explicit argument list; top-level fields whose
// name matches a declared parameter double as implicit arguments so short
// invocations stay short. Only explicit arguments can trigger the
// undeclared-parameter warning.
func extractArgs(tpl *core.Template, fields map[string]any) (args, explicit map[string]any) {
	args = make(map[string]any)
	explicit = make(map[string]any)
	for k, v := range fields {
		if tpl.Parameter(k) != nil {
			args[k] = v
		}
	}
	for _, key := range []string{paramsKey, paramsAlt} {
		if m, ok := fields[key].(map[string]any); ok {
			for k, v := range m {
				args[k] = v
				explicit[k] = v
			}
		}
	}
	return args, explicit
}

// mergeFields overlays the invoking definition on top of the expanded
// template body. Explicit fields win; dimension lists are unioned with the
// template's entries first and duplicates by name dropped.
func mergeFields(body, fields map[string]any) map[string]any {
	out := make(map[string]any, len(body)+len(fields))
	for k, v := range body {
		out[k] = v
	}
	for k, v := range fields {
		switch k {
		case templateKey, paramsKey, paramsAlt:
			continue
		case "dimensions":
			out[k] = unionDimensionLists(body[k], v)
		default:
			out[k] = v
		}
	}
	return out
}

func unionDimensionLists(base, extra any) []any {
	var out []any
	if l, ok := base.([]any); ok {
		out = append(out, l...)
	}
	if l, ok := extra.([]any); ok {
		out = append(out, l...)
	}
	seen := make(map[string]bool, len(out))
	deduped := out[:0]
	for _, item := range out {
		name := dimensionName(item)
		if name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		deduped = append(deduped, item)
	}
	return deduped
}

func dimensionName(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		name, _ := v["name"].(string)
		return name
	}
	return ""
}

// applyExtends merges a metric onto its parent, child fields winning and
// dimensions unioned parent-first. Chains are followed; revisiting a name
// means a cycle.
func (e *Engine) applyExtends(doc *core.Document, name string, pos core.Pos, fields map[string]any, seen map[string]bool) (map[string]any, bool) {
	parentName, ok := fields[extendsKey].(string)
	if !ok {
		return fields, true
	}
	if seen[parentName] {
		e.diags.Error(core.CategoryTemplate, pos.File, pos.Line,
			fmt.Sprintf("metric %q extends chain loops through %q", name, parentName))
		return nil, false
	}
	seen[parentName] = true

	parent := e.findMetric(doc, parentName)
	if parent == nil {
		err := core.NewReferenceError(pos, "metric", parentName)
		e.diags.Add(core.Diagnostic{
			Severity: core.SeverityError,
			Category: core.CategoryTemplate,
			Message:  err.Error(),
			File:     pos.File,
			Line:     pos.Line,
			Metric:   name,
		})
		return nil, false
	}

	// The parent may itself use a template or extend further.
	parentFields, ok := e.expand(doc, parent.Name, parent.Pos, parent.Fields, e.lookupMetricTemplate, 0)
	if !ok {
		return nil, false
	}
	parentFields, ok = e.applyExtends(doc, parent.Name, parent.Pos, parentFields, seen)
	if !ok {
		return nil, false
	}

	merged := make(map[string]any, len(parentFields)+len(fields))
	for k, v := range parentFields {
		if k == "name" {
			continue
		}
		merged[k] = v
	}
	for k, v := range fields {
		if k == extendsKey {
			continue
		}
		if k == "dimensions" {
			merged[k] = unionDimensionLists(parentFields[k], v)
			continue
		}
		merged[k] = v
	}
	return merged, true
}

func (e *Engine) findMetric(doc *core.Document, name string) *core.MetricDef {
	local := core.LocalName(name)
	for _, m := range doc.Metrics {
		if m.Name == local {
			return m
		}
	}
	for _, m := range e.set.Metrics() {
		if m.Name == local {
			return m
		}
	}
	return nil
}

func typeMatches(declared string, v any) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "int", "float":
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case "boolean", "bool":
		_, ok := v.(bool)
		return ok
	case "list", "array":
		_, ok := v.([]any)
		return ok
	case "object", "map", "dict":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
