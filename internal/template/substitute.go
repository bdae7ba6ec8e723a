package template

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{ name }} and {{ name.field }} references.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// Directive keys evaluated during expansion.
const (
	ifKey   = "$if"
	thenKey = "$then"
	elseKey = "$else"
	forKey  = "$for"
	inKey   = "$in"
	doKey   = "$do"
)

// substituter walks a template body replacing placeholders with bound
// parameter values and evaluating directives. Placeholders naming unbound
// parameters are left untouched, which makes expansion idempotent.
type substituter struct {
	params map[string]any
}

func (s *substituter) expandMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := s.expandString(k)
		ev, err := s.expandValue(v)
		if err != nil {
			return nil, err
		}
		out[key] = ev
	}
	return out, nil
}

func (s *substituter) expandValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.expandScalar(val), nil
	case map[string]any:
		if _, ok := val[ifKey]; ok {
			return s.expandIf(val)
		}
		if _, ok := val[forKey]; ok {
			return s.expandFor(val)
		}
		return s.expandMap(val)
	case []any:
		return s.expandList(val)
	default:
		return v, nil
	}
}

func (s *substituter) expandList(l []any) ([]any, error) {
	out := make([]any, 0, len(l))
	for _, item := range l {
		if m, ok := item.(map[string]any); ok {
			// A $for inside a list contributes its repetitions as
			// siblings; a $if contributes its branch or nothing.
			if _, isFor := m[forKey]; isFor {
				items, err := s.expandFor(m)
				if err != nil {
					return nil, err
				}
				out = append(out, items...)
				continue
			}
			if _, isIf := m[ifKey]; isIf {
				v, err := s.expandIf(m)
				if err != nil {
					return nil, err
				}
				if v != nil {
					out = append(out, v)
				}
				continue
			}
		}
		v, err := s.expandValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// expandIf evaluates {"$if": cond, "$then": a, "$else": b}. cond is a
// parameter name or a literal; a missing branch yields nil.
func (s *substituter) expandIf(m map[string]any) (any, error) {
	cond, err := s.condition(m[ifKey])
	if err != nil {
		return nil, err
	}
	branch := elseKey
	if cond {
		branch = thenKey
	}
	v, ok := m[branch]
	if !ok {
		return nil, nil
	}
	return s.expandValue(v)
}

// expandFor evaluates {"$for": var, "$in": list, "$do": body}, producing
// one expanded body per element with the loop variable bound.
func (s *substituter) expandFor(m map[string]any) ([]any, error) {
	varName, ok := m[forKey].(string)
	if !ok {
		return nil, fmt.Errorf("$for variable must be a string")
	}
	body, ok := m[doKey]
	if !ok {
		return nil, fmt.Errorf("$for %q is missing $do", varName)
	}

	items, err := s.iterable(m[inKey])
	if err != nil {
		return nil, fmt.Errorf("$for %q: %w", varName, err)
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		inner := &substituter{params: withParam(s.params, varName, item)}
		v, err := inner.expandValue(body)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// iterable resolves the $in operand: a parameter name, a literal list, or a
// placeholder string.
func (s *substituter) iterable(v any) ([]any, error) {
	switch in := v.(type) {
	case []any:
		return s.expandList(in)
	case string:
		name := in
		if m := placeholderPattern.FindStringSubmatch(in); m != nil && strings.TrimSpace(placeholderPattern.ReplaceAllString(in, "")) == "" {
			name = m[1]
		}
		val, ok := s.resolvePath(name)
		if !ok {
			return nil, fmt.Errorf("$in references unbound parameter %q", name)
		}
		list, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("$in parameter %q is not a list", name)
		}
		return list, nil
	case nil:
		return nil, fmt.Errorf("missing $in")
	default:
		return nil, fmt.Errorf("$in must be a list or parameter name")
	}
}

func (s *substituter) condition(v any) (bool, error) {
	switch cond := v.(type) {
	case bool:
		return cond, nil
	case string:
		name := cond
		negate := false
		if strings.HasPrefix(name, "!") {
			negate = true
			name = strings.TrimSpace(name[1:])
		}
		if m := placeholderPattern.FindStringSubmatch(name); m != nil {
			name = m[1]
		}
		val, ok := s.resolvePath(name)
		if !ok {
			return false, nil
		}
		return truthy(val) != negate, nil
	case nil:
		return false, fmt.Errorf("missing $if condition")
	default:
		return truthy(cond), nil
	}
}

// expandScalar substitutes placeholders in a string. A string that is
// exactly one placeholder keeps the bound value's native type.
func (s *substituter) expandScalar(str string) any {
	if m := pureplaceholder(str); m != "" {
		if val, ok := s.resolvePath(m); ok {
			return val
		}
		return str
	}
	return s.expandString(str)
}

func (s *substituter) expandString(str string) string {
	return placeholderPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if val, ok := s.resolvePath(name); ok {
			return stringify(val)
		}
		return match
	})
}

// resolvePath looks up "name" or "name.field.sub" in the bound parameters.
func (s *substituter) resolvePath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	val, ok := s.params[parts[0]]
	if !ok {
		return nil, false
	}
	for _, field := range parts[1:] {
		m, isMap := val.(map[string]any)
		if !isMap {
			return nil, false
		}
		val, ok = m[field]
		if !ok {
			return nil, false
		}
	}
	return val, true
}

func pureplaceholder(str string) string {
	m := placeholderPattern.FindStringSubmatch(str)
	if m == nil || m[0] != strings.TrimSpace(str) {
		return ""
	}
	return m[1]
}

// ParameterNames collects every parameter a template body actually
// references: {{ name }} placeholders (the root of a dotted path), $if
// condition variables, and $in operands. Loop variables bound by $for are
// not parameters and are not reported.
func ParameterNames(body any) map[string]bool {
	names := make(map[string]bool)
	collectNames(body, names)
	return names
}

func collectNames(v any, names map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, m := range placeholderPattern.FindAllStringSubmatch(val, -1) {
			names[rootSegment(m[1])] = true
		}
	case map[string]any:
		for key, elem := range val {
			switch key {
			case ifKey:
				if cond, ok := elem.(string); ok {
					name := strings.TrimSpace(strings.TrimPrefix(cond, "!"))
					if m := placeholderPattern.FindStringSubmatch(name); m != nil {
						name = m[1]
					}
					names[rootSegment(name)] = true
					continue
				}
			case inKey:
				if name, ok := elem.(string); ok {
					if m := placeholderPattern.FindStringSubmatch(name); m != nil {
						name = m[1]
					}
					names[rootSegment(name)] = true
					continue
				}
			}
			collectNames(key, names)
			collectNames(elem, names)
		}
	case []any:
		for _, elem := range val {
			collectNames(elem, names)
		}
	}
}

func rootSegment(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}

func withParam(params map[string]any, name string, val any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[name] = val
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case nil:
		return false
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// Whole floats print without the trailing .0 so numeric params
		// interpolate cleanly into SQL expressions.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
