package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ParseFile reads one definition file into a document. The yaml node tree
// is walked directly so every definition keeps its source line.
func ParseFile(path string) (*core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses definition file contents. path is used for positions only.
func Parse(path string, data []byte) (*core.Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, core.NewSyntaxError(core.Pos{File: path, Line: yamlErrorLine(err)}, "invalid yaml", err)
	}

	doc := &core.Document{
		Path:                   path,
		Version:                1,
		MetricTemplates:        map[string]*core.Template{},
		SemanticModelTemplates: map[string]*core.Template{},
		DimensionGroups:        map[string]*core.DimensionGroup{},
		TimeSpines:             map[string]*core.TimeSpine{},
		JoinPathAliases:        map[string]*core.JoinPathAlias{},
	}

	if len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, core.NewSyntaxError(core.Pos{File: path, Line: top.Line}, "top level must be a mapping", nil)
	}

	p := &parser{path: path, doc: doc}
	for i := 0; i+1 < len(top.Content); i += 2 {
		key := top.Content[i].Value
		val := resolveAlias(top.Content[i+1])
		if err := p.parseSection(key, val); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

type parser struct {
	path string
	doc  *core.Document
}

func (p *parser) pos(n *yaml.Node) core.Pos {
	return core.Pos{File: p.path, Line: n.Line}
}

func (p *parser) syntaxErr(n *yaml.Node, format string, args ...any) error {
	return core.NewSyntaxError(p.pos(n), fmt.Sprintf(format, args...), nil)
}

func (p *parser) parseSection(key string, val *yaml.Node) error {
	switch key {
	case "version":
		var v int
		if err := val.Decode(&v); err != nil {
			return p.syntaxErr(val, "version must be an integer")
		}
		p.doc.Version = v
	case "imports":
		return p.parseImports(val)
	case "metrics":
		return p.parseMetrics(val)
	case "metric_templates", "templates":
		return p.parseTemplates(val, p.doc.MetricTemplates)
	case "semantic_model_templates":
		return p.parseTemplates(val, p.doc.SemanticModelTemplates)
	case "dimension_groups":
		return p.parseDimensionGroups(val)
	case "semantic_models":
		return p.parseSemanticModels(val)
	case "entities":
		return p.parseEntities(val)
	case "entity_sets":
		return p.parseEntitySets(val)
	case "time_spines", "time_spine":
		return p.parseTimeSpines(val)
	case "join_paths":
		return p.parseJoinPaths(val)
	case "join_path_aliases":
		return p.parseJoinPathAliases(val)
	default:
		// Unknown top-level keys are preserved nowhere but must not fail
		// the parse; validation reports them later if they matter.
	}
	return nil
}

// parseImports accepts both the string form "path as alias" and the mapping
// form {path: ..., alias: ...}. The alias defaults to the file's base name.
func (p *parser) parseImports(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "imports must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		imp := core.Import{Pos: p.pos(item)}
		switch item.Kind {
		case yaml.ScalarNode:
			spec := item.Value
			if path, alias, ok := splitImportAlias(spec); ok {
				imp.Path, imp.Alias = path, alias
			} else {
				imp.Path = spec
			}
		case yaml.MappingNode:
			for i := 0; i+1 < len(item.Content); i += 2 {
				k, v := item.Content[i].Value, item.Content[i+1]
				switch k {
				case "path", "import":
					imp.Path = v.Value
				case "alias", "as":
					imp.Alias = v.Value
				}
			}
		default:
			return p.syntaxErr(item, "import entry must be a string or mapping")
		}
		if imp.Path == "" {
			return p.syntaxErr(item, "import entry missing path")
		}
		if imp.Alias == "" {
			imp.Alias = importBaseName(imp.Path)
		}
		p.doc.Imports = append(p.doc.Imports, imp)
	}
	return nil
}

func splitImportAlias(spec string) (path, alias string, ok bool) {
	idx := strings.LastIndex(spec, " as ")
	if idx < 0 {
		return "", "", false
	}
	path = strings.TrimSpace(spec[:idx])
	alias = strings.TrimSpace(spec[idx+len(" as "):])
	return path, alias, path != "" && alias != ""
}

func importBaseName(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	for _, ext := range []string{".yml", ".yaml"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func (p *parser) parseMetrics(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "metrics must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.MappingNode {
			return p.syntaxErr(item, "metric entry must be a mapping")
		}
		fields, err := nodeToMap(item)
		if err != nil {
			return p.syntaxErr(item, "metric entry: %v", err)
		}
		name, _ := fields["name"].(string)
		p.doc.Metrics = append(p.doc.Metrics, &core.MetricDef{
			Name:   name,
			Fields: fields,
			Pos:    p.pos(item),
		})
	}
	return nil
}

func (p *parser) parseSemanticModels(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "semantic_models must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		fields, err := nodeToMap(item)
		if err != nil {
			return p.syntaxErr(item, "semantic model entry: %v", err)
		}
		name, _ := fields["name"].(string)
		p.doc.SemanticModels = append(p.doc.SemanticModels, &core.SemanticModelDef{
			Name:   name,
			Fields: fields,
			Pos:    p.pos(item),
		})
	}
	return nil
}

// parseTemplates reads a name -> template mapping. Parameters accept both
// the bare string form and the full mapping form.
func (p *parser) parseTemplates(n *yaml.Node, into map[string]*core.Template) error {
	if n.Kind != yaml.MappingNode {
		return p.syntaxErr(n, "templates must be a mapping of name to template")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		nameNode, body := n.Content[i], resolveAlias(n.Content[i+1])
		if body.Kind != yaml.MappingNode {
			return p.syntaxErr(body, "template %q must be a mapping", nameNode.Value)
		}
		tpl := &core.Template{Name: nameNode.Value, Pos: p.pos(nameNode)}
		for j := 0; j+1 < len(body.Content); j += 2 {
			k, v := body.Content[j].Value, resolveAlias(body.Content[j+1])
			switch k {
			case "description":
				tpl.Description = v.Value
			case "abstract":
				var b bool
				if err := v.Decode(&b); err == nil {
					tpl.Abstract = b
				}
			case "parameters", "params":
				params, err := p.parseTemplateParams(v)
				if err != nil {
					return err
				}
				tpl.Parameters = params
			case "template", "body":
				m, err := nodeToMap(v)
				if err != nil {
					return p.syntaxErr(v, "template %q body: %v", tpl.Name, err)
				}
				tpl.Body = m
			}
		}
		if tpl.Body == nil {
			return p.syntaxErr(body, "template %q has no template body", tpl.Name)
		}
		into[tpl.Name] = tpl
	}
	return nil
}

func (p *parser) parseTemplateParams(n *yaml.Node) ([]core.TemplateParameter, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.syntaxErr(n, "parameters must be a list")
	}
	var out []core.TemplateParameter
	for _, item := range n.Content {
		item = resolveAlias(item)
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, core.TemplateParameter{Name: item.Value, Type: "string", Required: true})
		case yaml.MappingNode:
			var param core.TemplateParameter
			for i := 0; i+1 < len(item.Content); i += 2 {
				k, v := item.Content[i].Value, resolveAlias(item.Content[i+1])
				switch k {
				case "name":
					param.Name = v.Value
				case "type":
					param.Type = v.Value
				case "required":
					var b bool
					if err := v.Decode(&b); err != nil {
						return nil, p.syntaxErr(v, "parameter required must be a boolean")
					}
					param.Required = b
				case "default":
					param.Default = nodeToAny(v)
				case "description":
					param.Description = v.Value
				case "enum", "allowed_values":
					vals, ok := nodeToAny(v).([]any)
					if !ok {
						return nil, p.syntaxErr(v, "parameter enum must be a list")
					}
					param.Enum = vals
				}
			}
			if param.Name == "" {
				return nil, p.syntaxErr(item, "parameter missing name")
			}
			if param.Type == "" {
				param.Type = "string"
			}
			out = append(out, param)
		default:
			return nil, p.syntaxErr(item, "parameter must be a string or mapping")
		}
	}
	return out, nil
}

// parseDimensionGroups accepts both {name: {dimensions: [...]}} and the
// shorthand {name: [...]}.
func (p *parser) parseDimensionGroups(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return p.syntaxErr(n, "dimension_groups must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		nameNode, body := n.Content[i], resolveAlias(n.Content[i+1])
		group := &core.DimensionGroup{Name: nameNode.Value, Pos: p.pos(nameNode)}

		dimsNode := body
		if body.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(body.Content); j += 2 {
				if body.Content[j].Value == "dimensions" {
					dimsNode = resolveAlias(body.Content[j+1])
				}
			}
		}
		if dimsNode.Kind != yaml.SequenceNode {
			return p.syntaxErr(body, "dimension group %q must contain a dimension list", group.Name)
		}
		for _, item := range dimsNode.Content {
			dim, err := p.parseDimension(resolveAlias(item))
			if err != nil {
				return err
			}
			group.Dimensions = append(group.Dimensions, dim)
		}
		p.doc.DimensionGroups[group.Name] = group
	}
	return nil
}

// parseDimension accepts the bare name form and the full mapping form.
func (p *parser) parseDimension(n *yaml.Node) (core.Dimension, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return core.Dimension{Name: n.Value, Kind: core.DimensionCategorical}, nil
	case yaml.MappingNode:
		var dim core.Dimension
		if err := n.Decode(&dim); err != nil {
			return core.Dimension{}, p.syntaxErr(n, "invalid dimension: %v", err)
		}
		if dim.Kind == "" {
			dim.Kind = core.DimensionCategorical
		}
		return dim, nil
	default:
		return core.Dimension{}, p.syntaxErr(n, "dimension must be a string or mapping")
	}
}

func (p *parser) parseEntities(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "entities must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		var e core.Entity
		if err := item.Decode(&e); err != nil {
			return p.syntaxErr(item, "invalid entity: %v", err)
		}
		e.Pos = p.pos(item)
		p.doc.Entities = append(p.doc.Entities, &e)
	}
	return nil
}

func (p *parser) parseEntitySets(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "entity_sets must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.MappingNode {
			return p.syntaxErr(item, "entity set must be a mapping")
		}
		set := &core.EntitySet{Pos: p.pos(item)}
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i].Value, resolveAlias(item.Content[i+1])
			switch k {
			case "name":
				set.Name = v.Value
			case "primary", "primary_entity":
				set.Primary = v.Value
			case "include", "includes":
				if v.Kind != yaml.SequenceNode {
					return p.syntaxErr(v, "entity set include must be a list")
				}
				for _, inc := range v.Content {
					inc = resolveAlias(inc)
					var ei core.EntityInclude
					switch inc.Kind {
					case yaml.ScalarNode:
						ei.Entity = inc.Value
						ei.Role = core.EntityForeign
					case yaml.MappingNode:
						for j := 0; j+1 < len(inc.Content); j += 2 {
							ik, iv := inc.Content[j].Value, inc.Content[j+1]
							switch ik {
							case "entity", "name":
								ei.Entity = iv.Value
							case "type", "role":
								ei.Role = core.EntityRole(iv.Value)
							case "through", "join_path":
								ei.Through = iv.Value
							}
						}
						if ei.Role == "" {
							ei.Role = core.EntityForeign
						}
					default:
						return p.syntaxErr(inc, "entity set include must be a string or mapping")
					}
					set.Includes = append(set.Includes, ei)
				}
			}
		}
		if set.Name == "" {
			return p.syntaxErr(item, "entity set missing name")
		}
		p.doc.EntitySets = append(p.doc.EntitySets, set)
	}
	return nil
}

func (p *parser) parseTimeSpines(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return p.syntaxErr(n, "time_spines must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		nameNode, body := n.Content[i], resolveAlias(n.Content[i+1])
		if body.Kind != yaml.MappingNode {
			return p.syntaxErr(body, "time spine %q must be a mapping", nameNode.Value)
		}
		ts := &core.TimeSpine{Name: nameNode.Value, Pos: p.pos(nameNode)}
		for j := 0; j+1 < len(body.Content); j += 2 {
			k, v := body.Content[j].Value, body.Content[j+1]
			switch k {
			case "table", "model":
				ts.Table = v.Value
			case "column", "primary_column":
				ts.Column = v.Value
			case "grain":
				ts.Grain = v.Value
			}
		}
		p.doc.TimeSpines[ts.Name] = ts
	}
	return nil
}

func (p *parser) parseJoinPaths(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		return p.syntaxErr(n, "join_paths must be a list")
	}
	for _, item := range n.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.MappingNode {
			return p.syntaxErr(item, "join path must be a mapping")
		}
		jp := &core.JoinPath{Pos: p.pos(item)}
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i].Value, resolveAlias(item.Content[i+1])
			switch k {
			case "name":
				jp.Name = v.Value
			case "from":
				jp.From = v.Value
			case "to":
				jp.To = v.Value
			case "type", "join_type":
				jp.Type = v.Value
			case "keys", "join_keys":
				if v.Kind != yaml.SequenceNode {
					return p.syntaxErr(v, "join keys must be a list")
				}
				for _, kn := range v.Content {
					var jk core.JoinKey
					if err := resolveAlias(kn).Decode(&jk); err != nil {
						return p.syntaxErr(kn, "invalid join key: %v", err)
					}
					jp.Keys = append(jp.Keys, jk)
				}
			}
		}
		if jp.Name == "" {
			jp.Name = jp.From + "_to_" + jp.To
		}
		p.doc.JoinPaths = append(p.doc.JoinPaths, jp)
	}
	return nil
}

func (p *parser) parseJoinPathAliases(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return p.syntaxErr(n, "join_path_aliases must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		nameNode, body := n.Content[i], resolveAlias(n.Content[i+1])
		alias := &core.JoinPathAlias{Name: nameNode.Value, Pos: p.pos(nameNode)}
		hopsNode := body
		if body.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(body.Content); j += 2 {
				if k := body.Content[j].Value; k == "path" || k == "hops" {
					hopsNode = resolveAlias(body.Content[j+1])
				}
			}
		}
		if hopsNode.Kind != yaml.SequenceNode {
			return p.syntaxErr(body, "join path alias %q must contain a list of hops", alias.Name)
		}
		for _, hop := range hopsNode.Content {
			alias.Hops = append(alias.Hops, resolveAlias(hop).Value)
		}
		p.doc.JoinPathAliases[alias.Name] = alias
	}
	return nil
}

// =============================================================================
// Node helpers
// =============================================================================

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// nodeToAny converts a node tree into plain Go values, the same shapes
// yaml.Unmarshal into any would produce.
func nodeToAny(n *yaml.Node) any {
	n = resolveAlias(n)
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			m[n.Content[i].Value] = nodeToAny(n.Content[i+1])
		}
		return m
	case yaml.SequenceNode:
		s := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			s = append(s, nodeToAny(c))
		}
		return s
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return n.Value
		}
		return v
	default:
		return nil
	}
}

func nodeToMap(n *yaml.Node) (map[string]any, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", kindName(n.Kind))
	}
	m, _ := nodeToAny(n).(map[string]any)
	return m, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// yamlErrorLine pulls a line number out of a yaml error message when one is
// present; yaml.v3 formats them as "yaml: line N: ...".
func yamlErrorLine(err error) int {
	msg := err.Error()
	const prefix = "yaml: line "
	i := strings.Index(msg, prefix)
	if i < 0 {
		return 0
	}
	rest := msg[i+len(prefix):]
	end := strings.IndexByte(rest, ':')
	if end < 0 {
		return 0
	}
	line := 0
	for _, r := range rest[:end] {
		if r < '0' || r > '9' {
			return 0
		}
		line = line*10 + int(r-'0')
	}
	return line
}
