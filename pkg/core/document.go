package core

import (
	"strconv"
	"strings"
)

// Pos is a source location used for diagnostics.
type Pos struct {
	File string
	Line int
}

// String formats the position as "file:line", or just "file" when the line
// is unknown.
func (p Pos) String() string {
	if p.File == "" {
		return ""
	}
	if p.Line <= 0 {
		return p.File
	}
	return p.File + ":" + strconv.Itoa(p.Line)
}

// Import is a file-level import declaration. Alias is the namespace the
// imported document is addressed by in pointer paths; it must be unique
// within the importing document.
type Import struct {
	Path  string
	Alias string
	Pos   Pos
}

// MetricDef is an unresolved metric entry as read from a document. The
// fields stay in raw tree form until template and variant expansion have
// run; Decode turns the final tree into a typed Metric.
type MetricDef struct {
	Name   string
	Fields map[string]any
	Pos    Pos
}

// SemanticModelDef is an unresolved semantic model declaration.
type SemanticModelDef struct {
	Name   string
	Fields map[string]any
	Pos    Pos
}

// Document is one parsed input file. It owns the top-level collections
// contributed to the compilation and is immutable once parsed.
type Document struct {
	Path    string
	Version int

	Imports                []Import
	Metrics                []*MetricDef
	MetricTemplates        map[string]*Template
	SemanticModelTemplates map[string]*Template
	DimensionGroups        map[string]*DimensionGroup
	SemanticModels         []*SemanticModelDef
	Entities               []*Entity
	EntitySets             []*EntitySet
	TimeSpines             map[string]*TimeSpine
	JoinPaths              []*JoinPath
	JoinPathAliases        map[string]*JoinPathAlias
}

// Template is a reusable metric or semantic-model template. Body is the raw
// tree the expansion engine substitutes parameters into.
type Template struct {
	Name        string
	Description string
	Parameters  []TemplateParameter
	Body        map[string]any
	Abstract    bool
	Pos         Pos
}

// Parameter lookup by name. Returns nil when the template does not declare
// the parameter.
func (t *Template) Parameter(name string) *TemplateParameter {
	for i := range t.Parameters {
		if t.Parameters[i].Name == name {
			return &t.Parameters[i]
		}
	}
	return nil
}

// TemplateParameter declares one substitutable template input.
type TemplateParameter struct {
	Name        string
	Type        string // string, number, boolean, list, object
	Required    bool
	Default     any
	Description string
	Enum        []any
}

// SourceRef records how a metric's source table was referenced, for
// downstream tooling. It never changes resolution outcomes.
type SourceRef struct {
	Table string `yaml:"table"`
	Kind  string `yaml:"kind"` // "ref" or "table"
}

// LocalName strips a leading alias qualifier from a dotted reference path,
// e.g. "base.templates.revenue" -> "revenue".
func LocalName(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
