package core

import "strings"

// DimensionKind distinguishes time dimensions from categorical ones.
type DimensionKind string

const (
	DimensionTime        DimensionKind = "time"
	DimensionCategorical DimensionKind = "categorical"
)

// ValidDimensionKinds lists the accepted dimension kinds.
var ValidDimensionKinds = []DimensionKind{DimensionTime, DimensionCategorical}

// IsValidDimensionKind reports whether k names a known dimension kind.
func IsValidDimensionKind(k DimensionKind) bool {
	return k == DimensionTime || k == DimensionCategorical
}

// ValidTimeGrains lists the accepted grains for time dimensions.
var ValidTimeGrains = []string{"hour", "day", "week", "month", "quarter", "year"}

// IsValidTimeGrain reports whether g names a known time grain.
func IsValidTimeGrain(g string) bool {
	for _, v := range ValidTimeGrains {
		if v == g {
			return true
		}
	}
	return false
}

// Dimension is a grouping column attached to a metric or semantic model.
type Dimension struct {
	Name        string        `yaml:"name"`
	Kind        DimensionKind `yaml:"type,omitempty"`
	Grain       string        `yaml:"grain,omitempty"`
	Expr        string        `yaml:"expr,omitempty"`
	Label       string        `yaml:"label,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Meta        map[string]any `yaml:"meta,omitempty"`
}

// Identity returns the key used when merging dimension lists. Two dimensions
// with the same identity are the same dimension.
func (d Dimension) Identity() string {
	return strings.Join([]string{d.Name, string(d.Kind), d.Grain, d.Expr}, "|")
}

// DimensionGroup is a reusable named set of dimensions that metrics pull in
// through $use pointers.
type DimensionGroup struct {
	Name       string
	Dimensions []Dimension
	Pos        Pos
}

// EntityRole describes how an entity participates in a semantic model.
type EntityRole string

const (
	EntityPrimary EntityRole = "primary"
	EntityForeign EntityRole = "foreign"
	EntityUnique  EntityRole = "unique"
)

// ValidEntityRoles lists the accepted entity roles.
var ValidEntityRoles = []EntityRole{EntityPrimary, EntityForeign, EntityUnique}

// IsValidEntityRole reports whether r names a known entity role.
func IsValidEntityRole(r EntityRole) bool {
	return r == EntityPrimary || r == EntityForeign || r == EntityUnique
}

// Entity is a join key in a semantic model.
type Entity struct {
	Name string     `yaml:"name"`
	Role EntityRole `yaml:"type"`
	Expr string     `yaml:"expr,omitempty"`
	Pos  Pos        `yaml:"-"`
}

// EntitySet names a reusable group of entities reached through join paths.
type EntitySet struct {
	Name     string
	Primary  string
	Includes []EntityInclude
	Pos      Pos
}

// EntityInclude is one member of an entity set, optionally reached through a
// named join path.
type EntityInclude struct {
	Entity  string
	Role    EntityRole
	Through string
}

// JoinPath describes how to reach one source table from another.
type JoinPath struct {
	Name string
	From string
	To   string
	Keys []JoinKey
	Type string
	Pos  Pos
}

// JoinKey pairs the columns equated by a join.
type JoinKey struct {
	FromColumn string `yaml:"from_column"`
	ToColumn   string `yaml:"to_column"`
}

// JoinPathAlias names a chain of join paths so metrics can reference a
// multi-hop join by a single name.
type JoinPathAlias struct {
	Name string
	Hops []string
	Pos  Pos
}

// TimeSpine declares a calendar table metrics can be joined against.
type TimeSpine struct {
	Name   string
	Table  string
	Column string
	Grain  string
	Pos    Pos
}

// SemanticModel is the compiled output unit: one per distinct source table,
// holding the deduplicated measures and merged dimensions of every metric
// that reads from it.
type SemanticModel struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Model       string           `yaml:"model"`
	Defaults    map[string]any   `yaml:"defaults,omitempty"`
	Entities    []Entity         `yaml:"entities,omitempty"`
	Dimensions  []Dimension      `yaml:"dimensions,omitempty"`
	Measures    []Measure        `yaml:"measures,omitempty"`
	Joins       []Join           `yaml:"joins,omitempty"`
	TimeSpine   *TimeSpineConfig `yaml:"time_spine,omitempty"`
	Meta        map[string]any   `yaml:"meta,omitempty"`
}

// Join is an emitted join edge on a semantic model.
type Join struct {
	To   string    `yaml:"to"`
	Type string    `yaml:"type,omitempty"`
	Keys []JoinKey `yaml:"keys"`
}

// TimeSpineConfig is the emitted time spine binding on a semantic model.
type TimeSpineConfig struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
	Grain  string `yaml:"grain,omitempty"`
}
