package semantic

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ModelPrefix is prepended to a source table name to form the generated
// semantic model name.
const ModelPrefix = "sem_"

// Measure name suffixes, one per role a metric can bind a measure under.
const (
	RoleMeasure     = "measure"
	RoleNumerator   = "numerator"
	RoleDenominator = "denominator"
	RoleBase        = "base_measure"
	RoleConversion  = "conversion_measure"
)

// Binding records which measure on which model serves a metric role. The
// deduplication pass rewrites Measure when it collapses duplicates.
type Binding struct {
	Metric  string
	Role    string
	Model   string
	Measure string
}

// ProjectContext carries the project-level declarations the builder folds
// into generated models.
type ProjectContext struct {
	Entities        []*core.Entity
	EntitySets      []*core.EntitySet
	TimeSpines      []*core.TimeSpine
	JoinPaths       []*core.JoinPath
	JoinPathAliases []*core.JoinPathAlias
}

// Result is the compiled semantic layer before deduplication.
type Result struct {
	Models   []*core.SemanticModel
	Metrics  []*core.Metric
	Bindings []Binding
}

// Builder compiles typed metrics into semantic models.
type Builder struct {
	diags  *core.Collector
	logger *slog.Logger
	inf    *inferencer
}

// NewBuilder creates a semantic model builder.
func NewBuilder(cfg InferenceConfig, logger *slog.Logger, diags *core.Collector) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{diags: diags, logger: logger, inf: newInferencer(cfg)}
}

// modelState accumulates one semantic model. Dimensions and entities merge
// by name with explicit declarations winning over inferred ones.
type modelState struct {
	name        string
	source      string
	description string
	defaults    map[string]any
	meta        map[string]any

	dimOrder []string
	dims     map[string]dimEntry
	entOrder []string
	ents     map[string]entEntry
	measures []core.Measure
	joins    []core.Join
	spine    *core.TimeSpineConfig
}

type dimEntry struct {
	dim      core.Dimension
	explicit bool
}

type entEntry struct {
	ent      core.Entity
	explicit bool
}

// Build compiles every metric and explicit model declaration into the
// final model set. Metrics are processed in name order so the output never
// depends on file discovery order.
func (b *Builder) Build(metrics []*core.Metric, explicit []*ExplicitModel, project ProjectContext) *Result {
	states := make(map[string]*modelState)
	bySource := make(map[string]*modelState)
	var order []string

	ensure := func(name, source string) *modelState {
		if source != "" {
			if st, ok := bySource[source]; ok {
				return st
			}
		}
		if st, ok := states[name]; ok {
			return st
		}
		st := &modelState{
			name:   name,
			source: source,
			dims:   make(map[string]dimEntry),
			ents:   make(map[string]entEntry),
		}
		states[name] = st
		if source != "" {
			bySource[source] = st
		}
		order = append(order, name)
		return st
	}

	// Explicit declarations seed their models so their entities and
	// dimensions take precedence and their names stick.
	sort.SliceStable(explicit, func(i, j int) bool { return explicit[i].Name < explicit[j].Name })
	for _, em := range explicit {
		st := ensure(em.Name, em.Source)
		st.description = em.Description
		st.defaults = em.Defaults
		st.meta = em.Meta
		for _, ent := range em.Entities {
			b.addEntity(st, ent, true)
		}
		for _, d := range em.Dimensions {
			b.addDimension(st, b.inf.inferTime(d), true)
		}
	}

	sorted := make([]*core.Metric, len(metrics))
	copy(sorted, metrics)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, m := range sorted {
		b.compileMetric(m, ensure)
	}

	b.applyEntitySets(sorted, project, ensure)

	// Explicitly named time spines bind before grain matching runs.
	for _, m := range sorted {
		if m.TimeSpine == "" || m.Source == "" {
			continue
		}
		st := ensure(ModelPrefix+m.Source, m.Source)
		found := false
		for _, ts := range project.TimeSpines {
			if ts.Name == m.TimeSpine {
				st.spine = &core.TimeSpineConfig{Table: ts.Table, Column: ts.Column, Grain: ts.Grain}
				found = true
				break
			}
		}
		if !found {
			err := core.NewReferenceError(m.Pos, "time_spine", m.TimeSpine)
			b.diags.Add(core.Diagnostic{
				Severity: core.SeverityError,
				Category: core.CategorySemantic,
				Message:  err.Error(),
				File:     m.Pos.File,
				Line:     m.Pos.Line,
				Metric:   m.Name,
			})
		}
	}

	b.attachProject(states, order, project)

	result := &Result{Metrics: metrics}
	sort.Strings(order)
	for _, name := range order {
		result.Models = append(result.Models, b.finish(states[name]))
	}
	result.Bindings = b.bindings(sorted, bySource)
	b.checkMeasureRefs(sorted, states)
	return result
}

// compileMetric contributes a metric's measures and dimensions to the
// model of each source it reads.
func (b *Builder) compileMetric(m *core.Metric, ensure func(name, source string) *modelState) {
	contribute := func(source string, measure *core.Measure, suffix string, extraFilter string) {
		if source == "" || measure == nil {
			return
		}
		st := ensure(ModelPrefix+source, source)
		ms := *measure
		ms.Name = m.Name + "_" + suffix
		ms.Agg = core.NormalizeAggregation(ms.Agg)
		if extraFilter != "" {
			ms.Filters = append(append([]string{}, ms.Filters...), extraFilter)
		}
		st.measures = append(st.measures, ms)

		if ent, ok := b.inf.inferEntity(ms.Expr); ok {
			b.addEntity(st, *ent, false)
		}
	}

	switch m.Kind {
	case core.MetricSimple, core.MetricCumulative:
		contribute(m.Source, m.Measure, RoleMeasure, "")
	case core.MetricRatio:
		if m.Numerator != nil {
			contribute(inputSource(m, m.Numerator), m.Numerator.Measure, RoleNumerator, m.Numerator.Filter)
		}
		if m.Denominator != nil {
			contribute(inputSource(m, m.Denominator), m.Denominator.Measure, RoleDenominator, m.Denominator.Filter)
		}
	case core.MetricConversion:
		if m.BaseMeasure != nil {
			contribute(inputSource(m, m.BaseMeasure), m.BaseMeasure.Measure, RoleBase, m.BaseMeasure.Filter)
		}
		if m.ConversionMeasure != nil {
			contribute(inputSource(m, m.ConversionMeasure), m.ConversionMeasure.Measure, RoleConversion, m.ConversionMeasure.Filter)
		}
		if m.Entity != "" && m.Source != "" {
			st := ensure(ModelPrefix+m.Source, m.Source)
			b.addEntity(st, core.Entity{Name: m.Entity, Role: core.EntityForeign, Expr: m.Entity}, false)
		}
	case core.MetricDerived, core.MetricTimeComparison:
		// No measures of their own; they reference other metrics.
	}

	// Dimensions attach to the primary source model.
	if m.Source != "" && len(m.Dimensions) > 0 {
		st := ensure(ModelPrefix+m.Source, m.Source)
		for _, d := range m.Dimensions {
			d = b.inf.inferTime(d)
			b.addDimension(st, d, false)
			if ent, ok := b.inf.inferEntity(d.Name); ok {
				b.addEntity(st, *ent, false)
			}
		}
	}
}

func inputSource(m *core.Metric, in *core.MetricInput) string {
	if in.Source != "" {
		return in.Source
	}
	return m.Source
}

// addDimension merges a dimension into the model. First occurrence fixes
// the position; explicit declarations overwrite inferred fields, and empty
// fields fill in from later sightings either way.
func (b *Builder) addDimension(st *modelState, d core.Dimension, explicit bool) {
	existing, ok := st.dims[d.Name]
	if !ok {
		st.dimOrder = append(st.dimOrder, d.Name)
		st.dims[d.Name] = dimEntry{dim: d, explicit: explicit}
		return
	}
	if explicit && !existing.explicit {
		st.dims[d.Name] = dimEntry{dim: d, explicit: true}
		return
	}
	merged := existing.dim
	if merged.Kind == "" || (merged.Kind == core.DimensionCategorical && d.Kind == core.DimensionTime && !existing.explicit) {
		if d.Kind != "" {
			merged.Kind = d.Kind
		}
	}
	if merged.Grain == "" {
		merged.Grain = d.Grain
	}
	if merged.Expr == "" {
		merged.Expr = d.Expr
	}
	if merged.Label == "" {
		merged.Label = d.Label
	}
	if merged.Description == "" {
		merged.Description = d.Description
	}
	st.dims[d.Name] = dimEntry{dim: merged, explicit: existing.explicit}
}

func (b *Builder) addEntity(st *modelState, ent core.Entity, explicit bool) {
	existing, ok := st.ents[ent.Name]
	if !ok {
		st.entOrder = append(st.entOrder, ent.Name)
		st.ents[ent.Name] = entEntry{ent: ent, explicit: explicit}
		return
	}
	if explicit && !existing.explicit {
		st.ents[ent.Name] = entEntry{ent: ent, explicit: true}
	}
}

// applyEntitySets expands entity_set references on metrics into entities
// and join edges on the metric's source model.
func (b *Builder) applyEntitySets(metrics []*core.Metric, project ProjectContext, ensure func(name, source string) *modelState) {
	paths := make(map[string]*core.JoinPath)
	for _, jp := range project.JoinPaths {
		paths[jp.Name] = jp
	}
	aliases := make(map[string]*core.JoinPathAlias)
	for _, a := range project.JoinPathAliases {
		aliases[a.Name] = a
	}
	sets := make(map[string]*core.EntitySet)
	for _, es := range project.EntitySets {
		sets[es.Name] = es
	}

	for _, m := range metrics {
		if m.EntitySet == "" || m.Source == "" {
			continue
		}
		es, ok := sets[m.EntitySet]
		if !ok {
			err := core.NewReferenceError(m.Pos, "entity_set", m.EntitySet)
			b.diags.Add(core.Diagnostic{
				Severity: core.SeverityError,
				Category: core.CategorySemantic,
				Message:  err.Error(),
				File:     m.Pos.File,
				Line:     m.Pos.Line,
				Metric:   m.Name,
			})
			continue
		}
		st := ensure(ModelPrefix+m.Source, m.Source)
		if es.Primary != "" {
			b.addEntity(st, core.Entity{Name: es.Primary, Role: core.EntityPrimary, Expr: es.Primary}, false)
		}
		for _, inc := range es.Includes {
			b.addEntity(st, core.Entity{Name: inc.Entity, Role: inc.Role, Expr: inc.Entity}, false)
			for _, hop := range expandThrough(inc.Through, aliases) {
				jp, ok := paths[hop]
				if !ok {
					verr := core.NewValidationError(m.Pos, core.CodeBadJoinPath, m.Name,
						fmt.Sprintf("entity set %q references unknown join path %q", es.Name, hop))
					b.diags.Add(verr.Diagnostic())
					continue
				}
				st.joins = append(st.joins, core.Join{To: jp.To, Type: jp.Type, Keys: jp.Keys})
			}
		}
	}
}

// expandThrough resolves a join path reference, following one level of
// alias to its hop list.
func expandThrough(through string, aliases map[string]*core.JoinPathAlias) []string {
	if through == "" {
		return nil
	}
	if a, ok := aliases[through]; ok {
		return a.Hops
	}
	return []string{through}
}

// attachProject folds project-level entities, join paths, and time spines
// into the models they apply to.
func (b *Builder) attachProject(states map[string]*modelState, order []string, project ProjectContext) {
	for _, name := range order {
		st := states[name]
		if st.source == "" {
			continue
		}
		// Project entity declarations apply to every model whose source
		// exposes the column.
		for _, ent := range project.Entities {
			if _, ok := st.dims[ent.Expr]; ok || entityMatchesMeasures(st, ent) {
				b.addEntity(st, *ent, true)
			}
		}
		for _, jp := range project.JoinPaths {
			if jp.From != st.source {
				continue
			}
			st.joins = append(st.joins, core.Join{To: jp.To, Type: jp.Type, Keys: jp.Keys})
		}
		for _, ts := range project.TimeSpines {
			if st.spine != nil {
				break
			}
			if modelHasTimeGrain(st, ts.Grain) {
				st.spine = &core.TimeSpineConfig{Table: ts.Table, Column: ts.Column, Grain: ts.Grain}
			}
		}
	}
}

func entityMatchesMeasures(st *modelState, ent *core.Entity) bool {
	for _, ms := range st.measures {
		if ms.Expr == ent.Expr {
			return true
		}
	}
	return false
}

func modelHasTimeGrain(st *modelState, grain string) bool {
	for _, name := range st.dimOrder {
		d := st.dims[name].dim
		if d.Kind == core.DimensionTime && (grain == "" || d.Grain == grain) {
			return true
		}
	}
	return false
}

// finish converts accumulated state into the output model. Entities order
// primary first then by name; dimensions keep first-seen order; measures
// sort by name.
func (b *Builder) finish(st *modelState) *core.SemanticModel {
	sm := &core.SemanticModel{
		Name:        st.name,
		Description: st.description,
		Model:       st.source,
		Defaults:    st.defaults,
		Meta:        st.meta,
		TimeSpine:   st.spine,
	}
	if sm.Description == "" && st.source != "" {
		sm.Description = fmt.Sprintf("Semantic model for %s", st.source)
	}

	ents := make([]core.Entity, 0, len(st.entOrder))
	for _, name := range st.entOrder {
		ents = append(ents, st.ents[name].ent)
	}
	sort.SliceStable(ents, func(i, j int) bool {
		if (ents[i].Role == core.EntityPrimary) != (ents[j].Role == core.EntityPrimary) {
			return ents[i].Role == core.EntityPrimary
		}
		return ents[i].Name < ents[j].Name
	})
	sm.Entities = ents

	for _, name := range st.dimOrder {
		sm.Dimensions = append(sm.Dimensions, st.dims[name].dim)
	}

	sm.Measures = append(sm.Measures, st.measures...)
	sort.SliceStable(sm.Measures, func(i, j int) bool { return sm.Measures[i].Name < sm.Measures[j].Name })

	seenJoin := make(map[string]bool, len(st.joins))
	for _, j := range st.joins {
		key := j.To + "|" + fmt.Sprint(j.Keys)
		if seenJoin[key] {
			continue
		}
		seenJoin[key] = true
		sm.Joins = append(sm.Joins, j)
	}
	sort.SliceStable(sm.Joins, func(i, j int) bool { return sm.Joins[i].To < sm.Joins[j].To })
	return sm
}

// bindings records the measure each metric role resolved to.
func (b *Builder) bindings(metrics []*core.Metric, bySource map[string]*modelState) []Binding {
	var out []Binding
	add := func(m *core.Metric, role, source, measure string) {
		if source == "" {
			return
		}
		st, ok := bySource[source]
		if !ok {
			return
		}
		out = append(out, Binding{Metric: m.Name, Role: role, Model: st.name, Measure: measure})
	}
	for _, m := range metrics {
		switch m.Kind {
		case core.MetricSimple, core.MetricCumulative:
			if m.Measure != nil {
				add(m, RoleMeasure, m.Source, m.Name+"_"+RoleMeasure)
			} else if m.MeasureRef != "" {
				out = append(out, Binding{Metric: m.Name, Role: RoleMeasure, Model: m.SemanticModel, Measure: m.MeasureRef})
			}
		case core.MetricRatio:
			if m.Numerator != nil && m.Numerator.Measure != nil {
				add(m, RoleNumerator, inputSource(m, m.Numerator), m.Name+"_"+RoleNumerator)
			}
			if m.Denominator != nil && m.Denominator.Measure != nil {
				add(m, RoleDenominator, inputSource(m, m.Denominator), m.Name+"_"+RoleDenominator)
			}
		case core.MetricConversion:
			if m.BaseMeasure != nil && m.BaseMeasure.Measure != nil {
				add(m, RoleBase, inputSource(m, m.BaseMeasure), m.Name+"_"+RoleBase)
			}
			if m.ConversionMeasure != nil && m.ConversionMeasure.Measure != nil {
				add(m, RoleConversion, inputSource(m, m.ConversionMeasure), m.Name+"_"+RoleConversion)
			}
		}
	}
	return out
}

// checkMeasureRefs validates metrics that reference a measure by name on
// an existing semantic model.
func (b *Builder) checkMeasureRefs(metrics []*core.Metric, states map[string]*modelState) {
	for _, m := range metrics {
		if m.MeasureRef == "" {
			continue
		}
		modelName := m.SemanticModel
		if modelName == "" && m.Source != "" {
			modelName = ModelPrefix + m.Source
		}
		st, ok := states[modelName]
		if !ok {
			verr := core.NewValidationError(m.Pos, core.CodeUnknownMeasure, m.Name,
				fmt.Sprintf("metric %q references measure %q on unknown semantic model %q", m.Name, m.MeasureRef, modelName))
			b.diags.Add(verr.Diagnostic())
			continue
		}
		found := false
		var names []string
		for _, ms := range st.measures {
			names = append(names, ms.Name)
			if ms.Name == m.MeasureRef {
				found = true
			}
		}
		if !found {
			verr := core.NewValidationError(m.Pos, core.CodeUnknownMeasure, m.Name,
				fmt.Sprintf("metric %q references unknown measure %q on %s", m.Name, m.MeasureRef, modelName))
			if len(names) > 0 {
				sort.Strings(names)
				verr = verr.WithSuggestion("available measures: " + strings.Join(names, ", "))
			}
			b.diags.Add(verr.Diagnostic())
		}
	}
}
