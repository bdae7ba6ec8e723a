// Package compiler orchestrates the compilation pipeline: load, resolve,
// expand templates and variants, type, build semantic models, deduplicate
// measures, check the dependency graph, validate, and emit. Every phase
// reports into one shared collector so a single run surfaces everything it
// can; emission only happens when no phase produced an error.
package compiler

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapmetrics/internal/dag"
	"github.com/leapstack-labs/leapmetrics/internal/dedup"
	"github.com/leapstack-labs/leapmetrics/internal/emitter"
	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/internal/resolver"
	"github.com/leapstack-labs/leapmetrics/internal/semantic"
	"github.com/leapstack-labs/leapmetrics/internal/template"
	"github.com/leapstack-labs/leapmetrics/internal/validate"
	"github.com/leapstack-labs/leapmetrics/internal/variants"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Options configures a compilation run.
type Options struct {
	// Root is the project directory holding definition files.
	Root string
	// OutDir receives emitted files.
	OutDir string
	// Split emits one file per semantic model.
	Split bool
	// SearchPaths are extra import roots, relative to Root.
	SearchPaths []string
	// MaxTemplateDepth bounds nested template expansion; zero selects
	// the default.
	MaxTemplateDepth int
	// Inference controls entity and time dimension inference.
	Inference semantic.InferenceConfig
	// DisabledRules skips validation rules by ID.
	DisabledRules []string
	// Concurrency bounds parallel file loading.
	Concurrency int
	// SkipEmit runs every phase except writing output, for validate-only
	// invocations.
	SkipEmit bool
}

// Result is the outcome of one compilation run.
type Result struct {
	RunID           string
	Diags           *core.Collector
	Models          []*core.SemanticModel
	Metrics         []*core.Metric
	Templates       []*core.Template
	DimensionGroups []*core.DimensionGroup
	Files           []emitter.File
	Stats           Stats
	Duration        time.Duration
}

// Stats summarizes what the run processed.
type Stats struct {
	FilesLoaded      int
	FilesSkipped     int
	MetricsCompiled  int
	VariantsExpanded int
	ModelsEmitted    int
	MeasuresRemoved  int
}

// Emitted reports whether output files were written.
func (r *Result) Emitted() bool {
	return len(r.Files) > 0
}

// Compiler runs compilation pipelines.
type Compiler struct {
	opts   Options
	logger *slog.Logger
}

// New creates a compiler. A nil logger discards log output.
func New(opts Options, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !opts.Inference.Enabled && len(opts.Inference.PrimaryPatterns) == 0 {
		opts.Inference = semantic.DefaultInference()
	}
	return &Compiler{opts: opts, logger: logger}
}

// Run executes the full pipeline.
func (c *Compiler) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	diags := core.NewCollector()
	result := &Result{
		RunID: uuid.NewString(),
		Diags: diags,
	}
	logger := c.logger.With("run_id", result.RunID)

	// Load.
	ld := loader.New(loader.Options{
		Root:        c.opts.Root,
		SearchPaths: c.opts.SearchPaths,
		Concurrency: c.opts.Concurrency,
	}, logger, diags)
	loadRes, err := ld.Load(ctx)
	if err != nil {
		return nil, err
	}
	set := loadRes.Set
	result.Stats.FilesLoaded = loadRes.Files
	result.Stats.FilesSkipped = loadRes.Skipped

	// Resolve imports and pointers.
	res := resolver.New(set, resolver.Options{
		Root:        c.opts.Root,
		SearchPaths: c.opts.SearchPaths,
	}, logger, diags)
	if err := res.Resolve(); err != nil {
		return nil, err
	}

	// Expand templates and variants until no definition carries either.
	engine := template.New(set, diags, logger, c.opts.MaxTemplateDepth).WithNamespaces(res.Namespace)
	varex := variants.New(diags)
	defs := c.expandAll(set, engine, varex, &result.Stats)

	// Type the expanded trees.
	var metrics []*core.Metric
	for _, def := range defs {
		m, ok := semantic.DecodeMetric(def, diags)
		if !ok || m == nil {
			continue
		}
		metrics = append(metrics, m)
	}
	result.Stats.MetricsCompiled = len(metrics)

	var explicit []*semantic.ExplicitModel
	for _, doc := range set.Documents() {
		for _, smDef := range doc.SemanticModels {
			fields, ok := engine.ExpandSemanticModel(doc, smDef)
			if !ok {
				continue
			}
			smDef.Fields = fields
			em, ok := semantic.DecodeSemanticModel(smDef, diags)
			if !ok {
				continue
			}
			explicit = append(explicit, em)
		}
	}

	project := semantic.ProjectContext{
		Entities:        set.Entities(),
		EntitySets:      set.EntitySets(),
		TimeSpines:      timeSpines(set),
		JoinPaths:       set.JoinPaths(),
		JoinPathAliases: joinPathAliases(set),
	}

	// Build the semantic layer and collapse duplicate measures.
	builder := semantic.NewBuilder(c.opts.Inference, logger, diags)
	semRes := builder.Build(metrics, explicit, project)
	dedupRes := dedup.Deduplicate(semRes, logger)
	result.Stats.MeasuresRemoved = dedupRes.Removed
	result.Models = semRes.Models
	result.Metrics = semRes.Metrics

	// Dependency graph.
	graph := dag.BuildMetricGraph(metrics, diags)
	dag.ReportCycles(graph, diags)

	result.Templates = allTemplates(set)
	result.DimensionGroups = allDimensionGroups(set)

	// Validation rules.
	runner := validate.NewRunner(logger, c.opts.DisabledRules)
	runner.Run(&validate.Context{
		Metrics:   metrics,
		Models:    semRes.Models,
		Templates: result.Templates,
		Project:   project,
	}, diags)

	// Emit, unless a phase errored.
	if !diags.HasErrors() && !c.opts.SkipEmit {
		em := emitter.New(emitter.Options{OutDir: c.opts.OutDir, Split: c.opts.Split}, logger)
		files, err := em.Emit(semRes)
		if err != nil {
			return nil, err
		}
		result.Files = files
		result.Stats.ModelsEmitted = len(semRes.Models)
	}

	result.Duration = time.Since(start)
	logger.Info("compilation finished",
		"files", result.Stats.FilesLoaded,
		"metrics", result.Stats.MetricsCompiled,
		"models", len(result.Models),
		"errors", diags.Count(core.SeverityError),
		"warnings", diags.Count(core.SeverityWarning),
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// expandAll runs template then variant expansion, re-running templates for
// generated variants until the definition set is fixed. The loop is
// bounded because variant expansion strips the auto_variants block it
// consumes and template depth is capped by the engine.
func (c *Compiler) expandAll(set *loader.DocumentSet, engine *template.Engine, varex *variants.Expander, stats *Stats) []*core.MetricDef {
	var out []*core.MetricDef
	for _, doc := range set.Documents() {
		pending := append([]*core.MetricDef{}, doc.Metrics...)
		for len(pending) > 0 {
			def := pending[0]
			pending = pending[1:]

			fields, ok := engine.ExpandMetric(doc, def)
			if !ok {
				continue
			}
			def.Fields = fields

			generated := varex.Expand(def)
			stats.VariantsExpanded += len(generated)
			pending = append(pending, generated...)
			out = append(out, def)
		}
	}
	return out
}

func timeSpines(set *loader.DocumentSet) []*core.TimeSpine {
	var out []*core.TimeSpine
	for _, doc := range set.Documents() {
		for _, name := range sortedSpineNames(doc.TimeSpines) {
			out = append(out, doc.TimeSpines[name])
		}
	}
	return out
}

func sortedSpineNames(m map[string]*core.TimeSpine) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func joinPathAliases(set *loader.DocumentSet) []*core.JoinPathAlias {
	var out []*core.JoinPathAlias
	for _, doc := range set.Documents() {
		names := make([]string, 0, len(doc.JoinPathAliases))
		for n := range doc.JoinPathAliases {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, doc.JoinPathAliases[n])
		}
	}
	return out
}

func allDimensionGroups(set *loader.DocumentSet) []*core.DimensionGroup {
	var out []*core.DimensionGroup
	for _, doc := range set.Documents() {
		names := make([]string, 0, len(doc.DimensionGroups))
		for n := range doc.DimensionGroups {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, doc.DimensionGroups[n])
		}
	}
	return out
}

func allTemplates(set *loader.DocumentSet) []*core.Template {
	var out []*core.Template
	for _, doc := range set.Documents() {
		names := make([]string, 0, len(doc.MetricTemplates)+len(doc.SemanticModelTemplates))
		for n := range doc.MetricTemplates {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, doc.MetricTemplates[n])
		}
		names = names[:0]
		for n := range doc.SemanticModelTemplates {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, doc.SemanticModelTemplates[n])
		}
	}
	return out
}
