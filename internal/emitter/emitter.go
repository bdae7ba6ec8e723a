// Package emitter renders compiled semantic models and metrics back to
// canonical YAML. Output is deterministic: models, metrics, and measures
// are emitted in sorted order and yaml marshaling sorts mapping keys, so
// compiling the same project twice produces byte-identical files.
package emitter

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmetrics/internal/dag"
	"github.com/leapstack-labs/leapmetrics/internal/semantic"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// OutputVersion is the schema version stamped on every emitted file.
const OutputVersion = 2

const header = "# Generated by leapmetrics. Do not edit.\n"

// CombinedFile is the single-file output name; MetricsFile holds the
// metrics in split mode.
const (
	CombinedFile = "compiled_semantic_models.yml"
	MetricsFile  = "_metrics.yml"
)

// Options configures emission.
type Options struct {
	// OutDir receives the generated files.
	OutDir string
	// Split writes one file per semantic model plus a metrics file
	// instead of a single combined document.
	Split bool
}

// File is one rendered output file.
type File struct {
	Name    string
	Content []byte
}

// Emitter renders and writes compiled output.
type Emitter struct {
	opts   Options
	logger *slog.Logger
}

// New creates an emitter.
func New(opts Options, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Emitter{opts: opts, logger: logger}
}

// envelope is the top-level shape of every emitted file.
type envelope struct {
	Version        int                   `yaml:"version"`
	SemanticModels []*core.SemanticModel `yaml:"semantic_models,omitempty"`
	Metrics        []emittedMetric       `yaml:"metrics,omitempty"`
}

type emittedMetric struct {
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description,omitempty"`
	Label         string          `yaml:"label,omitempty"`
	Type          string          `yaml:"type"`
	TypeParams    map[string]any  `yaml:"type_params,omitempty"`
	Filter        string          `yaml:"filter,omitempty"`
	FillNullsWith any             `yaml:"fill_nulls_with,omitempty"`
	Dimensions    []string        `yaml:"dimensions,omitempty"`
	SourceRef     *core.SourceRef `yaml:"source_ref,omitempty"`
	Meta          map[string]any  `yaml:"meta,omitempty"`
	Config        map[string]any  `yaml:"config,omitempty"`
}

// Render produces the output files without touching the filesystem.
func (e *Emitter) Render(res *semantic.Result) ([]File, error) {
	metrics := e.renderMetrics(res)

	if !e.opts.Split {
		doc := envelope{
			Version:        OutputVersion,
			SemanticModels: res.Models,
			Metrics:        metrics,
		}
		content, err := marshal(doc)
		if err != nil {
			return nil, err
		}
		return []File{{Name: CombinedFile, Content: content}}, nil
	}

	var files []File
	for _, sm := range res.Models {
		content, err := marshal(envelope{
			Version:        OutputVersion,
			SemanticModels: []*core.SemanticModel{sm},
		})
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: sm.Name + ".yml", Content: content})
	}
	if len(metrics) > 0 {
		content, err := marshal(envelope{Version: OutputVersion, Metrics: metrics})
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: MetricsFile, Content: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Emit renders and writes the output files under OutDir.
func (e *Emitter) Emit(res *semantic.Result) ([]File, error) {
	files, err := e.Render(res)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.opts.OutDir, 0o755); err != nil {
		return nil, err
	}
	for _, f := range files {
		path := filepath.Join(e.opts.OutDir, f.Name)
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		e.logger.Debug("wrote output file", "path", path, "bytes", len(f.Content))
	}
	return files, nil
}

// renderMetrics converts compiled metrics into their emitted form using
// the post-deduplication measure bindings.
func (e *Emitter) renderMetrics(res *semantic.Result) []emittedMetric {
	bindings := indexBindings(res.Bindings)

	sorted := make([]*core.Metric, len(res.Metrics))
	copy(sorted, res.Metrics)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]emittedMetric, 0, len(sorted))
	for _, m := range sorted {
		em := emittedMetric{
			Name:          m.Name,
			Description:   m.Description,
			Label:         m.Label,
			Type:          string(m.Kind),
			TypeParams:    typeParams(m, bindings[m.Name]),
			Filter:        m.Filter,
			FillNullsWith: m.FillNullsWith,
			SourceRef:     m.SourceRef,
			Meta:          m.Meta,
			Config:        m.Config,
		}
		for _, d := range m.Dimensions {
			em.Dimensions = append(em.Dimensions, d.Name)
		}
		out = append(out, em)
	}
	return out
}

func typeParams(m *core.Metric, binds map[string]string) map[string]any {
	params := make(map[string]any)
	measureFor := func(role, fallback string) string {
		if name, ok := binds[role]; ok {
			return name
		}
		return fallback
	}
	switch m.Kind {
	case core.MetricSimple:
		params["measure"] = measureFor(semantic.RoleMeasure, m.MeasureRef)
	case core.MetricRatio:
		params["numerator"] = inputParams(m.Numerator, measureFor(semantic.RoleNumerator, ""))
		params["denominator"] = inputParams(m.Denominator, measureFor(semantic.RoleDenominator, ""))
	case core.MetricDerived:
		params["expr"] = m.Expression
		if refs := dag.MetricRefs(m.Expression); len(refs) > 0 {
			params["metrics"] = refs
		}
	case core.MetricCumulative:
		params["measure"] = measureFor(semantic.RoleMeasure, m.MeasureRef)
		if m.Window != "" {
			params["window"] = m.Window
		}
		if m.GrainToDate != "" {
			params["grain_to_date"] = m.GrainToDate
		}
		if len(m.Offsets) > 0 {
			params["offsets"] = m.Offsets
		}
	case core.MetricConversion:
		conv := map[string]any{
			"base_measure":       measureFor(semantic.RoleBase, ""),
			"conversion_measure": measureFor(semantic.RoleConversion, ""),
			"entity":             m.Entity,
		}
		if m.Window != "" {
			conv["window"] = m.Window
		}
		params["conversion_type_params"] = conv
	case core.MetricTimeComparison:
		if m.Comparison != nil {
			params["comparison"] = m.Comparison
		}
	}
	return params
}

func inputParams(in *core.MetricInput, measure string) any {
	if in == nil {
		return measure
	}
	if in.Filter == "" {
		return measure
	}
	return map[string]any{"name": measure, "filter": in.Filter}
}

func indexBindings(bindings []semantic.Binding) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, b := range bindings {
		roles, ok := out[b.Metric]
		if !ok {
			roles = make(map[string]string)
			out[b.Metric] = roles
		}
		roles[b.Role] = b.Measure
	}
	return out
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
