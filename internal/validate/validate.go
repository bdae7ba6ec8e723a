// Package validate runs structural rules over compiled metrics and
// semantic models. Rules are data-driven: each is a definition with a
// check function, and the runner executes every enabled rule and collects
// the findings.
package validate

import (
	"io"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/leapmetrics/internal/semantic"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Context is everything a rule can look at.
type Context struct {
	Metrics   []*core.Metric
	Models    []*core.SemanticModel
	Templates []*core.Template
	Project   semantic.ProjectContext
}

// CheckFunc analyzes the context and returns findings.
type CheckFunc func(ctx *Context) []core.Diagnostic

// RuleDef is a data-driven validation rule definition. Rules are
// stateless; all context comes via the check function parameter.
type RuleDef struct {
	ID          string
	Name        string
	Description string
	Severity    core.Severity
	Check       CheckFunc
}

// Runner executes validation rules.
type Runner struct {
	rules    []RuleDef
	disabled map[string]bool
	logger   *slog.Logger
}

// NewRunner creates a runner with the built-in rule set. IDs in disabled
// are skipped.
func NewRunner(logger *slog.Logger, disabled []string) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		off[id] = true
	}
	return &Runner{rules: builtinRules(), disabled: off, logger: logger}
}

// Rules returns the registered rule definitions sorted by ID.
func (r *Runner) Rules() []RuleDef {
	out := make([]RuleDef, len(r.rules))
	copy(out, r.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run executes every enabled rule against the context and records the
// findings.
func (r *Runner) Run(ctx *Context, diags *core.Collector) {
	for _, rule := range r.Rules() {
		if r.disabled[rule.ID] {
			continue
		}
		findings := rule.Check(ctx)
		r.logger.Debug("rule executed", "rule", rule.ID, "findings", len(findings))
		for _, d := range findings {
			if d.Category == "" {
				d.Category = core.CategoryValidate
			}
			diags.Add(d)
		}
	}
}
