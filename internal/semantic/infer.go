package semantic

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// InferenceConfig controls entity and time dimension inference. Patterns
// are regular expressions matched against column names.
type InferenceConfig struct {
	Enabled             bool
	PrimaryPatterns     []string
	ForeignPatterns     []string
	CategoricalPatterns []string
	ExcludePatterns     []string
	TimeSuffixes        []string
	DefaultGrain        string
}

// DefaultInference returns the stock inference configuration.
func DefaultInference() InferenceConfig {
	return InferenceConfig{
		Enabled:             true,
		PrimaryPatterns:     []string{`^id$`, `^(.+)_pk$`},
		ForeignPatterns:     []string{`^(.+)_id$`, `^(.+)_fk$`},
		CategoricalPatterns: []string{`_type$`, `_status$`, `_category$`, `_code$`},
		ExcludePatterns:     []string{`^_`},
		TimeSuffixes:        []string{"_date", "_at", "_time", "_timestamp", "_day"},
		DefaultGrain:        "day",
	}
}

type inferencer struct {
	cfg         InferenceConfig
	primary     []*regexp.Regexp
	foreign     []*regexp.Regexp
	categorical []*regexp.Regexp
	exclude     []*regexp.Regexp
}

func newInferencer(cfg InferenceConfig) *inferencer {
	inf := &inferencer{cfg: cfg}
	inf.primary = compilePatterns(cfg.PrimaryPatterns)
	inf.foreign = compilePatterns(cfg.ForeignPatterns)
	inf.categorical = compilePatterns(cfg.CategoricalPatterns)
	inf.exclude = compilePatterns(cfg.ExcludePatterns)
	return inf
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// excluded reports whether a column is opted out of inference entirely,
// such as warehouse housekeeping columns with a leading underscore.
func (inf *inferencer) excluded(column string) bool {
	for _, re := range inf.exclude {
		if re.MatchString(column) {
			return true
		}
	}
	return false
}

// inferEntity classifies a column name as an entity. The entity name is
// the captured stem when the pattern has one, otherwise the column itself.
func (inf *inferencer) inferEntity(column string) (*core.Entity, bool) {
	if !inf.cfg.Enabled || inf.excluded(column) {
		return nil, false
	}
	for _, re := range inf.primary {
		if m := re.FindStringSubmatch(column); m != nil {
			return &core.Entity{Name: stemOr(m, column), Role: core.EntityPrimary, Expr: column}, true
		}
	}
	for _, re := range inf.foreign {
		if m := re.FindStringSubmatch(column); m != nil {
			return &core.Entity{Name: stemOr(m, column), Role: core.EntityForeign, Expr: column}, true
		}
	}
	return nil, false
}

// inferTime upgrades a dimension to a time dimension when its name or
// expression carries a time suffix. A grain that is already set is never
// touched.
func (inf *inferencer) inferTime(d core.Dimension) core.Dimension {
	if !inf.cfg.Enabled || d.Kind == core.DimensionTime {
		if d.Kind == core.DimensionTime && d.Grain == "" {
			d.Grain = inf.cfg.DefaultGrain
		}
		return d
	}
	name := d.Name
	if d.Expr != "" {
		name = d.Expr
	}
	if inf.excluded(name) || inf.matchesCategorical(name) {
		if d.Kind == "" {
			d.Kind = core.DimensionCategorical
		}
		return d
	}
	for _, suffix := range inf.cfg.TimeSuffixes {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			d.Kind = core.DimensionTime
			if d.Grain == "" {
				d.Grain = inf.cfg.DefaultGrain
			}
			return d
		}
	}
	if d.Kind == "" {
		d.Kind = core.DimensionCategorical
	}
	return d
}

func (inf *inferencer) matchesCategorical(name string) bool {
	lower := strings.ToLower(name)
	for _, re := range inf.categorical {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func stemOr(match []string, fallback string) string {
	if len(match) > 1 && match[1] != "" {
		return match[1]
	}
	return fallback
}
