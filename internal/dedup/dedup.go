// Package dedup collapses semantically identical measures within a
// semantic model. Two measures are identical when their aggregation,
// expression, filters, and time dimension agree after whitespace and quote
// normalization; the surviving measure keeps the lexically smallest name
// and every metric binding is rewritten to it.
package dedup

import (
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/semantic"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Signature is the canonical identity of a measure within one model.
type Signature string

// MeasureSignature computes a measure's identity. Filters are sorted so
// declaration order never splits otherwise identical measures; a filter
// difference always does.
func MeasureSignature(m core.Measure) Signature {
	filters := make([]string, 0, len(m.Filters))
	for _, f := range m.Filters {
		filters = append(filters, NormalizeSQL(f))
	}
	sort.Strings(filters)
	parts := []string{
		strings.ToLower(strings.TrimSpace(m.Agg)),
		NormalizeSQL(m.Expr),
		strings.Join(filters, "&"),
		strings.TrimSpace(m.TimeDimension),
	}
	if m.Agg == "percentile" {
		parts = append(parts, trimFloat(m.Percentile))
	}
	return Signature(strings.Join(parts, "|"))
}

// NormalizeSQL collapses whitespace runs to single spaces and folds double
// quotes to single quotes. Nothing else changes; identifiers keep their
// case.
func NormalizeSQL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			space = true
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			if r == '"' {
				r = '\''
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Result reports what deduplication removed.
type Result struct {
	// Renames maps model name -> removed measure name -> surviving name.
	Renames map[string]map[string]string
	Removed int
}

// Deduplicate collapses duplicate measures in place and rewrites the
// metric bindings that referenced removed measures.
func Deduplicate(res *semantic.Result, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	out := &Result{Renames: make(map[string]map[string]string)}

	for _, model := range res.Models {
		canonical := make(map[Signature]string)
		renames := make(map[string]string)
		kept := model.Measures[:0]

		// Measures arrive name-sorted, so the first holder of a
		// signature is the lexically smallest and survives.
		for _, ms := range model.Measures {
			sig := MeasureSignature(ms)
			if keep, seen := canonical[sig]; seen {
				renames[ms.Name] = keep
				out.Removed++
				continue
			}
			canonical[sig] = ms.Name
			kept = append(kept, ms)
		}
		model.Measures = kept

		if len(renames) > 0 {
			out.Renames[model.Name] = renames
			logger.Debug("collapsed duplicate measures", "model", model.Name, "removed", len(renames))
		}
	}

	for i := range res.Bindings {
		b := &res.Bindings[i]
		if renames, ok := out.Renames[b.Model]; ok {
			if canon, renamed := renames[b.Measure]; renamed {
				b.Measure = canon
			}
		}
	}
	return out
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
