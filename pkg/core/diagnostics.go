package core

import (
	"sort"
	"sync"
)

// Category groups diagnostics by the phase that produced them.
type Category string

// Diagnostic categories, one per compilation phase.
const (
	CategorySyntax   Category = "syntax"
	CategoryImport   Category = "import"
	CategoryRef      Category = "reference"
	CategoryTemplate Category = "template"
	CategoryVariant  Category = "variant"
	CategorySemantic Category = "semantic"
	CategoryDedup    Category = "dedup"
	CategoryGraph    Category = "graph"
	CategoryValidate Category = "validation"
	CategoryEmit     Category = "emit"
)

// Diagnostic is one finding produced during compilation. Findings accumulate
// across phases so a single run reports everything it can before aborting.
type Diagnostic struct {
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Metric     string   `json:"metric,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Collector accumulates diagnostics from concurrent phases. Appends are
// cheap; reads sort a copy so callers always see deterministic order.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// NewCollector creates an empty diagnostic collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
}

// Error records an error-severity diagnostic.
func (c *Collector) Error(cat Category, file string, line int, msg string) {
	c.Add(Diagnostic{Severity: SeverityError, Category: cat, File: file, Line: line, Message: msg})
}

// Warn records a warning-severity diagnostic.
func (c *Collector) Warn(cat Category, file string, line int, msg string) {
	c.Add(Diagnostic{Severity: SeverityWarning, Category: cat, File: file, Line: line, Message: msg})
}

// All returns every diagnostic sorted by file, line, severity, message.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Count returns the number of diagnostics at the given severity.
func (c *Collector) Count(sev Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.diags {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (c *Collector) HasErrors() bool {
	return c.Count(SeverityError) > 0
}

// Len returns the total number of diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diags)
}
