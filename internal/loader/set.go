package loader

import (
	"sort"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// DocumentSet holds every parsed document, keyed by path. Reads are safe
// for concurrent use; writes happen from a single goroutine during load.
type DocumentSet struct {
	mu     sync.RWMutex
	byPath map[string]*core.Document
}

// NewDocumentSet creates an empty document set.
func NewDocumentSet() *DocumentSet {
	return &DocumentSet{byPath: make(map[string]*core.Document)}
}

// Add registers a document. A later document for the same path replaces the
// earlier one.
func (s *DocumentSet) Add(doc *core.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath[doc.Path] = doc
}

// Get returns the document for a path, or nil.
func (s *DocumentSet) Get(path string) *core.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath[path]
}

// Len returns the number of documents.
func (s *DocumentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPath)
}

// Paths returns every document path in sorted order.
func (s *DocumentSet) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Documents returns every document ordered by path. Processing documents in
// this order keeps every downstream phase deterministic.
func (s *DocumentSet) Documents() []*core.Document {
	paths := s.Paths()
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*core.Document, 0, len(paths))
	for _, p := range paths {
		docs = append(docs, s.byPath[p])
	}
	return docs
}

// MetricTemplate finds a metric template by local name across all
// documents. When several documents define the same name, the one from the
// lexically smallest path wins; validation flags the collision separately.
func (s *DocumentSet) MetricTemplate(name string) (*core.Template, bool) {
	for _, doc := range s.Documents() {
		if t, ok := doc.MetricTemplates[name]; ok {
			return t, true
		}
	}
	return nil, false
}

// SemanticModelTemplate finds a semantic model template by local name.
func (s *DocumentSet) SemanticModelTemplate(name string) (*core.Template, bool) {
	for _, doc := range s.Documents() {
		if t, ok := doc.SemanticModelTemplates[name]; ok {
			return t, true
		}
	}
	return nil, false
}

// DimensionGroup finds a dimension group by local name.
func (s *DocumentSet) DimensionGroup(name string) (*core.DimensionGroup, bool) {
	for _, doc := range s.Documents() {
		if g, ok := doc.DimensionGroups[name]; ok {
			return g, true
		}
	}
	return nil, false
}

// TimeSpine finds a time spine by name.
func (s *DocumentSet) TimeSpine(name string) (*core.TimeSpine, bool) {
	for _, doc := range s.Documents() {
		if ts, ok := doc.TimeSpines[name]; ok {
			return ts, true
		}
	}
	return nil, false
}

// JoinPathAlias finds a join path alias by name.
func (s *DocumentSet) JoinPathAlias(name string) (*core.JoinPathAlias, bool) {
	for _, doc := range s.Documents() {
		if a, ok := doc.JoinPathAliases[name]; ok {
			return a, true
		}
	}
	return nil, false
}

// JoinPaths returns every declared join path, ordered by document path.
func (s *DocumentSet) JoinPaths() []*core.JoinPath {
	var out []*core.JoinPath
	for _, doc := range s.Documents() {
		out = append(out, doc.JoinPaths...)
	}
	return out
}

// Entities returns every project-level entity declaration.
func (s *DocumentSet) Entities() []*core.Entity {
	var out []*core.Entity
	for _, doc := range s.Documents() {
		out = append(out, doc.Entities...)
	}
	return out
}

// EntitySets returns every entity set declaration.
func (s *DocumentSet) EntitySets() []*core.EntitySet {
	var out []*core.EntitySet
	for _, doc := range s.Documents() {
		out = append(out, doc.EntitySets...)
	}
	return out
}

// Metrics returns every metric definition, ordered by document path then
// declaration order.
func (s *DocumentSet) Metrics() []*core.MetricDef {
	var out []*core.MetricDef
	for _, doc := range s.Documents() {
		out = append(out, doc.Metrics...)
	}
	return out
}

// SemanticModelDefs returns every explicit semantic model declaration.
func (s *DocumentSet) SemanticModelDefs() []*core.SemanticModelDef {
	var out []*core.SemanticModelDef
	for _, doc := range s.Documents() {
		out = append(out, doc.SemanticModels...)
	}
	return out
}
