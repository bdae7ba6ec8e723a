// Package core defines the document model shared by every compilation phase:
// parsed documents, metrics, semantic models, dimensions, entities, the
// diagnostic taxonomy, and the error types raised during resolution and
// validation.
//
// Nodes in this package are produced once, by the loader or an expansion
// phase, and treated as immutable afterwards. Later phases build new nodes
// and rewire references instead of mutating shared state.
package core
