// Package resolver links documents together. It resolves import
// declarations to files, detects circular imports, builds per-document
// namespaces, replaces $ref and $use pointers with the definitions they
// name, and normalizes source table references.
package resolver

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/loader"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Options configures resolution.
type Options struct {
	// Root is the project root imports may resolve against.
	Root string
	// SearchPaths are extra directories to try, relative to Root. The
	// conventional template locations are always tried last.
	SearchPaths []string
}

// conventionalDirs are tried after explicit search paths when locating an
// import target.
var conventionalDirs = []string{"templates", "_base", "shared"}

// Resolver resolves imports and pointers across a document set.
type Resolver struct {
	set    *loader.DocumentSet
	opts   Options
	logger *slog.Logger
	diags  *core.Collector

	// namespaces maps document path -> import alias -> imported document.
	namespaces map[string]map[string]*core.Document
	// visiting marks documents currently on the import DFS stack.
	visiting map[string]bool
	// resolved marks documents whose import subtree is fully processed.
	resolved map[string]bool
	stack    []string
}

// New creates a resolver over a loaded document set.
func New(set *loader.DocumentSet, opts Options, logger *slog.Logger, diags *core.Collector) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		set:        set,
		opts:       opts,
		logger:     logger,
		diags:      diags,
		namespaces: make(map[string]map[string]*core.Document),
		visiting:   make(map[string]bool),
		resolved:   make(map[string]bool),
	}
}

// Resolve runs every resolution phase. Failures become diagnostics; the
// error return is reserved for I/O problems outside the project files.
func (r *Resolver) Resolve() error {
	for _, doc := range r.set.Documents() {
		if err := r.resolveImports(doc); err != nil {
			return err
		}
	}
	for _, doc := range r.set.Documents() {
		r.resolvePointers(doc)
		r.normalizeSources(doc)
	}
	return nil
}

// resolveImports processes a document's imports depth first, loading files
// that the initial walk did not pick up and recording alias namespaces.
// A document already on the stack means a circular import.
func (r *Resolver) resolveImports(doc *core.Document) error {
	if r.resolved[doc.Path] {
		return nil
	}
	if r.visiting[doc.Path] {
		// The caller reports the cycle; nothing left to do here.
		return nil
	}
	r.visiting[doc.Path] = true
	r.stack = append(r.stack, doc.Path)
	defer func() {
		delete(r.visiting, doc.Path)
		r.stack = r.stack[:len(r.stack)-1]
		r.resolved[doc.Path] = true
	}()

	ns := make(map[string]*core.Document)
	for _, imp := range doc.Imports {
		target, searched, err := r.locate(doc.Path, imp.Path)
		if err != nil {
			return err
		}
		if target == "" {
			impErr := core.NewImportNotFoundError(imp.Pos, imp.Path, searched)
			r.diags.Add(core.Diagnostic{
				Severity: core.SeverityError,
				Category: core.CategoryImport,
				Message:  impErr.Error(),
				File:     imp.Pos.File,
				Line:     imp.Pos.Line,
			})
			continue
		}

		imported := r.set.Get(target)
		if imported == nil {
			imported, err = loader.ParseFile(target)
			if err != nil {
				r.diags.Error(core.CategoryImport, imp.Pos.File, imp.Pos.Line, err.Error())
				continue
			}
			r.set.Add(imported)
		}

		if r.visiting[target] {
			cycErr := core.NewImportCycleError(imp.Pos, imp.Path, append([]string{}, r.stack...))
			r.diags.Add(core.Diagnostic{
				Severity: core.SeverityError,
				Category: core.CategoryImport,
				Message:  cycErr.Error(),
				File:     imp.Pos.File,
				Line:     imp.Pos.Line,
			})
			continue
		}

		if prev, dup := ns[imp.Alias]; dup && prev != imported {
			r.diags.Error(core.CategoryImport, imp.Pos.File, imp.Pos.Line,
				"import alias "+strings.TrimSpace(imp.Alias)+" already bound to "+prev.Path)
			continue
		}
		ns[imp.Alias] = imported

		if err := r.resolveImports(imported); err != nil {
			return err
		}
	}
	r.namespaces[doc.Path] = ns
	return nil
}

// locate finds the file an import path names. The path is tried relative to
// the importing file, then the project root, then each search path, then the
// conventional template directories. A path without an extension gets .yml
// then .yaml appended.
func (r *Resolver) locate(fromFile, impPath string) (found string, searched []string, err error) {
	bases := []string{filepath.Dir(fromFile), r.opts.Root}
	for _, sp := range r.opts.SearchPaths {
		bases = append(bases, filepath.Join(r.opts.Root, sp))
	}
	for _, cd := range conventionalDirs {
		bases = append(bases, filepath.Join(r.opts.Root, cd))
	}

	for _, base := range bases {
		for _, cand := range withSuffixes(filepath.Join(base, filepath.FromSlash(impPath))) {
			searched = append(searched, cand)
			info, statErr := os.Stat(cand)
			if statErr != nil {
				if os.IsNotExist(statErr) {
					continue
				}
				return "", searched, statErr
			}
			if info.IsDir() {
				continue
			}
			return filepath.Clean(cand), searched, nil
		}
	}
	return "", searched, nil
}

func withSuffixes(path string) []string {
	if ext := filepath.Ext(path); ext == ".yml" || ext == ".yaml" {
		return []string{path}
	}
	return []string{path + ".yml", path + ".yaml"}
}

// Namespace returns the alias bindings for a document path.
func (r *Resolver) Namespace(docPath string) map[string]*core.Document {
	return r.namespaces[docPath]
}
