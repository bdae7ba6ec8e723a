// Package loader discovers and parses metric definition files.
// A load walks the project tree, parses every YAML definition file in
// parallel, and returns a DocumentSet that later phases resolve against.
// Files that fail to parse are reported and skipped so one bad file never
// blocks the rest of the project.
package loader

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Options configures a load.
type Options struct {
	// Root is the directory to scan for definition files.
	Root string
	// SearchPaths are extra directories imports may resolve against,
	// relative to Root.
	SearchPaths []string
	// Concurrency bounds the number of files parsed at once. Zero means
	// one goroutine per CPU as errgroup's default.
	Concurrency int
}

// Result holds the outcome of a load.
type Result struct {
	Set      *DocumentSet
	Files    int
	Skipped  int
	Duration time.Duration
}

// Loader reads definition files into documents.
type Loader struct {
	opts   Options
	logger *slog.Logger
	diags  *core.Collector
}

// New creates a loader. A nil logger discards log output.
func New(opts Options, logger *slog.Logger, diags *core.Collector) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{opts: opts, logger: logger, diags: diags}
}

// reservedFiles are project configuration files that live alongside
// definitions but are not definitions themselves.
var reservedFiles = map[string]bool{
	"metrics_config.yml":  true,
	"metrics_config.yaml": true,
	"leapmetrics.yml":     true,
	"leapmetrics.yaml":    true,
}

// Load walks the root, parses every definition file, and returns the
// populated document set. Parse failures become syntax diagnostics.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	start := time.Now()

	paths, err := l.discover()
	if err != nil {
		return nil, err
	}
	l.logger.Info("loading definitions", "root", l.opts.Root, "files", len(paths))

	set := NewDocumentSet()

	g, ctx := errgroup.WithContext(ctx)
	if l.opts.Concurrency > 0 {
		g.SetLimit(l.opts.Concurrency)
	}

	skipped := 0
	docs := make(chan *core.Document, len(paths))
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := ParseFile(path)
			if err != nil {
				l.reportParseError(path, err)
				return nil
			}
			docs <- doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(docs)

	// Single writer into the set keeps registration deterministic enough
	// and the index maps uncontended.
	for doc := range docs {
		set.Add(doc)
	}
	skipped = len(paths) - set.Len()

	return &Result{
		Set:      set,
		Files:    len(paths),
		Skipped:  skipped,
		Duration: time.Since(start),
	}, nil
}

// discover returns every definition file under the root, sorted. Files and
// directories whose name starts with an underscore are skipped unless a
// search path names them explicitly; hidden directories are skipped too.
func (l *Loader) discover() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != l.opts.Root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				if l.isSearchPath(path) {
					return nil
				}
				return filepath.SkipDir
			}
			return nil
		}
		if !isDefinitionFile(name) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (l *Loader) isSearchPath(dir string) bool {
	rel, err := filepath.Rel(l.opts.Root, dir)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, sp := range l.opts.SearchPaths {
		sp = strings.TrimSuffix(filepath.ToSlash(sp), "/")
		if rel == sp || strings.HasPrefix(sp, rel+"/") {
			return true
		}
	}
	return false
}

func isDefinitionFile(name string) bool {
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	if reservedFiles[name] {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

func (l *Loader) reportParseError(path string, err error) {
	l.logger.Warn("skipping unparseable file", "path", path, "error", err)
	if l.diags == nil {
		return
	}
	if se, ok := err.(*core.SyntaxError); ok {
		l.diags.Add(core.Diagnostic{
			Severity: core.SeverityError,
			Category: core.CategorySyntax,
			Message:  se.Error(),
			File:     path,
			Line:     se.Position().Line,
		})
		return
	}
	l.diags.Error(core.CategorySyntax, path, 0, err.Error())
}
