package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/compiler"
	"github.com/leapstack-labs/leapmetrics/internal/report"
)

// ExitError carries a process exit code out of a command. Cobra treats it
// as a regular error; main unwraps the code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// debounceWindow batches rapid filesystem events (editors often write a
// file several times in quick succession) into one recompile.
const debounceWindow = 250 * time.Millisecond

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile metric definitions into semantic models",
		Long: `Compile all metric definition files under the metrics directory.

Imports are resolved, templates and auto-variants expanded, semantic
models built and deduplicated, and the result validated before the
canonical YAML output is written. Nothing is written when validation
reports errors.`,
		Example: `  # Compile the project in the current directory
  leapmetrics compile

  # Compile a specific directory, one output file per model
  leapmetrics compile --metrics-dir defs --split

  # Recompile on every change
  leapmetrics compile --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runWatch(cmd)
			}
			return runCompile(cmd)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Recompile whenever definition files change")

	return cmd
}

func runCompile(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		return err
	}

	res, err := compileOnce(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	if code := report.ExitCode(res, cmdCtx.Cfg.FailOnWarning); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// compileOnce runs a single compilation pass and renders the report.
func compileOnce(ctx context.Context, cmdCtx *CommandContext) (*compiler.Result, error) {
	comp := compiler.New(compilerOptions(cmdCtx.Cfg), cmdCtx.Logger)
	res, err := comp.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := cmdCtx.Renderer.Render(res); err != nil {
		return nil, err
	}
	return res, nil
}

func runWatch(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		return err
	}
	ctx := cmd.Context()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	root := cmdCtx.Cfg.MetricsDir
	if err := watchTree(watcher, root); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes (Ctrl+C to stop)\n", root)

	// Initial pass. Watch mode keeps running regardless of diagnostics, so
	// the exit code only reflects setup failures.
	if _, err := compileOnce(ctx, cmdCtx); err != nil {
		cmdCtx.Logger.Error("compile failed", "error", err)
	}

	var timer *time.Timer
	recompile := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			// New directories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, ev.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case recompile <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmdCtx.Logger.Warn("watch error", "error", err)
		case <-recompile:
			fmt.Fprintln(cmd.OutOrStdout())
			if _, err := compileOnce(ctx, cmdCtx); err != nil {
				cmdCtx.Logger.Error("compile failed", "error", err)
			}
		}
	}
}

// watchTree registers the directory and every subdirectory with the watcher,
// skipping hidden and underscore-prefixed directories like the loader does.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}

// relevantEvent reports whether a filesystem event should trigger a
// recompile.
func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) && ev.Op&^fsnotify.Chmod == 0 {
		return false
	}
	ext := filepath.Ext(ev.Name)
	if ext == ".yml" || ext == ".yaml" {
		return true
	}
	// Directory events carry no extension.
	return ext == ""
}
