// Package commands contains the CLI subcommands for leapmetrics.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/compiler"
	"github.com/leapstack-labs/leapmetrics/internal/report"
	"github.com/leapstack-labs/leapmetrics/internal/semantic"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *report.Renderer
}

// NewCommandContext builds a CommandContext from the loaded config and the
// logger stored on the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	format, ok := report.ParseFormat(cfg.OutputFormat)
	if !ok {
		format = report.FormatText
	}
	r := report.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), format)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, falling back to defaults when
// a command runs outside the normal root PersistentPreRunE flow (tests).
func getConfig() *config.Config {
	if cfg := config.Current(); cfg != nil {
		return cfg
	}
	cfg := config.Default()
	return &cfg
}

// compilerOptions translates CLI config into compiler options.
func compilerOptions(cfg *config.Config) compiler.Options {
	opts := compiler.Options{
		Root:             cfg.MetricsDir,
		OutDir:           cfg.OutputDir,
		Split:            cfg.Split,
		SearchPaths:      cfg.SearchPaths,
		MaxTemplateDepth: cfg.TemplateDepth,
		DisabledRules:    cfg.DisabledRules,
		Concurrency:      cfg.Concurrency,
	}
	inf := semantic.DefaultInference()
	if ic := cfg.Inference; ic != nil {
		if ic.Enabled != nil {
			inf.Enabled = *ic.Enabled
		}
		if len(ic.PrimaryPatterns) > 0 {
			inf.PrimaryPatterns = ic.PrimaryPatterns
		}
		if len(ic.ForeignPatterns) > 0 {
			inf.ForeignPatterns = ic.ForeignPatterns
		}
		if len(ic.CategoricalPatterns) > 0 {
			inf.CategoricalPatterns = ic.CategoricalPatterns
		}
		if len(ic.ExcludePatterns) > 0 {
			inf.ExcludePatterns = ic.ExcludePatterns
		}
		if len(ic.TimeSuffixes) > 0 {
			inf.TimeSuffixes = ic.TimeSuffixes
		}
		if ic.DefaultGrain != "" {
			inf.DefaultGrain = ic.DefaultGrain
		}
	}
	opts.Inference = inf
	return opts
}
