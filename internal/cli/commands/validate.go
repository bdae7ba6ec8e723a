package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/compiler"
	"github.com/leapstack-labs/leapmetrics/internal/report"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate metric definitions without writing output",
		Long: `Run the full compilation pipeline and report diagnostics, but do
not write any output files. Useful in CI and pre-commit hooks.`,
		Example: `  # Validate the project
  leapmetrics validate

  # Validate with machine-readable output
  leapmetrics validate -o json

  # Fail the build on warnings too
  leapmetrics validate --fail-on-warning`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
				return err
			}

			opts := compilerOptions(cmdCtx.Cfg)
			opts.SkipEmit = true

			comp := compiler.New(opts, cmdCtx.Logger)
			res, err := comp.Run(cmd.Context())
			if err != nil {
				return err
			}
			if err := cmdCtx.Renderer.Render(res); err != nil {
				return err
			}
			if code := report.ExitCode(res, cmdCtx.Cfg.FailOnWarning); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}
