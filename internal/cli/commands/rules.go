package commands

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/validate"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules [rule-id]",
		Short: "List available validation rules",
		Long: `List all validation rules with their severity and description.
Rules can be disabled per project with the disabled_rules config key.`,
		Example: `  # List all rules
  leapmetrics rules

  # Show details for a specific rule
  leapmetrics rules VM02

  # Output as JSON
  leapmetrics rules -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return showRule(cmd, args[0])
			}
			return listRules(cmd)
		},
	}
}

func listRules(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	runner := validate.NewRunner(cmdCtx.Logger, nil)
	rules := runner.Rules()

	if cmdCtx.Cfg.OutputFormat == "json" {
		type ruleEntry struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		}
		entries := make([]ruleEntry, 0, len(rules))
		for _, r := range rules {
			entries = append(entries, ruleEntry{
				ID:          r.ID,
				Name:        r.Name,
				Severity:    r.Severity.String(),
				Description: r.Description,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Severity", "Description"})
	for _, r := range rules {
		t.AppendRow(table.Row{r.ID, r.Name, r.Severity.String(), r.Description})
	}
	t.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d rules\n", len(rules))
	return nil
}

func showRule(cmd *cobra.Command, id string) error {
	cmdCtx := NewCommandContext(cmd)
	runner := validate.NewRunner(cmdCtx.Logger, nil)

	for _, r := range runner.Rules() {
		if r.ID == id {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", r.ID, r.Name)
			fmt.Fprintf(out, "Severity: %s\n\n", r.Severity.String())
			fmt.Fprintln(out, r.Description)
			return nil
		}
	}
	return fmt.Errorf("unknown rule: %s", id)
}
