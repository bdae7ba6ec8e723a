package commands

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmetrics/internal/compiler"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

var listTargets = []string{"metrics", "models", "templates", "dimension-groups"}

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [metrics|models|templates|dimension-groups]",
		Short: "List compiled metrics, models, templates, or dimension groups",
		Long: `Compile the project in memory and list what it defines. Without an
argument both metrics and semantic models are shown. Nothing is written
to disk.`,
		Example: `  # List metrics and models
  leapmetrics list

  # List templates as JSON
  leapmetrics list templates -o json`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: listTargets,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runList(cmd, target)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command, target string) error {
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

	if cmdCtx.Cfg.OutputFormat == "json" {
		return listJSON(cmd, res, target)
	}
	return listText(cmd, res, target)
}

func listText(cmd *cobra.Command, res *compiler.Result, target string) error {
	out := cmd.OutOrStdout()

	if target == "" || target == "metrics" {
		mt := table.NewWriter()
		mt.SetOutputMirror(out)
		mt.SetStyle(table.StyleLight)
		mt.AppendHeader(table.Row{"Metric", "Type", "Source", "Description"})
		for _, m := range res.Metrics {
			mt.AppendRow(table.Row{m.Name, string(m.Kind), m.Source, truncate(m.Description, 50)})
		}
		fmt.Fprintf(out, "Metrics (%d):\n", len(res.Metrics))
		mt.Render()
	}

	if target == "" || target == "models" {
		st := table.NewWriter()
		st.SetOutputMirror(out)
		st.SetStyle(table.StyleLight)
		st.AppendHeader(table.Row{"Model", "Entities", "Dimensions", "Measures"})
		for _, sm := range res.Models {
			st.AppendRow(table.Row{sm.Name, len(sm.Entities), len(sm.Dimensions), len(sm.Measures)})
		}
		fmt.Fprintf(out, "\nSemantic models (%d):\n", len(res.Models))
		st.Render()
	}

	if target == "templates" {
		tt := table.NewWriter()
		tt.SetOutputMirror(out)
		tt.SetStyle(table.StyleLight)
		tt.AppendHeader(table.Row{"Template", "Parameters", "Description"})
		for _, tpl := range res.Templates {
			tt.AppendRow(table.Row{tpl.Name, len(tpl.Parameters), truncate(tpl.Description, 50)})
		}
		fmt.Fprintf(out, "Templates (%d):\n", len(res.Templates))
		tt.Render()
	}

	if target == "dimension-groups" {
		dt := table.NewWriter()
		dt.SetOutputMirror(out)
		dt.SetStyle(table.StyleLight)
		dt.AppendHeader(table.Row{"Group", "Dimensions"})
		for _, g := range res.DimensionGroups {
			dt.AppendRow(table.Row{g.Name, len(g.Dimensions)})
		}
		fmt.Fprintf(out, "Dimension groups (%d):\n", len(res.DimensionGroups))
		dt.Render()
	}

	if res.Diags.HasErrors() {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d errors reported; run 'leapmetrics validate' for details\n", res.Diags.Count(core.SeverityError))
	}
	return nil
}

type listEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

type listModelEntry struct {
	Name       string `json:"name"`
	Entities   int    `json:"entities"`
	Dimensions int    `json:"dimensions"`
	Measures   int    `json:"measures"`
}

type listTemplateEntry struct {
	Name        string `json:"name"`
	Parameters  int    `json:"parameters"`
	Description string `json:"description,omitempty"`
}

type listGroupEntry struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

func listJSON(cmd *cobra.Command, res *compiler.Result, target string) error {
	payload := make(map[string]any)

	if target == "" || target == "metrics" {
		metrics := make([]listEntry, 0, len(res.Metrics))
		for _, m := range res.Metrics {
			metrics = append(metrics, listEntry{
				Name:        m.Name,
				Type:        string(m.Kind),
				Source:      m.Source,
				Description: m.Description,
			})
		}
		payload["metrics"] = metrics
	}
	if target == "" || target == "models" {
		models := make([]listModelEntry, 0, len(res.Models))
		for _, sm := range res.Models {
			models = append(models, listModelEntry{
				Name:       sm.Name,
				Entities:   len(sm.Entities),
				Dimensions: len(sm.Dimensions),
				Measures:   len(sm.Measures),
			})
		}
		payload["semantic_models"] = models
	}
	if target == "templates" {
		templates := make([]listTemplateEntry, 0, len(res.Templates))
		for _, tpl := range res.Templates {
			templates = append(templates, listTemplateEntry{
				Name:        tpl.Name,
				Parameters:  len(tpl.Parameters),
				Description: tpl.Description,
			})
		}
		payload["templates"] = templates
	}
	if target == "dimension-groups" {
		groups := make([]listGroupEntry, 0, len(res.DimensionGroups))
		for _, g := range res.DimensionGroups {
			groups = append(groups, listGroupEntry{Name: g.Name, Dimensions: len(g.Dimensions)})
		}
		payload["dimension_groups"] = groups
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
