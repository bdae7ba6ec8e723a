// Package report renders compilation results for humans and machines.
// The text format prints a diagnostic table and a summary; json and junit
// target CI pipelines.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/leapmetrics/internal/compiler"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Format selects the output rendering.
type Format string

// Supported output formats.
const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatJUnit Format = "junit"
)

// ParseFormat validates a format name, falling back to text.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, true
	case FormatJSON:
		return FormatJSON, true
	case FormatJUnit:
		return FormatJUnit, true
	default:
		return FormatText, false
	}
}

// Renderer writes compilation results to an output stream.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	format Format
}

// NewRenderer creates a renderer.
func NewRenderer(out, errOut io.Writer, format Format) *Renderer {
	return &Renderer{out: out, errOut: errOut, format: format}
}

// Render writes the result in the renderer's format.
func (r *Renderer) Render(res *compiler.Result) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(res)
	case FormatJUnit:
		return r.renderJUnit(res)
	default:
		return r.renderText(res)
	}
}

// ExitCode maps a result onto the process exit code: 0 clean, 1 errors,
// 2 warnings when failOnWarning is set.
func ExitCode(res *compiler.Result, failOnWarning bool) int {
	if res.Diags.HasErrors() {
		return 1
	}
	if failOnWarning && res.Diags.Count(core.SeverityWarning) > 0 {
		return 2
	}
	return 0
}

func (r *Renderer) renderText(res *compiler.Result) error {
	diags := res.Diags.All()
	if len(diags) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.AppendHeader(table.Row{"Severity", "Location", "Message"})
		for _, d := range diags {
			loc := d.File
			if d.Line > 0 {
				loc = fmt.Sprintf("%s:%d", d.File, d.Line)
			}
			msg := d.Message
			if d.Suggestion != "" {
				msg += "\n  hint: " + d.Suggestion
			}
			t.AppendRow(table.Row{severityCell(d.Severity), loc, msg})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.AppendHeader(table.Row{"Files", "Metrics", "Models", "Deduped", "Errors", "Warnings", "Duration"})
	t.AppendRow(table.Row{
		res.Stats.FilesLoaded,
		res.Stats.MetricsCompiled,
		len(res.Models),
		res.Stats.MeasuresRemoved,
		res.Diags.Count(core.SeverityError),
		res.Diags.Count(core.SeverityWarning),
		res.Duration.Round(1e6).String(),
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	if res.Diags.HasErrors() {
		fmt.Fprintf(r.errOut, "compilation failed, no output written (run %s)\n", res.RunID)
		return nil
	}
	for _, f := range res.Files {
		fmt.Fprintf(r.out, "wrote %s (%d bytes)\n", f.Name, len(f.Content))
	}
	return nil
}

func severityCell(s core.Severity) string {
	switch s {
	case core.SeverityError:
		return text.FgRed.Sprint("error")
	case core.SeverityWarning:
		return text.FgYellow.Sprint("warning")
	default:
		return s.String()
	}
}

type jsonReport struct {
	RunID       string            `json:"run_id"`
	Stats       compiler.Stats    `json:"stats"`
	Models      int               `json:"models"`
	Diagnostics []core.Diagnostic `json:"diagnostics"`
	Files       []string          `json:"files,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
}

func (r *Renderer) renderJSON(res *compiler.Result) error {
	rep := jsonReport{
		RunID:       res.RunID,
		Stats:       res.Stats,
		Models:      len(res.Models),
		Diagnostics: res.Diags.All(),
		DurationMS:  res.Duration.Milliseconds(),
	}
	for _, f := range res.Files {
		rep.Files = append(rep.Files, f.Name)
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// JUnit shapes, enough for CI ingestion.
type junitTestSuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func (r *Renderer) renderJUnit(res *compiler.Result) error {
	suite := junitTestSuite{
		Name: "leapmetrics",
		Time: res.Duration.Seconds(),
	}
	for _, d := range res.Diags.All() {
		if d.Severity != core.SeverityError {
			continue
		}
		name := d.Metric
		if name == "" {
			name = d.File
		}
		suite.Cases = append(suite.Cases, junitTestCase{
			Name:      name,
			ClassName: string(d.Category),
			Failure: &junitFailure{
				Message: d.Message,
				Type:    d.Severity.String(),
				Body:    fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message),
			},
		})
	}
	if len(suite.Cases) == 0 {
		suite.Cases = append(suite.Cases, junitTestCase{Name: "compile", ClassName: "leapmetrics"})
	}
	suite.Tests = len(suite.Cases)
	for _, c := range suite.Cases {
		if c.Failure != nil {
			suite.Failures++
		}
	}

	fmt.Fprint(r.out, xml.Header)
	enc := xml.NewEncoder(r.out)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return err
	}
	fmt.Fprintln(r.out)
	return nil
}
