package commands

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/report"
	"github.com/leapstack-labs/leapmetrics/internal/semantic"
)

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)

	cmd.Run(cmd, nil)
	assert.Contains(t, out.String(), "leapmetrics v1.2.3")
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 2}

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "exit code 2", err.Error())
}

func TestCompilerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.MetricsDir = "/proj/metrics"
	cfg.OutputDir = "/proj/out"
	cfg.Split = true
	cfg.TemplateDepth = 5
	cfg.DisabledRules = []string{"VM05"}

	opts := compilerOptions(&cfg)
	assert.Equal(t, "/proj/metrics", opts.Root)
	assert.Equal(t, "/proj/out", opts.OutDir)
	assert.True(t, opts.Split)
	assert.Equal(t, 5, opts.MaxTemplateDepth)
	assert.Equal(t, []string{"VM05"}, opts.DisabledRules)
	// Inference defaults apply when the config file is silent.
	assert.Equal(t, semantic.DefaultInference().DefaultGrain, opts.Inference.DefaultGrain)
}

func TestCompilerOptions_InferenceOverrides(t *testing.T) {
	off := false
	cfg := config.Default()
	cfg.Inference = &config.InferenceConfig{
		Enabled:             &off,
		CategoricalPatterns: []string{`_tier$`},
		ExcludePatterns:     []string{`^tmp_`},
		DefaultGrain:        "month",
	}

	opts := compilerOptions(&cfg)
	assert.False(t, opts.Inference.Enabled)
	assert.Equal(t, []string{`_tier$`}, opts.Inference.CategoricalPatterns)
	assert.Equal(t, []string{`^tmp_`}, opts.Inference.ExcludePatterns)
	assert.Equal(t, "month", opts.Inference.DefaultGrain)
}

func TestRelevantEvent(t *testing.T) {
	assert.True(t, relevantEvent(fsnotify.Event{Name: "metrics.yml", Op: fsnotify.Write}))
	assert.True(t, relevantEvent(fsnotify.Event{Name: "metrics.yaml", Op: fsnotify.Create}))
	assert.False(t, relevantEvent(fsnotify.Event{Name: "notes.txt", Op: fsnotify.Write}))
	// Editors touch permissions constantly; pure chmod never recompiles.
	assert.False(t, relevantEvent(fsnotify.Event{Name: "metrics.yml", Op: fsnotify.Chmod}))
	// Directory creation has no extension but must re-register watches.
	assert.True(t, relevantEvent(fsnotify.Event{Name: "newdir", Op: fsnotify.Create}))
}

func TestParseFormatFallback(t *testing.T) {
	f, ok := report.ParseFormat("weird")
	assert.False(t, ok)
	assert.Equal(t, report.FormatText, f)
}
