package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("metrics-dir", "", "")
	flags.String("output-dir", "", "")
	flags.String("output", "text", "")
	flags.Int("template-depth", DefaultDepth, "")
	flags.Bool("split", false, "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultMetricsDir), cfg.MetricsDir)
	assert.Equal(t, filepath.Join(dir, DefaultOutputDir), cfg.OutputDir)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultDepth, cfg.TemplateDepth)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	content := "metrics_dir: defs\noutput: json\ntemplate_depth: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmetrics.yml"), []byte(content), 0o644))
	chdir(t, dir)

	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "defs"), cfg.MetricsDir)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, 5, cfg.TemplateDepth)
	assert.Equal(t, filepath.Join(dir, "leapmetrics.yml"), GetConfigFileUsed())
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmetrics.yml"), []byte("output: json\n"), 0o644))
	chdir(t, dir)
	t.Setenv("LEAPMETRICS_OUTPUT", "junit")

	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)
	assert.Equal(t, "junit", cfg.OutputFormat)
}

func TestLoadConfig_FlagsOverrideEverything(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmetrics.yml"), []byte("output: json\n"), 0o644))
	chdir(t, dir)
	t.Setenv("LEAPMETRICS_OUTPUT", "junit")

	flags := newFlags()
	require.NoError(t, flags.Set("output", "text"))
	require.NoError(t, flags.Set("template-depth", "7"))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, 7, cfg.TemplateDepth)
}

func TestLoadConfig_UnchangedFlagDoesNotOverride(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leapmetrics.yml"), []byte("output: json\n"), 0o644))
	chdir(t, dir)

	// The output flag carries a default but was never set by the user.
	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)
}

func TestLoadConfig_ExplicitConfigFile(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("metrics_dir: m\n"), 0o644))

	cfg, err := LoadConfig(path, newFlags())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "m"), cfg.MetricsDir)
	assert.Equal(t, dir, cfg.ProjectRoot)
}

func TestLoadConfig_UpwardSearch(t *testing.T) {
	t.Cleanup(ResetConfig)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "leapmetrics.yml"), []byte("output: json\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, root, cfg.ProjectRoot)
}

func TestLoadConfig_MetricsDirFlagIsAbsolute(t *testing.T) {
	t.Cleanup(ResetConfig)
	dir := t.TempDir()
	chdir(t, dir)

	flags := newFlags()
	require.NoError(t, flags.Set("metrics-dir", "definitions"))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.MetricsDir))
	assert.Equal(t, filepath.Join(dir, "definitions"), cfg.MetricsDir)
}

func TestCurrent(t *testing.T) {
	t.Cleanup(ResetConfig)
	ResetConfig()
	assert.Nil(t, Current())

	dir := t.TempDir()
	chdir(t, dir)
	cfg, err := LoadConfig("", newFlags())
	require.NoError(t, err)
	assert.Same(t, cfg, Current())
}

func TestConfigValidate(t *testing.T) {
	cfg := Default()
	cfg.MetricsDir = "metrics"
	require.NoError(t, cfg.Validate())

	cfg.OutputFormat = "csv"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MetricsDir = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.TemplateDepth = -1
	require.Error(t, cfg.Validate())
}
