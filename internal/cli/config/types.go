// Package config provides configuration management for the leapmetrics
// CLI. Values layer in the usual precedence: flags > environment
// variables > config file > defaults.
package config

// InferenceConfig mirrors the semantic inference settings as they appear
// in the config file.
type InferenceConfig struct {
	Enabled             *bool    `koanf:"enabled"`
	PrimaryPatterns     []string `koanf:"primary_patterns"`
	ForeignPatterns     []string `koanf:"foreign_patterns"`
	CategoricalPatterns []string `koanf:"categorical_patterns"`
	ExcludePatterns     []string `koanf:"exclude_patterns"`
	TimeSuffixes        []string `koanf:"time_suffixes"`
	DefaultGrain        string   `koanf:"default_grain"`
}

// Config holds all CLI configuration options.
type Config struct {
	MetricsDir    string           `koanf:"metrics_dir"`
	OutputDir     string           `koanf:"output_dir"`
	SearchPaths   []string         `koanf:"search_paths"`
	Split         bool             `koanf:"split"`
	TemplateDepth int              `koanf:"template_depth"`
	Verbose       bool             `koanf:"verbose"`
	OutputFormat  string           `koanf:"output"`
	FailOnWarning bool             `koanf:"fail_on_warning"`
	DisabledRules []string         `koanf:"disabled_rules"`
	Concurrency   int              `koanf:"concurrency"`
	Inference     *InferenceConfig `koanf:"inference"`

	// ProjectRoot anchors relative paths; it is inferred, never read
	// from the file itself.
	ProjectRoot string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultMetricsDir = "metrics"
	DefaultOutputDir  = "compiled"
	DefaultOutput     = "text"
	DefaultDepth      = 3
)

// Default returns a Config populated with the stock defaults.
func Default() Config {
	return Config{
		MetricsDir:    DefaultMetricsDir,
		OutputDir:     DefaultOutputDir,
		OutputFormat:  DefaultOutput,
		TemplateDepth: DefaultDepth,
	}
}
