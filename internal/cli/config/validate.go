package config

import (
	"fmt"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MetricsDir == "" {
		return fmt.Errorf("metrics_dir is required")
	}
	switch c.OutputFormat {
	case "", "text", "json", "junit":
	default:
		return fmt.Errorf("unknown output format %q (expected text, json or junit)", c.OutputFormat)
	}
	if c.TemplateDepth < 0 {
		return fmt.Errorf("template_depth must not be negative")
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.MetricsDir); os.IsNotExist(err) {
		return fmt.Errorf("metrics directory does not exist: %s\nHint: Create the directory or use --metrics-dir to specify a different path", c.MetricsDir)
	}
	return nil
}
