package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	validShells    = []string{"native", "virtual"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json"}
	validOutputs   = []string{"auto", "text", "markdown", "json", "yaml"}
)

const minSessionSecret = 16

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative, got %d", c.BufferSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if err := oneOf("shell", c.Shell, validShells); err != nil {
		return err
	}
	if err := oneOf("log_level", strings.ToLower(c.LogLevel), validLogLevels); err != nil {
		return err
	}
	if err := oneOf("log_format", c.LogFormat, validFormats); err != nil {
		return err
	}
	if err := oneOf("output", c.OutputFormat, validOutputs); err != nil {
		return err
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < minSessionSecret {
		return fmt.Errorf("session_secret must be at least %d bytes", minSessionSecret)
	}
	for name := range c.Defines {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("defines: empty macro name")
		}
	}
	return nil
}

func oneOf(key, value string, valid []string) error {
	if slices.Contains(valid, value) {
		return nil
	}
	return fmt.Errorf("invalid %s %q\nHint: use one of %s", key, value, strings.Join(valid, ", "))
}
