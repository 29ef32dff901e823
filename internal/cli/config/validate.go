package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !output.Mode(c.Output).Valid() {
		return fmt.Errorf("unknown output mode %q (expected one of %s)", c.Output, joinModes(output.Modes()))
	}
	if c.Event.EventType != "" && !openlineage.EventType(strings.ToUpper(c.Event.EventType)).Valid() {
		return fmt.Errorf("unknown event type %q", c.Event.EventType)
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("unknown log level %q (expected one of %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		return fmt.Errorf("unknown log format %q (expected one of %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	for table, cols := range c.Schema {
		for i, col := range cols {
			if col.Name == "" {
				return fmt.Errorf("schema.%s[%d]: column name is required", table, i)
			}
		}
	}
	return nil
}

func joinModes(modes []output.Mode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
