package secrets

import (
	"fmt"
	"regexp"
)

// ProjectAllowlistFile is the per-project allowlist file name, looked
// up in the workspace root.
const ProjectAllowlistFile = ".taskforgeleaks.toml"

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// ProjectPath is the directory searched for .taskforgeleaks.toml
	// (empty to skip the project allowlist).
	ProjectPath string `koanf:"project_path"`

	// UserAllowlistPath is the full path to a user allowlist TOML file
	// (empty to skip).
	UserAllowlistPath string `koanf:"user_allowlist_path"`

	// AllowRegexes contains extra content patterns to skip during
	// scrubbing, on top of the TOML allowlists.
	AllowRegexes []string `koanf:"allow_regexes"`
}

// DefaultConfig returns a configuration with scrubbing enabled and no
// allowlists.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AllowRegexes: []string{},
	}
}

// Validate checks that configured patterns compile.
func (c *Config) Validate() error {
	for i, pattern := range c.AllowRegexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("allow_regexes %d: invalid pattern: %w", i, err)
		}
	}
	return nil
}
