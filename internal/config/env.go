// Package config parses process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable the binaries read.
const Prefix = "LAB_FIXTURES_"

// ParseEnv loads configuration from environment variables named
// Prefix + the field's env tag.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
