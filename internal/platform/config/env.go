// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix scopes every variable read by the runtime.
const EnvPrefix = "PROTOFLOW_"

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Lookup returns the trimmed value of a PROTOFLOW_ variable.
func Lookup(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}
