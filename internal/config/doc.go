// Package config loads and validates notifier configuration from YAML
// files with ${VAR} environment expansion.
package config
