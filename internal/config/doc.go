// Package config loads navigator settings from an optional YAML or JSON file
// with NAVIGATOR_* environment overrides, then resolves derived values such as
// data directory relative paths.
package config
