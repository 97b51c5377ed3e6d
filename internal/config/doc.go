// Package config loads the YAML service configuration, expands environment variables
// into it and validates every section.
package config
