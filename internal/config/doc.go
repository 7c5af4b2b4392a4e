// Package config loads the service configuration from defaults, an optional
// YAML file and AGENTRUN_ environment variables, and validates it before any
// component is built.
package config
