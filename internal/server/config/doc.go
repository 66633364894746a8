// Package config provides the hamesh-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking of secrets for logs and --check-config
//   - heartbeat.go: heartbeat backend construction
//
// Configuration is loaded via internal/infra/confloader from a YAML
// file then HAMESH_ environment variables.
package config
