// Package logger builds the daemon slog logger.
//
//   - logger.go: handler construction and the process-wide level
//   - context.go: context-carried logger and request id
//   - redact.go: masking of sensitive attributes
//
// Sensitive attributes are masked by the handler itself, so no call
// site can leak the cluster secret or a password by naming it.
package logger
