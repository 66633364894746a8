package config

import (
	"slices"
	"strings"

	"github.com/yndnr/hamesh-go/internal/telemetry/logger"
)

const masked = "****"

// Sanitize returns a copy of the config with sensitive fields masked,
// for logging and --check-config output.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Cluster.Nodes = slices.Clone(cfg.Cluster.Nodes)
	sanitized.Heartbeats = slices.Clone(cfg.Heartbeats)
	sanitized.Security.Users = slices.Clone(cfg.Security.Users)

	sanitized.Cluster.Secret = maskSecret(cfg.Cluster.Secret)
	for i := range sanitized.Heartbeats {
		sanitized.Heartbeats[i].Password = maskSecret(sanitized.Heartbeats[i].Password)
	}
	for i := range sanitized.Security.Users {
		sanitized.Security.Users[i].PasswordHash = maskSecret(sanitized.Security.Users[i].PasswordHash)
	}
	return &sanitized
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, logger.SecretPrefix):
		return logger.MaskSecret(s)
	}
	return masked
}
