package logger

import (
	"log/slog"
	"strings"
)

// SecretPrefix starts cluster secrets.
const SecretPrefix = "hmsec_"

var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"key_value",
	"credential",
	"authorization",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if strings.HasPrefix(v, SecretPrefix) {
			return slog.String(a.Key, MaskSecret(v))
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// MaskSecret masks a cluster secret, keeping the prefix and the last
// three characters.
func MaskSecret(value string) string {
	body := strings.TrimPrefix(value, SecretPrefix)
	if len(body) <= 6 {
		return SecretPrefix + "***"
	}
	return SecretPrefix + "***" + body[len(body)-3:]
}

// IsSensitiveKey reports whether an attribute or parameter name
// suggests sensitive content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
