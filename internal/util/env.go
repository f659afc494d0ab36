package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable, falling back to def
// when the variable is unset or unparseable. Accepted spellings are
// true/1/yes/on and false/0/no/off, case-insensitive.
func ParseBoolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", def)
	return def
}
