// Package utils provides environment, configuration file and logging helpers
// shared by the server and the command-line tools.
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvWithDefault retrieves an environment variable or returns a default value if not set.
//
// Parameters:
//   - name: The name of the environment variable
//   - defaultValue: The default value to return if the environment variable is not set
//
// Returns the value of the environment variable, or the default value if not set.
func GetEnvWithDefault(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	// Values copied from .env files sometimes keep their quotes
	return strings.Trim(value, "'\"")
}

// GetEnvInt reads an integer environment variable. Unset or malformed
// values yield defaultValue.
func GetEnvInt(name string, defaultValue int) int {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvDuration reads a duration environment variable such as "24h" or
// "90s". Unset or malformed values yield defaultValue.
func GetEnvDuration(name string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return d
}

// MaskToken masks a token for display by showing only the first and last few characters.
// It is used when logging configuration so credentials never reach the log in full.
func MaskToken(token string) string {
	if token == "" {
		return "[empty]"
	}
	if len(token) < 10 {
		return "***" // Too short to safely show anything
	}
	return token[:4] + "..." + token[len(token)-4:]
}
