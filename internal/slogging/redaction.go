package slogging

import (
	"regexp"
	"strings"
)

// Patterns for values that must never reach log output verbatim.
var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`)
	jwtPattern         = regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]*`)
	tokenFieldPattern  = regexp.MustCompile(`(?i)("(?:token|access_token|refresh_token|api_key|secret)"\s*:\s*")[^"]*(")`)
)

// SanitizeLogMessage normalizes a message for safe logging, preventing log
// injection attacks (CWE-117).
func SanitizeLogMessage(message string) string {
	// Replace newlines with space
	message = strings.ReplaceAll(message, "\n", " ")
	message = strings.ReplaceAll(message, "\r", " ")

	// Replace tabs with space
	message = strings.ReplaceAll(message, "\t", " ")

	// Collapse multiple spaces into one and trim whitespace
	message = strings.TrimSpace(strings.Join(strings.Fields(message), " "))

	return message
}

// RedactTokens masks bearer tokens, JWTs and token-shaped JSON fields in a
// string destined for log output.
func RedactTokens(input string) string {
	input = bearerTokenPattern.ReplaceAllString(input, "${1}[REDACTED]")
	input = jwtPattern.ReplaceAllString(input, "[REDACTED-JWT]")
	input = tokenFieldPattern.ReplaceAllString(input, "${1}[REDACTED]${2}")
	return input
}

// PartialRedact shows the first and last few characters of a value with the
// middle masked, for identifiers that are useful to correlate but sensitive
// to expose in full.
func PartialRedact(value string) string {
	if len(value) <= 8 {
		return "[REDACTED]"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
