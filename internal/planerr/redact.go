package planerr

import "regexp"

// sensitivePatterns catches the shapes of secrets that might accidentally
// land in a Context field (a device name echoed from an env var, a cache
// directory path, …). The CORE itself never handles credentials, but
// Context values are caller-supplied and get logged verbatim otherwise.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]?\s*)["']?[a-zA-Z0-9_\-]{8,}["']?`),
	regexp.MustCompile(`(?i)(bearer\s+)["']?[a-zA-Z0-9_\-.]{10,}["']?`),
	regexp.MustCompile(`(?i)(token\s*[:=]?\s*)["']?[a-zA-Z0-9_\-]{8,}["']?`),
	regexp.MustCompile(`(?i)(secret\s*[:=]?\s*)["']?[a-zA-Z0-9_\-]{4,}["']?`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*)["']?[^\s"']+["']?`),
}

// Redact replaces recognizable secret shapes in s with "[REDACTED]".
func Redact(s string) string {
	if s == "" {
		return s
	}
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}
