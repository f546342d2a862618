package logging

import (
	"regexp"

	"go.uber.org/zap"
)

// Log payloads must never leak credentials or user content. Patterns cover
// emails, bearer tokens, API-key-shaped strings and card-like digit runs.
var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]+`)
	apiKeyPattern = regexp.MustCompile(`(?i)(sk|pk|key|token)[-_][a-zA-Z0-9]{16,}`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
)

const maxLoggedContent = 32

// Sanitize redacts sensitive patterns from a string destined for logs.
func Sanitize(s string) string {
	s = emailPattern.ReplaceAllString(s, "[email]")
	s = bearerPattern.ReplaceAllString(s, "[bearer]")
	s = apiKeyPattern.ReplaceAllString(s, "[api-key]")
	s = cardPattern.ReplaceAllString(s, "[card]")
	return s
}

// TruncateContent bounds raw word/translation content before logging.
func TruncateContent(s string) string {
	s = Sanitize(s)
	if len(s) > maxLoggedContent {
		return s[:maxLoggedContent] + "..."
	}
	return s
}

// SafeError wraps an error as a zap field with its message sanitized.
func SafeError(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", Sanitize(err.Error()))
}
