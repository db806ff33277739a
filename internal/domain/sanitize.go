package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	horizontalWS   = regexp.MustCompile(`[^\S\n]+`)
)

// SanitizeContent normalizes message content: runs of three or more newlines
// collapse to two, runs of horizontal whitespace collapse to a single space,
// and surrounding whitespace is trimmed.
func SanitizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	s = horizontalWS.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ValidateContent rejects content that is empty after sanitization or longer
// than maxLen runes. It assumes s has already been sanitized.
func ValidateContent(s string, maxLen int) error {
	if s == "" {
		return NewGatewayError(CodeInvalidContent, "message content is empty", nil)
	}
	if utf8.RuneCountInString(s) > maxLen {
		return NewGatewayError(CodeInvalidContent, "message content exceeds maximum length", nil)
	}
	return nil
}
