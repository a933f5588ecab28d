package policy

import (
	"regexp"
	"unicode/utf8"
)

var (
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern     = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern      = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyPattern    = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`)
	authTokenPattern = regexp.MustCompile(`auth_tokens/[0-9A-Za-z_\-]+`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone so long digit runs are not classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks provider API keys and ephemeral token names.
func RedactSecrets(input string) string {
	out := apiKeyPattern.ReplaceAllString(input, "[REDACTED_KEY]")
	return authTokenPattern.ReplaceAllString(out, "auth_tokens/[REDACTED]")
}

// ForLog prepares visitor text for a log line: secrets and PII are masked and
// the result is cut to at most maxRunes runes.
func ForLog(input string, maxRunes int) string {
	out, _ := RedactPII(RedactSecrets(input))
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "…"
}
