package facts

import (
	"regexp"
	"strings"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// piiRules are applied in order. Cards go before phones so a card number is
// not half-masked as a phone number.
var piiRules = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Normalize collapses runs of whitespace so fact text compares and displays
// consistently regardless of how the widget formatted it.
func Normalize(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// RedactPII masks emails, card numbers and phone numbers in fact text before
// it is persisted. The assistant occasionally echoes listener details back
// through record_fact; those never belong in the store.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range piiRules {
		next := rule.pattern.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
