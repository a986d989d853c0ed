package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	secretPattern = regexp.MustCompile(`\b(?:sk|pk|ghp|xox[abp])[-_][A-Za-z0-9_\-]{16,}\b`)
)

type rule struct {
	re   *regexp.Regexp
	mask string
}

// Cards run before phones so long digit runs are not classified as phones.
var rules = []rule{
	{secretPattern, "[REDACTED_SECRET]"},
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers, phone numbers and API tokens.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogSafe is the form of user text allowed in log lines: redacted, single
// line, and cut to max runes.
func LogSafe(input string, max int) string {
	out, _ := RedactPII(input)
	out = strings.Join(strings.Fields(out), " ")
	if max > 0 && utf8.RuneCountInString(out) > max {
		runes := []rune(out)
		out = string(runes[:max]) + "..."
	}
	return out
}
