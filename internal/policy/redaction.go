package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	isoDate      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string

	// keep reports matches that look like PII but are not.
	keep func(match string) bool
}

// Cards run before phones so long digit runs are not reported as phones.
var redactionRules = []redactionRule{
	{pattern: emailPattern, marker: "[REDACTED_EMAIL]"},
	{pattern: cardPattern, marker: "[REDACTED_CARD]"},
	{pattern: phonePattern, marker: "[REDACTED_PHONE]", keep: notAPhone},
}

// RedactPII masks emails, card numbers and phone numbers in free text such
// as tool arguments or caller feedback. Stay dates are left readable.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		out = rule.pattern.ReplaceAllStringFunc(out, func(match string) string {
			if rule.keep != nil && rule.keep(match) {
				return match
			}
			changed = true
			return rule.marker
		})
	}
	return out, changed
}

func notAPhone(match string) bool {
	if isoDate.MatchString(strings.TrimSpace(match)) {
		return true
	}
	digits := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits < 8
}

// MaskPhone keeps the last four digits of a phone number for log correlation.
func MaskPhone(number string) string {
	digits := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) <= 4 {
		return "****"
	}
	return "****" + string(digits[len(digits)-4:])
}
