package policy

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhoneNumber reduces a dialable number to E.164 form ("+" followed by
// 8 to 15 digits). Spaces, dashes, dots and parentheses are dropped; a leading
// "00" international prefix is rewritten to "+".
func NormalizePhoneNumber(raw string) (string, error) {
	in := strings.TrimSpace(raw)
	if in == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}
	if strings.HasPrefix(in, "00") {
		in = "+" + in[2:]
	}

	var b strings.Builder
	b.Grow(len(in))
	for i, r := range in {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidPhoneNumber, r)
		}
	}
	out := b.String()
	if !strings.HasPrefix(out, "+") {
		return "", fmt.Errorf("%w: missing country code", ErrInvalidPhoneNumber)
	}
	digits := len(out) - 1
	if digits < 8 || digits > 15 {
		return "", fmt.Errorf("%w: %d digits", ErrInvalidPhoneNumber, digits)
	}
	if out[1] == '0' {
		return "", fmt.Errorf("%w: country code cannot start with 0", ErrInvalidPhoneNumber)
	}
	return out, nil
}
