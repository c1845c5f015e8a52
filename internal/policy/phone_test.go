package policy

import (
	"errors"
	"testing"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+212673375314", "+212673375314"},
		{"+212 673-37.53 14", "+212673375314"},
		{"00212673375314", "+212673375314"},
		{"+1 (555) 123-9876", "+15551239876"},
	}
	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.in)
		if err != nil {
			t.Fatalf("NormalizePhoneNumber(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizePhoneNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneNumberRejects(t *testing.T) {
	for _, in := range []string{"", "0673375314", "+12", "+212abc75314", "+0212673375314", "+1234567890123456"} {
		if _, err := NormalizePhoneNumber(in); !errors.Is(err, ErrInvalidPhoneNumber) {
			t.Fatalf("NormalizePhoneNumber(%q) error = %v, want ErrInvalidPhoneNumber", in, err)
		}
	}
}
