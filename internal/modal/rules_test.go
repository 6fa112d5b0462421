package modal

import "testing"

func TestRules(t *testing.T) {
	tests := []struct {
		name  string
		rule  Rule
		value string
		ok    bool
	}{
		{"required empty", Required(), "", false},
		{"required spaces", Required(), "   ", false},
		{"required set", Required(), "x", true},
		{"min below", MinLength(5), "abcd", false},
		{"min exact", MinLength(5), "abcde", true},
		{"min trims", MinLength(5), "  abcd  ", false},
		{"min counts runes", MinLength(5), "héllo", true},
		{"max exact", MaxLength(3), "abc", true},
		{"max above", MaxLength(3), "abcd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.rule.Check(tt.value)
			if (msg == "") != tt.ok {
				t.Errorf("Check(%q) = %q, want ok=%v", tt.value, msg, tt.ok)
			}
		})
	}
}

func TestMinLengthMessage(t *testing.T) {
	if got := MinLength(5).Check("abc"); got != "Must be at least 5 characters." {
		t.Errorf("message = %q", got)
	}
}
