package modal

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Rule checks one field value. Check returns a human-readable message when
// the value is unacceptable and "" when it passes.
type Rule interface {
	Check(value string) string
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(value string) string

// Check calls f.
func (f RuleFunc) Check(value string) string {
	return f(value)
}

// Required rejects empty and whitespace-only values.
func Required() Rule {
	return RuleFunc(func(value string) string {
		if strings.TrimSpace(value) == "" {
			return "This field is required."
		}
		return ""
	})
}

// MinLength rejects values shorter than n characters after trimming.
func MinLength(n int) Rule {
	return RuleFunc(func(value string) string {
		if utf8.RuneCountInString(strings.TrimSpace(value)) < n {
			return fmt.Sprintf("Must be at least %d characters.", n)
		}
		return ""
	})
}

// MaxLength rejects values longer than n characters after trimming.
func MaxLength(n int) Rule {
	return RuleFunc(func(value string) string {
		if utf8.RuneCountInString(strings.TrimSpace(value)) > n {
			return fmt.Sprintf("Must be at most %d characters.", n)
		}
		return ""
	})
}
