package dialog

import (
	"fmt"
	"strconv"
	"strings"
)

// Ready-made validation rules for the most common question shapes. Each rule
// carries DefaultMaxRetries; callers can override MaxRetries on the returned
// value before handing it to the builder.

// NotEmpty rejects blank input.
func NotEmpty() ValidationRule {
	return ValidationRule{
		Name:         "not_empty",
		Predicate:    func(v string) bool { return strings.TrimSpace(v) != "" },
		ErrorMessage: "This field cannot be empty.",
		MaxRetries:   DefaultMaxRetries,
	}
}

// MinLength requires at least n characters.
func MinLength(n int) ValidationRule {
	return ValidationRule{
		Name:         fmt.Sprintf("min_length_%d", n),
		Predicate:    func(v string) bool { return len([]rune(v)) >= n },
		ErrorMessage: fmt.Sprintf("Minimum length is %d characters.", n),
		MaxRetries:   DefaultMaxRetries,
	}
}

// MaxLength allows at most n characters.
func MaxLength(n int) ValidationRule {
	return ValidationRule{
		Name:         fmt.Sprintf("max_length_%d", n),
		Predicate:    func(v string) bool { return len([]rune(v)) <= n },
		ErrorMessage: fmt.Sprintf("Maximum length is %d characters.", n),
		MaxRetries:   DefaultMaxRetries,
	}
}

// IsNumber requires the input to parse as an integer.
func IsNumber() ValidationRule {
	return ValidationRule{
		Name: "is_number",
		Predicate: func(v string) bool {
			_, err := strconv.Atoi(strings.TrimSpace(v))
			return err == nil
		},
		ErrorMessage: "Please enter a number.",
		MaxRetries:   DefaultMaxRetries,
	}
}

// AgeRange requires an integer between min and max inclusive.
func AgeRange(min, max int) ValidationRule {
	return ValidationRule{
		Name: fmt.Sprintf("age_range_%d_%d", min, max),
		Predicate: func(v string) bool {
			age, err := strconv.Atoi(strings.TrimSpace(v))
			return err == nil && age >= min && age <= max
		},
		ErrorMessage: fmt.Sprintf("Age must be between %d and %d.", min, max),
		MaxRetries:   DefaultMaxRetries,
	}
}

// ContainsWords requires the input to contain at least one of the words,
// case-insensitively.
func ContainsWords(words ...string) ValidationRule {
	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w)
	}
	return ValidationRule{
		Name: "contains_words",
		Predicate: func(v string) bool {
			lv := strings.ToLower(v)
			for _, w := range lowered {
				if strings.Contains(lv, w) {
					return true
				}
			}
			return false
		},
		ErrorMessage: fmt.Sprintf("The answer must contain one of: %s.", strings.Join(words, ", ")),
		MaxRetries:   DefaultMaxRetries,
	}
}
