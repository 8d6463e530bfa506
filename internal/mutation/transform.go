package mutation

import (
	"strings"
	"unicode"
)

// NormalizeOTP strips whitespace and dashes from a one-time code ("123 456" -> "123456").
func NormalizeOTP(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, code)
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Coalesce returns the first non-blank value. Used to fold UI field aliases into one wire field.
func Coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Identity is a Transform that sends the input as-is.
func Identity[In any](in In) (any, error) {
	return in, nil
}

// NoBody is a Transform for operations without a request body.
func NoBody[In any](In) (any, error) {
	return nil, nil
}
