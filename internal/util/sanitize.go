package util

import (
	"strings"
	"unicode"
)

// StripInvisible removes control characters and zero-width or other format
// runes (Unicode category Cf) that render as nothing but change comparisons.
func StripInvisible(s string) string {
	builder := strings.Builder{}
	builder.Grow(len(s))

	for _, r := range s {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		builder.WriteRune(r)
	}

	return builder.String()
}

// CollapseSpaces trims s and folds every run of whitespace into one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
