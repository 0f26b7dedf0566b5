package sanitizer

import (
	"regexp"
	"strings"
	"unicode"
)

var reBlankLines = regexp.MustCompile(`\n{3,}`)

func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)

	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool

	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}

func NormalizeName(name string) string {
	return TrimAndNormalize(name)
}

func NormalizeNameForComparison(name string) string {
	return strings.ToLower(TrimAndNormalize(name))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeNotes keeps line breaks, unlike TrimAndNormalize, but drops other
// control characters and collapses long runs of empty lines.
func NormalizeNotes(notes string) string {
	notes = strings.ReplaceAll(notes, "\r\n", "\n")
	notes = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, notes)
	notes = reBlankLines.ReplaceAllString(notes, "\n\n")
	return strings.TrimSpace(notes)
}
