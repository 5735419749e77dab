package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString prepares free text for storage. Invalid UTF-8 and control
// characters other than newline and tab are dropped, surrounding space is
// trimmed, and the result is cut to at most maxRunes characters without
// splitting a multibyte character.
func SanitizeString(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.ToValidUTF8(input, ""))
	cleaned = strings.TrimSpace(cleaned)

	if maxRunes <= 0 || utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	cut := 0
	for i := range cleaned {
		if maxRunes == 0 {
			cut = i
			break
		}
		maxRunes--
	}
	return strings.TrimSpace(cleaned[:cut])
}
