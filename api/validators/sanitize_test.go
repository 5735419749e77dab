package validators

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"trims", "  paid in cash  ", 0, "paid in cash"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"devanagari cut on rune boundary", "किसान भुगतान", 3, "किस"},
		{"accented cut", "café crème", 4, "café"},
		{"emoji kept whole", "ok 👍🏽 done", 4, "ok 👍"},
		{"short enough", "ठीक", 10, "ठीक"},
		{"control characters dropped", "a\x00b\x07c\nd", 0, "abc\nd"},
		{"invalid utf8 dropped", "ab\xffcd", 0, "abcd"},
		{"trailing space after cut", "ab cd", 3, "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeString(tc.input, tc.max)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
