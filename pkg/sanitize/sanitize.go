// Package sanitize cleans user-controlled text before it is embedded in push
// payloads and media tokens.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxDisplayNameLength bounds names shown on incoming call screens
const MaxDisplayNameLength = 64

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// DisplayName strips control characters, collapses whitespace and truncates
// to MaxDisplayNameLength runes. Invalid UTF-8 is replaced.
func DisplayName(name string) string {
	name = strings.ToValidUTF8(name, "�")
	name = strings.Join(strings.Fields(StripControlCharacters(name)), " ")

	if utf8.RuneCountInString(name) <= MaxDisplayNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
}
