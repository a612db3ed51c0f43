package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripControlCharacters(t *testing.T) {
	assert.Equal(t, "abc", StripControlCharacters("a\x00b\x1bc"))
	assert.Equal(t, "héllo", StripControlCharacters("héllo"))
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Alice", "Alice"},
		{"trims", "  Bob  ", "Bob"},
		{"collapses whitespace", "Carol\t \nSmith", "Carol Smith"},
		{"strips control", "Da\x07ve", "Dave"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.input))
		})
	}
}

func TestDisplayName_Truncates(t *testing.T) {
	got := DisplayName(strings.Repeat("é", MaxDisplayNameLength+10))
	assert.Equal(t, MaxDisplayNameLength, len([]rune(got)))
}
