package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text",
			input:    "Hello world",
			expected: "Hello world",
		},
		{
			name:     "keeps newlines and tabs",
			input:    "line one\n\tline two",
			expected: "line one\n\tline two",
		},
		{
			name:     "normalizes crlf",
			input:    "a\r\nb",
			expected: "a\nb",
		},
		{
			name:     "drops bell and escape",
			input:    "ding\x07 \x1b[31mred",
			expected: "ding [31mred",
		},
		{
			name:     "drops delete",
			input:    "abc\x7f",
			expected: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripControlChars(tt.input))
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "untouched", input: "Hello world", expected: "Hello world"},
		{name: "trims", input: "  Hello world \n", expected: "Hello world"},
		{name: "control characters", input: "Hello\x00 world\x1f", expected: "Hello world"},
		{name: "markup is content", input: " see <private>this</private> part ", expected: "see <private>this</private> part"},
		{name: "only whitespace", input: " \t\r\n ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{name: "under limit", input: "hello", max: 10, expected: "hello"},
		{name: "at limit", input: "hello", max: 5, expected: "hello"},
		{name: "over limit", input: "hello world", max: 5, expected: "hello"},
		{name: "multibyte runes", input: "안녕하세요", max: 2, expected: "안녕"},
		{name: "disabled", input: "hello", max: 0, expected: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.max))
		})
	}
}

func TestPolicyApply(t *testing.T) {
	p := Policy{MaxLength: DefaultMaxLength}

	out, err := p.Apply("  printer jams on tray 2  ")
	assert.NoError(t, err)
	assert.Equal(t, "printer jams on tray 2", out)

	_, err = p.Apply(" \x00\x07 ")
	assert.ErrorIs(t, err, ErrEmpty)

	out, err = p.Apply(strings.Repeat("a", 1500))
	assert.NoError(t, err)
	assert.Len(t, out, DefaultMaxLength)

	out, err = p.Apply("word " + strings.Repeat("b", DefaultMaxLength))
	assert.NoError(t, err)
	assert.Equal(t, DefaultMaxLength, len(out))
}
