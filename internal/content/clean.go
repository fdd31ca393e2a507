// Package content normalizes chat text before it is sent.
package content

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the message length limit in runes.
const DefaultMaxLength = 1000

// ErrEmpty is returned when nothing remains after cleaning.
var ErrEmpty = errors.New("message is empty")

// controlCharRegex matches control characters other than tab and newline
var controlCharRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// StripControlChars removes control characters, keeping tabs and newlines.
func StripControlChars(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return controlCharRegex.ReplaceAllString(text, "")
}

// Truncate cuts text to at most max runes. A non-positive max disables it.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

// Clean strips control characters and trims whitespace.
func Clean(text string) string {
	return strings.TrimSpace(StripControlChars(text))
}

// Policy applies Clean and a length limit.
type Policy struct {
	MaxLength int
}

// Apply cleans text and enforces the length limit. It returns ErrEmpty when
// nothing is left to send.
func (p Policy) Apply(text string) (string, error) {
	text = Clean(text)
	if text == "" {
		return "", ErrEmpty
	}
	return strings.TrimSpace(Truncate(text, p.MaxLength)), nil
}
