package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxIDLen bounds record ids accepted on the HTTP boundary. uuids are 36 runes.
const MaxIDLen = 64

// ErrIDEmpty is returned when an id is empty or whitespace-only after trim.
var ErrIDEmpty = errors.New("id is required")

// ErrIDTooLong is returned when an id exceeds MaxIDLen.
var ErrIDTooLong = errors.New("id too long")

// ErrIDInvalidChars is returned when an id contains characters other than letters, digits,
// hyphen and underscore.
var ErrIDInvalidChars = errors.New("id contains invalid characters")

// ErrTextEmpty is returned when a required text field is empty after trim.
var ErrTextEmpty = errors.New("value is required")

// ErrTextTooLong is returned when a text field exceeds its maximum length.
var ErrTextTooLong = errors.New("value too long")

// ErrTextControlChars is returned when a text field contains control characters other than
// newline and tab.
var ErrTextControlChars = errors.New("value contains control characters")

// ValidateID trims and checks a record id taken from a URL path or payload.
// Returns the trimmed id or an error suitable for 400 INVALID_ID responses.
func ValidateID(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrIDEmpty
	}
	if len(r) > MaxIDLen {
		return "", ErrIDTooLong
	}
	for _, c := range r {
		if !isAllowedIDRune(c) {
			return "", ErrIDInvalidChars
		}
	}
	return s, nil
}

func isAllowedIDRune(r rune) bool {
	if r > unicode.MaxASCII {
		return false
	}
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '-' || r == '_'
}

// ValidateText trims a free-text field and enforces presence and a maximum rune length
// (maxLen <= 0 disables the bound). field names the value in the returned error.
func ValidateText(field, input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", fmt.Errorf("%s: %w", field, ErrTextEmpty)
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", fmt.Errorf("%s: %w (max %d)", field, ErrTextTooLong, maxLen)
	}
	for _, c := range r {
		if unicode.IsControl(c) && c != '\n' && c != '\t' && c != '\r' {
			return "", fmt.Errorf("%s: %w", field, ErrTextControlChars)
		}
	}
	return s, nil
}

// ValidateIDs checks every id in a list, such as affected stations. Empty lists are valid.
func ValidateIDs(field string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		v, err := ValidateID(id)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
