package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"uuid", "3f2b8c1e-9a4d-4f6e-8b7a-1c2d3e4f5a6b", "3f2b8c1e-9a4d-4f6e-8b7a-1c2d3e4f5a6b", nil},
		{"trimmed", "  station_01 ", "station_01", nil},
		{"empty", "", "", ErrIDEmpty},
		{"whitespace", " \t ", "", ErrIDEmpty},
		{"too long", strings.Repeat("a", MaxIDLen+1), "", ErrIDTooLong},
		{"max length", strings.Repeat("a", MaxIDLen), strings.Repeat("a", MaxIDLen), nil},
		{"slash", "abc/def", "", ErrIDInvalidChars},
		{"quote", "abc'--", "", ErrIDInvalidChars},
		{"space inside", "ab cd", "", ErrIDInvalidChars},
		{"non-ascii letter", "stätion", "", ErrIDInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateID(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateID(%q) error = %v, want %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ValidateID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxLen  int
		want    string
		wantErr error
	}{
		{"ok", "  High tide warning ", 100, "High tide warning", nil},
		{"multiline", "line one\nline two", 0, "line one\nline two", nil},
		{"empty", "   ", 100, "", ErrTextEmpty},
		{"too long", strings.Repeat("é", 11), 10, "", ErrTextTooLong},
		{"unbounded", strings.Repeat("x", 5000), 0, strings.Repeat("x", 5000), nil},
		{"control", "bad\x00value", 100, "", ErrTextControlChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateText("title", tc.input, tc.maxLen)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateText() error = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ValidateText() = %q, want %q", got, tc.want)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "title:") {
				t.Errorf("error %q should name the field", err)
			}
		})
	}
}

func TestValidateIDs(t *testing.T) {
	got, err := ValidateIDs("stations", []string{" a ", "b"})
	if err != nil || len(got) != 2 || got[0] != "a" {
		t.Fatalf("ValidateIDs() = %v, %v", got, err)
	}
	if _, err := ValidateIDs("stations", []string{"a", "b/c"}); !errors.Is(err, ErrIDInvalidChars) {
		t.Errorf("ValidateIDs() error = %v, want ErrIDInvalidChars", err)
	}
	if got, err := ValidateIDs("stations", nil); err != nil || len(got) != 0 {
		t.Errorf("ValidateIDs(nil) = %v, %v", got, err)
	}
}
