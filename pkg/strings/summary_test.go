package strings

import (
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "short string unchanged", input: "not allowed", maxLen: 20, expected: "not allowed"},
		{name: "exact length unchanged", input: "hello", maxLen: 5, expected: "hello"},
		{name: "long string cut", input: "session quota exceeded for user", maxLen: 15, expected: "session quot..."},
		{name: "html page flattened", input: "<html>\n  <body>\n\tForbidden\n  </body>\n</html>", maxLen: 60, expected: "<html> <body> Forbidden </body> </html>"},
		{name: "carriage returns handled", input: "line one\r\nline two", maxLen: 40, expected: "line one line two"},
		{name: "unicode cut on rune boundary", input: "Zugriff verweigert für Benutzer", maxLen: 22, expected: "Zugriff verweigert ..."},
		{name: "empty string", input: "", maxLen: 10, expected: ""},
		{name: "whitespace only becomes empty", input: "   \n\t  ", maxLen: 10, expected: ""},
		{name: "tiny maxLen clamped", input: "hello", maxLen: 0, expected: "h..."},
		{name: "negative maxLen clamped", input: "hello", maxLen: -5, expected: "h..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Summarize(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestSummarizeDefaultLength(t *testing.T) {
	got := Summarize(strings.Repeat("x", 1000), DefaultSummaryLen)
	if n := len([]rune(got)); n != DefaultSummaryLen {
		t.Errorf("expected %d runes, got %d", DefaultSummaryLen, n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis, got %q", got[len(got)-10:])
	}
}
