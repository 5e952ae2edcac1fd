package agentloop

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatToolOutputShort(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"hello":        "hello",
		"hello\n\n\n":  "hello",
		"a\nb\n":       "a\nb",
		"  spaces  \n": "  spaces  ",
	}
	for in, want := range tests {
		if got := FormatToolOutput(in); got != want {
			t.Errorf("FormatToolOutput(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatToolOutputAtThreshold(t *testing.T) {
	in := strings.Repeat("x", MaxToolOutputChars)
	if got := FormatToolOutput(in); got != in {
		t.Errorf("output at the threshold must be unchanged, got %d runes", len(got))
	}
}

func TestFormatToolOutputLarge(t *testing.T) {
	head := strings.Repeat("H", 6400)
	middle := strings.Repeat("m", 50000-2*6400)
	tail := strings.Repeat("T", 6400)
	in := head + middle + tail

	got := FormatToolOutput(in)
	if !strings.HasPrefix(got, head) {
		t.Error("expected the 6400-char head to be preserved")
	}
	if !strings.HasSuffix(got, tail) {
		t.Error("expected the 6400-char tail to be preserved")
	}
	if !strings.Contains(got, "\n...[37200 characters omitted]...\n") {
		t.Errorf("expected elision marker for 37200 chars, got %q", got[6400:6450])
	}
	if strings.Contains(got, "mm") {
		t.Error("middle content should be elided")
	}
}

func TestFormatToolOutputIdempotent(t *testing.T) {
	in := strings.Repeat("abcdefghij\n", 5000)
	once := FormatToolOutput(in)
	twice := FormatToolOutput(once)
	if twice != once {
		t.Error("formatting already-truncated output must not change it")
	}
	if len(once) >= len(in) {
		t.Error("expected truncation to shrink the output")
	}
}

func TestFormatToolOutputCountsRunes(t *testing.T) {
	in := strings.Repeat("é", MaxToolOutputChars+10)
	got := FormatToolOutput(in)
	if !utf8.ValidString(got) {
		t.Fatal("truncation must not split multi-byte characters")
	}
	if !strings.Contains(got, "[19210 characters omitted]") {
		t.Errorf("expected rune-based omitted count, got marker in %q", got[len(got)/2-40:len(got)/2+40])
	}
}
