package segment

import (
	"strings"
	"testing"
)

// TestSpeakable tests type-specific and universal markdown cleanup.
func TestSpeakable(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		typ      Type
		expected string
	}{
		{
			name:     "plain text unchanged",
			content:  "Hello there.",
			typ:      TypeText,
			expected: "Hello there.",
		},
		{
			name:     "bold unwrapped",
			content:  "Hello **World**",
			typ:      TypeHeader,
			expected: "Hello World",
		},
		{
			name:     "underscore bold unwrapped",
			content:  "__strong__ words",
			typ:      TypeText,
			expected: "strong words",
		},
		{
			name:     "italic unwrapped",
			content:  "an *emphatic* word",
			typ:      TypeText,
			expected: "an emphatic word",
		},
		{
			name:     "code unwrapped",
			content:  "run `go build` now",
			typ:      TypeText,
			expected: "run go build now",
		},
		{
			name:     "link collapses to text",
			content:  "see [the docs](https://example.com) please",
			typ:      TypeText,
			expected: "see the docs please",
		},
		{
			name:     "inline image dropped",
			content:  "before ![pic](url) after",
			typ:      TypeText,
			expected: "before  after",
		},
		{
			name:     "blockquote markers stripped",
			content:  "> line one\n> line two",
			typ:      TypeBlockquote,
			expected: "line one\nline two",
		},
		{
			name:     "list markers stripped",
			content:  "- first\n- second",
			typ:      TypeList,
			expected: "first\nsecond",
		},
		{
			name:     "ordered list markers stripped",
			content:  "1. first\n2. second",
			typ:      TypeList,
			expected: "first\nsecond",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Speakable(tt.content, tt.typ)
			if got != tt.expected {
				t.Errorf("Speakable() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestSpeakableTable tests that pipes become commas and divider rows vanish.
func TestSpeakableTable(t *testing.T) {
	got := Speakable("| A | B |\n| --- | --- |\n| 1 | 2 |", TypeTable)

	if strings.Contains(got, "|") {
		t.Errorf("pipes survived: %q", got)
	}
	if strings.Contains(got, "---") {
		t.Errorf("divider survived: %q", got)
	}
	for _, want := range []string{"A", "B", "1", "2", ","} {
		if !strings.Contains(got, want) {
			t.Errorf("Speakable() = %q, missing %q", got, want)
		}
	}
}

// TestSpeakableIdempotent tests that a second pass changes nothing: no
// residual markup survives the first.
func TestSpeakableIdempotent(t *testing.T) {
	inputs := map[Type]string{
		TypeText:       "a **bold** [link](u) with `code` and ![img](u)",
		TypeHeader:     "Title *with* emphasis",
		TypeTable:      "| A | B |\n| --- | --- |\n| **1** | 2 |",
		TypeBlockquote: "> quoted **bold**\n> more",
		TypeList:       "- item [one](u)\n- item `two`",
	}

	for typ, input := range inputs {
		t.Run(string(typ), func(t *testing.T) {
			once := Speakable(input, typ)
			twice := Speakable(once, typ)
			if once != twice {
				t.Errorf("not idempotent: first %q, second %q", once, twice)
			}
		})
	}
}

// TestSpeakableEmpty tests that markup-only content normalizes to the empty
// string, marking the segment non-narratable.
func TestSpeakableEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		typ     Type
	}{
		{"empty input", "", TypeText},
		{"whitespace", "   \n  ", TypeText},
		{"lone inline image", "![only an image](url)", TypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Speakable(tt.content, tt.typ); got != "" {
				t.Errorf("Speakable() = %q, want empty", got)
			}
		})
	}
}

// TestNarratable tests the skip rules the sequencer relies on.
func TestNarratable(t *testing.T) {
	tests := []struct {
		name     string
		seg      Segment
		expected bool
	}{
		{"text", Segment{Type: TypeText, Content: "hello"}, true},
		{"hr never narrates", Segment{Type: TypeHR}, false},
		{"image pauses instead of speaking", Segment{Type: TypeImage, Content: "https://x/y.png"}, false},
		{"markup-only text", Segment{Type: TypeText, Content: "![x](u)"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Narratable(tt.seg); got != tt.expected {
				t.Errorf("Narratable() = %v, want %v", got, tt.expected)
			}
		})
	}
}
