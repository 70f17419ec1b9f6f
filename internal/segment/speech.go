package segment

import (
	"regexp"
	"strings"
)

var (
	tableDivider = regexp.MustCompile(`-{3,}`)
	quotePerLine = regexp.MustCompile(`(?m)^>\s*`)
	listMarker   = regexp.MustCompile(`(?m)^(\d+\.|-|\*)\s+`)
	linkSyntax   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	boldSyntax   = regexp.MustCompile(`(\*\*|__)(.*?)(\*\*|__)`)
	italicSyntax = regexp.MustCompile(`([*_])(.*?)([*_])`)
	codeSyntax   = regexp.MustCompile("`([^`]+)`")
	inlineImage  = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
)

// Speakable converts a segment's content into the plain string handed to a
// TTS provider. Type-specific cleanup runs first, then the universal markdown
// cleanup; the order matters since later rules must not reintroduce syntax
// earlier rules removed. An empty result marks the segment non-narratable.
func Speakable(content string, t Type) string {
	if content == "" {
		return ""
	}

	clean := content

	switch t {
	case TypeTable:
		// Pipes become commas for natural reading pauses.
		clean = strings.ReplaceAll(clean, "|", ",")
		clean = tableDivider.ReplaceAllString(clean, "")
	case TypeBlockquote:
		clean = quotePerLine.ReplaceAllString(clean, "")
	case TypeList:
		clean = listMarker.ReplaceAllString(clean, "")
	}

	// Inline images go first so their alt/url text never survives as a
	// bare link.
	clean = inlineImage.ReplaceAllString(clean, "")
	clean = linkSyntax.ReplaceAllString(clean, "$1")
	clean = boldSyntax.ReplaceAllString(clean, "$2")
	clean = italicSyntax.ReplaceAllString(clean, "$2")
	clean = codeSyntax.ReplaceAllString(clean, "$1")

	return strings.TrimSpace(clean)
}

// Narratable reports whether the segment produces any speakable text.
// HR segments never narrate; images pause instead of speaking.
func Narratable(s Segment) bool {
	if s.Type == TypeHR || s.Type == TypeImage {
		return false
	}
	return Speakable(s.Content, s.Type) != ""
}
