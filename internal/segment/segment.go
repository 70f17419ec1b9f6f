// Package segment splits markdown documents into typed, speakable blocks.
//
// The parser is deliberately a block-level heuristic, not a CommonMark
// implementation: blocks are separated by blank lines and classified by a
// fixed rule order. Nested blocks (a blockquote inside a list item, say) are
// not detected; the outer classification wins.
package segment

import (
	"fmt"
	"regexp"
	"strings"
)

// Type classifies a parsed block.
type Type string

// The closed set of block types the parser produces.
const (
	TypeText       Type = "text"
	TypeHeader     Type = "header"
	TypeList       Type = "list"
	TypeTable      Type = "table"
	TypeBlockquote Type = "blockquote"
	TypeImage      Type = "image"
	TypeHR         Type = "hr"
)

// ListKind distinguishes ordered from unordered lists.
type ListKind string

const (
	ListOrdered   ListKind = "ordered"
	ListUnordered ListKind = "unordered"
)

// Segment is one classified block of a parsed document. Immutable once
// created.
type Segment struct {
	// ID is unique and stable for the lifetime of one parse.
	ID string

	Type Type

	// Content is the normalized block body: header text without its '#'
	// markers, the resolved URL for images, the trimmed raw markdown for
	// everything else.
	Content string

	// Alt is set only for images.
	Alt string

	// OriginalText is the untouched source slice the segment came from.
	// Joining OriginalText of all segments with the block separator
	// reconstructs the document up to per-block whitespace trimming.
	OriginalText string

	// Level is 1..6 for headers, zero otherwise.
	Level int

	// ListKind is set only for lists.
	ListKind ListKind
}

var (
	blockSep      = regexp.MustCompile(`\n\n+`)
	hrPattern     = regexp.MustCompile(`^(\*{3,}|-{3,})$`)
	imagePattern  = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)`)
	quoteMarker   = regexp.MustCompile(`^>\s?`)
	unorderedItem = regexp.MustCompile(`^\s*[-*]\s`)
	orderedItem   = regexp.MustCompile(`^\s*\d+\.\s`)
)

// Parse splits text on blank-line boundaries and classifies each block.
// Blocks that are empty after trimming are dropped. The result preserves
// document order.
func Parse(text string) []Segment {
	blocks := blockSep.Split(text, -1)
	segments := make([]Segment, 0, len(blocks))

	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}

		seg := classify(block, trimmed)
		seg.ID = fmt.Sprintf("seg-%d", len(segments))
		segments = append(segments, seg)
	}

	return segments
}

// classify applies the classification rules in priority order. First match
// wins.
func classify(block, trimmed string) Segment {
	// 1. Horizontal rule.
	if hrPattern.MatchString(trimmed) {
		return Segment{Type: TypeHR, OriginalText: block}
	}

	// 2. Image block.
	if m := imagePattern.FindStringSubmatch(block); m != nil && strings.HasPrefix(trimmed, "![") {
		return Segment{
			Type:         TypeImage,
			Content:      m[2],
			Alt:          m[1],
			OriginalText: block,
		}
	}

	// 3. Header.
	if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
		return Segment{
			Type:         TypeHeader,
			Content:      strings.TrimSpace(m[2]),
			OriginalText: block,
			Level:        len(m[1]),
		}
	}

	// 4. Blockquote: strip the leading marker per line, keep newlines.
	if strings.HasPrefix(trimmed, ">") {
		lines := strings.Split(trimmed, "\n")
		for i, l := range lines {
			lines[i] = quoteMarker.ReplaceAllString(l, "")
		}
		return Segment{
			Type:         TypeBlockquote,
			Content:      strings.Join(lines, "\n"),
			OriginalText: block,
		}
	}

	// 5. Table.
	if strings.HasPrefix(trimmed, "|") {
		return Segment{Type: TypeTable, Content: trimmed, OriginalText: block}
	}

	// 6. List: every line must carry the same marker kind; mixed markers
	// fall through to plain text.
	lines := strings.Split(trimmed, "\n")
	if kind, ok := uniformListKind(lines); ok {
		return Segment{
			Type:         TypeList,
			Content:      trimmed,
			OriginalText: block,
			ListKind:     kind,
		}
	}

	// 7. Fallback.
	return Segment{Type: TypeText, Content: trimmed, OriginalText: block}
}

func uniformListKind(lines []string) (ListKind, bool) {
	if len(lines) == 0 {
		return "", false
	}

	unordered, ordered := true, true
	for _, l := range lines {
		if !unorderedItem.MatchString(l) {
			unordered = false
		}
		if !orderedItem.MatchString(l) {
			ordered = false
		}
	}

	switch {
	case unordered:
		return ListUnordered, true
	case ordered:
		return ListOrdered, true
	default:
		return "", false
	}
}
