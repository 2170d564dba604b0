// Package position implements PositionResolver (spec.md §4.4): mapping a
// chunk's text back to the page/bbox blocks it was drawn from, via a
// leftmost-match search over a concatenated reference string built from a
// LayoutRecord. Built on stdlib strings/unicode: no example repo in the
// retrieved corpus ships a dedicated string-search library (see DESIGN.md).
package position

import (
	"strings"
	"unicode"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

// span records which normalized character range of the reference string
// came from which block, so a match range can be mapped back to pages.
type span struct {
	start, end int // half-open, in byte offsets of the normalized reference string
	block      pipeline.LayoutBlock
}

// Index is the immutable per-document structure built once from a
// LayoutRecord and reused across all of the document's chunks.
type Index struct {
	normalized string
	spans      []span
}

// Build constructs an Index from an ordered block list. Normalized block
// texts are concatenated in order, separated by a single space (the same
// separator normalize leaves between words, so chunk text that runs across
// a block boundary still matches); each block's contribution to the reference
// string is tracked as a span so a later match can be resolved back to
// the blocks it touches.
func Build(rec pipeline.LayoutRecord) *Index {
	var sb strings.Builder
	spans := make([]span, 0, len(rec.Blocks))

	for _, b := range rec.Blocks {
		text := blockText(b)
		norm := normalize(text)
		if norm == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		start := sb.Len()
		sb.WriteString(norm)
		spans = append(spans, span{start: start, end: sb.Len(), block: b})
	}

	return &Index{normalized: sb.String(), spans: spans}
}

func blockText(b pipeline.LayoutBlock) string {
	if b.Text != "" {
		return b.Text
	}
	return strings.Join(b.Lines, "\n")
}

// normalize collapses whitespace runs to a single space and drops Markdown
// punctuation, matching the transform applied to chunk text before search
// so both sides compare on the same footing.
func normalize(s string) string {
	var sb strings.Builder
	lastWasSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastWasSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			lastWasSpace = true
		case isMarkdownPunct(r):
			// dropped entirely, no whitespace substituted
		default:
			sb.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func isMarkdownPunct(r rune) bool {
	switch r {
	case '#', '*', '_', '`', '>', '~', '|', '-':
		return true
	default:
		return false
	}
}

// Resolve finds the leftmost occurrence of the normalized chunk text in
// the index's reference string and returns one Position per distinct
// page the match spans, ordered by appearance. Returns (nil, false) if no
// full match is found — the caller falls back to the source_index hint
// per spec.md §4.4.
func (idx *Index) Resolve(chunkText string) ([]pipeline.Position, bool) {
	needle := normalize(chunkText)
	if needle == "" {
		return nil, false
	}

	matchStart := strings.Index(idx.normalized, needle)
	if matchStart < 0 {
		return nil, false
	}
	matchEnd := matchStart + len(needle)

	var positions []pipeline.Position
	seenPage := map[int]int{} // page -> index into positions, for bbox union

	for _, sp := range idx.spans {
		if sp.end <= matchStart || sp.start >= matchEnd {
			continue
		}
		page := sp.block.PageIndex + 1
		bbox := sp.block.BBox

		if i, ok := seenPage[page]; ok {
			positions[i] = unionPosition(positions[i], page, bbox)
			continue
		}
		seenPage[page] = len(positions)
		positions = append(positions, pipeline.Position{
			Page:  page,
			Left:  bbox.Left,
			Right: bbox.Right,
			Top:   bbox.Top,
			Bottom: bbox.Bottom,
		})
	}

	if len(positions) == 0 {
		return nil, false
	}
	return positions, true
}

func unionPosition(p pipeline.Position, page int, bbox pipeline.BBox) pipeline.Position {
	if bbox.Left < p.Left {
		p.Left = bbox.Left
	}
	if bbox.Right > p.Right {
		p.Right = bbox.Right
	}
	if bbox.Top < p.Top {
		p.Top = bbox.Top
	}
	if bbox.Bottom > p.Bottom {
		p.Bottom = bbox.Bottom
	}
	return p
}
