package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

func sampleLayout() pipeline.LayoutRecord {
	return pipeline.LayoutRecord{
		Blocks: []pipeline.LayoutBlock{
			{
				PageIndex: 0,
				BBox:      pipeline.BBox{Left: 10, Right: 200, Top: 10, Bottom: 30},
				BlockType: pipeline.BlockText,
				Text:      "Introduction to the system architecture.",
			},
			{
				PageIndex: 0,
				BBox:      pipeline.BBox{Left: 10, Right: 200, Top: 40, Bottom: 60},
				BlockType: pipeline.BlockText,
				Text:      "It spans multiple subsystems working together.",
			},
			{
				PageIndex: 1,
				BBox:      pipeline.BBox{Left: 10, Right: 200, Top: 10, Bottom: 30},
				BlockType: pipeline.BlockText,
				Text:      "Continuing on the next page with more detail.",
			},
		},
	}
}

func TestResolveSingleBlockMatch(t *testing.T) {
	idx := Build(sampleLayout())
	positions, ok := idx.Resolve("Introduction to the system architecture.")
	require.True(t, ok)
	require.Len(t, positions, 1)
	assert.Equal(t, 1, positions[0].Page)
}

func TestResolveSpansTwoPages(t *testing.T) {
	idx := Build(sampleLayout())
	chunk := "working together. Continuing on the next page"
	positions, ok := idx.Resolve(chunk)
	require.True(t, ok)
	require.Len(t, positions, 2)
	assert.Equal(t, 1, positions[0].Page)
	assert.Equal(t, 2, positions[1].Page)
}

func TestResolveNoMatchReturnsFalse(t *testing.T) {
	idx := Build(sampleLayout())
	_, ok := idx.Resolve("this text does not appear anywhere in the layout")
	assert.False(t, ok)
}

func TestResolveIgnoresMarkdownPunctuationAndWhitespace(t *testing.T) {
	idx := Build(sampleLayout())
	positions, ok := idx.Resolve("**Introduction**   to the `system` architecture.")
	require.True(t, ok)
	require.Len(t, positions, 1)
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", normalize("a   b\n\tc"))
}
