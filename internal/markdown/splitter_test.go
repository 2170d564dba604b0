package markdown

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/tokenizer"
)

func newSplitter(t *testing.T, cfg Config) *Splitter {
	t.Helper()
	tok, err := tokenizer.New()
	require.NoError(t, err)
	s, err := New(cfg, tok)
	require.NoError(t, err)
	return s
}

func TestSplitSmartTwoParagraphsUnderTarget(t *testing.T) {
	s := newSplitter(t, Config{Strategy: StrategySmart, ChunkTokenNumTarget: 150, MinChunkTokens: 5})

	para1 := strings.Repeat("alpha beta gamma delta epsilon zeta ", 20) // ~120 tokens
	para2 := strings.Repeat("eta theta iota kappa lambda mu ", 15)      // ~90 tokens
	content := "# Heading\n\n" + strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	chunks, err := s.Split(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Content, "Heading")
	assert.Contains(t, chunks[0].Content, "alpha")
	assert.Contains(t, chunks[1].Content, "eta")
}

func TestSplitSmartOversizedTableFlagged(t *testing.T) {
	s := newSplitter(t, Config{Strategy: StrategySmart, ChunkTokenNumTarget: 100, ChunkTokenNumMax: 50})

	var rows strings.Builder
	rows.WriteString("<table>")
	for i := 0; i < 200; i++ {
		rows.WriteString("<tr><td>word phrase example token filler</td></tr>")
	}
	rows.WriteString("</table>")
	table := rows.String()

	chunks, err := s.Split(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Oversized)
	assert.Equal(t, table, strings.TrimSpace(chunks[0].Content))
}

func TestSplitBasicIsolatesHTMLTables(t *testing.T) {
	s := newSplitter(t, Config{Strategy: StrategyBasic, ChunkTokenNumTarget: 100})

	content := "intro paragraph text\n\n<table><tr><td>a</td></tr></table>\n\ntrailing paragraph text"
	chunks, err := s.Split(context.Background(), content)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	foundTable := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "<table>") {
			foundTable = true
			assert.True(t, strings.HasPrefix(strings.TrimSpace(c.Content), "<table>"))
		}
	}
	assert.True(t, foundTable)
}

func TestSplitStrictRegexDropsEmptySegments(t *testing.T) {
	s := newSplitter(t, Config{Strategy: StrategyStrictRegex, RegexPattern: `\n---\n`})

	content := "first\n---\n\n---\nsecond"
	chunks, err := s.Split(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)
}

func TestSplitEmptyContentErrors(t *testing.T) {
	s := newSplitter(t, Config{Strategy: StrategySmart})
	_, err := s.Split(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestSplitAdvancedAddsHeadingPath(t *testing.T) {
	s := newSplitter(t, Config{
		Strategy:             StrategyAdvanced,
		ChunkTokenNumTarget:  30,
		OverlapRatio:         0.1,
		SplitAtHeadingLevels: []int{1},
	})

	content := "# Intro\n\nsome opening remarks here\n\n# Details\n\nmore detailed remarks follow here"
	chunks, err := s.Split(context.Background(), content)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotEmpty(t, chunks[0].HeadingPath)
}
