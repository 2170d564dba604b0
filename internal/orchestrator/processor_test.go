package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/pipeline"
	"github.com/chunkforge/pipeline/internal/tokenizer"
)

func TestIsSpreadsheetRecognizesKnownExtensions(t *testing.T) {
	assert.True(t, isSpreadsheet(".xlsx"))
	assert.True(t, isSpreadsheet("xls"))
	assert.True(t, isSpreadsheet("CSV"))
	assert.False(t, isSpreadsheet(".pdf"))
	assert.False(t, isSpreadsheet(""))
}

func TestEmbedInputPrefersQuestionsOverContent(t *testing.T) {
	c := pipeline.Chunk{Content: "raw content", Questions: []string{"what is this about?"}}
	assert.Equal(t, "what is this about?", embedInput(c))
}

func TestEmbedInputFallsBackToContent(t *testing.T) {
	c := pipeline.Chunk{Content: "raw content"}
	assert.Equal(t, "raw content", embedInput(c))
}

func TestParseOptionsForAppliesDefaultsAndOverrides(t *testing.T) {
	doc := pipeline.Document{ParserConfig: map[string]any{"lang": "fr"}}
	opts := parseOptionsFor(config.EffectiveConfig{}, pipeline.KnowledgeBaseConfig{}, doc)

	assert.Equal(t, "pipeline", opts.Backend)
	assert.Equal(t, "auto", opts.ParseMethod)
	assert.Equal(t, "fr", opts.Lang)
	assert.True(t, opts.ReturnContentList)
	assert.True(t, opts.ReturnInfo)
	assert.True(t, opts.ReturnImages)
	assert.False(t, opts.IsJSONMdDump)
}

func TestStringOrFallsBackOnMissingOrWrongType(t *testing.T) {
	assert.Equal(t, "default", stringOr(nil, "key", "default"))
	assert.Equal(t, "default", stringOr(map[string]any{"key": 5}, "key", "default"))
	assert.Equal(t, "value", stringOr(map[string]any{"key": "value"}, "key", "default"))
}

func newTestTokenizer(t *testing.T) tokenizer.Tokenizer {
	t.Helper()
	tok, err := tokenizer.New()
	require.NoError(t, err)
	return tok
}

func TestSplitIntoChunksDispatchesSpreadsheetByFileType(t *testing.T) {
	p := &Processor{Tokenizer: newTestTokenizer(t)}
	job := pipeline.DocumentJob{Doc: pipeline.Document{FileType: ".csv"}}
	eff := config.EffectiveConfig{Excel: config.ExcelConfig{DefaultStrategy: "html"}}

	chunks, err := p.splitIntoChunks(t.Context(), job, eff, "a,b\n1,2\n", pipeline.LayoutRecord{})
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestSplitIntoChunksDispatchesMarkdownByDefault(t *testing.T) {
	p := &Processor{Tokenizer: newTestTokenizer(t)}
	job := pipeline.DocumentJob{Doc: pipeline.Document{FileType: ".pdf"}}
	eff := config.EffectiveConfig{Chunking: config.ChunkingConfig{
		Strategy:      "basic",
		ChunkTokenNum: 128, ChunkTokenNumMax: 256, MinChunkTokens: 10,
	}}

	chunks, err := p.splitIntoChunks(t.Context(), job, eff, "# Title\n\nSome body text.\n", pipeline.LayoutRecord{})
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, c.SourceIndex, c.TopInt, "markdown chunks fall back to source index without layout data")
	}
}

func TestValidateAssembledDoesNotPanicOnEmptyBatch(t *testing.T) {
	assert.NotPanics(t, func() { validateAssembled(nil) })
}

func TestFileContentHashIsStableAndContentSensitive(t *testing.T) {
	a := fileContentHash([]byte("hello world"))
	b := fileContentHash([]byte("hello world"))
	c := fileContentHash([]byte("hello there"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
