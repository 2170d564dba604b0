package cache

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

func TestEmbeddingKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "pipeline:embedding:abc123", embeddingKey("abc123"))
}

func TestParseKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "pipeline:parseresult:deadbeef", parseKey("deadbeef"))
}

func TestParseResultRoundTripsThroughJSON(t *testing.T) {
	r := ParseResult{
		MDContent:   "# Title",
		Info:        pipeline.LayoutRecord{Blocks: []pipeline.LayoutBlock{{PageIndex: 0, Text: "hello"}}},
		ContentList: []any{"block-1"},
		Images:      map[string]string{"img-1": "data:image/png;base64,AA=="},
		Backend:     "pipeline",
	}

	data, err := sonic.Marshal(r)
	require.NoError(t, err)

	var out ParseResult
	require.NoError(t, sonic.Unmarshal(data, &out))
	assert.Equal(t, r, out)
}
