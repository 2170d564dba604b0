package assembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/embedding"
	"github.com/chunkforge/pipeline/internal/pipeline"
	"github.com/chunkforge/pipeline/internal/tokenizer"
)

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	tok, err := tokenizer.New()
	require.NoError(t, err)
	return New(tok)
}

func TestContentIDIsDeterministic(t *testing.T) {
	id1 := ContentID("hello world", "doc-1", 3)
	id2 := ContentID("hello world", "doc-1", 3)
	assert.Equal(t, id1, id2)
}

func TestContentIDChangesWithSourceIndex(t *testing.T) {
	id1 := ContentID("hello world", "doc-1", 3)
	id2 := ContentID("hello world", "doc-1", 4)
	assert.NotEqual(t, id1, id2)
}

func TestAssembleUsesPositionsWhenPresent(t *testing.T) {
	a := newAssembler(t)
	now := time.Now()

	rec, err := a.Assemble(Input{
		Chunk:     pipeline.Chunk{Content: "some chunk text", SourceIndex: 2},
		DocID:     "doc-1",
		DatasetID: "ds-1",
		TenantID:  "tenant-1",
		DocName:   "report.pdf",
		Positions: []pipeline.Position{{Page: 3, Top: 42}},
		Embedding: embedding.Result{Vector: []float32{1, 2, 3}, Dimension: 3},
		CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 42, rec.TopOfFirstPosition)
	assert.Equal(t, []int{3}, rec.PageNumbers)
	assert.Equal(t, ContentID("some chunk text", "doc-1", 2), rec.ID)
	assert.Equal(t, 3, rec.VectorDim)
}

func TestAssembleFallsBackToSourceIndexWithoutPositions(t *testing.T) {
	a := newAssembler(t)
	rec, err := a.Assemble(Input{
		Chunk:     pipeline.Chunk{Content: "text", SourceIndex: 7},
		DocID:     "doc-2",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.TopOfFirstPosition)
	assert.Empty(t, rec.PageNumbers)
}
