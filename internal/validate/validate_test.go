package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRejectsEmpty(t *testing.T) {
	_, err := Batch(nil)
	require.Error(t, err)
}

func TestBatchRejectsTooManyChunks(t *testing.T) {
	chunks := make([]ChunkInput, MaxChunksPerRequest+1)
	for i := range chunks {
		chunks[i] = ChunkInput{Content: "x"}
	}
	_, err := Batch(chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too many chunks. Maximum allowed: 100, received: 101")
}

func TestBatchFlagsEmptyContent(t *testing.T) {
	result, err := Batch([]ChunkInput{{Content: "   "}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Chunk 0: content is required")
}

func TestBatchFlagsOverlongContent(t *testing.T) {
	result, err := Batch([]ChunkInput{{Content: strings.Repeat("a", MaxContentLength+1)}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "content too long")
}

func TestBatchFlagsOverlongContentByCodePointsNotBytes(t *testing.T) {
	// "中" is 3 bytes in UTF-8 but one code point; MaxContentLength is a
	// code-point limit, so this must pass even though it is far over the
	// byte count of an equivalent ASCII overlong-content case.
	result, err := Batch([]ChunkInput{{Content: strings.Repeat("中", MaxContentLength)}})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []int{0}, result.ValidIndices)
}

func TestBatchFlagsOverlongMultibyteContent(t *testing.T) {
	result, err := Batch([]ChunkInput{{Content: strings.Repeat("中", MaxContentLength+1)}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "content too long")
}

func TestBatchFlagsMalformedPositions(t *testing.T) {
	result, err := Batch([]ChunkInput{{Content: "ok", Positions: [][]int{{1, 2, 3}}}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "must be a list of 5 integers")
}

func TestBatchAcceptsValidChunk(t *testing.T) {
	result, err := Batch([]ChunkInput{{Content: "ok", Positions: [][]int{{1, 0, 100, 0, 50}}}})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []int{0}, result.ValidIndices)
}

func TestResultErrorTruncatesAfterTenAndCountsRemainder(t *testing.T) {
	chunks := make([]ChunkInput, 12)
	for i := range chunks {
		chunks[i] = ChunkInput{Content: ""}
	}
	result, err := Batch(chunks)
	require.NoError(t, err)
	require.Len(t, result.Errors, 12)
	msg := result.Error()
	assert.Contains(t, msg, "Validation errors:")
	assert.Contains(t, msg, "... and 2 more errors")
}
