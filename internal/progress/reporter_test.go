package progress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

func TestBuildUpdateQueryNoFieldsSkips(t *testing.T) {
	_, _, ok := buildUpdateQuery("doc-1", Update{})
	assert.False(t, ok)
}

func TestBuildUpdateQueryIncludesOnlySetFields(t *testing.T) {
	query, args, ok := buildUpdateQuery("doc-1", Update{Progress: Fraction(0.4), Message: Msg("parsing")})
	assert.True(t, ok)
	assert.Equal(t, "UPDATE document SET progress = $1, progress_msg = $2 WHERE id = $3", query)
	assert.Equal(t, []any{0.4, "parsing", "doc-1"}, args)
}

func TestBuildUpdateQueryWithStatusAndRun(t *testing.T) {
	status := pipeline.StatusSuccess
	query, args, ok := buildUpdateQuery("doc-2", Update{Status: &status, Run: RunCode("3")})
	assert.True(t, ok)
	assert.Contains(t, query, "status = $1")
	assert.Contains(t, query, "run = $2")
	assert.Equal(t, []any{string(pipeline.StatusSuccess), "3", "doc-2"}, args)
}

func TestBuildUpdateQuerySanitizesOversizedMessage(t *testing.T) {
	huge := strings.Repeat("x", maxMessageBytes+500)
	_, args, ok := buildUpdateQuery("doc-4", Update{Message: Msg(huge)})
	assert.True(t, ok)
	assert.LessOrEqual(t, len(args[0].(string)), maxMessageBytes+3)
}

func TestFullUpdateAllFields(t *testing.T) {
	status := pipeline.StatusFailed
	query, args, ok := buildUpdateQuery("doc-3", Update{
		Progress:        Fraction(1.0),
		Message:         Msg("done"),
		Status:          &status,
		Run:             RunCode("4"),
		ChunkCount:      ChunkCount(12),
		ProcessDuration: Duration(3.5),
	})
	assert.True(t, ok)
	assert.Equal(t, 7, len(args))
	assert.Contains(t, query, "WHERE id = $7")
}
