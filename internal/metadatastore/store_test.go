package metadatastore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAPITokenFormat(t *testing.T) {
	token, err := mintAPIToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "ragflow-"))
	assert.LessOrEqual(t, len(strings.TrimPrefix(token, "ragflow-")), 32)
}

func TestMintAPITokenIsRandomized(t *testing.T) {
	t1, err := mintAPIToken()
	require.NoError(t, err)
	t2, err := mintAPIToken()
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}
