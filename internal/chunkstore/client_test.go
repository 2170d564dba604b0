package chunkstore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/config"
)

func TestInsertBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/ds-1/documents/doc-1/chunks/batch", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"content":"hello"`)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"total_added":1,"total_failed":0,"processing_stats":{"processing_errors":[]}}}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	result, err := c.InsertBatch(t.Context(), "ds-1", "doc-1", []ChunkRequest{{Content: "hello"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalAdded)
	assert.Equal(t, 0, result.TotalFailed)
}

func TestInsertBatchNonZeroCodeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":1,"data":{}}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	_, err := c.InsertBatch(t.Context(), "ds-1", "doc-1", []ChunkRequest{{Content: "hello"}}, 10)
	require.Error(t, err)
}

func TestInsertBatchReportsProcessingErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"total_added":1,"total_failed":1,"processing_stats":{"processing_errors":["row 2: empty content"]}}}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	result, err := c.InsertBatch(t.Context(), "ds-1", "doc-1", []ChunkRequest{{Content: "a"}, {Content: ""}}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, []string{"row 2: empty content"}, result.ProcessingErrors)
}
