package parseclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/pipeline"
)

func TestParseFileSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file_parse", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"md_content":"# Title\n\nbody","backend":"pipeline","images":{}}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	result, err := c.ParseFile(context.Background(), "doc.pdf", []byte("fake-pdf"), Options{Backend: "pipeline"})
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", result.MDContent)
	assert.Equal(t, "pipeline", result.Backend)
}

func TestParseFileEmptyContentIsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"md_content":""}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	_, err := c.ParseFile(context.Background(), "empty.pdf", []byte("x"), Options{})
	require.Error(t, err)

	var pf *pipeline.ParseFailure
	assert.True(t, errors.As(err, &pf))
}

func TestHealthCheckOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/docs", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{BaseURL: srv.URL})
	assert.NoError(t, c.HealthCheck())
}
