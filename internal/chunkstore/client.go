// Package chunkstore implements the chunk-store batch-insert HTTP client
// (spec.md §6): POST /datasets/{dataset_id}/documents/{document_id}/chunks/batch.
package chunkstore

import (
	"context"
	"fmt"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/httpclient"
	"github.com/chunkforge/pipeline/internal/pipeline"
)

const ServiceName = "chunkstore"

// ChunkRequest is one chunk in a batch-insert request body.
type ChunkRequest struct {
	Content            string               `json:"content"`
	ImportantKeywords  []string             `json:"important_keywords,omitempty"`
	Questions          []string             `json:"questions,omitempty"`
	Positions          []pipeline.Position  `json:"positions,omitempty"`
	TopInt             *int                 `json:"top_int,omitempty"`
}

type batchRequest struct {
	Chunks    []ChunkRequest `json:"chunks"`
	BatchSize int            `json:"batch_size,omitempty"`
}

type processingStats struct {
	TotalRequested   int      `json:"total_requested"`
	BatchSizeUsed    int      `json:"batch_size_used"`
	BatchesProcessed int      `json:"batches_processed"`
	EmbeddingCost    float64  `json:"embedding_cost"`
	ProcessingErrors []string `json:"processing_errors"`
}

type batchData struct {
	Chunks          []ChunkRequest  `json:"chunks"`
	TotalAdded      int             `json:"total_added"`
	TotalFailed     int             `json:"total_failed"`
	ProcessingStats processingStats `json:"processing_stats"`
}

type batchResponse struct {
	Code int       `json:"code"`
	Data batchData `json:"data"`
}

// Client is the chunk-store's batch-insert HTTP client.
type Client struct {
	http *httpclient.Client
}

// New builds a Client from a ServiceConfig.
func New(cfg config.ServiceConfig) *Client {
	return &Client{http: httpclient.New(ServiceName, cfg, httpclient.DefaultTimeout)}
}

// BatchResult is the outcome of one sub-batch insert call.
type BatchResult struct {
	TotalAdded       int
	TotalFailed      int
	ProcessingErrors []string
}

// InsertBatch posts one sub-batch of chunks for (datasetID, docID). HTTP
// 200 with code=0 is success; anything else is reported as an error per
// spec.md §6.
func (c *Client) InsertBatch(ctx context.Context, datasetID, docID string, chunks []ChunkRequest, batchSize int) (BatchResult, error) {
	endpoint := fmt.Sprintf("/datasets/%s/documents/%s/chunks/batch", datasetID, docID)

	var resp batchResponse
	if err := c.http.Post(endpoint, batchRequest{Chunks: chunks, BatchSize: batchSize}, &resp); err != nil {
		return BatchResult{}, err
	}
	if resp.Code != 0 {
		return BatchResult{}, fmt.Errorf("chunkstore: batch insert returned code %d", resp.Code)
	}

	return BatchResult{
		TotalAdded:       resp.Data.TotalAdded,
		TotalFailed:      resp.Data.TotalFailed,
		ProcessingErrors: resp.Data.ProcessingStats.ProcessingErrors,
	}, nil
}
