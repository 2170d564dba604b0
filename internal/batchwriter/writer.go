// Package batchwriter implements BatchWriter (spec.md §4.7): inserts
// ChunkRecords into the chunk store in fixed-size sub-batches, retrying
// each sub-batch with exponential backoff, and aggregates success/failure
// counts. Retry policy uses github.com/cenkalti/backoff/v5's exponential
// backoff with the library's default randomization factor (0.5): each wait
// is drawn within ±50% of the current interval, not from zero up to it
// (no full jitter). Dynamic batch sizing is an optional,
// off-by-default deviation recovered from ragflow_build.py's
// add_chunks_with_positions (documented in DESIGN.md).
package batchwriter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/chunkforge/pipeline/internal/chunkstore"
	"github.com/chunkforge/pipeline/internal/httpclient"
	"github.com/chunkforge/pipeline/internal/pipeline"
)

// Config controls sub-batch sizing and retry behavior.
type Config struct {
	SubBatchSize    int
	SubBatchRetries int
	DynamicSizing   bool
}

func (c *Config) setDefaults() {
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = 10
	}
	if c.SubBatchRetries <= 0 {
		c.SubBatchRetries = 2
	}
}

// Store is the chunk-store dependency; satisfied by *chunkstore.Client.
type Store interface {
	InsertBatch(ctx context.Context, datasetID, docID string, chunks []chunkstore.ChunkRequest, batchSize int) (chunkstore.BatchResult, error)
}

// Writer implements BatchWriter.
type Writer struct {
	store Store
	cfg   Config
}

// New builds a Writer.
func New(store Store, cfg Config) *Writer {
	cfg.setDefaults()
	return &Writer{store: store, cfg: cfg}
}

// Write inserts records for (datasetID, docID) in fixed-size sub-batches,
// retrying each sub-batch independently. A sub-batch that exhausts its
// retries is recorded as failed but does not abort remaining sub-batches
// (spec.md §4.6's lifecycle invariant: earlier persisted chunks are never
// corrupted by a later failure).
func (w *Writer) Write(ctx context.Context, datasetID, docID string, records []pipeline.ChunkRecord) (pipeline.BatchWriteResult, error) {
	size := w.batchSize(len(records))

	result := pipeline.BatchWriteResult{
		Stats: pipeline.ProcessingStats{TotalRequested: len(records), BatchSizeUsed: size},
	}

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		sub := records[start:end]
		reqs := toChunkRequests(sub)

		res, err := w.insertWithRetry(ctx, datasetID, docID, reqs, size)
		result.Stats.BatchesProcessed++
		if err != nil {
			result.FailedCount += len(sub)
			result.ProcessingErrors = append(result.ProcessingErrors, err.Error())
			continue
		}
		result.AddedCount += res.TotalAdded
		result.FailedCount += res.TotalFailed
		result.ProcessingErrors = append(result.ProcessingErrors, res.ProcessingErrors...)
	}

	result.Stats.ProcessingErrors = result.ProcessingErrors
	return result, nil
}

func (w *Writer) insertWithRetry(ctx context.Context, datasetID, docID string, reqs []chunkstore.ChunkRequest, size int) (chunkstore.BatchResult, error) {
	op := func() (chunkstore.BatchResult, error) {
		res, err := w.store.InsertBatch(ctx, datasetID, docID, reqs, size)
		if err != nil {
			if !httpclient.IsRetryableError(err) {
				return chunkstore.BatchResult{}, backoff.Permanent(err)
			}
			return chunkstore.BatchResult{}, err
		}
		return res, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(w.cfg.SubBatchRetries+1)),
	)
}

// batchSize returns the fixed configured sub-batch size unless dynamic
// sizing is enabled, in which case it follows the recovered heuristic
// (<=10 total -> 5, <=50 -> 10, else -> 20).
func (w *Writer) batchSize(total int) int {
	if !w.cfg.DynamicSizing {
		return w.cfg.SubBatchSize
	}
	switch {
	case total <= 10:
		return 5
	case total <= 50:
		return 10
	default:
		return 20
	}
}

func toChunkRequests(records []pipeline.ChunkRecord) []chunkstore.ChunkRequest {
	reqs := make([]chunkstore.ChunkRequest, len(records))
	for i, r := range records {
		top := r.TopOfFirstPosition
		reqs[i] = chunkstore.ChunkRequest{
			Content:           r.Content,
			ImportantKeywords: r.Keywords,
			Questions:         r.Questions,
			Positions:         r.Positions,
			TopInt:            &top,
		}
	}
	return reqs
}
