package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []string
}

func newFakeQueue(ids ...string) *fakeQueue {
	return &fakeQueue{items: ids}
}

func (q *fakeQueue) Push(ctx context.Context, docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, docID)
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		id := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return id, true, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(timeout):
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

type fakeResolver struct{}

func (fakeResolver) GetDocument(ctx context.Context, docID string) (pipeline.Document, error) {
	return pipeline.Document{DocID: docID, DatasetID: "ds-1", TenantID: "tenant-1"}, nil
}

func (fakeResolver) GetKnowledgeBaseConfig(ctx context.Context, datasetID string) (pipeline.KnowledgeBaseConfig, error) {
	return pipeline.KnowledgeBaseConfig{DatasetID: datasetID}, nil
}

func (fakeResolver) GetOrCreateAPIToken(ctx context.Context, tenantID string) (string, error) {
	return "token-for-" + tenantID, nil
}

type fakeRunner struct {
	mu        sync.Mutex
	processed []pipeline.DocumentJob
}

func (r *fakeRunner) Process(ctx context.Context, job pipeline.DocumentJob) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, job)
	return Result{Success: true}
}

func (r *fakeRunner) snapshot() []pipeline.DocumentJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.DocumentJob, len(r.processed))
	copy(out, r.processed)
	return out
}

func TestDispatcherProcessesQueuedDocuments(t *testing.T) {
	queue := newFakeQueue("doc-1", "doc-2")
	runner := &fakeRunner{}
	d := &Dispatcher{Processor: runner, Metadata: fakeResolver{}, Queue: queue, WorkerCount: 2}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool {
		return len(runner.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, d.Stop(context.Background()))

	processed := runner.snapshot()
	ids := map[string]bool{}
	for _, job := range processed {
		ids[job.Doc.DocID] = true
		assert.Equal(t, "ds-1", job.Doc.DatasetID)
		assert.Equal(t, "token-for-tenant-1", job.Tenant.APIToken)
	}
	assert.True(t, ids["doc-1"])
	assert.True(t, ids["doc-2"])
}

func TestDispatcherStopIsIdempotentBeforeStart(t *testing.T) {
	d := &Dispatcher{}
	assert.NoError(t, d.Stop(context.Background()))
}

func TestNewDispatcherDefaultsWorkerCount(t *testing.T) {
	d := NewDispatcher(nil, nil, newFakeQueue(), 0)
	assert.Greater(t, d.WorkerCount, 0)
}
