package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
)

// jobEnvelope is the wire shape of one queued unit of work: just enough to
// re-resolve a full pipeline.DocumentJob (Document, KnowledgeBaseConfig,
// TenantContext) against the metadata store at pop time, so the queue
// never goes stale relative to document state.
type jobEnvelope struct {
	DocID string `json:"doc_id"`
}

// Queue is the narrow contract Dispatcher needs from a job backend:
// push one doc id, block-pop the next. Grounded on pkg/redis/client.go's
// rueidis.Client wrapping, generalized from the teacher's Set/Get/Hash
// surface down to the one list operation this pipeline's ambient job
// ingress needs (spec.md §5 calls for "a concrete, ambient (non-web)
// ingress for jobs without reconstructing the missing web/RPC layer").
type Queue interface {
	Push(ctx context.Context, docID string) error
	Pop(ctx context.Context, timeout time.Duration) (string, bool, error)
}

// RedisQueue implements Queue as a rueidis-backed list (LPUSH/BRPOP),
// named by ListKey.
type RedisQueue struct {
	rd      rueidis.Client
	listKey string
}

// NewRedisQueue wraps an existing rueidis client.
func NewRedisQueue(rd rueidis.Client, listKey string) *RedisQueue {
	if listKey == "" {
		listKey = "pipeline:jobs"
	}
	return &RedisQueue{rd: rd, listKey: listKey}
}

// Push enqueues docID for processing.
func (q *RedisQueue) Push(ctx context.Context, docID string) error {
	data, err := sonic.Marshal(jobEnvelope{DocID: docID})
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	cmd := q.rd.B().Lpush().Key(q.listKey).Element(string(data)).Build()
	return q.rd.Do(ctx, cmd).Error()
}

// Pop blocks up to timeout for the next job. found is false on timeout.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	cmd := q.rd.B().Brpop().Key(q.listKey).Timeout(timeout.Seconds()).Build()
	resp := q.rd.Do(ctx, cmd)
	if resp.Error() != nil {
		if rueidis.IsRedisNil(resp.Error()) {
			return "", false, nil
		}
		return "", false, resp.Error()
	}

	// BRPOP replies [key, value].
	arr, err := resp.ToArray()
	if err != nil {
		return "", false, err
	}
	if len(arr) != 2 {
		return "", false, nil
	}
	raw, err := arr[1].ToString()
	if err != nil {
		return "", false, err
	}

	var env jobEnvelope
	if err := sonic.Unmarshal([]byte(raw), &env); err != nil {
		return "", false, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return env.DocID, true, nil
}
