package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chunkforge/pipeline/internal/metadatastore"
	"github.com/chunkforge/pipeline/internal/pipeline"
	"github.com/chunkforge/pipeline/internal/supervisor"
)

// pollInterval is how long each worker blocks on the queue before
// re-checking for cancellation.
const pollInterval = 2 * time.Second

// jobRunner is the narrow Processor contract Dispatcher depends on,
// satisfied by *Processor; kept as an interface so worker-pool dispatch
// can be tested against a fake without a live Postgres/HTTP stack.
type jobRunner interface {
	Process(ctx context.Context, job pipeline.DocumentJob) Result
}

// jobResolver is the narrow metadatastore.Store contract Dispatcher needs
// to turn a queued doc id into a full DocumentJob, satisfied by
// *metadatastore.Store.
type jobResolver interface {
	GetDocument(ctx context.Context, docID string) (pipeline.Document, error)
	GetKnowledgeBaseConfig(ctx context.Context, datasetID string) (pipeline.KnowledgeBaseConfig, error)
	GetOrCreateAPIToken(ctx context.Context, tenantID string) (string, error)
}

// Dispatcher is the multi-document worker pool described in spec.md §5: a
// pool of workers, sized to the host by default, each pulling one
// DocumentJob at a time off Queue and running it end-to-end through
// Processor. Built as an fx-managed component (grounded on
// internal/server/modules.go's fx.Module/fx.Provide/fx.Lifecycle wiring,
// here driving a Dispatcher instead of an HTTP server) using
// golang.org/x/sync/errgroup for the bounded worker fan-out.
type Dispatcher struct {
	Processor   jobRunner
	Metadata    jobResolver
	Queue       Queue
	WorkerCount int

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher builds a Dispatcher with workerCount workers (defaulting
// to runtime.GOMAXPROCS(0), per spec.md §5's "pool size defaults to
// runtime.GOMAXPROCS(0)").
func NewDispatcher(proc *Processor, meta *metadatastore.Store, queue Queue, workerCount int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	return &Dispatcher{Processor: proc, Metadata: meta, Queue: queue, WorkerCount: workerCount}
}

// Start launches the worker pool. Each worker polls Queue.Pop until ctx is
// canceled; on cancellation, in-flight documents finish their current
// sub-batch (BatchWriter's own retry loop respects ctx) and no new work is
// scheduled, per spec.md §5's cancellation contract.
func (d *Dispatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	d.group = g

	for i := 0; i < d.WorkerCount; i++ {
		g.Go(func() error {
			d.runWorker(gctx)
			return nil
		})
	}
	return nil
}

// Stop cancels every worker and waits for the current poll/process cycle
// to return.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	log := supervisor.Log()
	for {
		if ctx.Err() != nil {
			return
		}

		docID, found, err := d.Queue.Pop(ctx, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dispatcher: queue pop failed", zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		job, err := d.resolveJob(ctx, docID)
		if err != nil {
			log.Error("dispatcher: resolve job failed", zap.String("doc_id", docID), zap.Error(err))
			continue
		}

		result := d.Processor.Process(ctx, job)
		if result.Err != nil {
			log.Error("dispatcher: document failed", zap.String("doc_id", docID), zap.Error(result.Err))
		}
	}
}

func (d *Dispatcher) resolveJob(ctx context.Context, docID string) (pipeline.DocumentJob, error) {
	doc, err := d.Metadata.GetDocument(ctx, docID)
	if err != nil {
		return pipeline.DocumentJob{}, err
	}
	kb, err := d.Metadata.GetKnowledgeBaseConfig(ctx, doc.DatasetID)
	if err != nil {
		return pipeline.DocumentJob{}, err
	}
	token, err := d.Metadata.GetOrCreateAPIToken(ctx, doc.TenantID)
	if err != nil {
		return pipeline.DocumentJob{}, err
	}
	return pipeline.DocumentJob{
		Doc:   doc,
		KBCfg: kb,
		Tenant: pipeline.TenantContext{
			TenantID: doc.TenantID,
			APIToken: token,
		},
	}, nil
}

// RegisterLifecycle wires Dispatcher's Start/Stop into an fx app, mirroring
// internal/server/modules.go's StartHTTPServer hook shape.
func RegisterLifecycle(lc fx.Lifecycle, d *Dispatcher, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			supervisor.Log().Info("starting dispatcher", zap.Int("workers", d.WorkerCount))
			if err := d.Start(ctx); err != nil {
				return err
			}
			go func() {
				if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					supervisor.Log().Error("dispatcher exited", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			supervisor.Log().Info("stopping dispatcher")
			return d.Stop(ctx)
		},
	})
}
