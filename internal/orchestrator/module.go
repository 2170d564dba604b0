package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"
	"go.uber.org/fx"

	"github.com/chunkforge/pipeline/internal/assembler"
	"github.com/chunkforge/pipeline/internal/batchwriter"
	"github.com/chunkforge/pipeline/internal/cache"
	"github.com/chunkforge/pipeline/internal/chunkstore"
	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/embedding"
	"github.com/chunkforge/pipeline/internal/imagesink"
	"github.com/chunkforge/pipeline/internal/logger"
	"github.com/chunkforge/pipeline/internal/metadatastore"
	"github.com/chunkforge/pipeline/internal/parseclient"
	"github.com/chunkforge/pipeline/internal/progress"
	"github.com/chunkforge/pipeline/internal/storage"
	"github.com/chunkforge/pipeline/internal/supervisor"
	"github.com/chunkforge/pipeline/internal/tokenizer"
)

// Module is the fx dependency-injection graph for the worker process,
// mirroring internal/server/modules.go's infrastructure/clients/services
// layering (fx.Module/fx.Provide) one-for-one, but wiring a Dispatcher
// instead of an HTTP server.
var Module = fx.Options(
	InfrastructureModule,
	ClientsModule,
	PipelineModule,
	fx.Invoke(RegisterLifecycle),
)

// InfrastructureModule provides configuration, logging and the shared
// connection pools (Postgres, Redis, object store).
var InfrastructureModule = fx.Module("infrastructure",
	fx.Provide(
		NewAppConfig,
		NewAppLogger,
		NewDatabasePool,
		NewRedisClient,
		NewCacheClient,
		NewMinIOClient,
	),
)

// ClientsModule provides the five external-service client adapters.
var ClientsModule = fx.Module("clients",
	fx.Provide(
		NewTokenizer,
		NewEmbeddingClient,
		NewParseClient,
		NewChunkStoreClient,
		NewMetadataStore,
		NewImageSink,
		NewSourceFetcher,
	),
)

// PipelineModule provides the assembler/writer/progress stack and the
// Processor/Dispatcher themselves.
var PipelineModule = fx.Module("pipeline",
	fx.Provide(
		NewAssembler,
		NewBatchWriter,
		NewProgressReporter,
		NewProcessor,
		NewQueue,
		NewDispatcherFromConfig,
	),
)

// NewAppConfig loads configuration the same way the teacher's
// NewAppConfig does, from the working directory.
func NewAppConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// NewAppLogger initializes both loggers this codebase carries: slog for
// request-scoped (per-document) logs, zap for the process-lifetime
// supervisor. Mirrors the teacher's NewAppLogger, split across the two
// packages that divide this concern (internal/logger, internal/supervisor).
func NewAppLogger() (*slog.Logger, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := supervisor.InitLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize supervisor logger: %w", err)
	}
	return logger.Get(), nil
}

// NewDatabasePool opens the Postgres pool backing ProgressReporter and
// the metadata store.
func NewDatabasePool(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		pool.Close()
		return nil
	}})
	return pool, nil
}

// NewRedisClient dials the rueidis client shared by the job queue and the
// embedding/parse-result cache.
func NewRedisClient(lc fx.Lifecycle, cfg *config.Config) (rueidis.Client, error) {
	rd, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)},
		Password:    cfg.Redis.Password,
		SelectDB:    cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		rd.Close()
		return nil
	}})
	return rd, nil
}

// NewCacheClient wraps the shared rueidis client for embedding/parse-result
// caching.
func NewCacheClient(cfg *config.Config) (*cache.Client, error) {
	return cache.New(*cfg)
}

// NewMinIOClient builds the object-store client backing both source-file
// fetch and image upload, and grants the bucket's public-read policy.
func NewMinIOClient(cfg *config.Config) (*storage.MinIOClient, error) {
	mc, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		BucketName:      cfg.ObjectStore.BucketName,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	if err := mc.SetPublicReadPolicy(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return mc, nil
}

// NewTokenizer builds the shared Tokenizer used by MarkdownSplitter and
// ChunkAssembler.
func NewTokenizer() (tokenizer.Tokenizer, error) {
	return tokenizer.New()
}

// NewEmbeddingClient wires EmbeddingClient to the embedding cache.
func NewEmbeddingClient(cfg *config.Config, c *cache.Client) *embedding.Client {
	return embedding.New(cfg.EmbeddingService, cache.NewEmbeddingCache(c))
}

// NewParseClient builds the parse-service client.
func NewParseClient(cfg *config.Config) *parseclient.Client {
	return parseclient.New(cfg.ParseService.ServiceConfig)
}

// NewChunkStoreClient builds the chunk-store batch-insert client.
func NewChunkStoreClient(cfg *config.Config) *chunkstore.Client {
	return chunkstore.New(cfg.ChunkStore)
}

// NewMetadataStore wraps the shared database pool.
func NewMetadataStore(pool *pgxpool.Pool) *metadatastore.Store {
	return metadatastore.New(pool)
}

// NewImageSink wraps the object store adapter with the pipeline's image
// decode/upload/rewrite logic.
func NewImageSink(mc *storage.MinIOClient, cfg *config.Config, log *slog.Logger) *imagesink.Sink {
	adapter := newObjectStoreAdapter(mc)
	return imagesink.New(adapter, cfg.ObjectStore.PublicBaseURL, log)
}

// NewSourceFetcher exposes the object-store adapter's download side for
// Processor's fetch stage.
func NewSourceFetcher(mc *storage.MinIOClient) SourceFetcher {
	return newObjectStoreAdapter(mc)
}

// NewAssembler builds the ChunkAssembler over the shared Tokenizer.
func NewAssembler(tok tokenizer.Tokenizer) *assembler.Assembler {
	return assembler.New(tok)
}

// NewBatchWriter wires BatchWriter's sub-batch policy from PipelineConfig.
func NewBatchWriter(store *chunkstore.Client, cfg *config.Config) *batchwriter.Writer {
	return batchwriter.New(store, batchwriter.Config{
		SubBatchSize:    cfg.Pipeline.SubBatchSize,
		SubBatchRetries: cfg.Pipeline.SubBatchRetries,
		DynamicSizing:   cfg.Pipeline.DynamicBatching,
	})
}

// NewProgressReporter wraps the shared database pool.
func NewProgressReporter(pool *pgxpool.Pool, log *slog.Logger) *progress.Reporter {
	return progress.New(pool, log)
}

// NewProcessor assembles the full per-document collaborator set.
func NewProcessor(
	tok tokenizer.Tokenizer,
	source SourceFetcher,
	parse *parseclient.Client,
	emb *embedding.Client,
	asm *assembler.Assembler,
	writer *batchwriter.Writer,
	reporter *progress.Reporter,
	images *imagesink.Sink,
	parseCache *cache.Client,
	cfg *config.Config,
) *Processor {
	return &Processor{
		Tokenizer:    tok,
		Source:       source,
		ParseClient:  parse,
		Embedding:    emb,
		Assembler:    asm,
		Writer:       writer,
		Progress:     reporter,
		Images:       images,
		ParseCache:   parseCache,
		GlobalConfig: cfg,
	}
}

// NewQueue builds the Redis-backed job queue.
func NewQueue(rd rueidis.Client, cfg *config.Config) Queue {
	return NewRedisQueue(rd, cfg.Queue.ListKey)
}

// NewDispatcherFromConfig sizes the worker pool from PipelineConfig,
// falling back to runtime.GOMAXPROCS(0) per spec.md §5.
func NewDispatcherFromConfig(proc *Processor, meta *metadatastore.Store, queue Queue, cfg *config.Config) *Dispatcher {
	workers := cfg.Pipeline.WorkerCount
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return NewDispatcher(proc, meta, queue, workers)
}
