// Package pipeline defines the shared data model that flows between the
// chunk materialization stages: Tokenizer, MarkdownSplitter,
// SpreadsheetSplitter, PositionResolver, EmbeddingClient, ChunkAssembler,
// BatchWriter, PipelineOrchestrator, Validator, ProgressReporter and
// ImageSink all read and write these types rather than passing ad-hoc maps
// between each other.
package pipeline

import "time"

// DocumentStatus mirrors the five-state run field of the system this
// pipeline replaces: pending, running, cancelled, success, failed.
type DocumentStatus string

const (
	StatusPending DocumentStatus = "0"
	StatusRunning DocumentStatus = "1"
	StatusCancel  DocumentStatus = "2"
	StatusSuccess DocumentStatus = "3"
	StatusFailed  DocumentStatus = "4"
)

// Document is the read-only input record describing a single ingestion
// target. It is owned by the metadata store; the pipeline never mutates it
// beyond the status fields written through ProgressReporter.
type Document struct {
	DocID        string
	TenantID     string
	DatasetID    string
	Name         string
	FileLocation string
	FileType     string
	ParserConfig map[string]any
}

// KnowledgeBaseConfig carries the per-dataset chunking configuration that
// sits between global defaults and a document's own ParserConfig in the
// precedence chain resolved once per document into an EffectiveConfig.
type KnowledgeBaseConfig struct {
	DatasetID    string
	TenantID     string
	ParserConfig map[string]any
}

// TenantContext identifies the tenant on whose behalf a document is being
// processed, and carries the auto-minted API token used to call the chunk
// store and metadata store on its behalf.
type TenantContext struct {
	TenantID string
	APIToken string
}

// BlockType enumerates the layout block kinds the parse service emits.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockTitle   BlockType = "title"
	BlockTable   BlockType = "table"
	BlockImage   BlockType = "image"
	BlockFormula BlockType = "formula"
)

// BBox is a layout bounding box in the parse service's page coordinate
// space: left, right, top, bottom.
type BBox struct {
	Left, Right, Top, Bottom int
}

// LayoutBlock is one entry of the LayoutRecord produced by the parse
// service. PageIndex is 0-indexed internally, as the parse service emits
// it; PositionResolver converts to the 1-indexed form exposed downstream.
type LayoutBlock struct {
	PageIndex int
	BBox      BBox
	BlockType BlockType
	Lines     []string
	Text      string
}

// LayoutRecord is the ordered sequence of layout blocks for one document.
type LayoutRecord struct {
	Blocks []LayoutBlock
}

// Position is a resolved (page, left, right, top, bottom) tuple, 1-indexed
// on page per spec; all other components are non-negative integers.
type Position struct {
	Page                   int
	Left, Right, Top, Bottom int
}

// Chunk is the in-flight record produced by a splitter, before embedding
// and assembly.
type Chunk struct {
	Content            string
	ImportantKeywords  []string
	Questions          []string
	Positions          []Position
	SourceIndex        int
	Oversized          bool
	TopInt             int // fallback position hint == SourceIndex when Positions is nil
}

// ChunkRecord is the persisted, immutable form of a Chunk after assembly.
// Per the lifecycle contract, once built a ChunkRecord is never mutated.
type ChunkRecord struct {
	ID                  string
	DocID               string
	DatasetID           string
	TenantID            string
	Content             string
	ContentTokensCoarse []string
	ContentTokensFine   []string
	Keywords            []string
	KeywordTokens       []string
	Questions           []string
	QuestionTokens      []string
	Positions           []Position
	TopOfFirstPosition  int
	PageNumbers         []int
	Vector              []float32
	VectorDim           int
	DocName             string
	CreatedAt           time.Time
	CreatedTS           float64
}

// ProcessingStats aggregates one batch-insert call's outcome, matching the
// chunk store's response envelope.
type ProcessingStats struct {
	TotalRequested   int
	BatchSizeUsed    int
	BatchesProcessed int
	EmbeddingCost    int
	ProcessingErrors []string
}

// BatchWriteResult is BatchWriter's return value.
type BatchWriteResult struct {
	AddedCount      int
	FailedCount     int
	ProcessingErrors []string
	ChunksReturned  []ChunkRecord
	Stats           ProcessingStats
}

// DocumentJob is a queued unit of orchestration work: a document plus its
// resolved knowledge-base config, pulled off the dispatcher's queue.
type DocumentJob struct {
	Doc    Document
	KBCfg  KnowledgeBaseConfig
	Tenant TenantContext
}
