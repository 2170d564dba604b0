// Package assembler implements ChunkAssembler (spec.md §4.6): builds the
// persisted ChunkRecord from an in-flight Chunk plus its resolved
// position, embedding, and tokenizer outputs. The content-derived id
// formula is grounded on batch_chunk_app.py's
// xxhash.xxh64((content+document_id+str(original_index)).encode()).hexdigest().
package assembler

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/chunkforge/pipeline/internal/embedding"
	"github.com/chunkforge/pipeline/internal/pipeline"
	"github.com/chunkforge/pipeline/internal/tokenizer"
)

// Assembler builds ChunkRecords from in-flight Chunks.
type Assembler struct {
	tok tokenizer.Tokenizer
}

// New builds an Assembler backed by tok for coarse/fine token derivation.
func New(tok tokenizer.Tokenizer) *Assembler {
	return &Assembler{tok: tok}
}

// Input bundles everything the assembler needs for one chunk beyond the
// chunk's own content: the owning document's identity, its resolved
// positions (nil when unresolved), and its embedding result.
type Input struct {
	Chunk       pipeline.Chunk
	DocID       string
	DatasetID   string
	TenantID    string
	DocName     string
	Positions   []pipeline.Position
	Embedding   embedding.Result
	CreatedAt   time.Time
}

// Assemble produces the persisted ChunkRecord for one chunk. CreatedAt is
// expected to be stable across all chunks of a single batch write, per
// spec.md §4.6's per-batch-coherent timestamp requirement.
func (a *Assembler) Assemble(in Input) (pipeline.ChunkRecord, error) {
	id := ContentID(in.Chunk.Content, in.DocID, in.Chunk.SourceIndex)

	coarse := a.tok.Coarse(in.Chunk.Content)
	fine := a.tok.Fine(coarse)

	keywordTokens := joinedTokens(a.tok, in.Chunk.ImportantKeywords)
	questionTokens := joinedTokens(a.tok, in.Chunk.Questions)

	var topOfFirst int
	var pageNumbers []int
	if len(in.Positions) > 0 {
		topOfFirst = in.Positions[0].Top
		for _, p := range in.Positions {
			pageNumbers = append(pageNumbers, p.Page)
		}
	} else {
		topOfFirst = in.Chunk.SourceIndex
	}

	return pipeline.ChunkRecord{
		ID:                  id,
		DocID:               in.DocID,
		DatasetID:           in.DatasetID,
		TenantID:            in.TenantID,
		Content:             in.Chunk.Content,
		ContentTokensCoarse: coarse,
		ContentTokensFine:   fine,
		Keywords:            in.Chunk.ImportantKeywords,
		KeywordTokens:       keywordTokens,
		Questions:           in.Chunk.Questions,
		QuestionTokens:      questionTokens,
		Positions:           in.Positions,
		TopOfFirstPosition:  topOfFirst,
		PageNumbers:         pageNumbers,
		Vector:              in.Embedding.Vector,
		VectorDim:           in.Embedding.Dimension,
		DocName:             in.DocName,
		CreatedAt:           in.CreatedAt,
		CreatedTS:           float64(in.CreatedAt.UnixNano()) / 1e9,
	}, nil
}

// ContentID computes the deterministic content-derived chunk id.
func ContentID(content, docID string, sourceIndex int) string {
	h := xxhash.Sum64String(content + docID + strconv.Itoa(sourceIndex))
	return strconv.FormatUint(h, 16)
}

func joinedTokens(tok tokenizer.Tokenizer, items []string) []string {
	if len(items) == 0 {
		return nil
	}
	var out []string
	for _, item := range items {
		out = append(out, tok.Coarse(item)...)
	}
	return out
}
