// Package embedding implements EmbeddingClient (spec.md §4.5): batches
// (doc_name, text) pairs into model calls and blends the document-name
// vector with the content (or questions) vector. Request/response shapes
// and model tables are grounded on internal/clients/embedding/client.go,
// rewired onto internal/httpclient (resty) per internal/clients/base's
// idiom.
package embedding

import (
	"context"
	"fmt"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/httpclient"
)

const (
	ServiceName = "embedding"

	// DocNameWeight is the blend factor applied to the document-name
	// vector; the content (or questions, when present) vector carries
	// the remaining weight. Questions dominate when present — the
	// resolved reading of the blend's own open question.
	DocNameWeight     = 0.1
	ContentWeight     = 1 - DocNameWeight
)

// Request mirrors the upstream embeddings API request shape.
type Request struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type datum struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type response struct {
	Data  []datum `json:"data"`
	Usage usage   `json:"usage"`
}

// Pair is one (doc_name, text) input to embed, where text is either the
// chunk's content or its generated questions.
type Pair struct {
	DocName string
	Text    string
}

// Result is the blended, dimension-tagged output vector for one Pair.
// TokensSpent is the token cost of the whole EmbedBatch call that produced
// it; every Result of one call carries the same value.
type Result struct {
	Vector      []float32
	Dimension   int
	TokensSpent int
}

// Cache is an optional decoration point for a backing cache (Redis via
// internal/cache); nil disables caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// Client batches embedding calls and performs the doc-name/content blend.
type Client struct {
	http  *httpclient.Client
	model string
	cache Cache
}

// New builds a Client from a ServiceConfig. cache may be nil.
func New(cfg config.ServiceConfig, cache Cache) *Client {
	return &Client{
		http:  httpclient.New(ServiceName, cfg, httpclient.DefaultTimeout),
		model: cfg.Model,
		cache: cache,
	}
}

// EmbedBatch embeds every Pair's doc_name and text, blending them per
// pair, and returns one Result per input Pair in the same order.
func (c *Client) EmbedBatch(ctx context.Context, pairs []Pair) ([]Result, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	docNames := make([]string, len(pairs))
	texts := make([]string, len(pairs))
	for i, p := range pairs {
		docNames[i] = p.DocName
		texts[i] = p.Text
	}

	docVecs, docTokens, err := c.embedTexts(ctx, docNames)
	if err != nil {
		return nil, fmt.Errorf("embedding: doc-name batch: %w", err)
	}
	textVecs, textTokens, err := c.embedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: content batch: %w", err)
	}

	results := make([]Result, len(pairs))
	for i := range pairs {
		blended := blend(docVecs[i], textVecs[i], DocNameWeight, ContentWeight)
		results[i] = Result{
			Vector:      blended,
			Dimension:   len(blended),
			TokensSpent: docTokens + textTokens,
		}
	}
	return results, nil
}

func (c *Client) embedTexts(ctx context.Context, texts []string) ([][]float32, int, error) {
	vecs := make([][]float32, len(texts))
	misses := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))

	for i, t := range texts {
		key := cacheKey(c.model, t)
		if c.cache != nil {
			if v, ok := c.cache.Get(ctx, key); ok {
				vecs[i] = v
				continue
			}
		}
		misses = append(misses, t)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		return vecs, 0, nil
	}

	var result response
	req := Request{Model: c.model, Input: misses, EncodingFormat: "float"}
	if err := c.http.Post("/embeddings", req, &result); err != nil {
		return nil, 0, err
	}
	if len(result.Data) != len(misses) {
		return nil, 0, fmt.Errorf("embedding: expected %d vectors, got %d", len(misses), len(result.Data))
	}

	for j, d := range result.Data {
		origIdx := missIdx[j]
		vecs[origIdx] = d.Embedding
		if c.cache != nil {
			c.cache.Set(ctx, cacheKey(c.model, misses[j]), d.Embedding)
		}
	}
	return vecs, result.Usage.TotalTokens, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}

// blend computes alpha*a + (1-alpha)*b element-wise. If dimensions
// mismatch or either vector is empty, the non-empty/matching vector (or
// nil) is returned as-is rather than panicking.
func blend(a, b []float32, alphaA, alphaB float64) []float32 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	if len(a) != len(b) {
		return b
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = float32(alphaA)*a[i] + float32(alphaB)*b[i]
	}
	return out
}
