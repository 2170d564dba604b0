// Package cache implements an optional rueidis-backed cache for embedding
// vectors and parse-service responses, grounded on internal/redis/cache.go's
// key-prefix-plus-TTL-constant idiom and pkg/redis/client.go's rueidis
// client construction. Unlike the teacher's CacheService, which also caches
// sessions, search results and user data, this package covers only the two
// concerns the pipeline needs: embeddings and parse results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"

	"github.com/chunkforge/pipeline/internal/config"
	"github.com/chunkforge/pipeline/internal/pipeline"
)

// TTLs for each cached concern, mirroring internal/redis/cache.go's
// per-concern constant table.
const (
	EmbeddingTTL   = 24 * time.Hour
	ParseResultTTL = 7 * 24 * time.Hour
)

// Client wraps a rueidis.Client with JSON get/set helpers.
type Client struct {
	rd rueidis.Client
}

// New dials Redis using the pipeline's Redis config block.
func New(cfg config.Config) (*Client, error) {
	rd, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)},
		Password:    cfg.Redis.Password,
		SelectDB:    cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: dial redis: %w", err)
	}
	return &Client{rd: rd}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() { c.rd.Close() }

func (c *Client) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	cmd := c.rd.B().Set().Key(key).Value(rueidis.BinaryString(data)).ExSeconds(int64(ttl.Seconds())).Build()
	return c.rd.Do(ctx, cmd).Error()
}

func (c *Client) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	cmd := c.rd.B().Get().Key(key).Build()
	resp := c.rd.Do(ctx, cmd)
	if resp.Error() != nil {
		if rueidis.IsRedisNil(resp.Error()) {
			return false, nil
		}
		return false, resp.Error()
	}
	raw, err := resp.ToString()
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := sonic.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// EmbeddingCache adapts Client to embedding.Cache: Get(ctx,key) ([]float32,
// bool) and Set(ctx,key,vec). Lookup/store failures are treated as cache
// misses rather than propagated, since embedding cache is a pure
// optimization.
type EmbeddingCache struct {
	c *Client
}

// NewEmbeddingCache builds the embedding.Cache adapter over c.
func NewEmbeddingCache(c *Client) *EmbeddingCache {
	return &EmbeddingCache{c: c}
}

func embeddingKey(key string) string { return "pipeline:embedding:" + key }

// Get returns the cached vector for key, if present.
func (e *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	var vec []float32
	ok, err := e.c.getJSON(ctx, embeddingKey(key), &vec)
	if err != nil || !ok {
		return nil, false
	}
	return vec, true
}

// Set stores vec under key with EmbeddingTTL. Errors are swallowed since
// failing to cache must never fail embedding.
func (e *EmbeddingCache) Set(ctx context.Context, key string, vec []float32) {
	_ = e.c.setJSON(ctx, embeddingKey(key), vec, EmbeddingTTL)
}

// ParseResult is the cached shape of a parse-service response. It mirrors
// parseclient.Result field-for-field without importing that package
// (which would create an import cycle: parseclient would need to depend
// on cache for an optional cache-aside wrapper).
type ParseResult struct {
	MDContent   string                `json:"md_content"`
	Info        pipeline.LayoutRecord `json:"info"`
	ContentList []any                 `json:"content_list"`
	Images      map[string]string     `json:"images"`
	Backend     string                `json:"backend"`
}

func parseKey(fileHash string) string { return "pipeline:parseresult:" + fileHash }

// GetParseResult returns the cached parse result for fileHash, if present.
func (c *Client) GetParseResult(ctx context.Context, fileHash string) (ParseResult, bool) {
	var r ParseResult
	ok, err := c.getJSON(ctx, parseKey(fileHash), &r)
	if err != nil || !ok {
		return ParseResult{}, false
	}
	return r, true
}

// SetParseResult caches a parse-service response for fileHash. Errors are
// swallowed since parse caching is a pure optimization over a service that
// already has its own durability.
func (c *Client) SetParseResult(ctx context.Context, fileHash string, r ParseResult) {
	_ = c.setJSON(ctx, parseKey(fileHash), r, ParseResultTTL)
}
