// Package metadatastore implements the document/knowledge-base/api_token
// metadata store (spec.md §6's metadata store interface), generalized
// from internal/adapters/postgres.go's *pgx.Conn connect/DDL idiom onto
// the document/knowledgebase/api_token schema used by
// original_source/.../utils.py's tenant/token lookups.
package metadatastore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chunkforge/pipeline/internal/pipeline"
)

// Store provides read access to documents/knowledge-bases and
// get-or-create access to per-tenant API tokens.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pgxpool.Pool. Schema creation is the deploying
// operator's responsibility (unlike the teacher's single-process demo,
// which creates its own tables on connect) since this pipeline expects
// to run against an already-migrated production schema.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetDocument loads a Document by id, including its parser_config.
func (s *Store) GetDocument(ctx context.Context, docID string) (pipeline.Document, error) {
	var doc pipeline.Document
	var parserConfig map[string]any

	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, kb_id, name, location, type, parser_config
		 FROM document WHERE id = $1`, docID)

	if err := row.Scan(&doc.DocID, &doc.TenantID, &doc.DatasetID, &doc.Name, &doc.FileLocation, &doc.FileType, &parserConfig); err != nil {
		return pipeline.Document{}, fmt.Errorf("metadatastore: get document %s: %w", docID, err)
	}
	doc.ParserConfig = parserConfig
	return doc, nil
}

// GetKnowledgeBaseConfig loads the dataset-level parser config.
func (s *Store) GetKnowledgeBaseConfig(ctx context.Context, datasetID string) (pipeline.KnowledgeBaseConfig, error) {
	var kb pipeline.KnowledgeBaseConfig
	var parserConfig map[string]any

	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, parser_config FROM knowledgebase WHERE id = $1`, datasetID)

	if err := row.Scan(&kb.DatasetID, &kb.TenantID, &parserConfig); err != nil {
		return pipeline.KnowledgeBaseConfig{}, fmt.Errorf("metadatastore: get knowledgebase %s: %w", datasetID, err)
	}
	kb.ParserConfig = parserConfig
	return kb, nil
}

// GetOrCreateAPIToken returns tenantID's API token, minting one in
// RAGFlow's own format ("ragflow-" + base64(uuid4_hex)[:32]) if none
// exists yet. Concurrent callers racing to mint a token are resolved by
// ON CONFLICT DO NOTHING followed by a re-select, so exactly one token
// ever wins per tenant.
func (s *Store) GetOrCreateAPIToken(ctx context.Context, tenantID string) (string, error) {
	token, err := s.selectToken(ctx, tenantID)
	if err == nil {
		return token, nil
	}

	minted, err := mintAPIToken()
	if err != nil {
		return "", fmt.Errorf("metadatastore: mint API token: %w", err)
	}

	now := time.Now()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO api_token (tenant_id, token, create_time, create_date, source)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID, minted, float64(now.UnixNano())/1e9, now.Format("2006-01-02"), "pipeline_auto")
	if err != nil {
		return "", fmt.Errorf("metadatastore: insert API token: %w", err)
	}

	return s.selectToken(ctx, tenantID)
}

func (s *Store) selectToken(ctx context.Context, tenantID string) (string, error) {
	var token string
	row := s.pool.QueryRow(ctx, `SELECT token FROM api_token WHERE tenant_id = $1 LIMIT 1`, tenantID)
	if err := row.Scan(&token); err != nil {
		return "", err
	}
	return token, nil
}

// mintAPIToken reproduces RAGFlow's token format: a random UUIDv4 (as
// its 32-hex-char form, matching Python's uuid4().hex), base64-encoded
// and truncated to 32 characters, prefixed with "ragflow-".
func mintAPIToken() (string, error) {
	hexUUID := strings.ReplaceAll(uuid.New().String(), "-", "")
	encoded := base64.StdEncoding.EncodeToString([]byte(hexUUID))
	if len(encoded) > 32 {
		encoded = encoded[:32]
	}
	return "ragflow-" + encoded, nil
}
