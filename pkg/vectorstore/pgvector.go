// Package vectorstore stores knowledge chunks and their embeddings in
// Postgres using pgvector.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ResourceKey is the metadata key linking a chunk to its knowledge resource.
const ResourceKey = "resource_id"

// Document is one embedded chunk.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// ResourceID returns the owning resource recorded in the metadata.
func (d Document) ResourceID() string {
	id, _ := d.Metadata[ResourceKey].(string)
	return id
}

// PGVectorStore handles pgvector operations on one collection table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// isValidTableName allows lowercase-led identifiers of at most 63 bytes.
func isValidTableName(name string) bool {
	matched, _ := regexp.MatchString(`^[a-z_][a-zA-Z0-9_]{0,62}$`, name)
	return matched
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long", tableName)
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// Init creates the vector extension, the collection table and its index.
func (vs *PGVectorStore) Init(ctx context.Context, dimension int) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, vs.table(), dimension)
	if _, err := vs.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", vs.tableName, err)
	}

	// HNSW supports at most 2000 dimensions; larger vectors use exact search.
	if dimension <= 2000 {
		indexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, pgx.Identifier{vs.tableName + "_embedding_idx"}.Sanitize(), vs.table())
		if _, err := vs.pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", vs.tableName, err)
		}
	}
	return nil
}

// AddDocuments inserts documents in a single batch.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (content, metadata, embedding)
		VALUES ($1, $2, $3)
	`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}
	return nil
}

// SimilaritySearchResult is a document with its cosine similarity.
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// similarityQuery returns the search statement; with filtered set it
// restricts results to the resource ids bound to $2.
func similarityQuery(table string, filtered bool) string {
	if filtered {
		return fmt.Sprintf(`
			SELECT id, content, metadata, 1 - (embedding <=> $1) as similarity
			FROM %s
			WHERE metadata->>'%s' = ANY($2)
			ORDER BY embedding <=> $1
			LIMIT $3
		`, table, ResourceKey)
	}
	return fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) as similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, table)
}

// SimilaritySearch returns the topK closest chunks, optionally limited to
// the given resources.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, resourceIDs []string) ([]SimilaritySearchResult, error) {
	embedding := pgvector.NewVector(queryEmbedding)

	var args []any
	if len(resourceIDs) > 0 {
		args = []any{embedding, resourceIDs, topK}
	} else {
		args = []any{embedding, topK}
	}

	rows, err := vs.pool.Query(ctx, similarityQuery(vs.table(), len(resourceIDs) > 0), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SimilaritySearchResult
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		results = append(results, SimilaritySearchResult{Document: doc, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// DeleteByResource removes every chunk of a resource.
func (vs *PGVectorStore) DeleteByResource(ctx context.Context, resourceID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'%s' = $1`, vs.table(), ResourceKey)
	tag, err := vs.pool.Exec(ctx, query, resourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resource %s: %w", resourceID, err)
	}
	return tag.RowsAffected(), nil
}

// GetContentByMetadata retrieves documents matching a JSON filter. The
// filter supports $and, $or and $not; other keys are containment matches.
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, filter map[string]any) ([]Document, error) {
	var args []any
	whereClause, err := vs.buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata
		FROM %s
		WHERE %s
		ORDER BY created_at
	`, vs.table(), whereClause)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return documents, nil
}

// buildMetadataQuery recursively builds a SQL WHERE clause for a filter.
func (vs *PGVectorStore) buildMetadataQuery(filter map[string]any, args *[]any) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	var conditions []string
	for _, key := range sortedKeys(filter) {
		value := filter[key]
		switch key {
		case "$and", "$or":
			list, ok := value.([]any)
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var sub []string
			for _, item := range list {
				subMap, ok := item.(map[string]any)
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				subQuery, err := vs.buildMetadataQuery(subMap, args)
				if err != nil {
					return "", err
				}
				sub = append(sub, "("+subQuery+")")
			}
			if len(sub) == 0 {
				continue
			}
			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(sub, op)+")")

		case "$not":
			subMap, ok := value.(map[string]any)
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			subQuery, err := vs.buildMetadataQuery(subMap, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+subQuery+")")

		default:
			jsonBytes, err := json.Marshal(map[string]any{key: value})
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, jsonBytes)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
