// Package knowledge indexes user resources and answers similarity queries
// over them.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/types"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// VectorStore is the subset of vectorstore.PGVectorStore the store needs.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, embedding []float32, topK int, resourceIDs []string) ([]vectorstore.SimilaritySearchResult, error)
	DeleteByResource(ctx context.Context, resourceID string) (int64, error)
	GetContentByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error)
}

// Splitter chunks text.
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// Chunk is one search hit.
type Chunk struct {
	ResourceID   string  `json:"resourceId"`
	ResourceName string  `json:"resourceName"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// Store indexes resources into a vector store.
type Store struct {
	vectors     VectorStore
	embedder    embeddings.Embedder
	newSplitter func(resourceType string) Splitter
	Logger      *slog.Logger
}

func NewStore(vectors VectorStore, embedder embeddings.Embedder, chunkSize, chunkOverlap int) *Store {
	return &Store{
		vectors:  vectors,
		embedder: embedder,
		newSplitter: func(resourceType string) Splitter {
			return splitter.ForType(resourceType, chunkSize, chunkOverlap)
		},
		Logger: slog.Default(),
	}
}

// Ingest replaces the indexed chunks of r with chunks of text and returns
// how many were stored.
func (s *Store) Ingest(ctx context.Context, r types.Resource, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("resource %s has no text", r.ID)
	}
	chunks, err := s.newSplitter(r.Type).SplitText(text)
	if err != nil {
		return 0, fmt.Errorf("failed to split resource %s: %w", r.ID, err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("resource %s produced no chunks", r.ID)
	}

	vecs, err := s.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed resource %s: %w", r.ID, err)
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vectorstore.Document{
			Content: chunk,
			Metadata: map[string]any{
				vectorstore.ResourceKey: r.ID,
				"name":                  r.Name,
				"type":                  r.Type,
				"chunk":                 i,
			},
			Embedding: vecs[i],
		}
	}

	if _, err := s.vectors.DeleteByResource(ctx, r.ID); err != nil {
		return 0, err
	}
	if err := s.vectors.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to store resource %s: %w", r.ID, err)
	}
	s.Logger.Info("Indexed resource", "resource", r.ID, "name", r.Name, "chunks", len(docs))
	return len(docs), nil
}

// Search returns the topK chunks closest to query. An empty resourceIDs
// searches every resource.
func (s *Store) Search(ctx context.Context, query string, resourceIDs []string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.vectors.SimilaritySearch(ctx, vec, topK, resourceIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		name, _ := h.Document.Metadata["name"].(string)
		out = append(out, Chunk{
			ResourceID:   h.Document.ResourceID(),
			ResourceName: name,
			Content:      h.Document.Content,
			Score:        h.Score,
		})
	}
	return out, nil
}

// Content reassembles the indexed text of one resource.
func (s *Store) Content(ctx context.Context, resourceID string) (string, error) {
	docs, err := s.vectors.GetContentByMetadata(ctx, map[string]any{vectorstore.ResourceKey: resourceID})
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Remove drops every chunk of a resource.
func (s *Store) Remove(ctx context.Context, resourceID string) error {
	n, err := s.vectors.DeleteByResource(ctx, resourceID)
	if err != nil {
		return err
	}
	s.Logger.Debug("Removed resource chunks", "resource", resourceID, "count", n)
	return nil
}

// Format renders hits as prompt context.
func Format(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "<knowledge name=%q>\n%s\n</knowledge>\n\n", c.ResourceName, c.Content)
	}
	return strings.TrimSpace(b.String())
}
