// Package embeddings turns knowledge chunks into vectors.
package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultDimension matches the research_knowledge table.
const DefaultDimension = 1536

const googleBatchSize = 100

// Embedder produces one vector per text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// GoogleEmbedder wraps Gemini embeddings.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

func NewGoogleEmbedder(ctx context.Context, model, apiKey string, dimension int) (*GoogleEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &GoogleEmbedder{client: client, model: model, dimension: int32(dimension)}, nil
}

func (e *GoogleEmbedder) Dimension() int { return int(e.dimension) }

func (e *GoogleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in batches, preserving order.
func (e *GoogleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += googleBatchSize {
		end := min(start+googleBatchSize, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
		}
		dim := e.dimension
		res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			result = append(result, emb.Values)
		}
	}
	return result, nil
}
