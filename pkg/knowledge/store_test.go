package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/types"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

type memVectors struct {
	docs      []vectorstore.Document
	lastIDs   []string
	searchErr error
}

func (m *memVectors) AddDocuments(ctx context.Context, docs []vectorstore.Document) error {
	m.docs = append(m.docs, docs...)
	return nil
}

// SimilaritySearch scores by the first vector component.
func (m *memVectors) SimilaritySearch(ctx context.Context, embedding []float32, topK int, resourceIDs []string) ([]vectorstore.SimilaritySearchResult, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	m.lastIDs = resourceIDs
	var out []vectorstore.SimilaritySearchResult
	for _, d := range m.docs {
		if len(resourceIDs) > 0 && !contains(resourceIDs, d.ResourceID()) {
			continue
		}
		out = append(out, vectorstore.SimilaritySearchResult{Document: d, Score: float64(d.Embedding[0])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memVectors) DeleteByResource(ctx context.Context, id string) (int64, error) {
	kept := m.docs[:0]
	var n int64
	for _, d := range m.docs {
		if d.ResourceID() == id {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.docs = kept
	return n, nil
}

func (m *memVectors) GetContentByMetadata(ctx context.Context, filter map[string]any) ([]vectorstore.Document, error) {
	var out []vectorstore.Document
	for _, d := range m.docs {
		if d.ResourceID() == filter[vectorstore.ResourceKey] {
			out = append(out, d)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type lenEmbedder struct{ err error }

func (e lenEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text))}, nil
}

func (e lenEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (lenEmbedder) Dimension() int { return 1 }

func TestIngestAndSearch(t *testing.T) {
	vectors := &memVectors{}
	s := NewStore(vectors, lenEmbedder{}, 60, 0)

	text := strings.Repeat("Battery packs degrade with heat. ", 10)
	n, err := s.Ingest(context.Background(), types.Resource{ID: "r1", Name: "notes.txt", Type: "text/plain"}, text)
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Len(t, vectors.docs, n)
	assert.Equal(t, "notes.txt", vectors.docs[0].Metadata["name"])

	_, err = s.Ingest(context.Background(), types.Resource{ID: "r2", Name: "other.md", Type: "text/markdown"}, "# Other\n\nshort")
	require.NoError(t, err)

	hits, err := s.Search(context.Background(), "heat", []string{"r1"}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "r1", h.ResourceID)
		assert.Equal(t, "notes.txt", h.ResourceName)
	}
	assert.Equal(t, []string{"r1"}, vectors.lastIDs)
}

func TestIngestReplacesExistingChunks(t *testing.T) {
	vectors := &memVectors{}
	s := NewStore(vectors, lenEmbedder{}, 100, 0)
	r := types.Resource{ID: "r1", Name: "a"}

	_, err := s.Ingest(context.Background(), r, "first version")
	require.NoError(t, err)
	_, err = s.Ingest(context.Background(), r, "second version")
	require.NoError(t, err)

	content, err := s.Content(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "second version", content)
}

func TestIngestErrors(t *testing.T) {
	s := NewStore(&memVectors{}, lenEmbedder{err: errors.New("quota exceeded")}, 100, 0)

	_, err := s.Ingest(context.Background(), types.Resource{ID: "r1"}, "   ")
	assert.ErrorContains(t, err, "no text")

	_, err = s.Ingest(context.Background(), types.Resource{ID: "r1"}, "text")
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestRemove(t *testing.T) {
	vectors := &memVectors{}
	s := NewStore(vectors, lenEmbedder{}, 100, 0)
	_, err := s.Ingest(context.Background(), types.Resource{ID: "r1"}, "text")
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), "r1"))
	assert.Empty(t, vectors.docs)
}

func TestFormat(t *testing.T) {
	out := Format([]Chunk{{ResourceName: "a.txt", Content: "alpha"}, {ResourceName: "b.txt", Content: "beta"}})
	assert.Equal(t, "<knowledge name=\"a.txt\">\nalpha\n</knowledge>\n\n<knowledge name=\"b.txt\">\nbeta\n</knowledge>", out)
	assert.Empty(t, Format(nil))
}
