package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vecs [][]float32
	err  error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return f.vecs, f.err
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.vecs) == 0 {
		return nil, nil
	}
	return f.vecs[0], nil
}

func TestLangChainEmbedder(t *testing.T) {
	e := NewLangChainEmbedder(&fakeEmbedder{vecs: [][]float32{{1, 2}, {3, 4}}}, 0)
	assert.Equal(t, DefaultDimension, e.Dimension())

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, vecs)

	_, err = e.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "count mismatch")

	vec, err := e.EmbedText(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestLangChainEmbedderErrors(t *testing.T) {
	e := NewLangChainEmbedder(&fakeEmbedder{err: errors.New("quota")}, 768)
	assert.Equal(t, 768, e.Dimension())

	_, err := e.EmbedText(context.Background(), "q")
	assert.ErrorContains(t, err, "quota")

	empty := NewLangChainEmbedder(&fakeEmbedder{}, 0)
	_, err = empty.EmbedText(context.Background(), "q")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "bedrock"})
	assert.Error(t, err)
}
