package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainEmbedder adapts a langchaingo embedder.
type LangChainEmbedder struct {
	embedder  lcembeddings.Embedder
	dimension int
}

func NewLangChainEmbedder(e lcembeddings.Embedder, dimension int) *LangChainEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LangChainEmbedder{embedder: e, dimension: dimension}
}

func (e *LangChainEmbedder) Dimension() int { return e.dimension }

func (e *LangChainEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return vec, nil
}

func (e *LangChainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed texts: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(texts))
	}
	return vecs, nil
}

// Options selects an embedding backend.
type Options struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int
}

// New builds the embedder for a completion provider. Anthropic has no
// embedding API, so it falls back to Gemini with the Google key.
func New(ctx context.Context, opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", "google", "googleai", "anthropic":
		model := opts.Model
		if model == "" {
			model = "gemini-embedding-001"
		}
		return NewGoogleEmbedder(ctx, model, opts.APIKey, opts.Dimension)
	case "openai":
		o := []openai.Option{openai.WithToken(opts.APIKey)}
		if opts.Model != "" {
			o = append(o, openai.WithEmbeddingModel(opts.Model))
		}
		if opts.BaseURL != "" {
			o = append(o, openai.WithBaseURL(opts.BaseURL))
		}
		llm, err := openai.New(o...)
		if err != nil {
			return nil, fmt.Errorf("failed to init openai embeddings: %w", err)
		}
		e, err := lcembeddings.NewEmbedder(llm)
		if err != nil {
			return nil, err
		}
		return NewLangChainEmbedder(e, opts.Dimension), nil
	case "ollama":
		o := []ollama.Option{ollama.WithModel(opts.Model)}
		if opts.BaseURL != "" {
			o = append(o, ollama.WithServerURL(opts.BaseURL))
		}
		llm, err := ollama.New(o...)
		if err != nil {
			return nil, fmt.Errorf("failed to init ollama embeddings: %w", err)
		}
		e, err := lcembeddings.NewEmbedder(llm)
		if err != nil {
			return nil, err
		}
		return NewLangChainEmbedder(e, opts.Dimension), nil
	default:
		return nil, fmt.Errorf("no embeddings for provider %q", opts.Provider)
	}
}
