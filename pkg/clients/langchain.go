package clients

import (
	"context"
	"fmt"
	"iter"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain streams from any langchaingo model. It has no native search.
type LangChain struct {
	name string
	llm  llms.Model
}

func NewLangChain(name string, llm llms.Model) *LangChain {
	return &LangChain{name: name, llm: llm}
}

func langChainFactory(name string) Factory {
	return func(ctx context.Context, opts Options) (Provider, error) {
		var (
			llm llms.Model
			err error
		)
		switch name {
		case "openai":
			o := []openai.Option{openai.WithToken(opts.APIKey)}
			if opts.Model != "" {
				o = append(o, openai.WithModel(opts.Model))
			}
			if opts.BaseURL != "" {
				o = append(o, openai.WithBaseURL(opts.BaseURL))
			}
			llm, err = openai.New(o...)
		case "anthropic":
			o := []anthropic.Option{anthropic.WithToken(opts.APIKey)}
			if opts.Model != "" {
				o = append(o, anthropic.WithModel(opts.Model))
			}
			if opts.BaseURL != "" {
				o = append(o, anthropic.WithBaseURL(opts.BaseURL))
			}
			llm, err = anthropic.New(o...)
		case "ollama":
			o := []ollama.Option{ollama.WithModel(opts.Model)}
			if opts.BaseURL != "" {
				o = append(o, ollama.WithServerURL(opts.BaseURL))
			}
			llm, err = ollama.New(o...)
		case "googleai":
			model := opts.Model
			if model == "" {
				model = string(DefaultModel)
			}
			llm, err = googleai.New(ctx, googleai.WithAPIKey(opts.APIKey), googleai.WithDefaultModel(model))
		default:
			return nil, fmt.Errorf("no langchain backend for %q", name)
		}
		if err != nil {
			return nil, err
		}
		return NewLangChain(name, llm), nil
	}
}

func (l *LangChain) Name() string { return l.name }

func (l *LangChain) Stream(ctx context.Context, req Request) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var msgs []llms.MessageContent
		if req.System != "" {
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
		}
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

		chunks := make(chan string)
		done := make(chan error, 1)
		go func() {
			defer close(chunks)
			_, err := l.llm.GenerateContent(ctx, msgs, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
			done <- err
		}()

		for chunk := range chunks {
			if chunk == "" {
				continue
			}
			if !yield(Part{Type: PartTextDelta, Text: chunk}, nil) {
				return
			}
		}
		if err := <-done; err != nil {
			yield(Part{}, fmt.Errorf("%s stream: %w", l.name, err))
			return
		}
		yield(Part{Type: PartFinish, Metadata: &ProviderMetadata{Provider: l.name}}, nil)
	}
}
