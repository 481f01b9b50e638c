package clients

import (
	"context"
	"fmt"
	"iter"

	"github.com/mikeboe/deep-research/pkg/types"
	"google.golang.org/genai"
)

type ModelType string

const (
	DefaultModel ModelType = "gemini-3-flash-preview"
	ProModel     ModelType = "gemini-3-pro-preview"
)

// Gemini streams from the Gemini API with optional Google Search grounding.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, opts Options) (Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = string(DefaultModel)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "google" }

func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		cfg := &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		if req.Search {
			cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		}

		var grounding *genai.GroundingMetadata
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(req.Prompt), cfg) {
			if err != nil {
				yield(Part{}, fmt.Errorf("gemini stream: %w", err))
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			cand := resp.Candidates[0]
			if cand.GroundingMetadata != nil {
				grounding = cand.GroundingMetadata
			}
			if cand.Content == nil {
				continue
			}
			for _, p := range cand.Content.Parts {
				if p == nil || p.Text == "" {
					continue
				}
				typ := PartTextDelta
				if p.Thought {
					typ = PartReasoning
				}
				if !yield(Part{Type: typ, Text: p.Text}, nil) {
					return
				}
			}
		}

		// Empty sources are yielded too so positions match chunk indices.
		for _, src := range groundingSources(grounding) {
			if !yield(Part{Type: PartSource, Source: src}, nil) {
				return
			}
		}
		yield(Part{Type: PartFinish, Metadata: &ProviderMetadata{
			Provider:  g.Name(),
			Grounding: convertGrounding(grounding),
		}}, nil)
	}
}

// groundingSources keeps chunk order so chunk indices stay valid.
func groundingSources(md *genai.GroundingMetadata) []types.Source {
	if md == nil {
		return nil
	}
	out := make([]types.Source, 0, len(md.GroundingChunks))
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			out = append(out, types.Source{})
			continue
		}
		out = append(out, types.Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}

func convertGrounding(md *genai.GroundingMetadata) *GroundingMetadata {
	if md == nil || len(md.GroundingSupports) == 0 {
		return nil
	}
	out := &GroundingMetadata{}
	for _, s := range md.GroundingSupports {
		if s == nil || s.Segment == nil || s.Segment.Text == "" {
			continue
		}
		gs := GroundingSupport{Text: s.Segment.Text}
		for _, idx := range s.GroundingChunkIndices {
			gs.ChunkIndices = append(gs.ChunkIndices, int(idx))
		}
		out.Supports = append(out.Supports, gs)
	}
	return out
}
