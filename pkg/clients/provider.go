// Package clients adapts completion backends to one streaming interface.
package clients

import (
	"context"
	"iter"

	"github.com/mikeboe/deep-research/pkg/types"
)

// PartType tags one element of a completion stream.
type PartType string

const (
	PartTextDelta PartType = "text-delta"
	PartReasoning PartType = "reasoning"
	PartSource    PartType = "source"
	PartFinish    PartType = "finish"
)

// Part is one element of a completion stream.
type Part struct {
	Type     PartType
	Text     string
	Source   types.Source
	Metadata *ProviderMetadata
}

// ProviderMetadata is attached to the finish part.
type ProviderMetadata struct {
	Provider  string
	Grounding *GroundingMetadata
}

// GroundingMetadata lists answer segments backed by search results.
type GroundingMetadata struct {
	Supports []GroundingSupport
}

// GroundingSupport ties a segment of the answer to grounding chunks
// (zero-based indices into the emitted sources).
type GroundingSupport struct {
	Text         string
	ChunkIndices []int
}

// Request is a single-turn completion request.
type Request struct {
	System string
	Prompt string
	// Search asks the backend to use its native web search, if it has one.
	Search     bool
	MaxResults int
}

// Provider streams completions. The sequence ends after a finish part or
// after the first error.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) iter.Seq2[Part, error]
}

// Options selects and authenticates a backend.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}
