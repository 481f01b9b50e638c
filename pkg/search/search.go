// Package search queries external search APIs for research tasks.
package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mikeboe/deep-research/pkg/types"
)

// Result holds the sources and images found for one query.
type Result struct {
	Sources []types.Source
	Images  []types.ImageSource
}

// Provider runs a single search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (Result, error)
}

// ProviderError tags a failure with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Options configures New.
type Options struct {
	Provider   string
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client
	// RatePerSecond throttles calls when positive. arXiv defaults to one
	// call every three seconds.
	RatePerSecond float64
}

// New builds the named provider. "model" and "" mean the completion model
// searches natively, so no Provider is returned.
func New(opts Options) (Provider, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	switch opts.Provider {
	case "", "model":
		return nil, nil
	case "arxiv":
		rps := opts.RatePerSecond
		if rps == 0 {
			rps = 1.0 / 3
		}
		return Limit(&Arxiv{BaseURL: opts.BaseURL, MaxResults: opts.MaxResults, Client: client}, rps), nil
	case "searxng":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("searxng requires a base URL")
		}
		return Limit(&SearXNG{BaseURL: opts.BaseURL, MaxResults: opts.MaxResults, Client: client}, opts.RatePerSecond), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", opts.Provider)
	}
}
