package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mikeboe/deep-research/pkg/types"
)

type searxngResult struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	ImgSrc   string `json:"img_src"`
	Category string `json:"category"`
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

// SearXNG queries a SearXNG instance through its JSON API.
type SearXNG struct {
	BaseURL    string
	MaxResults int
	Client     *http.Client
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Search(ctx context.Context, query string) (Result, error) {
	res, err := s.search(ctx, query)
	if err != nil {
		return Result{}, &ProviderError{Provider: s.Name(), Err: err}
	}
	return res, nil
}

func (s *SearXNG) search(ctx context.Context, query string) (Result, error) {
	maxResults := s.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("categories", "general,images")
	apiURL := strings.TrimRight(s.BaseURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("API returned non-200 status code: %d", resp.StatusCode)
	}

	var body searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var res Result
	for _, r := range body.Results {
		if r.Category == "images" {
			if r.ImgSrc != "" && len(res.Images) < maxResults {
				res.Images = append(res.Images, types.ImageSource{URL: r.ImgSrc, Description: r.Title})
			}
			continue
		}
		if r.URL == "" || len(res.Sources) >= maxResults {
			continue
		}
		res.Sources = append(res.Sources, types.Source{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	return res, nil
}
