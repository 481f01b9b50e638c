package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/types"
)

const arxivURL = "https://export.arxiv.org/api/query"

type arxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	ID        string      `xml:"id"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

// Arxiv searches the arXiv Atom API. Each paper becomes a source whose
// content is its abstract.
type Arxiv struct {
	BaseURL    string
	MaxResults int
	Client     *http.Client
}

func (a *Arxiv) Name() string { return "arxiv" }

func (a *Arxiv) Search(ctx context.Context, query string) (Result, error) {
	res, err := a.search(ctx, query)
	if err != nil {
		return Result{}, &ProviderError{Provider: a.Name(), Err: err}
	}
	return res, nil
}

func (a *Arxiv) search(ctx context.Context, query string) (Result, error) {
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	base := a.BaseURL
	if base == "" {
		base = arxivURL
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := base + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("arXiv returned non-200 status code", "status", resp.StatusCode, "body", string(body))
		return Result{}, fmt.Errorf("API returned non-200 status code: %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	var res Result
	for _, entry := range feed.Entry {
		link := entry.ID
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}
		if link == "" {
			continue
		}
		res.Sources = append(res.Sources, types.Source{
			URL:     link,
			Title:   collapseSpace(entry.Title),
			Content: strings.TrimSpace(entry.Summary),
		})
	}
	slog.Debug("arXiv search complete", "query", query, "count", len(res.Sources))
	return res, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
