// Package splitter chunks knowledge resources before embedding.
package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps a langchaingo text splitter.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &TextSplitter{splitter: ts}
}

// NewMarkdownTextSplitter keeps headings with the sections they introduce.
func NewMarkdownTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &TextSplitter{splitter: ts}
}

// ForType picks a splitter for a resource MIME type or file extension.
func ForType(resourceType string, chunkSize, chunkOverlap int) *TextSplitter {
	t := strings.ToLower(resourceType)
	if strings.Contains(t, "markdown") || strings.HasSuffix(t, ".md") || t == "md" {
		return NewMarkdownTextSplitter(chunkSize, chunkOverlap)
	}
	return NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap)
}

// SplitText splits text into chunks, dropping blank ones.
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
