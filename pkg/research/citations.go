package research

import (
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
)

// fullWidthBrackets fixes OpenAI answers that cite with 【1】 in CJK text.
var fullWidthBrackets = strings.NewReplacer("【", "[", "】", "]")

// applyCitations post-processes a finished task answer for the provider
// that produced it. remap translates grounding chunk indices into positions
// in the deduplicated source list.
func applyCitations(content string, meta *clients.ProviderMetadata, remap []int) string {
	if meta == nil {
		return content
	}
	if meta.Grounding != nil {
		return insertGroundingMarks(content, meta.Grounding, remap)
	}
	if meta.Provider == "openai" {
		return fullWidthBrackets.Replace(content)
	}
	return content
}

// insertGroundingMarks appends [n] markers after every supported segment.
func insertGroundingMarks(content string, g *clients.GroundingMetadata, remap []int) string {
	for _, s := range g.Supports {
		if s.Text == "" || len(s.ChunkIndices) == 0 {
			continue
		}
		var marks strings.Builder
		seen := make(map[int]bool)
		for _, idx := range s.ChunkIndices {
			n := idx
			if remap != nil {
				if idx < 0 || idx >= len(remap) || remap[idx] < 0 {
					continue
				}
				n = remap[idx]
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			fmt.Fprintf(&marks, "[%d]", n+1)
		}
		if marks.Len() == 0 {
			continue
		}
		content = strings.ReplaceAll(content, s.Text, s.Text+marks.String())
	}
	return content
}
