package research

import (
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/types"
)

const sectionBreak = "\n\n---\n\n"

// Synthesis is the merged input of the final report.
type Synthesis struct {
	Learnings []string
	Sources   []types.Source
	Images    []types.ImageSource
	// CiteSources and CiteImages are the feature flags after the
	// non-emptiness check.
	CiteSources bool
	CiteImages  bool
}

// Synthesize merges task results in task order.
func Synthesize(tasks []types.SearchTask, settings Settings) Synthesis {
	var syn Synthesis
	var sources []types.Source
	var images []types.ImageSource
	for _, t := range tasks {
		if t.Learning != "" {
			syn.Learnings = append(syn.Learnings, t.Learning)
		}
		sources = append(sources, t.Sources...)
		images = append(images, t.Images...)
	}
	syn.Sources, _ = dedupSources(sources)
	syn.Images = dedupImages(images)
	syn.CiteSources = settings.EnableReferences && len(syn.Sources) > 0
	syn.CiteImages = settings.EnableCitationImage && len(syn.Images) > 0
	return syn
}

// Render appends the gallery and reference list to the model's report.
func (syn Synthesis) Render(report string) string {
	if syn.CiteImages {
		report += sectionBreak + formatGallery(syn.Images)
	}
	if syn.CiteSources {
		report += sectionBreak + formatReferences(syn.Sources)
	}
	return report
}

// dedupSources keeps the first source per URL. remap[i] is the position of
// input i in the output, or -1 when it was dropped for an empty URL.
func dedupSources(in []types.Source) (out []types.Source, remap []int) {
	pos := make(map[string]int, len(in))
	remap = make([]int, len(in))
	for i, s := range in {
		if s.URL == "" {
			remap[i] = -1
			continue
		}
		if p, ok := pos[s.URL]; ok {
			remap[i] = p
			continue
		}
		pos[s.URL] = len(out)
		remap[i] = len(out)
		out = append(out, s)
	}
	return out, remap
}

func dedupImages(in []types.ImageSource) []types.ImageSource {
	seen := make(map[string]bool, len(in))
	var out []types.ImageSource
	for _, img := range in {
		if img.URL == "" || seen[img.URL] {
			continue
		}
		seen[img.URL] = true
		out = append(out, img)
	}
	return out
}

// formatReferences renders `[n]: url "title"` lines numbered from 1.
func formatReferences(sources []types.Source) string {
	lines := make([]string, 0, len(sources))
	for i, s := range sources {
		line := fmt.Sprintf("[%d]: %s", i+1, s.URL)
		if s.Title != "" {
			line += ` "` + strings.ReplaceAll(s.Title, `"`, " ") + `"`
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatGallery(images []types.ImageSource) string {
	lines := make([]string, 0, len(images))
	for _, img := range images {
		alt := img.Description
		if alt == "" {
			alt = img.URL
		}
		lines = append(lines, fmt.Sprintf("![%s](%s)", alt, img.URL))
	}
	return strings.Join(lines, "\n")
}

// Title derives a report title from its first non-empty line.
func Title(report string) string {
	for _, line := range strings.Split(report, "\n") {
		line = strings.NewReplacer("#", "", "*", "").Replace(line)
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
