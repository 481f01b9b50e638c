package research

import (
	"context"
	"iter"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/thinktag"
	"github.com/mikeboe/deep-research/pkg/types"
)

type streamResult struct {
	sources []types.Source
	meta    *clients.ProviderMetadata
}

// consume reads one provider stream. Answer text goes through a think-tag
// splitter into content, and onContent sees the accumulated content after
// every delta. Consumption stops at the first error or on cancellation;
// content already written is kept.
func consume(ctx context.Context, s *Session, stage Stage, query string, seq iter.Seq2[clients.Part, error], content *strings.Builder, onContent func(string)) (streamResult, error) {
	var res streamResult
	split := thinktag.New()
	emit := func(text string) {
		content.WriteString(text)
		s.Publish(Event{Type: EventDelta, Stage: stage, Query: query, Text: text})
		if onContent != nil {
			onContent(content.String())
		}
	}
	think := func(text string) {
		s.Publish(Event{Type: EventReasoning, Stage: stage, Query: query, Text: text})
	}

	var err error
	for part, perr := range seq {
		if perr != nil {
			err = perr
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			break
		}
		switch part.Type {
		case clients.PartTextDelta:
			split.Process(part.Text, emit, think)
		case clients.PartReasoning:
			think(part.Text)
		case clients.PartSource:
			res.sources = append(res.sources, part.Source)
		case clients.PartFinish:
			res.meta = part.Metadata
		}
	}
	split.Flush(emit, think)
	if err == nil {
		err = ctx.Err()
	}
	return res, err
}
