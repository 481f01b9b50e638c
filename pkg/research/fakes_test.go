package research

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
)

// scripted answers each request with the parts returned by respond,
// followed by err when it is non-nil.
type scripted struct {
	name    string
	respond func(req clients.Request) ([]clients.Part, error)

	mu       sync.Mutex
	requests []clients.Request
}

func (p *scripted) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *scripted) Stream(ctx context.Context, req clients.Request) iter.Seq2[clients.Part, error] {
	return func(yield func(clients.Part, error) bool) {
		p.mu.Lock()
		p.requests = append(p.requests, req)
		p.mu.Unlock()

		parts, err := p.respond(req)
		for _, part := range parts {
			if cerr := ctx.Err(); cerr != nil {
				yield(clients.Part{}, cerr)
				return
			}
			if !yield(part, nil) {
				return
			}
		}
		if err != nil {
			yield(clients.Part{}, err)
		}
	}
}

func (p *scripted) prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Prompt)
	}
	return out
}

func textParts(chunks ...string) []clients.Part {
	parts := make([]clients.Part, 0, len(chunks)+1)
	for _, c := range chunks {
		parts = append(parts, clients.Part{Type: clients.PartTextDelta, Text: c})
	}
	return append(parts, clients.Part{Type: clients.PartFinish, Metadata: &clients.ProviderMetadata{Provider: "fake"}})
}

// queryOf extracts the <QUERY> block of a task prompt.
func queryOf(prompt string) string {
	_, rest, ok := strings.Cut(prompt, "<QUERY>\n")
	if !ok {
		return ""
	}
	q, _, _ := strings.Cut(rest, "\n</QUERY>")
	return q
}

type fakeSearch struct {
	result search.Result
	err    error
	// failOn limits err to one query when set.
	failOn string
	calls  int
	mu     sync.Mutex
}

func (f *fakeSearch) Name() string { return "fake-search" }

func (f *fakeSearch) Search(ctx context.Context, query string) (search.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failOn != "" && query != f.failOn {
		return f.result, nil
	}
	return f.result, f.err
}

type fakeKnowledge struct {
	chunks   []knowledge.Chunk
	ingested map[string]string
	err      error
}

func (f *fakeKnowledge) Search(ctx context.Context, query string, resourceIDs []string, topK int) ([]knowledge.Chunk, error) {
	return f.chunks, f.err
}

func (f *fakeKnowledge) Ingest(ctx context.Context, r types.Resource, text string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.ingested == nil {
		f.ingested = make(map[string]string)
	}
	f.ingested[r.ID] = text
	return 1, nil
}

func (f *fakeKnowledge) Remove(ctx context.Context, resourceID string) error {
	delete(f.ingested, resourceID)
	return f.err
}

func tasksFor(queries ...string) []types.SearchTask {
	out := make([]types.SearchTask, 0, len(queries))
	for _, q := range queries {
		out = append(out, types.SearchTask{State: types.StateUnprocessed, Query: q, ResearchGoal: "goal of " + q})
	}
	return out
}

func sessionWith(tasks []types.SearchTask) *Session {
	s := NewSession("topic")
	_, v := s.Tasks()
	if _, err := s.ReplaceTasks(v, tasks); err != nil {
		panic(err)
	}
	return s
}

func stateOf(s *Session, query string) types.TaskState {
	t, _ := s.Task(query)
	return t.State
}
