package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
)

func plainSettings(parallel int) Settings {
	st := DefaultSettings()
	st.Parallel = parallel
	st.EnableSearch = false
	return st
}

func TestSchedulerBoundsParallelism(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, k := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
				time.Sleep(5 * time.Millisecond)
				return textParts("learned about ", queryOf(req.Prompt)), nil
			}}
			s := sessionWith(tasksFor("q1", "q2", "q3", "q4", "q5", "q6", "q7"))

			var mu sync.Mutex
			active, peak := 0, 0
			defer s.Subscribe(func(e Event) {
				if e.Type != EventTask {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				switch e.State {
				case types.StateProcessing:
					active++
					peak = max(peak, active)
				case types.StateCompleted, types.StateFailed:
					active--
				}
			})()

			sc := &Scheduler{Task: provider, Settings: plainSettings(k)}
			tasks, _ := s.Tasks()
			require.NoError(t, sc.Run(context.Background(), s, tasks))

			assert.LessOrEqual(t, peak, k)
			assert.Positive(t, peak)
			tasks, _ = s.Tasks()
			for _, task := range tasks {
				assert.Equal(t, types.StateCompleted, task.State, task.Query)
				assert.Equal(t, "learned about "+task.Query, task.Learning)
			}
		})
	}
}

func TestSchedulerFailFast(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("rate limited")
	finder := &fakeSearch{
		result: search.Result{Sources: []types.Source{{URL: "https://a.example"}}},
		err:    boom,
		failOn: "beta",
	}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return textParts("fine"), nil
	}}
	s := sessionWith(tasksFor("alpha", "beta", "gamma"))

	var reported []error
	st := DefaultSettings()
	st.Parallel = 1
	sc := &Scheduler{
		Task:     provider,
		Search:   finder,
		Settings: st,
		OnError:  func(err error) { reported = append(reported, err) },
	}
	var errorEvents int
	defer s.Subscribe(func(e Event) {
		if e.Type == EventError {
			errorEvents++
		}
	})()

	tasks, _ := s.Tasks()
	err := sc.Run(context.Background(), s, tasks)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StageSearchTask, failedStage(err))
	var perr *search.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "fake-search", perr.Provider)

	assert.Equal(t, types.StateCompleted, stateOf(s, "alpha"))
	assert.Equal(t, types.StateFailed, stateOf(s, "beta"))
	assert.Equal(t, types.StateUnprocessed, stateOf(s, "gamma"))

	beta, _ := s.Task("beta")
	assert.Empty(t, beta.Learning)
	assert.Empty(t, beta.Sources)
	assert.Len(t, reported, 1)
	assert.Equal(t, 1, errorEvents)
	assert.Equal(t, 2, finder.calls)
	assert.Len(t, provider.prompts(), 1)
}

func TestSchedulerStreamErrorKeepsPartialLearning(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("connection reset")
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		if queryOf(req.Prompt) == "a" {
			return []clients.Part{{Type: clients.PartTextDelta, Text: "partial answer"}}, boom
		}
		return textParts("full answer"), nil
	}}
	s := sessionWith(tasksFor("a", "b"))

	var reported []error
	sc := &Scheduler{
		Task:     provider,
		Settings: plainSettings(1),
		OnError:  func(err error) { reported = append(reported, err) },
	}
	tasks, _ := s.Tasks()
	err := sc.Run(context.Background(), s, tasks)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StageSearchTask, failedStage(err))
	assert.Len(t, reported, 1)

	a, _ := s.Task("a")
	assert.Equal(t, types.StateCompleted, a.State)
	assert.Equal(t, "partial answer", a.Learning)
	b, _ := s.Task("b")
	assert.Equal(t, types.StateCompleted, b.State)
	assert.Equal(t, "full answer", b.Learning)
}

func TestSchedulerStreamErrorWithoutContentFails(t *testing.T) {
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		if queryOf(req.Prompt) == "a" {
			return nil, errors.New("connection reset")
		}
		return textParts("fine"), nil
	}}
	s := sessionWith(tasksFor("a", "b"))

	sc := &Scheduler{Task: provider, Settings: plainSettings(1)}
	tasks, _ := s.Tasks()
	require.Error(t, sc.Run(context.Background(), s, tasks))

	assert.Equal(t, types.StateFailed, stateOf(s, "a"))
	assert.Equal(t, types.StateCompleted, stateOf(s, "b"))
}

func TestSchedulerSkipsSettledTasks(t *testing.T) {
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return textParts("new finding"), nil
	}}
	s := sessionWith(tasksFor("done", "fresh"))
	require.True(t, s.ClaimTask("done"))
	require.NoError(t, s.UpdateTask("done", func(task *types.SearchTask) {
		task.State = types.StateCompleted
		task.Learning = "old finding"
	}))

	var reported int
	sc := &Scheduler{Task: provider, Settings: plainSettings(2), OnError: func(error) { reported++ }}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	assert.Zero(t, reported)
	assert.Len(t, provider.prompts(), 1)
	done, _ := s.Task("done")
	assert.Equal(t, "old finding", done.Learning)
	assert.Equal(t, types.StateCompleted, stateOf(s, "fresh"))
}

func TestSchedulerAbortKeepsPartialLearning(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return []clients.Part{
			{Type: clients.PartTextDelta, Text: "partial finding"},
			{Type: clients.PartTextDelta, Text: " never seen"},
		}, nil
	}}
	s := sessionWith(tasksFor("only"))
	s.Subscribe(func(e Event) {
		if e.Type == EventDelta {
			cancel()
		}
	})

	var reported int
	sc := &Scheduler{Task: provider, Settings: plainSettings(2), OnError: func(error) { reported++ }}
	tasks, _ := s.Tasks()
	err := sc.Run(ctx, s, tasks)
	require.True(t, IsAbort(err))

	task, _ := s.Task("only")
	assert.Equal(t, types.StateCompleted, task.State)
	assert.Equal(t, "partial finding", task.Learning)
	assert.Zero(t, reported)
}

func TestSchedulerEmptyAnswerFails(t *testing.T) {
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return textParts("<think>only reasoning</think>"), nil
	}}
	s := sessionWith(tasksFor("quiet"))
	var reasoning strings.Builder
	s.Subscribe(func(e Event) {
		if e.Type == EventReasoning {
			reasoning.WriteString(e.Text)
		}
	})

	sc := &Scheduler{Task: provider, Settings: plainSettings(1)}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	assert.Equal(t, types.StateFailed, stateOf(s, "quiet"))
	assert.Equal(t, "only reasoning", reasoning.String())
}

func TestSchedulerSearchProvider(t *testing.T) {
	finder := &fakeSearch{result: search.Result{
		Sources: []types.Source{
			{URL: "https://a.example", Title: "A \"quoted\"", Content: "alpha facts"},
			{URL: "https://b.example", Title: "B"},
			{URL: "https://a.example", Title: "A again"},
		},
		Images: []types.ImageSource{
			{URL: "https://img.example/1.png", Description: "chart"},
			{URL: "https://img.example/1.png"},
		},
	}}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		assert.Contains(t, req.Prompt, `<content index="1" url="https://a.example">`)
		assert.False(t, req.Search)
		return textParts("Alpha grew [1]."), nil
	}}
	s := sessionWith(tasksFor("growth"))
	st := DefaultSettings()

	sc := &Scheduler{Task: provider, Search: finder, Settings: st}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	task, _ := s.Task("growth")
	require.Equal(t, types.StateCompleted, task.State)
	want := "Alpha grew [1]." +
		sectionBreak + "![chart](https://img.example/1.png)" +
		sectionBreak + "[1]: https://a.example \"A  quoted \"\n[2]: https://b.example \"B\""
	assert.Equal(t, want, task.Learning)
	assert.Len(t, task.Sources, 2)
	assert.Len(t, task.Images, 1)
}

func TestSchedulerGalleryFollowsImageSetting(t *testing.T) {
	finder := &fakeSearch{result: search.Result{
		Sources: []types.Source{{URL: "https://a.example", Title: "A"}},
		Images:  []types.ImageSource{{URL: "https://img.example/1.png", Description: "chart"}},
	}}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return textParts("Alpha grew [1]."), nil
	}}
	s := sessionWith(tasksFor("growth"))
	st := DefaultSettings()
	st.EnableCitationImage = false

	sc := &Scheduler{Task: provider, Search: finder, Settings: st}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	task, _ := s.Task("growth")
	assert.Equal(t, "Alpha grew [1]."+sectionBreak+"[1]: https://a.example \"A\"", task.Learning)
	assert.Len(t, task.Images, 1)
}

func TestSchedulerEmptySearchResults(t *testing.T) {
	finder := &fakeSearch{}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		t.Error("model must not be called without search results")
		return nil, nil
	}}
	s := sessionWith(tasksFor("nothing"))

	sc := &Scheduler{Task: provider, Search: finder, Settings: DefaultSettings()}
	tasks, _ := s.Tasks()
	err := sc.Run(context.Background(), s, tasks)

	var perr *search.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "fake-search", perr.Provider)
	assert.ErrorIs(t, err, errInvalidSearchResults)
	assert.Equal(t, types.StateFailed, stateOf(s, "nothing"))
}

func TestSchedulerGroundingCitations(t *testing.T) {
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		assert.True(t, req.Search)
		return []clients.Part{
			{Type: clients.PartTextDelta, Text: "Fact one. "},
			{Type: clients.PartTextDelta, Text: "Fact two."},
			{Type: clients.PartSource, Source: types.Source{URL: "https://x.example", Title: "X"}},
			{Type: clients.PartSource, Source: types.Source{}},
			{Type: clients.PartSource, Source: types.Source{URL: "https://y.example"}},
			{Type: clients.PartFinish, Metadata: &clients.ProviderMetadata{
				Provider: "google",
				Grounding: &clients.GroundingMetadata{Supports: []clients.GroundingSupport{
					{Text: "Fact one.", ChunkIndices: []int{0, 1}},
					{Text: "Fact two.", ChunkIndices: []int{2, 0, 2}},
				}},
			}},
		}, nil
	}}
	s := sessionWith(tasksFor("facts"))
	sc := &Scheduler{Task: provider, Settings: DefaultSettings()}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	task, _ := s.Task("facts")
	want := "Fact one.[1] Fact two.[2][1]" +
		sectionBreak + "[1]: https://x.example \"X\"\n[2]: https://y.example"
	assert.Equal(t, want, task.Learning)
}

func TestSchedulerLocalKnowledgeOnly(t *testing.T) {
	kb := &fakeKnowledge{chunks: []knowledge.Chunk{{ResourceID: "r1", ResourceName: "notes.md", Content: "battery density doubled"}}}
	finder := &fakeSearch{result: search.Result{Sources: []types.Source{{URL: "https://web.example"}}}}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		assert.Contains(t, req.Prompt, "battery density doubled")
		return textParts("Density doubled."), nil
	}}
	s := sessionWith(tasksFor("density"))
	s.AddResource(types.Resource{ID: "r1", Name: "notes.md", Status: types.StateCompleted})
	s.AddResource(types.Resource{ID: "r2", Name: "pending.md", Status: types.StateProcessing})

	st := DefaultSettings()
	st.OnlyUseLocalResource = true
	sc := &Scheduler{Task: provider, Search: finder, Knowledge: kb, Settings: st}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	task, _ := s.Task("density")
	assert.Equal(t, types.StateCompleted, task.State)
	assert.Equal(t, "Density doubled.\n\n### References\n\n- notes.md", task.Learning)
	assert.Zero(t, finder.calls)
}

func TestSchedulerLocalKnowledgeThenWeb(t *testing.T) {
	kb := &fakeKnowledge{chunks: []knowledge.Chunk{{ResourceID: "r1", ResourceName: "notes.md", Content: "local"}}}
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		if strings.Contains(req.Prompt, "local knowledge base") {
			return textParts("From notes."), nil
		}
		return textParts("From web."), nil
	}}
	s := sessionWith(tasksFor("mixed"))
	s.AddResource(types.Resource{ID: "r1", Name: "notes.md", Status: types.StateCompleted})

	sc := &Scheduler{Task: provider, Knowledge: kb, Settings: plainSettings(1)}
	tasks, _ := s.Tasks()
	require.NoError(t, sc.Run(context.Background(), s, tasks))

	task, _ := s.Task("mixed")
	assert.Equal(t, "From notes.\n\n### References\n\n- notes.md"+sectionBreak+"From web.", task.Learning)
}

func TestSchedulerRemovedTaskIsSkipped(t *testing.T) {
	provider := &scripted{respond: func(req clients.Request) ([]clients.Part, error) {
		return textParts("ok"), nil
	}}
	s := sessionWith(tasksFor("kept", "gone"))
	tasks, _ := s.Tasks()
	require.True(t, s.RemoveTask("gone"))

	sc := &Scheduler{Task: provider, Settings: plainSettings(1)}
	require.NoError(t, sc.Run(context.Background(), s, tasks))
	assert.Len(t, provider.prompts(), 1)
}
