package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
)

// KnowledgeBase is the local resource index used by tasks and ingestion.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, resourceIDs []string, topK int) ([]knowledge.Chunk, error)
	Ingest(ctx context.Context, r types.Resource, text string) (int, error)
	Remove(ctx context.Context, resourceID string) error
}

// Scheduler runs search tasks with bounded parallelism.
type Scheduler struct {
	Task clients.Provider
	// Search is nil when the task model searches natively.
	Search    search.Provider
	Knowledge KnowledgeBase
	Settings  Settings
	Logger    *slog.Logger
	OnError   func(error)
}

// Run executes tasks in FIFO order, at most Settings.Parallel at a time.
// The first search provider failure marks its task failed and leaves every
// task not yet started unprocessed; tasks already running finish on their
// own. A failed completion stream keeps what it produced and does not stop
// the batch. Tasks that are no longer unprocessed are skipped.
func (sc *Scheduler) Run(ctx context.Context, s *Session, tasks []types.SearchTask) error {
	var (
		g        errgroup.Group
		cleared  atomic.Bool
		mu       sync.Mutex
		firstErr error
	)
	g.SetLimit(sc.Settings.parallel())

	for _, task := range tasks {
		if cleared.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if cleared.Load() || ctx.Err() != nil {
				return nil
			}
			err := sc.runTask(ctx, s, task)
			if err == nil || IsAbort(err) {
				return nil
			}
			var perr *search.ProviderError
			if errors.As(err, &perr) {
				cleared.Store(true)
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			sc.report(s, task.Query, err)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if firstErr != nil {
		return &StreamError{Stage: StageSearchTask, Err: firstErr}
	}
	return nil
}

func (sc *Scheduler) logger() *slog.Logger {
	if sc.Logger == nil {
		return slog.Default()
	}
	return sc.Logger
}

func (sc *Scheduler) report(s *Session, query string, err error) {
	sc.logger().Error("Search task failed", "query", query, "error", err)
	s.Publish(Event{Type: EventError, Stage: StageSearchTask, Query: query, Err: err.Error()})
	if sc.OnError != nil {
		sc.OnError(err)
	}
}

func (sc *Scheduler) runTask(ctx context.Context, s *Session, task types.SearchTask) error {
	q := task.Query
	log := sc.logger().With("query", q)
	if !s.ClaimTask(q) {
		log.Debug("Skipping search task")
		return nil
	}
	log.Info("Starting search task")

	var (
		content strings.Builder
		sources []types.Source
		images  []types.ImageSource
	)
	setLearning := func(text string) {
		_ = s.UpdateTask(q, func(t *types.SearchTask) { t.Learning = text })
	}

	if resources := s.CompletedResources(); len(resources) > 0 && sc.Knowledge != nil {
		if err := sc.searchKnowledge(ctx, s, task, resources, &content, setLearning); err != nil {
			return sc.settle(s, q, content.String(), content.String(), nil, nil, err)
		}
		content.WriteString("\n\n### References\n\n")
		for i, r := range resources {
			if i > 0 {
				content.WriteString("\n")
			}
			content.WriteString("- " + r.Name)
		}
		if sc.Settings.OnlyUseLocalResource {
			return sc.settle(s, q, content.String(), content.String(), nil, nil, nil)
		}
		content.WriteString(sectionBreak)
		setLearning(content.String())
	}

	req := clients.Request{System: systemPrompt()}
	lang := languagePrompt(sc.Settings.Language)
	switch {
	case !sc.Settings.EnableSearch:
		req.Prompt = processResultPrompt(q, task.ResearchGoal) + "\n\n" + lang
	case sc.Search != nil:
		res, err := sc.Search.Search(ctx, q)
		if err == nil && len(res.Sources) == 0 {
			err = &search.ProviderError{Provider: sc.Search.Name(), Err: errInvalidSearchResults}
		}
		if err != nil {
			if IsAbort(err) {
				return sc.settle(s, q, content.String(), content.String(), nil, nil, err)
			}
			var perr *search.ProviderError
			if !errors.As(err, &perr) {
				err = &search.ProviderError{Provider: sc.Search.Name(), Err: err}
			}
			return sc.fail(s, q, err)
		}
		sources, images = res.Sources, res.Images
		req.Prompt = processSearchResultPrompt(q, task.ResearchGoal, sources, sc.Settings.EnableReferences) + "\n\n" + lang
	default:
		req.Prompt = processResultPrompt(q, task.ResearchGoal) + "\n\n" + lang
		req.Search = true
	}

	res, err := consume(ctx, s, StageSearchTask, q, sc.Task.Stream(ctx, req), &content, setLearning)

	searched := len(sources)
	unique, remap := dedupSources(append(sources, res.sources...))
	produced := content.String()
	text := applyCitations(produced, res.meta, remap[searched:])
	if imgs := dedupImages(images); len(imgs) > 0 && sc.Settings.EnableCitationImage {
		text += sectionBreak + formatGallery(imgs)
	}
	if len(unique) > 0 && sc.Settings.EnableReferences {
		text += sectionBreak + formatReferences(unique)
	}
	return sc.settle(s, q, produced, text, unique, dedupImages(images), err)
}

func (sc *Scheduler) searchKnowledge(ctx context.Context, s *Session, task types.SearchTask, resources []types.Resource, content *strings.Builder, onContent func(string)) error {
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	chunks, err := sc.Knowledge.Search(ctx, task.Query, ids, sc.Settings.KnowledgeTopK)
	if err != nil {
		return fmt.Errorf("knowledge search: %w", err)
	}
	req := clients.Request{
		System: systemPrompt(),
		Prompt: processKnowledgePrompt(task.Query, task.ResearchGoal, knowledge.Format(chunks)) + "\n\n" + languagePrompt(sc.Settings.Language),
	}
	_, err = consume(ctx, s, StageSearchTask, task.Query, sc.Task.Stream(ctx, req), content, onContent)
	return err
}

// settle stores the final task state: completed when any content was
// produced, otherwise failed with nothing kept. cause is passed through.
func (sc *Scheduler) settle(s *Session, query, produced, learning string, sources []types.Source, images []types.ImageSource, cause error) error {
	if strings.TrimSpace(produced) == "" {
		sc.logger().Warn("Search task produced no content", "query", query)
		_ = s.UpdateTask(query, func(t *types.SearchTask) {
			t.State = types.StateFailed
			t.Learning, t.Sources, t.Images = "", nil, nil
		})
		return cause
	}
	_ = s.UpdateTask(query, func(t *types.SearchTask) {
		t.State = types.StateCompleted
		t.Learning = learning
		t.Sources = sources
		t.Images = images
	})
	sc.logger().Info("Search task completed", "query", query, "sources", len(sources), "images", len(images))
	return cause
}

func (sc *Scheduler) fail(s *Session, query string, err error) error {
	_ = s.UpdateTask(query, func(t *types.SearchTask) {
		t.State = types.StateFailed
		t.Learning, t.Sources, t.Images = "", nil, nil
	})
	return err
}
