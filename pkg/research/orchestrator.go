package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/partialjson"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
)

// Orchestrator sequences the research stages over a Session.
type Orchestrator struct {
	// Thinking drives the planning and report stages, Task the search tasks.
	Thinking clients.Provider
	Task     clients.Provider
	// Search is nil when the task model searches natively.
	Search    search.Provider
	Knowledge KnowledgeBase
	// History is optional; reports are not persisted without it.
	History  history.Store
	Settings Settings
	Logger   *slog.Logger
	// OnError receives every provider failure except aborts.
	OnError func(error)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Orchestrator) scheduler() *Scheduler {
	return &Scheduler{
		Task:      o.Task,
		Search:    o.Search,
		Knowledge: o.Knowledge,
		Settings:  o.Settings,
		Logger:    o.logger(),
		OnError:   o.OnError,
	}
}

// AskQuestions streams clarifying questions for the session's question.
func (o *Orchestrator) AskQuestions(ctx context.Context, s *Session) error {
	snap := s.Backup()
	o.logger().Info("Asking clarifying questions", "session_id", snap.ID)
	_, err := o.streamText(ctx, s, StageQuestions, questionsPrompt(snap.Question), s.SetQuestions)
	return err
}

// WriteReportPlan streams a report plan from the question, the
// clarifying questions and the user's feedback.
func (o *Orchestrator) WriteReportPlan(ctx context.Context, s *Session) error {
	snap := s.Backup()
	o.logger().Info("Writing report plan", "session_id", snap.ID)
	_, err := o.streamText(ctx, s, StageReportPlan, reportPlanPrompt(composeQuery(snap)), s.SetReportPlan)
	return err
}

// GenerateSERPQueries streams search queries for the report plan, keeping
// the task list in step with every parseable prefix, then runs the tasks.
func (o *Orchestrator) GenerateSERPQueries(ctx context.Context, s *Session) error {
	snap := s.Backup()
	_, version := s.Tasks()
	log := o.logger().With("session_id", snap.ID)

	var (
		last  []partialjson.SERPQuery
		stale error
	)
	set := func(text string) {
		if stale != nil {
			return
		}
		queries, ok := partialjson.ParseSERPQueries(text)
		if !ok || slices.Equal(queries, last) {
			return
		}
		v, err := s.ReplaceTasks(version, toTasks(queries))
		if err != nil {
			log.Warn("Task list changed while generating queries", "error", err)
			stale = err
			return
		}
		version, last = v, queries
	}

	log.Info("Generating search queries")
	if _, err := o.streamText(ctx, s, StageSERPQuery, serpQueriesPrompt(snap.ReportPlan), set); err != nil {
		return err
	}
	if stale != nil {
		return fmt.Errorf("generate queries: %w", stale)
	}
	if last == nil {
		log.Warn("No valid search queries were generated")
		return nil
	}

	tasks, _ := s.Tasks()
	log.Info("Running search tasks", "count", len(tasks))
	return o.scheduler().Run(ctx, s, tasks)
}

// ReviewSearchResult asks the model for follow-up queries and runs the new
// ones. It returns how many tasks were added.
func (o *Orchestrator) ReviewSearchResult(ctx context.Context, s *Session) (int, error) {
	snap := s.Backup()
	var latest []partialjson.SERPQuery
	set := func(text string) {
		if queries, ok := partialjson.ParseSERPQueries(text); ok {
			latest = queries
		}
	}

	prompt := reviewPrompt(snap.ReportPlan, learnings(snap.Tasks), snap.Suggestion)
	if _, err := o.streamText(ctx, s, StageReview, prompt, set); err != nil {
		return 0, err
	}

	added := s.AppendTasks(toTasks(latest))
	o.logger().Info("Reviewed search results", "session_id", snap.ID, "new_tasks", len(added))
	if len(added) == 0 {
		return 0, nil
	}
	return len(added), o.scheduler().Run(ctx, s, added)
}

// WriteFinalReport streams the report, appends the gallery and references,
// and saves the session to history.
func (o *Orchestrator) WriteFinalReport(ctx context.Context, s *Session) error {
	snap := s.Backup()
	syn := Synthesize(snap.Tasks, o.Settings)
	prompt := finalReportPrompt(snap.ReportPlan, syn.Learnings, syn.Sources, syn.Images, snap.Requirement, syn.CiteImages, syn.CiteSources)

	o.logger().Info("Writing final report", "session_id", snap.ID, "learnings", len(syn.Learnings), "sources", len(syn.Sources))
	report, err := o.streamText(ctx, s, StageFinalReport, prompt, s.SetFinalReport)
	if err != nil {
		return err
	}
	if strings.TrimSpace(report) == "" {
		o.logger().Warn("Final report is empty", "session_id", snap.ID)
		return nil
	}

	s.SetFinalReport(syn.Render(report))
	s.SetTitle(Title(report))
	s.SetSources(syn.Sources)
	s.SetImages(syn.Images)
	return o.persist(ctx, s)
}

func (o *Orchestrator) persist(ctx context.Context, s *Session) error {
	if o.History == nil {
		return nil
	}
	snap := s.Backup()
	if snap.Title == "" || snap.FinalReport == "" {
		o.logger().Debug("Skipping history save", "session_id", snap.ID)
		return nil
	}

	if snap.HistoryID != "" {
		err := o.History.Update(ctx, snap.HistoryID, snap)
		if err == nil {
			return nil
		}
		if !errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("update history: %w", err)
		}
	}
	id, err := o.History.Save(ctx, snap)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	s.SetHistoryID(id)
	o.logger().Info("Saved research to history", "session_id", snap.ID, "history_id", id)
	return nil
}

// RetryTask runs one failed task again.
func (o *Orchestrator) RetryTask(ctx context.Context, s *Session, query string) error {
	task, err := s.ResetTask(query)
	if err != nil {
		return fmt.Errorf("retry %q: %w", query, err)
	}
	return o.scheduler().Run(ctx, s, []types.SearchTask{task})
}

// RemoveTask drops a task from the session.
func (o *Orchestrator) RemoveTask(s *Session, query string) error {
	if !s.RemoveTask(query) {
		return ErrTaskNotFound
	}
	return nil
}

// Run executes the whole pipeline without user interaction: plan, queries
// and tasks, up to ReviewDepth review rounds, then the final report.
// Search task failures do not stop the pipeline.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	if s.Backup().ReportPlan == "" {
		if err := o.WriteReportPlan(ctx, s); err != nil {
			return err
		}
	}
	if err := o.tolerateTasks(o.GenerateSERPQueries(ctx, s)); err != nil {
		return err
	}
	for round := 0; round < o.Settings.ReviewDepth; round++ {
		added, err := o.ReviewSearchResult(ctx, s)
		if err := o.tolerateTasks(err); err != nil {
			return err
		}
		if added == 0 {
			break
		}
	}
	return o.WriteFinalReport(ctx, s)
}

func (o *Orchestrator) tolerateTasks(err error) error {
	if err == nil || IsAbort(err) || failedStage(err) != StageSearchTask {
		return err
	}
	o.logger().Warn("Continuing after search task failure", "error", err)
	return nil
}

// AddKnowledge indexes text as a new local resource of the session.
func (o *Orchestrator) AddKnowledge(ctx context.Context, s *Session, name, typ, text string) (types.Resource, error) {
	r := types.Resource{
		ID:     uuid.New().String(),
		Name:   name,
		Type:   typ,
		Size:   int64(len(text)),
		Status: types.StateUnprocessed,
	}
	s.AddResource(r)
	setStatus := func(state types.TaskState) {
		r.Status = state
		_ = s.UpdateResource(r.ID, func(res *types.Resource) { res.Status = state })
	}

	setStatus(types.StateProcessing)
	if o.Knowledge == nil {
		setStatus(types.StateFailed)
		return r, o.fail(s, StageKnowledge, errors.New("no knowledge store configured"))
	}
	n, err := o.Knowledge.Ingest(ctx, r, text)
	if err != nil {
		setStatus(types.StateFailed)
		return r, o.fail(s, StageKnowledge, fmt.Errorf("ingest %s: %w", name, err))
	}
	setStatus(types.StateCompleted)
	o.logger().Info("Indexed resource", "session_id", s.ID(), "resource", name, "chunks", n)
	return r, nil
}

// RemoveKnowledge drops a resource and its indexed chunks.
func (o *Orchestrator) RemoveKnowledge(ctx context.Context, s *Session, id string) error {
	if !s.RemoveResource(id) {
		return ErrResourceNotFound
	}
	if o.Knowledge == nil {
		return nil
	}
	if err := o.Knowledge.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove resource %s: %w", id, err)
	}
	return nil
}

// streamText runs one thinking-model prompt. set receives the accumulated
// answer after every delta, so partial output stays on the session.
func (o *Orchestrator) streamText(ctx context.Context, s *Session, stage Stage, prompt string, set func(string)) (string, error) {
	var content strings.Builder
	req := clients.Request{
		System: systemPrompt(),
		Prompt: prompt + "\n\n" + languagePrompt(o.Settings.Language),
	}
	if _, err := consume(ctx, s, stage, "", o.Thinking.Stream(ctx, req), &content, set); err != nil {
		return content.String(), o.fail(s, stage, err)
	}
	return content.String(), nil
}

func (o *Orchestrator) fail(s *Session, stage Stage, err error) error {
	serr := &StreamError{Stage: stage, Err: err}
	if IsAbort(err) {
		o.logger().Info("Research stage aborted", "session_id", s.ID(), "stage", stage)
		return serr
	}
	o.logger().Error("Research stage failed", "session_id", s.ID(), "stage", stage, "error", err)
	s.Publish(Event{Type: EventError, Stage: stage, Err: err.Error()})
	if o.OnError != nil {
		o.OnError(serr)
	}
	return serr
}

func toTasks(queries []partialjson.SERPQuery) []types.SearchTask {
	tasks := make([]types.SearchTask, 0, len(queries))
	for _, q := range queries {
		tasks = append(tasks, types.SearchTask{
			State:        types.StateUnprocessed,
			Query:        q.Query,
			ResearchGoal: q.ResearchGoal,
		})
	}
	return tasks
}

func learnings(tasks []types.SearchTask) []string {
	var out []string
	for _, t := range tasks {
		if t.Learning != "" {
			out = append(out, t.Learning)
		}
	}
	return out
}
