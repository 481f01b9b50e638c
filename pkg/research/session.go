package research

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/types"
)

// EventType tags a session event.
type EventType string

const (
	// EventDelta carries newly streamed content for a stage (and task).
	EventDelta EventType = "delta"
	// EventReasoning carries model reasoning.
	EventReasoning EventType = "reasoning"
	// EventTask reports a task state change.
	EventTask  EventType = "task"
	EventError EventType = "error"
	// EventDone closes a stage stream.
	EventDone EventType = "done"
)

// Event is published to session subscribers as a stage runs.
type Event struct {
	Type  EventType       `json:"type"`
	Stage Stage           `json:"stage,omitempty"`
	Query string          `json:"query,omitempty"`
	Text  string          `json:"text,omitempty"`
	State types.TaskState `json:"state,omitempty"`
	Err   string          `json:"error,omitempty"`
}

// Session is the only mutable state of a research run. All methods are
// safe for concurrent use; tasks are addressed by query.
type Session struct {
	mu      sync.Mutex
	snap    types.Snapshot
	version uint64

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// NewSession starts an empty session for question.
func NewSession(question string) *Session {
	return &Session{
		snap: types.Snapshot{ID: uuid.New().String(), Question: question, CreatedAt: time.Now()},
		subs: make(map[int]func(Event)),
	}
}

// FromSnapshot resumes a saved session.
func FromSnapshot(snap types.Snapshot) *Session {
	s := &Session{snap: snap.Clone(), subs: make(map[int]func(Event))}
	if s.snap.ID == "" {
		s.snap.ID = uuid.New().String()
	}
	return s
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ID
}

// Backup returns a deep copy of the current state.
func (s *Session) Backup() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Restore replaces the state with snap, keeping the session id.
func (s *Session) Restore(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.snap.ID
	s.snap = snap.Clone()
	s.snap.ID = id
	s.version++
}

// Reset clears everything but the id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = types.Snapshot{ID: s.snap.ID, CreatedAt: time.Now()}
	s.version++
}

func (s *Session) update(fn func(*types.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
}

func (s *Session) SetQuestion(v string)    { s.update(func(p *types.Snapshot) { p.Question = v }) }
func (s *Session) SetQuestions(v string)   { s.update(func(p *types.Snapshot) { p.Questions = v }) }
func (s *Session) SetFeedback(v string)    { s.update(func(p *types.Snapshot) { p.Feedback = v }) }
func (s *Session) SetReportPlan(v string)  { s.update(func(p *types.Snapshot) { p.ReportPlan = v }) }
func (s *Session) SetSuggestion(v string)  { s.update(func(p *types.Snapshot) { p.Suggestion = v }) }
func (s *Session) SetRequirement(v string) { s.update(func(p *types.Snapshot) { p.Requirement = v }) }
func (s *Session) SetTitle(v string)       { s.update(func(p *types.Snapshot) { p.Title = v }) }
func (s *Session) SetFinalReport(v string) { s.update(func(p *types.Snapshot) { p.FinalReport = v }) }
func (s *Session) SetHistoryID(v string)   { s.update(func(p *types.Snapshot) { p.HistoryID = v }) }

func (s *Session) SetSources(v []types.Source) {
	s.update(func(p *types.Snapshot) { p.Sources = append([]types.Source(nil), v...) })
}

func (s *Session) SetImages(v []types.ImageSource) {
	s.update(func(p *types.Snapshot) { p.Images = append([]types.ImageSource(nil), v...) })
}

// Tasks returns a copy of the task list and its version.
func (s *Session) Tasks() ([]types.SearchTask, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneTasks(s.snap.Tasks), s.version
}

// Task returns the task for query.
func (s *Session) Task(query string) (types.SearchTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(query); i >= 0 {
		return types.CloneTasks(s.snap.Tasks[i : i+1])[0], true
	}
	return types.SearchTask{}, false
}

func (s *Session) indexOf(query string) int {
	for i := range s.snap.Tasks {
		if s.snap.Tasks[i].Query == query {
			return i
		}
	}
	return -1
}

// ReplaceTasks swaps the whole list if version is still current and
// returns the new version. Duplicate queries keep their first occurrence.
func (s *Session) ReplaceTasks(version uint64, tasks []types.SearchTask) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != s.version {
		return s.version, ErrStaleTaskList
	}
	s.snap.Tasks = dedupTasks(nil, tasks)
	s.version++
	return s.version, nil
}

// AppendTasks adds tasks whose query is not already present and returns
// the ones added.
func (s *Session) AppendTasks(tasks []types.SearchTask) []types.SearchTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.snap.Tasks)
	s.snap.Tasks = dedupTasks(s.snap.Tasks, tasks)
	added := types.CloneTasks(s.snap.Tasks[before:])
	if len(added) > 0 {
		s.version++
	}
	return added
}

func dedupTasks(existing, incoming []types.SearchTask) []types.SearchTask {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, t := range existing {
		seen[t.Query] = true
	}
	out := existing
	for _, t := range types.CloneTasks(incoming) {
		if seen[t.Query] {
			continue
		}
		seen[t.Query] = true
		out = append(out, t)
	}
	return out
}

// ClaimTask moves an unprocessed task to processing. It reports false when
// the task is gone or has already left unprocessed.
func (s *Session) ClaimTask(query string) bool {
	s.mu.Lock()
	i := s.indexOf(query)
	if i < 0 || s.snap.Tasks[i].State != types.StateUnprocessed {
		s.mu.Unlock()
		return false
	}
	s.snap.Tasks[i].State = types.StateProcessing
	s.mu.Unlock()

	s.Publish(Event{Type: EventTask, Stage: StageSearchTask, Query: query, State: types.StateProcessing})
	return true
}

// UpdateTask applies fn to a copy of the task and stores it unless the
// state change would move backwards.
func (s *Session) UpdateTask(query string, fn func(*types.SearchTask)) error {
	s.mu.Lock()
	i := s.indexOf(query)
	if i < 0 {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	old := s.snap.Tasks[i]
	next := types.CloneTasks(s.snap.Tasks[i : i+1])[0]
	fn(&next)
	next.Query = query
	if !old.State.CanMoveTo(next.State) {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.snap.Tasks[i] = next
	s.mu.Unlock()

	if next.State != old.State {
		s.Publish(Event{Type: EventTask, Stage: StageSearchTask, Query: query, State: next.State})
	}
	return nil
}

// ResetTask puts a failed task back to unprocessed for a retry.
func (s *Session) ResetTask(query string) (types.SearchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(query)
	if i < 0 {
		return types.SearchTask{}, ErrTaskNotFound
	}
	t := &s.snap.Tasks[i]
	if t.State != types.StateFailed && t.State != types.StateUnprocessed {
		return types.SearchTask{}, ErrInvalidTransition
	}
	*t = types.SearchTask{State: types.StateUnprocessed, Query: t.Query, ResearchGoal: t.ResearchGoal}
	return *t, nil
}

// RemoveTask drops the task for query.
func (s *Session) RemoveTask(query string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(query)
	if i < 0 {
		return false
	}
	s.snap.Tasks = append(s.snap.Tasks[:i], s.snap.Tasks[i+1:]...)
	s.version++
	return true
}

// Resources returns a copy of the resource list.
func (s *Session) Resources() []types.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Resource(nil), s.snap.Resources...)
}

// CompletedResources returns the resources whose indexing finished.
func (s *Session) CompletedResources() []types.Resource {
	var out []types.Resource
	for _, r := range s.Resources() {
		if r.Status == types.StateCompleted {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) AddResource(r types.Resource) {
	s.update(func(p *types.Snapshot) { p.Resources = append(p.Resources, r) })
}

// UpdateResource applies fn to the resource with id.
func (s *Session) UpdateResource(id string, fn func(*types.Resource)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Resources {
		if s.snap.Resources[i].ID == id {
			r := s.snap.Resources[i]
			fn(&r)
			r.ID = id
			if !s.snap.Resources[i].Status.CanMoveTo(r.Status) {
				return ErrInvalidTransition
			}
			s.snap.Resources[i] = r
			return nil
		}
	}
	return ErrResourceNotFound
}

func (s *Session) RemoveResource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Resources {
		if s.snap.Resources[i].ID == id {
			s.snap.Resources = append(s.snap.Resources[:i], s.snap.Resources[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribe registers fn for every published event until the returned
// function is called. fn runs on the publishing goroutine.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Publish delivers e to the current subscribers.
func (s *Session) Publish(e Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(e)
	}
}
