package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/types"
)

var (
	ErrSessionNotFound = errors.New("research session not found")
	// ErrBusy rejects a stage while another stage of the session runs.
	ErrBusy            = errors.New("a stage is already running for this session")
	ErrUnknownStage    = errors.New("unknown stage")
)

// StageFunc runs one pipeline step on a live session.
type StageFunc func(o *research.Orchestrator, ctx context.Context, s *research.Session) error

// Stages maps the stage names of the HTTP API to orchestrator steps.
var Stages = map[string]StageFunc{
	"questions": (*research.Orchestrator).AskQuestions,
	"plan":      (*research.Orchestrator).WriteReportPlan,
	"queries":   (*research.Orchestrator).GenerateSERPQueries,
	"review": func(o *research.Orchestrator, ctx context.Context, s *research.Session) error {
		_, err := o.ReviewSearchResult(ctx, s)
		return err
	},
	"report": (*research.Orchestrator).WriteFinalReport,
	"run":    (*research.Orchestrator).Run,
}

// Service owns the live research sessions of the server.
type Service struct {
	DB        *database.PostgresDB
	History   history.Store
	Knowledge research.KnowledgeBase
	Thinking  clients.Provider
	Task      clients.Provider
	Search    search.Provider
	Settings  research.Settings
	Logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

type liveSession struct {
	session *research.Session
	logger  *slog.Logger
	busy    atomic.Bool
	observe func()
}

func NewService(db *database.PostgresDB, store history.Store, settings research.Settings) *Service {
	return &Service{
		DB:       db,
		History:  store,
		Settings: settings,
		Logger:   slog.Default(),
		sessions: make(map[string]*liveSession),
	}
}

// SessionInfo is one row of the live session list.
type SessionInfo struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Title     string    `json:"title"`
	HistoryID string    `json:"historyId,omitempty"`
	Busy      bool      `json:"busy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// CreateSession starts a live session for question.
func (s *Service) CreateSession(question string) types.Snapshot {
	return s.track(research.NewSession(question))
}

func (s *Service) track(sess *research.Session) types.Snapshot {
	id := sess.ID()
	logger := s.logger()
	if s.DB != nil {
		logger = slog.New(Tee(logger.Handler(), NewDBLogHandler(s.DB.Pool, id)))
	}
	ls := &liveSession{
		session: sess,
		logger:  logger,
		observe: metrics.Observe(sess),
	}

	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*liveSession)
	}
	s.sessions[id] = ls
	s.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	ls.logger.Info("Session created", "session_id", id, "question", sess.Backup().Question)
	return sess.Backup()
}

func (s *Service) live(id string) (*liveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return ls, nil
}

// Snapshot returns the current state of a live session.
func (s *Service) Snapshot(id string) (types.Snapshot, error) {
	ls, err := s.live(id)
	if err != nil {
		return types.Snapshot{}, err
	}
	return ls.session.Backup(), nil
}

// ListSessions returns the live sessions, newest first.
func (s *Service) ListSessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, ls := range s.sessions {
		snap := ls.session.Backup()
		out = append(out, SessionInfo{
			ID:        id,
			Question:  snap.Question,
			Title:     snap.Title,
			HistoryID: snap.HistoryID,
			Busy:      ls.busy.Load(),
			CreatedAt: snap.CreatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CloseSession drops a live session. A running stage keeps running until
// its request ends.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	ls, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	ls.observe()
	metrics.SessionsActive.Dec()
	ls.logger.Info("Session closed", "session_id", id)
	return nil
}

// ResetSession clears a live session back to an empty question.
func (s *Service) ResetSession(id string) (types.Snapshot, error) {
	ls, err := s.live(id)
	if err != nil {
		return types.Snapshot{}, err
	}
	if ls.busy.Load() {
		return types.Snapshot{}, ErrBusy
	}
	ls.session.Reset()
	return ls.session.Backup(), nil
}

// UpdateRequest sets the user-editable inputs of a session. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Question    *string `json:"question"`
	Feedback    *string `json:"feedback"`
	Suggestion  *string `json:"suggestion"`
	Requirement *string `json:"requirement"`
	ReportPlan  *string `json:"reportPlan"`
}

func (s *Service) UpdateSession(id string, req UpdateRequest) (types.Snapshot, error) {
	ls, err := s.live(id)
	if err != nil {
		return types.Snapshot{}, err
	}
	sess := ls.session
	if req.Question != nil {
		sess.SetQuestion(*req.Question)
	}
	if req.Feedback != nil {
		sess.SetFeedback(*req.Feedback)
	}
	if req.Suggestion != nil {
		sess.SetSuggestion(*req.Suggestion)
	}
	if req.Requirement != nil {
		sess.SetRequirement(*req.Requirement)
	}
	if req.ReportPlan != nil {
		sess.SetReportPlan(*req.ReportPlan)
	}
	return sess.Backup(), nil
}

func (s *Service) orchestrator(ls *liveSession) *research.Orchestrator {
	return &research.Orchestrator{
		Thinking:  s.Thinking,
		Task:      s.Task,
		Search:    s.Search,
		Knowledge: s.Knowledge,
		History:   s.History,
		Settings:  s.Settings,
		Logger:    ls.logger,
	}
}

// RunStage starts the named stage and returns its event stream. The
// session stays busy until the caller has ranged over the sequence.
func (s *Service) RunStage(ctx context.Context, id, name string) (iter.Seq2[research.Event, error], error) {
	fn, ok := Stages[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStage)
	}
	return s.stream(ctx, id, name, fn)
}

// RetryTask streams a retry of one failed search task.
func (s *Service) RetryTask(ctx context.Context, id, query string) (iter.Seq2[research.Event, error], error) {
	return s.stream(ctx, id, "retry", func(o *research.Orchestrator, ctx context.Context, sess *research.Session) error {
		return o.RetryTask(ctx, sess, query)
	})
}

func (s *Service) stream(ctx context.Context, id, name string, fn StageFunc) (iter.Seq2[research.Event, error], error) {
	ls, err := s.live(id)
	if err != nil {
		return nil, err
	}
	if !ls.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	o := s.orchestrator(ls)

	return func(yield func(research.Event, error) bool) {
		defer ls.busy.Store(false)
		start := time.Now()
		var stageErr error
		defer func() { metrics.RecordStage(name, start, stageErr) }()

		ls.logger.Info("Stage started", "session_id", id, "stage", name)
		for e, err := range research.Events(ctx, ls.session, func(ctx context.Context) error {
			return fn(o, ctx, ls.session)
		}) {
			if e.Type == research.EventDone {
				stageErr = err
			}
			if !yield(e, err) {
				if e.Type != research.EventDone {
					stageErr = context.Canceled
				}
				return
			}
		}
		ls.logger.Info("Stage finished", "session_id", id, "stage", name, "duration", time.Since(start).String())
	}, nil
}

// RemoveTask drops a task from a live session.
func (s *Service) RemoveTask(id, query string) error {
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	return s.orchestrator(ls).RemoveTask(ls.session, query)
}

// AddResourceRequest is a local document to ingest for a session.
type AddResourceRequest struct {
	Name    string `json:"name" binding:"required"`
	Type    string `json:"type"`
	Content string `json:"content" binding:"required"`
}

func (s *Service) AddResource(ctx context.Context, id string, req AddResourceRequest) (types.Resource, error) {
	ls, err := s.live(id)
	if err != nil {
		return types.Resource{}, err
	}
	typ := req.Type
	if typ == "" {
		typ = "text/plain"
	}
	return s.orchestrator(ls).AddKnowledge(ctx, ls.session, req.Name, typ, req.Content)
}

func (s *Service) RemoveResource(ctx context.Context, id, resourceID string) error {
	ls, err := s.live(id)
	if err != nil {
		return err
	}
	return s.orchestrator(ls).RemoveKnowledge(ctx, ls.session, resourceID)
}

// ListHistory returns saved researches, newest first.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]history.Summary, error) {
	entries, err := s.History.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if entries == nil {
		entries = []history.Summary{}
	}
	return entries, nil
}

// LoadHistory returns a saved research, or history.ErrNotFound.
func (s *Service) LoadHistory(ctx context.Context, id string) (types.Snapshot, error) {
	snap, err := s.History.Load(ctx, id)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to load history: %w", err)
	}
	if snap == nil {
		return types.Snapshot{}, fmt.Errorf("%s: %w", id, history.ErrNotFound)
	}
	return *snap, nil
}

func (s *Service) DeleteHistory(ctx context.Context, id string) error {
	return s.History.Remove(ctx, id)
}

// RestoreHistory opens a saved research as a new live session. Later
// reports of that session update the same history entry.
func (s *Service) RestoreHistory(ctx context.Context, id string) (types.Snapshot, error) {
	snap, err := s.LoadHistory(ctx, id)
	if err != nil {
		return types.Snapshot{}, err
	}
	snap.ID = ""
	snap.HistoryID = id
	return s.track(research.FromSnapshot(snap)), nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Logs returns the stored log records of a session, oldest first.
func (s *Service) Logs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	if s.DB == nil {
		return []LogEntry{}, nil
	}
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Health reports whether the database is reachable.
func (s *Service) Health(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Health(ctx)
}
