// Package types holds the data model shared by the research pipeline,
// the providers and the persistence layer.
package types

import "time"

// TaskState is the lifecycle state of a search task or a resource.
type TaskState string

const (
	StateUnprocessed TaskState = "unprocessed"
	StateProcessing  TaskState = "processing"
	StateCompleted   TaskState = "completed"
	StateFailed      TaskState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s TaskState) rank() int {
	switch s {
	case StateProcessing:
		return 1
	case StateCompleted, StateFailed:
		return 2
	default:
		return 0
	}
}

// CanMoveTo reports whether s -> next is allowed. States only advance one
// step: unprocessed -> processing -> completed or failed.
func (s TaskState) CanMoveTo(next TaskState) bool {
	if s == next {
		return !s.Terminal()
	}
	return next.rank() == s.rank()+1
}

// Source is a web page or document cited by a learning. URL is its identity.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// ImageSource is an image found while searching. URL is its identity.
type ImageSource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SearchTask is one SERP query and the findings gathered for it.
type SearchTask struct {
	State        TaskState     `json:"state"`
	Query        string        `json:"query"`
	ResearchGoal string        `json:"researchGoal"`
	Learning     string        `json:"learning"`
	Sources      []Source      `json:"sources"`
	Images       []ImageSource `json:"images"`
}

// Resource is a local knowledge attachment.
type Resource struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Size   int64     `json:"size"`
	Status TaskState `json:"status"`
}

// Snapshot is the full, serializable state of a research session.
type Snapshot struct {
	ID          string        `json:"id"`
	HistoryID   string        `json:"historyId,omitempty"`
	Question    string        `json:"question"`
	Questions   string        `json:"questions"`
	Feedback    string        `json:"feedback"`
	ReportPlan  string        `json:"reportPlan"`
	Suggestion  string        `json:"suggestion"`
	Requirement string        `json:"requirement"`
	Title       string        `json:"title"`
	FinalReport string        `json:"finalReport"`
	Tasks       []SearchTask  `json:"tasks"`
	Sources     []Source      `json:"sources"`
	Images      []ImageSource `json:"images"`
	Resources   []Resource    `json:"resources"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Tasks = CloneTasks(s.Tasks)
	out.Sources = append([]Source(nil), s.Sources...)
	out.Images = append([]ImageSource(nil), s.Images...)
	out.Resources = append([]Resource(nil), s.Resources...)
	return out
}

// CloneTasks deep-copies a task list.
func CloneTasks(tasks []SearchTask) []SearchTask {
	if tasks == nil {
		return nil
	}
	out := make([]SearchTask, len(tasks))
	for i, t := range tasks {
		t.Sources = append([]Source(nil), t.Sources...)
		t.Images = append([]ImageSource(nil), t.Images...)
		out[i] = t
	}
	return out
}
