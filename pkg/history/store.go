// Package history persists finished research sessions.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/mikeboe/deep-research/pkg/types"
)

// ErrNotFound is returned by Update and Remove for unknown ids.
var ErrNotFound = errors.New("history entry not found")

// Summary is one row of the history list.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store saves session snapshots.
type Store interface {
	// Save stores a new entry and returns its id.
	Save(ctx context.Context, snap types.Snapshot) (string, error)
	Update(ctx context.Context, id string, snap types.Snapshot) error
	Remove(ctx context.Context, id string) error
	// Load returns nil, nil when id is unknown.
	Load(ctx context.Context, id string) (*types.Snapshot, error)
	// List returns entries newest first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Summary, error)
}

func summarize(s types.Snapshot) Summary {
	return Summary{ID: s.ID, Title: s.Title, Question: s.Question, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
