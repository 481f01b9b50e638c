package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/types"
)

// Memory is an in-process Store used by the CLI and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]types.Snapshot
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]types.Snapshot), now: time.Now}
}

func (m *Memory) Save(ctx context.Context, snap types.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	now := m.now()
	snap = snap.Clone()
	snap.ID = id
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	m.entries[id] = snap
	return id, nil
}

func (m *Memory) Update(ctx context.Context, id string, snap types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	snap = snap.Clone()
	snap.ID = id
	snap.CreatedAt = old.CreatedAt
	snap.UpdatedAt = m.now()
	m.entries[id] = snap
	return nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	c := snap.Clone()
	return &c, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.entries))
	for _, s := range m.entries {
		out = append(out, summarize(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
