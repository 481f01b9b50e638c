package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/deep-research/pkg/types"
)

// Postgres stores snapshots as JSONB in research_sessions.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Save(ctx context.Context, snap types.Snapshot) (string, error) {
	now := time.Now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO research_sessions (title, question, snapshot, created_at, updated_at)
		VALUES ($1, $2, '{}'::jsonb, $3, $4)
		RETURNING id
	`, snap.Title, snap.Question, snap.CreatedAt, snap.UpdatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to insert research session: %w", err)
	}

	snap.ID = id
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := p.pool.Exec(ctx, `UPDATE research_sessions SET snapshot = $1 WHERE id = $2`, data, id); err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, id string, snap types.Snapshot) error {
	snap.ID = id
	snap.UpdatedAt = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE research_sessions
		SET title = $1, question = $2,
		    snapshot = jsonb_set($3::jsonb, '{createdAt}', COALESCE(snapshot->'createdAt', to_jsonb(created_at))),
		    updated_at = $4
		WHERE id = $5
	`, snap.Title, snap.Question, data, snap.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update research session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM research_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete research session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, id string) (*types.Snapshot, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT snapshot FROM research_sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load research session: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `
		SELECT id, title, question, created_at, updated_at
		FROM research_sessions
		ORDER BY created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list research sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.Question, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
