package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mikeboe/deep-research/pkg/types"
)

// SQLite is a file-backed Store for the CLI, where no Postgres is around.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (and creates) the history database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS research_sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			snapshot TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_research_sessions_created_at ON research_sessions(created_at DESC);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create research_sessions table: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, snap types.Snapshot) (string, error) {
	id := uuid.New().String()
	now := s.now()
	snap.ID = id
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_sessions (id, title, question, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, snap.Title, snap.Question, string(data), snap.CreatedAt.UnixNano(), snap.UpdatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert research session: %w", err)
	}
	return id, nil
}

func (s *SQLite) Update(ctx context.Context, id string, snap types.Snapshot) error {
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM research_sessions WHERE id = ?`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load research session: %w", err)
	}

	snap.ID = id
	snap.CreatedAt = time.Unix(0, created)
	snap.UpdatedAt = s.now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE research_sessions SET title = ?, question = ?, snapshot = ?, updated_at = ? WHERE id = ?
	`, snap.Title, snap.Question, string(data), snap.UpdatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update research session: %w", err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM research_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete research session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*types.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM research_sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load research session: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT id, title, question, created_at, updated_at FROM research_sessions ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list research sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Question, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sum.CreatedAt, sum.UpdatedAt = time.Unix(0, created), time.Unix(0, updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
