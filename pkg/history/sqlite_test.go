package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/types"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.now = fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return s
}

func TestSQLiteSaveLoadUpdate(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	id, err := s.Save(ctx, types.Snapshot{
		Title:   "EVs",
		Tasks:   []types.SearchTask{{Query: "q", State: types.StateCompleted}},
		Sources: []types.Source{{URL: "https://a.example"}},
	})
	require.NoError(t, err)

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, types.StateCompleted, got.Tasks[0].State)
	first := *got

	require.NoError(t, s.Update(ctx, id, types.Snapshot{Title: "EVs v2", FinalReport: "# EVs"}))
	got, err = s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "EVs v2", got.Title)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, got.UpdatedAt.After(first.UpdatedAt))

	assert.ErrorIs(t, s.Update(ctx, "nope", types.Snapshot{}), ErrNotFound)
	missing, err := s.Load(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteListAndRemove(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := s.Save(ctx, types.Snapshot{Title: title, Question: title + "?"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Title)
	assert.Equal(t, "first?", list[2].Question)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, s.Remove(ctx, ids[0]))
	assert.ErrorIs(t, s.Remove(ctx, ids[0]), ErrNotFound)
	list, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStoresSatisfyInterface(t *testing.T) {
	var _ Store = (*Memory)(nil)
	var _ Store = (*SQLite)(nil)
	var _ Store = (*Postgres)(nil)
}
