package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/types"
)

func TestReplaceTasksRejectsStaleVersion(t *testing.T) {
	s := NewSession("topic")
	_, v0 := s.Tasks()

	v1, err := s.ReplaceTasks(v0, tasksFor("a", "b", "a"))
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	tasks, _ := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "goal of a", tasks[0].ResearchGoal)

	_, err = s.ReplaceTasks(v0, tasksFor("c"))
	assert.ErrorIs(t, err, ErrStaleTaskList)

	s.AppendTasks(tasksFor("c"))
	_, err = s.ReplaceTasks(v1, tasksFor("d"))
	assert.ErrorIs(t, err, ErrStaleTaskList)
}

func TestAppendTasksSkipsExistingQueries(t *testing.T) {
	s := sessionWith(tasksFor("a", "b"))
	_, before := s.Tasks()

	added := s.AppendTasks(tasksFor("b", "c", "c"))
	require.Len(t, added, 1)
	assert.Equal(t, "c", added[0].Query)

	tasks, after := s.Tasks()
	assert.Len(t, tasks, 3)
	assert.Greater(t, after, before)

	assert.Empty(t, s.AppendTasks(tasksFor("a")))
	_, unchanged := s.Tasks()
	assert.Equal(t, after, unchanged)
}

func TestUpdateTaskTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []types.TaskState
		err  error
	}{
		{"Forward", []types.TaskState{types.StateProcessing, types.StateCompleted}, nil},
		{"Fail while processing", []types.TaskState{types.StateProcessing, types.StateFailed}, nil},
		{"Skip processing", []types.TaskState{types.StateFailed}, ErrInvalidTransition},
		{"Skip to completed", []types.TaskState{types.StateCompleted}, ErrInvalidTransition},
		{"Back to unprocessed", []types.TaskState{types.StateProcessing, types.StateUnprocessed}, ErrInvalidTransition},
		{"Completed is final", []types.TaskState{types.StateProcessing, types.StateCompleted, types.StateFailed}, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sessionWith(tasksFor("q"))
			var err error
			for _, state := range tt.path {
				if err = s.UpdateTask("q", func(task *types.SearchTask) { task.State = state }); err != nil {
					break
				}
			}
			if tt.err == nil {
				assert.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], stateOf(s, "q"))
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestUpdateTaskKeepsQueryAndPublishes(t *testing.T) {
	s := sessionWith(tasksFor("q"))
	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) {
		task.Query = "renamed"
		task.State = types.StateProcessing
	}))
	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) { task.Learning = "more" }))
	unsubscribe()
	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) { task.State = types.StateCompleted }))

	task, ok := s.Task("q")
	require.True(t, ok)
	assert.Equal(t, "more", task.Learning)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EventTask, Stage: StageSearchTask, Query: "q", State: types.StateProcessing}, events[0])

	assert.ErrorIs(t, s.UpdateTask("missing", func(*types.SearchTask) {}), ErrTaskNotFound)
}

func TestResetTask(t *testing.T) {
	s := sessionWith(tasksFor("q"))
	require.True(t, s.ClaimTask("q"))
	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) {
		task.State = types.StateFailed
		task.Learning = "stale"
	}))

	task, err := s.ResetTask("q")
	require.NoError(t, err)
	assert.Equal(t, types.StateUnprocessed, task.State)
	assert.Empty(t, task.Learning)
	assert.Equal(t, "goal of q", task.ResearchGoal)

	require.True(t, s.ClaimTask("q"))
	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) { task.State = types.StateCompleted }))
	_, err = s.ResetTask("q")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClaimTask(t *testing.T) {
	s := sessionWith(tasksFor("q"))
	var events []Event
	defer s.Subscribe(func(e Event) { events = append(events, e) })()

	assert.True(t, s.ClaimTask("q"))
	assert.False(t, s.ClaimTask("q"))
	assert.False(t, s.ClaimTask("missing"))
	assert.Equal(t, types.StateProcessing, stateOf(s, "q"))
	require.Len(t, events, 1)
	assert.Equal(t, types.StateProcessing, events[0].State)
}

func TestBackupIsDeepCopy(t *testing.T) {
	s := sessionWith(tasksFor("q"))
	require.NoError(t, s.UpdateTask("q", func(task *types.SearchTask) {
		task.Sources = []types.Source{{URL: "https://a.example"}}
	}))

	snap := s.Backup()
	snap.Tasks[0].Sources[0].URL = "mutated"
	snap.Tasks[0].Learning = "mutated"

	task, _ := s.Task("q")
	assert.Equal(t, "https://a.example", task.Sources[0].URL)
	assert.Empty(t, task.Learning)
}

func TestRestoreKeepsIDAndInvalidatesVersion(t *testing.T) {
	s := NewSession("topic")
	id := s.ID()
	_, v := s.Tasks()

	s.Restore(types.Snapshot{ID: "other", Question: "restored", Tasks: tasksFor("x")})
	assert.Equal(t, id, s.ID())
	assert.Equal(t, "restored", s.Backup().Question)

	_, err := s.ReplaceTasks(v, nil)
	assert.ErrorIs(t, err, ErrStaleTaskList)

	s.Reset()
	assert.Equal(t, id, s.ID())
	assert.Empty(t, s.Backup().Tasks)
}

func TestResources(t *testing.T) {
	s := NewSession("topic")
	s.AddResource(types.Resource{ID: "r1", Name: "a", Status: types.StateUnprocessed})
	s.AddResource(types.Resource{ID: "r2", Name: "b", Status: types.StateCompleted})

	assert.Len(t, s.CompletedResources(), 1)
	assert.ErrorIs(t, s.UpdateResource("r1", func(r *types.Resource) { r.Status = types.StateCompleted }), ErrInvalidTransition)
	require.NoError(t, s.UpdateResource("r1", func(r *types.Resource) { r.Status = types.StateProcessing }))
	require.NoError(t, s.UpdateResource("r1", func(r *types.Resource) { r.Status = types.StateCompleted }))
	assert.Len(t, s.CompletedResources(), 2)
	assert.ErrorIs(t, s.UpdateResource("r1", func(r *types.Resource) { r.Status = types.StateProcessing }), ErrInvalidTransition)
	assert.ErrorIs(t, s.UpdateResource("nope", func(*types.Resource) {}), ErrResourceNotFound)

	assert.True(t, s.RemoveResource("r1"))
	assert.False(t, s.RemoveResource("r1"))
	assert.Len(t, s.Resources(), 1)
}
