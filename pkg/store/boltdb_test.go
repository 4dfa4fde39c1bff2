package store

import (
	"testing"

	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(&poiesistypes.Task{UserID: "alice", Executors: []poiesistypes.Executor{{Image: "busybox"}}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := s.Get(id, "alice", "")
	require.NoError(t, err)
	require.Equal(t, poiesistypes.StateQueued, task.State)
}

func TestGetWrongUserIsNotFound(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(&poiesistypes.Task{UserID: "alice"})
	require.NoError(t, err)

	_, err = s.Get(id, "bob", "")
	require.True(t, poiesiserr.Is(err, poiesiserr.KindNotFound))
}

func TestTransitionCAS(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Create(&poiesistypes.Task{UserID: "alice"})

	require.NoError(t, s.Transition(id, poiesistypes.StateQueued, poiesistypes.StateInitializing))

	err := s.Transition(id, poiesistypes.StateQueued, poiesistypes.StateInitializing)
	require.True(t, poiesiserr.Is(err, poiesiserr.KindConflict))
}

func TestTransitionOutOfTerminalIsConflict(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Create(&poiesistypes.Task{UserID: "alice"})
	require.NoError(t, s.Transition(id, poiesistypes.StateQueued, poiesistypes.StateInitializing))
	require.NoError(t, s.Transition(id, poiesistypes.StateInitializing, poiesistypes.StateRunning))
	require.NoError(t, s.Transition(id, poiesistypes.StateRunning, poiesistypes.StateComplete))

	err := s.Transition(id, poiesistypes.StateComplete, poiesistypes.StateRunning)
	require.True(t, poiesiserr.Is(err, poiesiserr.KindConflict))
}

func TestListFiltersByUserAndTags(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(&poiesistypes.Task{UserID: "alice", Name: "a", Tags: map[string]string{"env": "prod"}})
	require.NoError(t, err)
	_, err = s.Create(&poiesistypes.Task{UserID: "alice", Name: "b", Tags: map[string]string{"env": "dev"}})
	require.NoError(t, err)
	_, err = s.Create(&poiesistypes.Task{UserID: "bob", Name: "c"})
	require.NoError(t, err)

	tasks, _, err := s.List(ListFilter{UserID: "alice", Tags: map[string]string{"env": "prod"}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "a", tasks[0].Name)
}

func TestListPagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Create(&poiesistypes.Task{UserID: "alice"})
		require.NoError(t, err)
	}

	page1, token, err := s.List(ListFilter{UserID: "alice", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)

	page2, _, err := s.List(ListFilter{UserID: "alice", PageSize: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEqual(t, page1[0].ID, page2[0].ID)
}

func TestAppendExecutorLogGrowsToIndex(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Create(&poiesistypes.Task{UserID: "alice"})

	exit := 0
	require.NoError(t, s.AppendExecutorLog(id, 1, poiesistypes.ExecutorLog{ExitCode: &exit}))

	task, err := s.Get(id, "alice", "")
	require.NoError(t, err)
	require.Len(t, task.Logs[0].Logs, 2)
	require.NotNil(t, task.Logs[0].Logs[1].ExitCode)
}
