package texam

import (
	"context"
	"testing"
	"time"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) (Dependencies, *cluster.FakeDriver, *bus.MemoryBus) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	driver := cluster.NewFakeDriver()
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	cfg := config.Load()
	cfg.MonitorTimeout = 200 * time.Millisecond

	return Dependencies{Store: s, Bus: memBus, Driver: driver, Config: cfg}, driver, memBus
}

func TestRunAllExecutorsSucceed(t *testing.T) {
	deps, _, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID: "alice",
		Executors: []poiesistypes.Executor{
			{Image: "busybox", Command: []string{"true"}},
			{Image: "busybox", Command: []string{"echo", "hi"}},
		},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForTExAM(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, Run(context.Background(), deps, id))

	msg := <-resultCh
	require.Equal(t, bus.StatusOK, msg.Status)

	got, err := deps.Store.GetAny(id)
	require.NoError(t, err)
	require.Len(t, got.CurrentLog().Logs, 2)
	for _, l := range got.CurrentLog().Logs {
		require.NotNil(t, l.ExitCode)
		require.Equal(t, 0, *l.ExitCode)
	}
}

func TestRunStopsOnNonZeroExit(t *testing.T) {
	deps, driver, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID: "alice",
		Executors: []poiesistypes.Executor{
			{Image: "busybox", Command: []string{"false"}},
			{Image: "busybox", Command: []string{"true"}},
		},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	driver.SetOutcome(cluster.JobName("texam", id, 1), cluster.PodStatus{Phase: cluster.PodFailed, ExitCode: 1})

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForTExAM(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	err = Run(context.Background(), deps, id)
	require.Error(t, err)

	msg := <-resultCh
	require.Equal(t, bus.StatusError, msg.Status)
	require.Equal(t, executorNonZeroDetail, msg.Detail)

	got, err := deps.Store.GetAny(id)
	require.NoError(t, err)
	require.Len(t, got.CurrentLog().Logs, 1)
}

func TestRunContinuesWhenIgnoreErrorIsSet(t *testing.T) {
	deps, driver, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID: "alice",
		Executors: []poiesistypes.Executor{
			{Image: "busybox", Command: []string{"false"}, IgnoreError: true},
			{Image: "busybox", Command: []string{"true"}},
		},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	driver.SetOutcome(cluster.JobName("texam", id, 1), cluster.PodStatus{Phase: cluster.PodFailed, ExitCode: 1})

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForTExAM(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, Run(context.Background(), deps, id))

	msg := <-resultCh
	require.Equal(t, bus.StatusOK, msg.Status)
}
