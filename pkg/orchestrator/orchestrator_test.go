package orchestrator

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
	dir := t.TempDir()
	s, err := store.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	driver := cluster.NewFakeDriver()
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })

	cfg := config.Load()
	cfg.MonitorTimeout = 200 * time.Millisecond

	return Dependencies{Store: s, Bus: memBus, Driver: driver, Config: cfg}, driver, memBus
}

func autoAck(b *bus.MemoryBus, channel string, status bus.Status) {
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(context.Background(), channel, bus.Message{Status: status})
	}()
}

func TestRunHappyPath(t *testing.T) {
	deps, _, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID:    "alice",
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"true"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	autoAck(memBus, bus.ChannelForFilerInput(id), bus.StatusOK)
	autoAck(memBus, bus.ChannelForTExAM(id), bus.StatusOK)
	autoAck(memBus, bus.ChannelForFilerOutput(id), bus.StatusOK)

	err = Run(context.Background(), deps, id)
	require.NoError(t, err)

	got, err := deps.Store.Get(id, "alice", "")
	require.NoError(t, err)
	require.Equal(t, poiesistypes.StateComplete, got.State)
}

func TestRunExecutorNonZeroEndsInExecutorError(t *testing.T) {
	deps, _, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID:    "alice",
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"false"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	autoAck(memBus, bus.ChannelForFilerInput(id), bus.StatusOK)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = memBus.Publish(context.Background(), bus.ChannelForTExAM(id), bus.Message{
			Status: bus.StatusError,
			Detail: executorNonZeroDetail,
		})
	}()

	err = Run(context.Background(), deps, id)
	require.Error(t, err)

	got, err := deps.Store.Get(id, "alice", "")
	require.NoError(t, err)
	require.Equal(t, poiesistypes.StateExecutorError, got.State)
}

func TestRunExecutorPreemptedEndsInPreempted(t *testing.T) {
	deps, driver, memBus := newTestDeps(t)

	task := &poiesistypes.Task{
		UserID:    "alice",
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"true"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	autoAck(memBus, bus.ChannelForFilerInput(id), bus.StatusOK)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = memBus.Publish(context.Background(), bus.ChannelForTExAM(id), bus.Message{
			Status: bus.StatusError,
			Detail: preemptedDetail,
		})
	}()

	err = Run(context.Background(), deps, id)
	require.Error(t, err)

	got, err := deps.Store.Get(id, "alice", "")
	require.NoError(t, err)
	require.Equal(t, poiesistypes.StatePreempted, got.State)

	for _, phase := range []string{PhaseFilerInput, PhaseExecutor, PhaseFilerOutput} {
		require.False(t, driver.JobExists(cluster.JobName(phase, id, 0)), "job for phase %s should be cleaned up", phase)
	}
	require.False(t, driver.PVCExists(PVCName(id)), "pvc should be cleaned up")
}
