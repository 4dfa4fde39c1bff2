package filer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/stretchr/testify/require"
)

func TestRunOutputUploadsLiteralFile(t *testing.T) {
	deps, memBus := newTestDeps(t)
	work := t.TempDir()
	dest := t.TempDir()

	outPath := filepath.Join(work, "result.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("result"), 0644))

	task := &poiesistypes.Task{
		UserID: "alice",
		Outputs: []poiesistypes.Output{
			{Path: outPath, URL: "file://" + filepath.Join(dest, "result.txt"), Type: poiesistypes.IOTypeFile},
		},
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"true"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForFilerOutput(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, RunOutput(context.Background(), deps, id))

	got, err := os.ReadFile(filepath.Join(dest, "result.txt"))
	require.NoError(t, err)
	require.Equal(t, "result", string(got))

	msg := <-resultCh
	require.Equal(t, bus.StatusOK, msg.Status)

	task2, err := deps.Store.GetAny(id)
	require.NoError(t, err)
	require.Len(t, task2.CurrentLog().Outputs, 1)
}

func TestRunOutputExpandsWildcard(t *testing.T) {
	deps, memBus := newTestDeps(t)
	work := t.TempDir()
	outDir := filepath.Join(work, "out")
	dest := t.TempDir()

	require.NoError(t, os.MkdirAll(outDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "b.csv"), []byte("b"), 0644))

	task := &poiesistypes.Task{
		UserID: "alice",
		Outputs: []poiesistypes.Output{
			{
				Path:       filepath.Join(outDir, "*.txt"),
				PathPrefix: outDir,
				URL:        "file://" + dest,
				Type:       poiesistypes.IOTypeFile,
			},
		},
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"true"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForFilerOutput(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, RunOutput(context.Background(), deps, id))

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "a", string(got))

	_, err = os.Stat(filepath.Join(dest, "b.csv"))
	require.True(t, os.IsNotExist(err))

	msg := <-resultCh
	require.Equal(t, bus.StatusOK, msg.Status)
}

func TestRunOutputReportsErrorOnMissingLiteralFile(t *testing.T) {
	deps, memBus := newTestDeps(t)
	work := t.TempDir()

	task := &poiesistypes.Task{
		UserID: "alice",
		Outputs: []poiesistypes.Output{
			{Path: filepath.Join(work, "missing.txt"), URL: "file:///tmp/wherever.txt", Type: poiesistypes.IOTypeFile},
		},
		Executors: []poiesistypes.Executor{{Image: "busybox", Command: []string{"true"}}},
	}
	id, err := deps.Store.Create(task)
	require.NoError(t, err)

	resultCh := make(chan bus.Message, 1)
	go func() {
		msg, _ := memBus.Subscribe(context.Background(), bus.ChannelForFilerOutput(id), time.Second)
		resultCh <- msg
	}()
	time.Sleep(10 * time.Millisecond)

	require.Error(t, RunOutput(context.Background(), deps, id))

	msg := <-resultCh
	require.Equal(t, bus.StatusError, msg.Status)
}
