package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeDriverJobLifecycle(t *testing.T) {
	d := NewFakeDriver()
	ctx := context.Background()

	require.NoError(t, d.CreatePVC(ctx, "pvc-1", "ReadWriteOnce", "", 1))
	require.True(t, d.PVCExists("pvc-1"))

	require.NoError(t, d.CreateJob(ctx, JobSpec{Name: "job-1", Image: "busybox"}))
	require.True(t, d.JobExists("job-1"))

	err := d.CreateJob(ctx, JobSpec{Name: "job-1", Image: "busybox"})
	require.Error(t, err)

	status, err := d.WatchPod(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Equal(t, PodSucceeded, status.Phase)

	require.NoError(t, d.DeleteJob(ctx, "job-1", true))
	require.False(t, d.JobExists("job-1"))

	require.NoError(t, d.DeletePVC(ctx, "pvc-1"))
	require.False(t, d.PVCExists("pvc-1"))
}

func TestFakeDriverProgrammedOutcome(t *testing.T) {
	d := NewFakeDriver()
	d.SetOutcome("job-2", PodStatus{Phase: PodFailed, ExitCode: 1})

	status, err := d.WatchPod(context.Background(), "job-2", 0)
	require.NoError(t, err)
	require.Equal(t, PodFailed, status.Phase)
	require.Equal(t, 1, status.ExitCode)
}
