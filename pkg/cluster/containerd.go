package cluster

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace is the containerd namespace Poiesis uses for every
	// container it launches.
	Namespace = "poiesis"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdDriver is the reference Cluster Driver: a single host running
// containerd directly, standing in for a Kubernetes-family cluster behind
// the same Job/Pod/PVC-shaped interface. Grounded on the teacher's
// pkg/runtime/containerd.go container lifecycle calls, reshaped from "one
// long-running service container" into "one-shot Job == one containerd
// container run to completion". PVCs are local bind-mount directories
// under dataDir, the direct local analogue of a cluster PVC.
type ContainerdDriver struct {
	client  *containerd.Client
	dataDir string
}

// NewContainerdDriver dials containerd at socketPath and roots PVC
// directories under dataDir.
func NewContainerdDriver(socketPath, dataDir string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "connect to containerd", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		client.Close()
		return nil, poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create data dir", err)
	}
	return &ContainerdDriver{client: client, dataDir: dataDir}, nil
}

func (d *ContainerdDriver) Close() error {
	return d.client.Close()
}

func (d *ContainerdDriver) pvcPath(name string) string {
	return filepath.Join(d.dataDir, "pvc", name)
}

func (d *ContainerdDriver) CreatePVC(ctx context.Context, name, accessMode, storageClass string, sizeGB int64) error {
	if err := os.MkdirAll(d.pvcPath(name), 0755); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create pvc "+name, err)
	}
	return nil
}

func (d *ContainerdDriver) DeletePVC(ctx context.Context, name string) error {
	if err := os.RemoveAll(d.pvcPath(name)); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "delete pvc "+name, err)
	}
	return nil
}

func (d *ContainerdDriver) logPath(name string) string {
	return filepath.Join(d.dataDir, "logs", name+".log")
}

func (d *ContainerdDriver) CreateJob(ctx context.Context, spec JobSpec) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := d.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "pull image "+spec.Image, err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}

	var mounts []specs.Mount
	for _, m := range spec.Mounts {
		opt := []string{"rbind"}
		if m.ReadOnly {
			opt = append(opt, "ro")
		} else {
			opt = append(opt, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Source:      d.pvcPath(m.PVCName),
			Destination: m.MountPath,
			Type:        "bind",
			Options:     opt,
		})
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	if err := os.MkdirAll(filepath.Dir(d.logPath(spec.Name)), 0755); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create log dir", err)
	}
	logFile, err := os.Create(d.logPath(spec.Name))
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create log file", err)
	}
	defer logFile.Close()

	container, err := d.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindConflict, "create job "+spec.Name, err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, logFile, logFile)))
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create task for "+spec.Name, err)
	}
	if err := task.Start(ctx); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "start task for "+spec.Name, err)
	}
	return nil
}

func (d *ContainerdDriver) WatchPod(ctx context.Context, name string, timeout time.Duration) (PodStatus, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		container, err := d.client.LoadContainer(ctx, name)
		if err != nil {
			return PodStatus{}, poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "load container "+name, err)
		}
		task, err := container.Task(ctx, nil)
		if err == nil {
			status, serr := task.Status(ctx)
			if serr == nil && status.Status == containerd.Stopped {
				if status.ExitStatus == 0 {
					return PodStatus{Phase: PodSucceeded, ExitCode: 0}, nil
				}
				return PodStatus{Phase: PodFailed, ExitCode: int(status.ExitStatus)}, nil
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return PodStatus{}, poiesiserr.New(poiesiserr.KindSystemFailure, "watch_pod timed out for "+name)
		}

		select {
		case <-ctx.Done():
			return PodStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *ContainerdDriver) StreamPodLogs(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(d.logPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "read logs for "+name, err)
	}
	return data, nil
}

func (d *ContainerdDriver) DeleteJob(ctx context.Context, name string, cascade bool) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return nil
	}

	if task, terr := container.Task(ctx, nil); terr == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		_ = task.Kill(stopCtx, syscall.SIGTERM)
		statusC, werr := task.Wait(stopCtx)
		if werr == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = task.Kill(ctx, syscall.SIGKILL)
			}
		}
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "delete job "+name, err)
	}
	_ = os.Remove(d.logPath(name))
	return nil
}

var _ io.Closer = (*ContainerdDriver)(nil)
