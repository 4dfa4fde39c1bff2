// Package cluster exposes the Job/Pod/PVC primitives the Task Lifecycle
// Engine needs from the underlying container orchestrator, independent of
// which one it actually is.
package cluster

import (
	"context"
	"strconv"
	"time"
)

// PodPhase mirrors the terminal phases watch_pod resolves on.
type PodPhase string

const (
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodPreempted PodPhase = "Preempted"
)

// Mount binds a PVC (by name) into a Job's container at a path.
type Mount struct {
	PVCName   string
	MountPath string
	ReadOnly  bool
}

// JobSpec is a one-shot workload specification.
type JobSpec struct {
	Name             string
	Image            string
	Command          []string
	Env              map[string]string
	Mounts           []Mount
	ServiceAccount   string
	RestartPolicy    string
	TTLSecondsAfter  int
	ImagePullPolicy  string
}

// PodStatus is the terminal outcome watch_pod resolves to.
type PodStatus struct {
	Phase    PodPhase
	ExitCode int
}

// Driver is the Cluster Driver interface. All operations are scoped to a
// single namespace. Names are deterministic: <phase>-<taskid>[-<n>],
// lowercase, <= 63 chars; collisions surface as a Conflict error.
type Driver interface {
	CreatePVC(ctx context.Context, name, accessMode, storageClass string, sizeGB int64) error
	DeletePVC(ctx context.Context, name string) error

	CreateJob(ctx context.Context, spec JobSpec) error
	// WatchPod blocks until the job's pod reaches a terminal phase or
	// timeout elapses (timeout == 0 means wait forever).
	WatchPod(ctx context.Context, name string, timeout time.Duration) (PodStatus, error)
	// StreamPodLogs returns the pod's combined stdout+stderr log bytes.
	// Restartable on disconnect: callers may call it again after an error.
	StreamPodLogs(ctx context.Context, name string) ([]byte, error)
	DeleteJob(ctx context.Context, name string, cascade bool) error
}

// JobName builds a deterministic, cluster-safe job name for a phase.
func JobName(phase, taskID string, n int) string {
	name := phase + "-" + taskID
	if n > 0 {
		name = name + "-" + strconv.Itoa(n)
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
