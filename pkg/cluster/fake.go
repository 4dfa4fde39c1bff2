package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// FakeDriver is an in-memory Driver for unit and scenario tests that must
// exercise the engine's cluster interactions without a real containerd
// daemon. Each created job immediately has a pre-programmed or
// caller-supplied terminal outcome.
type FakeDriver struct {
	mu       sync.Mutex
	pvcs     map[string]bool
	jobs     map[string]JobSpec
	outcomes map[string]PodStatus
	logs     map[string][]byte

	// DefaultOutcome is used for jobs with no outcome explicitly set via
	// SetOutcome before CreateJob is called.
	DefaultOutcome PodStatus
}

// NewFakeDriver returns a FakeDriver whose jobs succeed by default.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		pvcs:           make(map[string]bool),
		jobs:           make(map[string]JobSpec),
		outcomes:       make(map[string]PodStatus),
		logs:           make(map[string][]byte),
		DefaultOutcome: PodStatus{Phase: PodSucceeded, ExitCode: 0},
	}
}

// SetOutcome pre-programs the terminal status WatchPod returns for a job
// name that will be created later.
func (d *FakeDriver) SetOutcome(name string, status PodStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes[name] = status
}

// SetLogs pre-programs the bytes StreamPodLogs returns for a job name.
func (d *FakeDriver) SetLogs(name string, logs []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[name] = logs
}

func (d *FakeDriver) CreatePVC(ctx context.Context, name, accessMode, storageClass string, sizeGB int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pvcs[name] = true
	return nil
}

func (d *FakeDriver) DeletePVC(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pvcs, name)
	return nil
}

// PVCExists reports whether name is currently tracked as present, for
// assertions in tests.
func (d *FakeDriver) PVCExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pvcs[name]
}

func (d *FakeDriver) CreateJob(ctx context.Context, spec JobSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.jobs[spec.Name]; exists {
		return poiesiserr.New(poiesiserr.KindConflict, "job already exists: "+spec.Name)
	}
	d.jobs[spec.Name] = spec
	return nil
}

func (d *FakeDriver) JobExists(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.jobs[name]
	return ok
}

func (d *FakeDriver) WatchPod(ctx context.Context, name string, timeout time.Duration) (PodStatus, error) {
	d.mu.Lock()
	status, ok := d.outcomes[name]
	if !ok {
		status = d.DefaultOutcome
	}
	d.mu.Unlock()
	return status, nil
}

func (d *FakeDriver) StreamPodLogs(ctx context.Context, name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logs[name], nil
}

func (d *FakeDriver) DeleteJob(ctx context.Context, name string, cascade bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, name)
	return nil
}

var _ Driver = (*FakeDriver)(nil)
