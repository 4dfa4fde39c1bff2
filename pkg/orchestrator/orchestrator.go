// Package orchestrator implements TOrc, the Task Lifecycle Engine's
// coordinator: it drives a single task through QUEUED -> INITIALIZING ->
// RUNNING -> a terminal state by launching the Input Filer, TExAM, and
// Output Filer as cluster Jobs and reconciling their outcome through the
// Bus (fast path) and the Store (fallback), per spec section 4.6. Grounded
// on the teacher's reconciler loop: log-and-continue on a retryable error,
// metrics on every phase transition, no panics on expected failure paths.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/rs/zerolog"
)

// Phase names used to build deterministic Job names and to label the
// PhaseTransitionDuration metric.
const (
	PhaseOrchestrator = "torc"
	PhaseFilerInput   = "tif"
	PhaseExecutor     = "texam"
	PhaseFilerOutput  = "tof"
)

// Dependencies bundles what Run needs to drive one task to completion.
type Dependencies struct {
	Store  store.Store
	Bus    bus.Bus
	Driver cluster.Driver
	Config *config.Config
}

// JobSpecForTOrc builds the cluster.JobSpec that launches the orchestrator
// itself for a newly created task; the API handler calls this right after
// Store.Create succeeds.
func JobSpecForTOrc(cfg *config.Config, taskID string) cluster.JobSpec {
	return cluster.JobSpec{
		Name:            cluster.JobName(PhaseOrchestrator, taskID, 0),
		Image:           cfg.Image,
		Command:         []string{"poiesis", "orchestrate", "--task-id", taskID},
		ServiceAccount:  cfg.ServiceAccountName,
		RestartPolicy:   cfg.RestartPolicy,
		ImagePullPolicy: cfg.ImagePullPolicy,
		TTLSecondsAfter: int(cfg.JobTTL.Seconds()),
		Env:             map[string]string{"TASK_ID": taskID},
	}
}

func jobSpecForFiler(phase string, cfg *config.Config, taskID string) cluster.JobSpec {
	command := "stage-in"
	if phase == PhaseFilerOutput {
		command = "stage-out"
	}
	return cluster.JobSpec{
		Name:            cluster.JobName(phase, taskID, 0),
		Image:           cfg.Image,
		Command:         []string{"poiesis", command, "--task-id", taskID},
		ServiceAccount:  cfg.ServiceAccountName,
		RestartPolicy:   cfg.RestartPolicy,
		ImagePullPolicy: cfg.ImagePullPolicy,
		TTLSecondsAfter: int(cfg.JobTTL.Seconds()),
		Mounts:          []cluster.Mount{{PVCName: PVCName(taskID), MountPath: "/work"}},
		Env:             map[string]string{"TASK_ID": taskID},
	}
}

func jobSpecForTExAM(cfg *config.Config, taskID string) cluster.JobSpec {
	return cluster.JobSpec{
		Name:            cluster.JobName(PhaseExecutor, taskID, 0),
		Image:           cfg.Image,
		Command:         []string{"poiesis", "execute", "--task-id", taskID},
		ServiceAccount:  cfg.ServiceAccountName,
		RestartPolicy:   cfg.RestartPolicy,
		ImagePullPolicy: cfg.ImagePullPolicy,
		TTLSecondsAfter: int(cfg.JobTTL.Seconds()),
		Mounts:          []cluster.Mount{{PVCName: PVCName(taskID), MountPath: "/work"}},
		Env:             map[string]string{"TASK_ID": taskID},
	}
}

// PVCName is the deterministic name of the PVC backing a task's shared
// /work directory across every phase: the orchestrator, the filers, and
// each per-executor job TExAM launches.
func PVCName(taskID string) string {
	return cluster.JobName("pvc", taskID, 0)
}

// Run drives taskID through its full lifecycle. It is the entrypoint for
// `poiesis orchestrate --task-id <id>`: one process, one task, exits on
// reaching a terminal state.
func Run(ctx context.Context, deps Dependencies, taskID string) error {
	logger := log.WithPhase(taskID, PhaseOrchestrator)

	var task *poiesistypes.Task
	err := retryStore(ctx, "get_task", func() error {
		t, gerr := deps.Store.GetAny(taskID)
		task = t
		return gerr
	})
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	if err := casOrFail(ctx, deps, taskID, poiesistypes.StateQueued, poiesistypes.StateInitializing, logger); err != nil {
		return err
	}
	metrics.TasksByState.WithLabelValues(string(poiesistypes.StateInitializing)).Inc()

	initTimer := metrics.NewTimer()

	sizeGB := int64(10)
	if task.Resources != nil && task.Resources.DiskGB != nil {
		sizeGB = int64(*task.Resources.DiskGB)
		if sizeGB < 1 {
			sizeGB = 1
		}
	}
	if err := retryCluster(ctx, "create_pvc", func() error {
		return deps.Driver.CreatePVC(ctx, PVCName(taskID), deps.Config.PVCAccessMode, deps.Config.PVCStorageClass, sizeGB)
	}); err != nil {
		return failTask(ctx, deps, taskID, poiesistypes.StateInitializing, err, logger)
	}
	if err := retryStore(ctx, "set_start_time", func() error { return deps.Store.SetStartTime(taskID) }); err != nil {
		logger.Warn().Err(err).Msg("set start time failed, continuing")
	}

	if err := runFilerPhase(ctx, deps, taskID, PhaseFilerInput, logger); err != nil {
		return failTask(ctx, deps, taskID, poiesistypes.StateInitializing, err, logger)
	}
	initTimer.ObserveDurationVec(metrics.PhaseTransitionDuration, PhaseFilerInput)

	if err := casOrFail(ctx, deps, taskID, poiesistypes.StateInitializing, poiesistypes.StateRunning, logger); err != nil {
		return err
	}
	metrics.TasksByState.WithLabelValues(string(poiesistypes.StateRunning)).Inc()

	runTimer := metrics.NewTimer()
	if err := runExecutorPhase(ctx, deps, taskID, logger); err != nil {
		return failTask(ctx, deps, taskID, poiesistypes.StateRunning, err, logger)
	}
	runTimer.ObserveDurationVec(metrics.PhaseTransitionDuration, PhaseExecutor)

	outTimer := metrics.NewTimer()
	if err := runFilerPhase(ctx, deps, taskID, PhaseFilerOutput, logger); err != nil {
		return failTask(ctx, deps, taskID, poiesistypes.StateRunning, err, logger)
	}
	outTimer.ObserveDurationVec(metrics.PhaseTransitionDuration, PhaseFilerOutput)

	if err := casOrFail(ctx, deps, taskID, poiesistypes.StateRunning, poiesistypes.StateComplete, logger); err != nil {
		return err
	}
	metrics.TasksByState.WithLabelValues(string(poiesistypes.StateComplete)).Inc()

	if err := retryStore(ctx, "set_end_time", func() error { return deps.Store.SetEndTime(taskID) }); err != nil {
		logger.Warn().Err(err).Msg("set end time failed")
	}

	cleanup(ctx, deps, taskID, logger)
	return nil
}

// casOrFail performs the Store CAS and, on a Conflict (meaning another
// actor already moved the task, most commonly a concurrent cancel),
// cleans up the task's Jobs and PVC before returning the error: whatever
// path got the task to a terminal state, invariant #2 still requires its
// cluster resources to eventually disappear.
func casOrFail(ctx context.Context, deps Dependencies, taskID string, from, to poiesistypes.State, logger zerolog.Logger) error {
	if err := retryStore(ctx, "transition", func() error { return deps.Store.Transition(taskID, from, to) }); err != nil {
		cleanup(ctx, deps, taskID, logger)
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	return nil
}

// runFilerPhase launches a filer Job, waits on its Bus channel with a
// bounded timeout, and falls back to a Store read if the Bus never
// delivers — the non-authoritative wake-up hint pattern from spec
// section 5.
func runFilerPhase(ctx context.Context, deps Dependencies, taskID, phase string, logger zerolog.Logger) error {
	var spec cluster.JobSpec
	var channel string
	switch phase {
	case PhaseFilerInput, PhaseFilerOutput:
		spec = jobSpecForFiler(phase, deps.Config, taskID)
		if phase == PhaseFilerInput {
			channel = bus.ChannelForFilerInput(taskID)
		} else {
			channel = bus.ChannelForFilerOutput(taskID)
		}
	default:
		return fmt.Errorf("unknown filer phase %s", phase)
	}

	if err := retryCluster(ctx, "create_job", func() error { return deps.Driver.CreateJob(ctx, spec) }); err != nil {
		return fmt.Errorf("launch %s job: %w", phase, err)
	}

	msg, err := waitForOutcome(ctx, deps, taskID, channel, deps.Config.MonitorTimeout)
	if err != nil {
		return err
	}
	if msg.Status == bus.StatusError {
		return poiesiserr.New(poiesiserr.KindSystemFailure, phase+" reported error: "+msg.Detail)
	}
	return nil
}

// runExecutorPhase is the same wait pattern as runFilerPhase, with the
// extra branch for an executor's non-zero exit (terminal EXECUTOR_ERROR,
// not a retryable SYSTEM_ERROR).
func runExecutorPhase(ctx context.Context, deps Dependencies, taskID string, logger zerolog.Logger) error {
	spec := jobSpecForTExAM(deps.Config, taskID)
	if err := retryCluster(ctx, "create_job", func() error { return deps.Driver.CreateJob(ctx, spec) }); err != nil {
		return fmt.Errorf("launch texam job: %w", err)
	}

	msg, err := waitForOutcome(ctx, deps, taskID, bus.ChannelForTExAM(taskID), deps.Config.MonitorTimeout)
	if err != nil {
		return err
	}
	if msg.Status == bus.StatusError {
		switch msg.Detail {
		case executorNonZeroDetail:
			return poiesiserr.New(poiesiserr.KindExecutorNonZero, "executor exited non-zero")
		case preemptedDetail:
			return poiesiserr.New(poiesiserr.KindPreempted, "executor preempted")
		default:
			return poiesiserr.New(poiesiserr.KindSystemFailure, "texam reported error: "+msg.Detail)
		}
	}
	return nil
}

// executorNonZeroDetail is the sentinel TExAM publishes so TOrc can tell
// "an executor failed on purpose" apart from "texam itself crashed".
const executorNonZeroDetail = "executor_non_zero"

// preemptedDetail is the sentinel TExAM publishes when the cluster
// specifically reported one of its pods as preempted.
const preemptedDetail = "preempted"

// waitForOutcome blocks on the Bus up to timeout; on ErrTimeout it falls
// back to re-reading the task from the Store and infers completion from
// whether the expected state transition already landed, since a crashed
// workload may still have persisted its result before dying.
func waitForOutcome(ctx context.Context, deps Dependencies, taskID, channel string, timeout time.Duration) (bus.Message, error) {
	var msg bus.Message
	err := retryBus(ctx, "subscribe", func() error {
		m, serr := deps.Bus.Subscribe(ctx, channel, timeout)
		msg = m
		return serr
	})
	if err == nil {
		return msg, nil
	}
	if err != bus.ErrTimeout {
		return bus.Message{}, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	var task *poiesistypes.Task
	gerr := retryStore(ctx, "get_task", func() error {
		t, e := deps.Store.GetAny(taskID)
		task = t
		return e
	})
	if gerr != nil {
		return bus.Message{}, fmt.Errorf("store fallback after bus timeout: %w", gerr)
	}
	if poiesistypes.IsTerminal(task.State) {
		return bus.Message{}, poiesiserr.New(poiesiserr.KindSystemFailure, "task already terminal: "+string(task.State))
	}
	return bus.Message{}, poiesiserr.New(poiesiserr.KindSystemFailure, channel+" timed out with no store-visible progress")
}

// failTask maps cause to its terminal state (EXECUTOR_ERROR for a non-zero
// executor exit, PREEMPTED when the cluster specifically reported it,
// SYSTEM_ERROR otherwise), CASes the task there, and always runs cleanup
// regardless of which branch was taken: invariant #2 requires the task's
// Jobs and PVC to eventually disappear from every terminal outcome, not
// just the happy COMPLETE path. A Conflict means a concurrent actor (most
// likely cancel) already moved the task; that is not itself an error, but
// cleanup still runs since that actor may not have reached this PVC yet.
func failTask(ctx context.Context, deps Dependencies, taskID string, from poiesistypes.State, cause error, logger zerolog.Logger) error {
	target := poiesistypes.StateSystemError
	switch {
	case poiesiserr.Is(cause, poiesiserr.KindExecutorNonZero):
		target = poiesistypes.StateExecutorError
	case poiesiserr.Is(cause, poiesiserr.KindPreempted):
		target = poiesistypes.StatePreempted
	}

	if terr := retryStore(ctx, "transition", func() error { return deps.Store.Transition(taskID, from, target) }); terr != nil {
		if poiesiserr.Is(terr, poiesiserr.KindConflict) {
			cleanup(ctx, deps, taskID, logger)
			return nil
		}
		return fmt.Errorf("transition to %s after %v: %w", target, cause, terr)
	}
	metrics.TasksByState.WithLabelValues(string(target)).Inc()
	_ = retryStore(ctx, "append_system_log", func() error { return deps.Store.AppendSystemLog(taskID, cause.Error()) })
	_ = retryStore(ctx, "set_end_time", func() error { return deps.Store.SetEndTime(taskID) })
	cleanup(ctx, deps, taskID, logger)
	return cause
}

// cleanup best-effort removes the task's Jobs and PVC once it has reached a
// terminal state, on every path that gets there, not just the happy one.
func cleanup(ctx context.Context, deps Dependencies, taskID string, logger zerolog.Logger) {
	for _, phase := range []string{PhaseFilerInput, PhaseExecutor, PhaseFilerOutput} {
		name := cluster.JobName(phase, taskID, 0)
		if err := retryCluster(ctx, "delete_job", func() error { return deps.Driver.DeleteJob(ctx, name, true) }); err != nil {
			logger.Warn().Err(err).Str("job", name).Msg("best-effort job cleanup failed")
		}
	}
	if err := retryCluster(ctx, "delete_pvc", func() error { return deps.Driver.DeletePVC(ctx, PVCName(taskID)) }); err != nil {
		logger.Warn().Err(err).Str("pvc", PVCName(taskID)).Msg("best-effort pvc cleanup failed")
	}
}

// retryCluster runs fn with the engine's standard retry/backoff schedule
// and records its wall-clock cost against the Cluster Driver operation
// histogram, labeled by op.
func retryCluster(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.ClusterOpDuration, op)
	return err
}

// retryStore mirrors retryCluster for Store boundary calls.
func retryStore(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.StoreOpDuration, op)
	return err
}

// retryBus mirrors retryCluster for Bus boundary calls.
func retryBus(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.BusOpDuration, op)
	return err
}
