// Package texam implements TExAM, the Execution-and-Monitor workload: it
// runs a task's executors in order, one cluster Job per executor, against
// the PVC TIF already populated. Grounded on the teacher's worker.go
// executeContainer: pull/create/start, then monitor to a terminal status,
// log as you go, clean up the pieces you created.
package texam

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/orchestrator"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/rs/zerolog"
)

// executorNonZeroDetail mirrors orchestrator's sentinel so the Bus message
// TExAM publishes tells the orchestrator "an executor legitimately failed"
// apart from "TExAM itself fell over".
const executorNonZeroDetail = "executor_non_zero"

// preemptedDetail tells the orchestrator the cluster specifically reported
// preemption, so it CASes to StatePreempted rather than StateSystemError.
const preemptedDetail = "preempted"

// watchTimeoutExitCode is the synthetic exit code recorded for an executor
// whose pod never reached a terminal phase before WatchPod's deadline, per
// spec section 4.8 step 2: every recorded executor log carries a non-empty
// exit_code, even one TExAM never actually observed.
const watchTimeoutExitCode = 124

// Dependencies bundles what Run needs to drive one task's executors.
type Dependencies struct {
	Store  store.Store
	Bus    bus.Bus
	Driver cluster.Driver
	Config *config.Config
}

// Run is TExAM's entrypoint: `poiesis execute --task-id <id>`. It runs
// every Executor in order, stopping at the first non-zero exit that does
// not set ignore_error, and reports a single outcome on ChannelForTExAM.
func Run(ctx context.Context, deps Dependencies, taskID string) error {
	logger := log.WithPhase(taskID, "texam")

	var task *poiesistypes.Task
	err := retryStore(ctx, "get_task", func() error {
		t, gerr := deps.Store.GetAny(taskID)
		task = t
		return gerr
	})
	if err != nil {
		return err
	}

	for i, ex := range task.Executors {
		timer := metrics.NewTimer()
		execErr := runExecutor(ctx, deps, taskID, i, ex, logger)
		timer.ObserveDuration(metrics.ExecutorDuration)

		if execErr != nil {
			if !ex.IgnoreError {
				publishOutcome(ctx, deps, taskID, execErr)
				return execErr
			}
			logger.Warn().Err(execErr).Int("index", i).Msg("executor failed but ignore_error is set, continuing")
		}
	}

	publishOutcome(ctx, deps, taskID, nil)
	return nil
}

func publishOutcome(ctx context.Context, deps Dependencies, taskID string, execErr error) {
	msg := bus.Message{Status: bus.StatusOK}
	if execErr != nil {
		msg = bus.Message{Status: bus.StatusError}
		switch {
		case poiesiserr.Is(execErr, poiesiserr.KindExecutorNonZero):
			msg.Detail = executorNonZeroDetail
		case poiesiserr.Is(execErr, poiesiserr.KindPreempted):
			msg.Detail = preemptedDetail
		}
	}
	if err := retryBus(ctx, "publish", func() error { return deps.Bus.Publish(ctx, bus.ChannelForTExAM(taskID), msg) }); err != nil {
		log.Errorf("publish texam outcome", err)
	}
}

// runExecutor launches executor index i as its own cluster Job, waits for
// it to reach a terminal phase, captures its logs into the TaskLog, and
// translates its outcome into the engine's error taxonomy.
func runExecutor(ctx context.Context, deps Dependencies, taskID string, index int, ex poiesistypes.Executor, logger zerolog.Logger) error {
	name := cluster.JobName("texam", taskID, index+1)
	spec := buildExecutorJobSpec(deps.Config, taskID, name, ex)

	start := time.Now()
	if err := retryCluster(ctx, "create_job", func() error { return deps.Driver.CreateJob(ctx, spec) }); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindClusterUnavailable, "create job for executor "+name, err)
	}
	logger.Debug().Str("job", name).Str("image", ex.Image).Msg("executor job created")

	var status cluster.PodStatus
	watchErr := retryCluster(ctx, "watch_pod", func() error {
		s, werr := deps.Driver.WatchPod(ctx, name, deps.Config.MonitorTimeout)
		status = s
		return werr
	})
	end := time.Now()

	defer func() {
		_ = retryCluster(context.Background(), "delete_job", func() error { return deps.Driver.DeleteJob(context.Background(), name, true) })
	}()

	execLog := poiesistypes.ExecutorLog{StartTime: &start, EndTime: &end}

	if watchErr != nil {
		exitCode := watchTimeoutExitCode
		execLog.ExitCode = &exitCode
		_ = retryStore(ctx, "append_executor_log", func() error { return deps.Store.AppendExecutorLog(taskID, index, execLog) })
		_ = retryStore(ctx, "append_system_log", func() error {
			return deps.Store.AppendSystemLog(taskID, fmt.Sprintf("executor %s timed out or the cluster could not report its status: %v", name, watchErr))
		})
		return poiesiserr.Wrap(poiesiserr.KindSystemFailure, "watch executor "+name, watchErr)
	}

	stdout, stderr := splitLogs(deps.Driver, ctx, name, logger)
	execLog.Stdout = truncate(stdout, deps.Config.StdoutStderrTruncationBytes)
	execLog.Stderr = truncate(stderr, deps.Config.StdoutStderrTruncationBytes)
	execLog.ExitCode = &status.ExitCode
	if err := retryStore(ctx, "append_executor_log", func() error { return deps.Store.AppendExecutorLog(taskID, index, execLog) }); err != nil {
		logger.Warn().Err(err).Msg("append executor log failed")
	}

	if status.Phase == cluster.PodPreempted {
		return poiesiserr.New(poiesiserr.KindPreempted, "executor "+name+" preempted")
	}
	if status.Phase != cluster.PodSucceeded || status.ExitCode != 0 {
		metrics.ExecutorsFailedTotal.Inc()
		return poiesiserr.New(poiesiserr.KindExecutorNonZero, fmt.Sprintf("executor %s exited %d", name, status.ExitCode))
	}
	return nil
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

// splitLogs pulls the pod's combined stdout+stderr stream. The Cluster
// Driver interface exposes only one combined stream (spec section 4.3), so
// both TaskLog fields carry the same bytes; a driver fronting a runtime
// that separates the two streams can split them here without changing
// this function's callers.
func splitLogs(driver cluster.Driver, ctx context.Context, name string, logger zerolog.Logger) (string, string) {
	raw, err := driver.StreamPodLogs(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Str("job", name).Msg("stream pod logs failed")
		return "", ""
	}
	text := string(bytes.TrimRight(raw, "\n"))
	return text, text
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}

// buildExecutorJobSpec wraps the executor's command in a shell invocation
// only when workdir or stream redirection is declared; a plain executor
// runs its command directly, matching how the cluster Driver's containerd
// backend execs JobSpec.Command with no shell involved.
func buildExecutorJobSpec(cfg *config.Config, taskID, name string, ex poiesistypes.Executor) cluster.JobSpec {
	command := ex.Command
	if ex.Workdir != "" || ex.Stdin != "" || ex.Stdout != "" || ex.Stderr != "" {
		command = []string{"sh", "-c", shellScript(ex)}
	}

	env := make(map[string]string, len(ex.Env)+1)
	for k, v := range ex.Env {
		env[k] = v
	}
	env["TASK_ID"] = taskID

	return cluster.JobSpec{
		Name:            name,
		Image:           ex.Image,
		Command:         command,
		Env:             env,
		Mounts:          []cluster.Mount{{PVCName: orchestrator.PVCName(taskID), MountPath: "/work"}},
		ServiceAccount:  cfg.ServiceAccountName,
		RestartPolicy:   cfg.RestartPolicy,
		ImagePullPolicy: cfg.ImagePullPolicy,
		TTLSecondsAfter: int(cfg.JobTTL.Seconds()),
	}
}

func shellScript(ex poiesistypes.Executor) string {
	var b strings.Builder
	if ex.Workdir != "" {
		b.WriteString("cd ")
		b.WriteString(shellQuote(ex.Workdir))
		b.WriteString(" && ")
	}
	b.WriteString("exec")
	for _, arg := range ex.Command {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	if ex.Stdin != "" {
		b.WriteString(" <")
		b.WriteString(shellQuote(ex.Stdin))
	}
	if ex.Stdout != "" {
		b.WriteString(" >")
		b.WriteString(shellQuote(ex.Stdout))
	}
	if ex.Stderr != "" {
		b.WriteString(" 2>")
		b.WriteString(shellQuote(ex.Stderr))
	}
	return b.String()
}

// shellQuote wraps s in single quotes, the POSIX-safe way to pass a
// value through sh -c untouched regardless of its contents.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
