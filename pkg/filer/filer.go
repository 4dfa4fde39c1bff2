// Package filer implements TIF (stage inputs in) and TOF (stage outputs
// out): the two Task Lifecycle Engine workloads that move bytes between a
// task's declared URLs and the PVC shared with its executors, per spec
// sections 4.7 and 4.9. Grounded on the teacher's worker.go: a sequential
// per-item loop, log-as-you-go, publish a single ok/error outcome at the
// end.
package filer

import (
	"context"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/objectstore"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/store"
)

// Dependencies bundles what both RunInput and RunOutput need.
type Dependencies struct {
	Store       store.Store
	Bus         bus.Bus
	ObjectStore *objectstore.Registry
	Config      *config.Config
}

// publishOutcome reports the phase's terminal status on channel, logging
// the publish failure (the Store already has the durable record via
// AppendSystemLog) rather than letting a flaky Bus mask a real result.
func publishOutcome(ctx context.Context, deps Dependencies, channel string, phaseErr error) {
	msg := bus.Message{Status: bus.StatusOK}
	if phaseErr != nil {
		msg = bus.Message{Status: bus.StatusError, Detail: phaseErr.Error()}
	}
	if err := retryBus(ctx, "publish", func() error { return deps.Bus.Publish(ctx, channel, msg) }); err != nil {
		log.Errorf("publish filer outcome", err)
	}
}

func wrapUnavailable(err error, detail string) error {
	if err == nil {
		return nil
	}
	if poiesiserr.KindOf(err) != poiesiserr.KindSystemFailure {
		return err
	}
	return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, detail, err)
}

// retryObjectStore runs fn with the engine's standard retry/backoff
// schedule and records its wall-clock cost against the Object Store
// Client operation histogram, labeled by scheme and op.
func retryObjectStore(ctx context.Context, scheme, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.ObjectStoreOpDuration, scheme, op)
	return err
}

// retryStore mirrors retryObjectStore for Store boundary calls.
func retryStore(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.StoreOpDuration, op)
	return err
}

// retryBus mirrors retryObjectStore for Bus boundary calls.
func retryBus(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	err := poiesiserr.Retry(ctx, poiesiserr.DefaultBackoff, fn)
	timer.ObserveDurationVec(metrics.BusOpDuration, op)
	return err
}
