package filer

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/objectstore"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
)

// RunInput is TIF's entrypoint: stage every declared Input onto the task's
// PVC, in order, then report a single outcome on ChannelForFilerInput.
// Grounded on the teacher's worker.go, which walks a fixed list of mounts
// sequentially and only reports once at the end rather than per item.
func RunInput(ctx context.Context, deps Dependencies, taskID string) error {
	logger := log.WithPhase(taskID, "filer/input")

	var task *poiesistypes.Task
	err := retryStore(ctx, "get_task", func() error {
		t, gerr := deps.Store.GetAny(taskID)
		task = t
		return gerr
	})
	if err != nil {
		return err
	}

	for _, in := range task.Inputs {
		if err := stageInput(ctx, deps, taskID, in); err != nil {
			msg := fmt.Sprintf("stage input %s: %v", in.Path, err)
			logger.Error().Err(err).Str("path", in.Path).Msg("stage input failed")
			_ = retryStore(ctx, "append_system_log", func() error { return deps.Store.AppendSystemLog(taskID, msg) })
			publishOutcome(ctx, deps, bus.ChannelForFilerInput(taskID), err)
			return err
		}
		logger.Debug().Str("path", in.Path).Msg("staged input")
	}

	publishOutcome(ctx, deps, bus.ChannelForFilerInput(taskID), nil)
	return nil
}

func stageInput(ctx context.Context, deps Dependencies, taskID string, in poiesistypes.Input) error {
	if err := os.MkdirAll(filepath.Dir(in.Path), 0755); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create parent dir for "+in.Path, err)
	}

	if in.Type == poiesistypes.IOTypeDirectory {
		return stageDirectory(ctx, deps, in)
	}

	if in.Content != "" {
		client, err := deps.ObjectStore.For("")
		if err != nil {
			return err
		}
		if err := wrapUnavailable(retryObjectStore(ctx, "content", "download", func() error {
			return client.Download(ctx, in.Content, in.Path)
		}), "write inline content to "+in.Path); err != nil {
			return err
		}
		recordTransferred(in.Path, "input")
		return nil
	}

	client, err := deps.ObjectStore.For(in.URL)
	if err != nil {
		return err
	}
	scheme := objectstore.Scheme(in.URL)
	if err := wrapUnavailable(retryObjectStore(ctx, scheme, "download", func() error {
		return client.Download(ctx, in.URL, in.Path)
	}), "download "+in.URL); err != nil {
		return err
	}
	recordTransferred(in.Path, "input")
	return nil
}

func stageDirectory(ctx context.Context, deps Dependencies, in poiesistypes.Input) error {
	client, err := deps.ObjectStore.For(in.URL)
	if err != nil {
		return err
	}
	scheme := objectstore.Scheme(in.URL)

	var entries []objectstore.Entry
	if err := retryObjectStore(ctx, scheme, "list", func() error {
		e, lerr := client.List(ctx, in.URL)
		entries = e
		return lerr
	}); err != nil {
		return wrapUnavailable(err, "list "+in.URL)
	}

	prefix := urlPath(in.URL)
	for _, e := range entries {
		rel := relPath(e.Path, prefix)
		dest := filepath.Join(in.Path, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create parent dir for "+dest, err)
		}
		entry := e
		if err := retryObjectStore(ctx, scheme, "download", func() error { return client.Download(ctx, entry.URL, dest) }); err != nil {
			return wrapUnavailable(err, "download "+e.URL)
		}
		recordTransferred(dest, "input")
	}
	return nil
}

// recordTransferred adds path's size to the filer byte-transfer counter,
// best-effort: a stat failure just means this transfer isn't counted.
func recordTransferred(path, direction string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	metrics.FilerBytesTransferred.WithLabelValues(direction).Add(float64(info.Size()))
}

// urlPath extracts the path component shared by every scheme's Entry.Path
// convention, so a directory input's relative layout can be reconstructed
// under in.Path regardless of which backend served it.
func urlPath(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func relPath(entryPath, prefix string) string {
	entryPath = strings.TrimPrefix(entryPath, "/")
	prefix = strings.TrimPrefix(prefix, "/")
	rel := strings.TrimPrefix(entryPath, prefix)
	return strings.TrimPrefix(rel, "/")
}
