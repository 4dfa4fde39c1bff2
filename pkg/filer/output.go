package filer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/objectstore"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/poiesis-run/poiesis/pkg/poiesistypes"
)

// RunOutput is TOF's entrypoint: resolve every declared Output against what
// executors actually left on the PVC, upload each matched file, and record
// it in the TaskLog before reporting a single outcome on
// ChannelForFilerOutput.
func RunOutput(ctx context.Context, deps Dependencies, taskID string) error {
	logger := log.WithPhase(taskID, "filer/output")

	var task *poiesistypes.Task
	err := retryStore(ctx, "get_task", func() error {
		t, gerr := deps.Store.GetAny(taskID)
		task = t
		return gerr
	})
	if err != nil {
		return err
	}

	for _, out := range task.Outputs {
		matches, err := resolveOutput(out)
		if err != nil {
			msg := fmt.Sprintf("resolve output %s: %v", out.Path, err)
			logger.Error().Err(err).Str("path", out.Path).Msg("resolve output failed")
			_ = retryStore(ctx, "append_system_log", func() error { return deps.Store.AppendSystemLog(taskID, msg) })
			publishOutcome(ctx, deps, bus.ChannelForFilerOutput(taskID), err)
			return err
		}

		for _, m := range matches {
			if err := uploadOutput(ctx, deps, taskID, m); err != nil {
				msg := fmt.Sprintf("upload output %s: %v", m.Path, err)
				logger.Error().Err(err).Str("path", m.Path).Msg("upload output failed")
				_ = retryStore(ctx, "append_system_log", func() error { return deps.Store.AppendSystemLog(taskID, msg) })
				publishOutcome(ctx, deps, bus.ChannelForFilerOutput(taskID), err)
				return err
			}
			logger.Debug().Str("path", m.Path).Str("url", m.URL).Msg("staged output")
		}
	}

	publishOutcome(ctx, deps, bus.ChannelForFilerOutput(taskID), nil)
	return nil
}

// resolveOutput lists the local filesystem under an output's root and
// matches it against the declared Path, producing one MatchedOutput per
// file actually present. A DIRECTORY output takes every descendant of
// Path; a FILE output with no wildcard characters is a single literal
// path; a FILE output with wildcard characters is matched non-recursively
// against PathPrefix, per spec section 4.4.
func resolveOutput(out poiesistypes.Output) ([]objectstore.MatchedOutput, error) {
	local := objectstore.NewFileClient()

	if out.Type == poiesistypes.IOTypeDirectory {
		entries, err := local.List(context.Background(), "file://"+out.Path)
		if err != nil {
			return nil, err
		}
		matches := make([]objectstore.MatchedOutput, 0, len(entries))
		for _, e := range entries {
			rel := relPath(e.Path, out.Path)
			url := out.URL
			if rel != "" {
				url = trimTrailingSlash(out.URL) + "/" + rel
			}
			matches = append(matches, objectstore.MatchedOutput{Path: e.Path, URL: url})
		}
		return matches, nil
	}

	if !hasWildcard(out.Path) {
		if _, err := os.Stat(out.Path); err != nil {
			if os.IsNotExist(err) {
				return nil, poiesiserr.New(poiesiserr.KindValidation, "output not found: "+out.Path)
			}
			return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "stat "+out.Path, err)
		}
		return []objectstore.MatchedOutput{{Path: out.Path, URL: out.URL}}, nil
	}

	root := out.PathPrefix
	if root == "" {
		root = filepath.Dir(out.Path)
	}
	entries, err := local.List(context.Background(), "file://"+root)
	if err != nil {
		return nil, err
	}
	return objectstore.ExpandOutput(entries, out.Path, root, out.URL), nil
}

func hasWildcard(p string) bool {
	for _, r := range p {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func uploadOutput(ctx context.Context, deps Dependencies, taskID string, m objectstore.MatchedOutput) error {
	client, err := deps.ObjectStore.For(m.URL)
	if err != nil {
		return err
	}
	scheme := objectstore.Scheme(m.URL)
	if err := wrapUnavailable(retryObjectStore(ctx, scheme, "upload", func() error {
		return client.Upload(ctx, m.Path, m.URL)
	}), "upload "+m.Path); err != nil {
		return err
	}

	info, err := os.Stat(m.Path)
	var size int64
	if err == nil {
		size = info.Size()
	}
	metrics.FilerBytesTransferred.WithLabelValues("output").Add(float64(size))
	return retryStore(ctx, "append_output_log", func() error {
		return deps.Store.AppendOutputLog(taskID, poiesistypes.OutputFileLog{
			URL:       m.URL,
			Path:      m.Path,
			SizeBytes: size,
		})
	})
}
