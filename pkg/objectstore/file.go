package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// FileClient serves the "file" scheme: URLs of the form file:///abs/path
// or a bare local path, used mainly by tests and single-host deployments
// sharing a filesystem between the engine and its workloads.
type FileClient struct{}

func NewFileClient() *FileClient { return &FileClient{} }

func filePath(url string) string {
	return strings.TrimPrefix(url, "file://")
}

func (c *FileClient) Download(ctx context.Context, url, path string) error {
	return copyFile(filePath(url), path)
}

func (c *FileClient) Upload(ctx context.Context, path, url string) error {
	dst := filePath(url)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create parent dir for "+dst, err)
	}
	return copyFile(path, dst)
}

func (c *FileClient) List(ctx context.Context, urlPrefix string) ([]Entry, error) {
	root := filePath(urlPrefix)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "stat "+root, err)
	}
	if !info.IsDir() {
		return []Entry{{URL: "file://" + root, Path: root}}, nil
	}

	var entries []Entry
	err = filepath.Walk(root, func(p string, fi os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if fi.IsDir() {
			return nil
		}
		entries = append(entries, Entry{URL: "file://" + p, Path: p})
		return nil
	})
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "walk "+root, err)
	}
	return entries, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "open "+src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create parent dir for "+dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "create "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "copy "+src+" to "+dst, err)
	}
	return nil
}

var _ Client = (*FileClient)(nil)
