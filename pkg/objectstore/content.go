package objectstore

import (
	"context"
	"os"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// ContentClient serves the synthetic "content" scheme: an input with no
// URL carries its data inline in Input.Content. Callers pass that literal
// string as the "url" argument to Download; there is nothing to fetch.
type ContentClient struct{}

func NewContentClient() *ContentClient { return &ContentClient{} }

func (c *ContentClient) Download(ctx context.Context, content, path string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindObjectStoreUnavailable, "write inline content to "+path, err)
	}
	return nil
}

// Upload is not meaningful for the content scheme; outputs are never
// declared with it.
func (c *ContentClient) Upload(ctx context.Context, path, url string) error {
	return poiesiserr.New(poiesiserr.KindValidation, "content scheme does not support upload")
}

func (c *ContentClient) List(ctx context.Context, urlPrefix string) ([]Entry, error) {
	return nil, poiesiserr.New(poiesiserr.KindValidation, "content scheme does not support list")
}

var _ Client = (*ContentClient)(nil)
