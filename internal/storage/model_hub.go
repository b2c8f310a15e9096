package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// artifactFiles are the files that make up one model artifact directory.
var artifactFiles = []string{"model.onnx", "metadata.json"}

// ModelHub downloads pretrained model artifacts from an HTTP endpoint into
// an object store, one file at a time.
type ModelHub struct {
	client *resty.Client
	store  ObjectStore
}

func NewModelHub(store ObjectStore) *ModelHub {
	return &ModelHub{
		client: resty.New().SetTimeout(5 * time.Minute),
		store:  store,
	}
}

// FetchModel pulls the artifact files from baseURL and stores them under
// prefix in the given bucket.
func (h *ModelHub) FetchModel(ctx context.Context, baseURL, bucket, prefix string) error {
	baseURL = strings.TrimSuffix(baseURL, "/")

	for _, name := range artifactFiles {
		url := baseURL + "/" + name

		res, err := h.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return fmt.Errorf("failed to fetch model file %s: %w", url, err)
		}
		if !res.IsSuccess() {
			return fmt.Errorf("failed to fetch model file %s: status %d", url, res.StatusCode())
		}

		key := prefix + "/" + name
		if err := h.store.PutObject(ctx, bucket, key, bytes.NewReader(res.Body())); err != nil {
			return err
		}
		slog.Info("fetched model file", "url", url, "bucket", bucket, "key", key, "bytes", len(res.Body()))
	}

	return nil
}
