package orchestrator

import (
	"context"
	"io"

	"github.com/chunkforge/pipeline/internal/storage"
)

// objectStoreAdapter narrows *storage.MinIOClient down to the two methods
// the pipeline actually drives: downloading a document's source file and
// uploading extracted images. It satisfies imagesink.ObjectStore directly
// (UploadFile's signature matches verbatim) and adds DownloadFile, wrapping
// the concrete *minio.Object return value in the io.ReadCloser interface
// this package otherwise has no reason to depend on minio-go for.
type objectStoreAdapter struct {
	mc *storage.MinIOClient
}

// newObjectStoreAdapter wraps mc for use as both a SourceFetcher and an
// imagesink.ObjectStore.
func newObjectStoreAdapter(mc *storage.MinIOClient) *objectStoreAdapter {
	return &objectStoreAdapter{mc: mc}
}

func (a *objectStoreAdapter) UploadFile(ctx context.Context, objectKey string, reader io.Reader, objectSize int64, contentType string) error {
	return a.mc.UploadFile(ctx, objectKey, reader, objectSize, contentType)
}

// DownloadFile fetches a document's source bytes ahead of parsing.
func (a *objectStoreAdapter) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := a.mc.DownloadFile(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
