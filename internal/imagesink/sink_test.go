package imagesink

import (
	"context"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	uploaded map[string][]byte
	failName string
}

func (f *fakeStore) UploadFile(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	if f.failName != "" && objectKey == f.failName {
		return assertError{}
	}
	data, _ := io.ReadAll(reader)
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[objectKey] = data
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "upload failed" }

func TestUploadImagesDecodesDataURLAndRawBase64(t *testing.T) {
	store := &fakeStore{}
	sink := New(store, "http://host/images", nil)

	raw := []byte("fake-png-bytes")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	rawB64 := base64.StdEncoding.EncodeToString(raw)

	uploaded, saved := sink.UploadImages(context.Background(), "ds-1", map[string]string{
		"a.png": dataURL,
		"b.png": rawB64,
	})
	require.Equal(t, 2, saved)
	assert.Equal(t, "ds-1/images/a.png", uploaded["a.png"])
	assert.Equal(t, raw, store.uploaded["ds-1/images/a.png"])
	assert.Equal(t, raw, store.uploaded["ds-1/images/b.png"])
}

func TestUploadImagesSkipsBadBase64WithoutAborting(t *testing.T) {
	store := &fakeStore{}
	sink := New(store, "http://host/images", nil)

	uploaded, saved := sink.UploadImages(context.Background(), "ds-1", map[string]string{
		"bad.png":  "not-valid-base64!!!",
		"good.png": base64.StdEncoding.EncodeToString([]byte("ok")),
	})
	require.Equal(t, 1, saved)
	_, badPresent := uploaded["bad.png"]
	assert.False(t, badPresent)
	assert.Contains(t, uploaded, "good.png")
}

func TestUploadImagesSkipsUploadFailureWithoutAborting(t *testing.T) {
	store := &fakeStore{failName: "ds-1/images/broken.png"}
	sink := New(store, "http://host", nil)

	uploaded, saved := sink.UploadImages(context.Background(), "ds-1", map[string]string{
		"broken.png": base64.StdEncoding.EncodeToString([]byte("x")),
		"ok.png":     base64.StdEncoding.EncodeToString([]byte("y")),
	})
	require.Equal(t, 1, saved)
	assert.NotContains(t, uploaded, "broken.png")
	assert.Contains(t, uploaded, "ok.png")
}

func TestRewriteMarkdownReplacesKnownReferences(t *testing.T) {
	sink := New(&fakeStore{}, "http://host/bucket", nil)
	uploaded := map[string]string{"fig1.png": "ds-1/images/fig1.png"}

	content := "See ![figure one](fig1.png) and ![other](unknown.png)."
	rewritten := sink.RewriteMarkdown(content, uploaded)

	assert.Contains(t, rewritten, "![figure one](http://host/bucket/ds-1/images/fig1.png)")
	assert.Contains(t, rewritten, "![other](unknown.png)")
}

func TestRewriteMarkdownNoOpWithoutUploads(t *testing.T) {
	sink := New(&fakeStore{}, "http://host", nil)
	content := "plain text, no images"
	assert.Equal(t, content, sink.RewriteMarkdown(content, nil))
}
