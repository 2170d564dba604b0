// Package imagesink implements ImageSink (spec.md §4.11... component
// table): uploads extracted page images to the blob store under the
// dataset namespace and rewrites Markdown image references to point at
// the uploaded object. Grounded on internal/storage/minio.go's
// ObjectStorage interface and process_pdf.py's _save_images_from_result
// (base64 data-URL decoding, per-image best-effort error handling).
package imagesink

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// ObjectStore is the blob-store dependency; satisfied by
// internal/storage.MinIOClient.
type ObjectStore interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, objectSize int64, contentType string) error
}

// Sink uploads images referenced in a parse-service result and rewrites
// Markdown references to their uploaded locations.
type Sink struct {
	store     ObjectStore
	publicURL string // base URL prefix for rewritten references
	log       *slog.Logger
}

// New builds a Sink. publicURL is prefixed to each uploaded object's key
// when rewriting Markdown references (e.g. "http://host:8000/images").
func New(store ObjectStore, publicURL string, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{store: store, publicURL: strings.TrimRight(publicURL, "/"), log: log}
}

var dataURLPrefix = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

// UploadImages decodes each base64-or-raw image payload in images
// (name -> base64 data, optionally with a data: URL prefix) and uploads
// it to objectKey = "{datasetID}/images/{name}". A single image's
// failure is logged and skipped rather than aborting the whole document,
// matching the original's per-image try/except.
func (s *Sink) UploadImages(ctx context.Context, datasetID string, images map[string]string) (map[string]string, int) {
	uploaded := make(map[string]string, len(images))
	saved := 0

	for name, data := range images {
		raw, err := decodeImage(data)
		if err != nil {
			s.log.Warn("image decode failed", "image", name, "error", err)
			continue
		}

		objectKey := fmt.Sprintf("%s/images/%s", datasetID, name)
		if err := s.store.UploadFile(ctx, objectKey, bytes.NewReader(raw), int64(len(raw)), contentTypeFor(name)); err != nil {
			s.log.Warn("image upload failed", "image", name, "error", err)
			continue
		}

		uploaded[name] = objectKey
		saved++
	}
	return uploaded, saved
}

// RewriteMarkdown replaces every Markdown image reference
// "![alt](name)" whose `name` key exists in uploaded with an absolute
// URL under the Sink's publicURL.
func (s *Sink) RewriteMarkdown(content string, uploaded map[string]string) string {
	if len(uploaded) == 0 {
		return content
	}
	re := regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		groups := re.FindStringSubmatch(match)
		alt, ref := groups[1], groups[2]
		key, ok := uploaded[ref]
		if !ok {
			key, ok = uploaded[strings.TrimPrefix(ref, "./")]
		}
		if !ok {
			return match
		}
		return fmt.Sprintf("![%s](%s/%s)", alt, s.publicURL, key)
	})
}

func decodeImage(data string) ([]byte, error) {
	b64 := dataURLPrefix.ReplaceAllString(data, "")
	return base64.StdEncoding.DecodeString(b64)
}

func contentTypeFor(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
